package waveportal

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoProvider          = errors.New("no wallet provider available, install or enable a wallet")
	ErrProviderMissing     = fmt.Errorf("%w: contract client has no usable signer", ErrNoProvider)
	ErrUserRejected        = errors.New("user rejected the request")
	ErrRPC                 = errors.New("rpc request failed")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrSubmissionRejected  = errors.New("wallet declined to broadcast the wave")
	ErrLifecycleBusy       = errors.New("a wave submission is already in flight")
	ErrInvalidTransition   = errors.New("invalid lifecycle transition")
	ErrMalformedWave       = errors.New("malformed wave event")
	ErrNoAccount           = errors.New("no connected account")

	errGuardFailed = errors.New("lifecycle guard not met")
)

// ErrorKind classifies an error into the taxonomy the presentation layer
// reacts to.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindNoProvider          ErrorKind = "no_provider"
	KindUserRejected        ErrorKind = "user_rejected"
	KindRPC                 ErrorKind = "rpc"
	KindTransactionReverted ErrorKind = "transaction_reverted"
	KindSubmissionRejected  ErrorKind = "submission_rejected"
	KindUnknown             ErrorKind = "unknown"
)

// KindOf returns the taxonomy entry of err. User rejection wins over the
// transport kinds since it is the actionable one.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUserRejected):
		return KindUserRejected
	case errors.Is(err, ErrTransactionReverted):
		return KindTransactionReverted
	case errors.Is(err, ErrSubmissionRejected):
		return KindSubmissionRejected
	case errors.Is(err, ErrNoProvider):
		return KindNoProvider
	case errors.Is(err, ErrRPC),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindRPC
	default:
		return KindUnknown
	}
}

// Retryable reports whether the failed operation is safe to issue again as is.
func (k ErrorKind) Retryable() bool {
	return k == KindRPC || k == KindUserRejected || k == KindSubmissionRejected
}
