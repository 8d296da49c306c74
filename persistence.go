package waveportal

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FeedStore caches the reconciled feed of a contract so a restarted client
// has something to show before the snapshot read returns. Implementations
// must be safe for concurrent use.
type FeedStore interface {
	// Load returns the cached feed in insertion order. A contract that was
	// never stored yields an empty feed and no error.
	Load(ctx context.Context, contract common.Address) ([]WaveEvent, error)

	// Replace overwrites the cached feed, mirroring WaveFeedReconciler.Seed.
	Replace(ctx context.Context, contract common.Address, events []WaveEvent) error

	// Append adds ev unless its key is already cached and reports whether it
	// was added, mirroring WaveFeedReconciler.Offer.
	Append(ctx context.Context, contract common.Address, ev WaveEvent) (bool, error)
}

// SubmissionRecord is the persisted form of the one in-flight wave of an
// account.
type SubmissionRecord struct {
	Account  common.Address
	Contract common.Address
	Message  string
	State    TxState
	// Tx is the signed transaction, nil while Signing
	Tx        *types.Transaction
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubmissionStore persists in-flight waves so Recover can resume them after
// a restart. Implementations must be safe for concurrent use.
type SubmissionStore interface {
	Save(ctx context.Context, record *SubmissionRecord) error
	// Get returns nil, nil when the account has no stored submission
	Get(ctx context.Context, account common.Address) (*SubmissionRecord, error)
	Delete(ctx context.Context, account common.Address) error
}
