package waveportal

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxState is the phase of the single in-flight wave submission.
//
//	Idle -> Signing -> Pending -> Confirmed
//	        Signing | Pending  -> Failed
//	Confirmed | Failed -> Idle (Reset)
//
// Signing waits on the user and the wallet, Pending waits on the network.
type TxState int

const (
	TxIdle TxState = iota
	TxSigning
	TxPending
	TxConfirmed
	TxFailed
)

var txStateNames = map[TxState]string{
	TxIdle:      "idle",
	TxSigning:   "signing",
	TxPending:   "pending",
	TxConfirmed: "confirmed",
	TxFailed:    "failed",
}

func (s TxState) String() string {
	if name, ok := txStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TxState(%d)", int(s))
}

// ParseTxState is the inverse of TxState.String
func ParseTxState(name string) (TxState, error) {
	for s, n := range txStateNames {
		if n == name {
			return s, nil
		}
	}
	return TxIdle, fmt.Errorf("unknown tx state %q", name)
}

// Terminal reports whether only Reset can leave the state
func (s TxState) Terminal() bool {
	return s == TxConfirmed || s == TxFailed
}

// InFlight reports whether a submission is being signed or mined
func (s TxState) InFlight() bool {
	return s == TxSigning || s == TxPending
}

// PendingWave is a snapshot of the lifecycle.
type PendingWave struct {
	State   TxState
	Message string

	// set from Pending on
	Tx *types.Transaction
	// set once Confirmed, or Failed with a reverted receipt
	Receipt *types.Receipt

	// Err and Kind are set when Failed
	Err  error
	Kind ErrorKind

	// Rewarded is decided on confirmation: the contract balance went down
	Rewarded      bool
	BalanceBefore *big.Int
	BalanceAfter  *big.Int
}

// TransitionHook observes lifecycle changes
type TransitionHook func(prev TxState, current PendingWave)

// WaveSubmitter is what the lifecycle drives. ContractClient implements it.
type WaveSubmitter interface {
	SubmitWave(ctx context.Context, message string) (*types.Transaction, error)
	WaitForConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	GetBalance(ctx context.Context) (*big.Int, error)
}

// TxLifecycle tracks one wave submission from intent to confirmation or
// failure. Only one submission can be in flight.
type TxLifecycle struct {
	mu      sync.Mutex
	current PendingWave

	hooks               []TransitionHook
	confirmationTimeout time.Duration
}

// NewTxLifecycle creates a lifecycle in Idle
func NewTxLifecycle(opts ...LifecycleOption) *TxLifecycle {
	l := &TxLifecycle{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Snapshot returns a copy of the current state
func (l *TxLifecycle) Snapshot() PendingWave {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// State returns the current phase
func (l *TxLifecycle) State() TxState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.State
}

// transition moves to next when the current state is one of from. mutate
// fills the fields of the new snapshot.
func (l *TxLifecycle) transition(next TxState, from []TxState, mutate func(p *PendingWave)) error {
	return l.transitionIf(next, from, nil, mutate)
}

// transitionIf is transition that also requires guard to hold on the
// current snapshot, checked under the same lock
func (l *TxLifecycle) transitionIf(next TxState, from []TxState, guard func(p PendingWave) bool, mutate func(p *PendingWave)) error {
	l.mu.Lock()
	prev := l.current.State
	allowed := false
	for _, s := range from {
		if s == prev {
			allowed = true
			break
		}
	}
	if allowed && guard != nil && !guard(l.current) {
		l.mu.Unlock()
		return errGuardFailed
	}
	if !allowed {
		l.mu.Unlock()
		if next == TxSigning && prev.InFlight() {
			return fmt.Errorf("%w: state is %s", ErrLifecycleBusy, prev)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	l.current.State = next
	if mutate != nil {
		mutate(&l.current)
	}
	snapshot := l.current
	hooks := l.hooks
	l.mu.Unlock()

	fields := logger.Fields{
		"from":    prev.String(),
		"to":      next.String(),
		"message": snapshot.Message,
	}
	if snapshot.Tx != nil {
		fields["tx_hash"] = snapshot.Tx.Hash().Hex()
	}
	if snapshot.Err != nil {
		fields["error"] = snapshot.Err
		fields["kind"] = string(snapshot.Kind)
	}
	logger.WithFields(fields).Debug("Wave lifecycle transition")

	for _, hook := range hooks {
		hook(prev, snapshot)
	}
	return nil
}

// Start records the intent to wave: Idle -> Signing. It fails with
// ErrLifecycleBusy while another submission is in flight, and with
// ErrInvalidTransition from a terminal state that was not Reset.
func (l *TxLifecycle) Start(message string) error {
	return l.transition(TxSigning, []TxState{TxIdle}, func(p *PendingWave) {
		*p = PendingWave{State: TxSigning, Message: message}
	})
}

// MarkSubmitted records the broadcast tx: Signing -> Pending
func (l *TxLifecycle) MarkSubmitted(tx *types.Transaction) error {
	return l.transition(TxPending, []TxState{TxSigning}, func(p *PendingWave) {
		p.Tx = tx
	})
}

// MarkConfirmed records the receipt: Pending -> Confirmed. A drop of the
// contract balance between before and after classifies the wave as rewarded;
// with either balance unknown it is not.
func (l *TxLifecycle) MarkConfirmed(receipt *types.Receipt, before, after *big.Int) error {
	return l.transition(TxConfirmed, []TxState{TxPending}, func(p *PendingWave) {
		p.Receipt = receipt
		p.BalanceBefore = before
		p.BalanceAfter = after
		p.Rewarded = before != nil && after != nil && after.Cmp(before) < 0
	})
}

// MarkFailed records err: Signing|Pending -> Failed
func (l *TxLifecycle) MarkFailed(err error) error {
	return l.transition(TxFailed, []TxState{TxSigning, TxPending}, func(p *PendingWave) {
		p.Err = err
		p.Kind = KindOf(err)
	})
}

// Reset returns a terminal lifecycle to Idle and forgets the message.
// Resetting Idle is a no-op.
func (l *TxLifecycle) Reset() error {
	if l.State() == TxIdle {
		return nil
	}
	return l.transition(TxIdle, []TxState{TxConfirmed, TxFailed}, func(p *PendingWave) {
		*p = PendingWave{State: TxIdle}
	})
}

// ResetIfEmitted returns a Confirmed lifecycle to Idle when ev is the NewWave
// its own tx emitted, and reports whether it did. Events of earlier waves
// leave a later result alone.
func (l *TxLifecycle) ResetIfEmitted(ev WaveEvent) bool {
	err := l.transitionIf(TxIdle, []TxState{TxConfirmed}, func(p PendingWave) bool {
		return p.emitted(ev)
	}, func(p *PendingWave) {
		*p = PendingWave{State: TxIdle}
	})
	return err == nil
}

// emitted reports whether ev comes from this wave's tx. Without a tx hash on
// the event the message has to do.
func (p PendingWave) emitted(ev WaveEvent) bool {
	if ev.TxHash != (common.Hash{}) {
		switch {
		case p.Receipt != nil:
			return ev.TxHash == p.Receipt.TxHash
		case p.Tx != nil:
			return ev.TxHash == p.Tx.Hash()
		}
	}
	return ev.Message == p.Message
}

// resume adopts a tx that was broadcast by an earlier process: Idle -> Pending
func (l *TxLifecycle) resume(message string, tx *types.Transaction) error {
	return l.transition(TxPending, []TxState{TxIdle}, func(p *PendingWave) {
		*p = PendingWave{State: TxPending, Message: message, Tx: tx}
	})
}

// Execute runs one submit-and-wait cycle. Failures of the submitter end up
// in the returned snapshot as Failed; the returned error is only set when the
// cycle could not start.
func (l *TxLifecycle) Execute(ctx context.Context, s WaveSubmitter, message string) (PendingWave, error) {
	if err := l.Start(message); err != nil {
		return l.Snapshot(), err
	}

	before, err := s.GetBalance(ctx)
	if err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Debug("Couldn't read contract balance before waving. Reward won't be classified")
		before = nil
	}

	tx, err := s.SubmitWave(ctx, message)
	if err != nil {
		_ = l.MarkFailed(err)
		return l.Snapshot(), nil
	}
	if err := l.MarkSubmitted(tx); err != nil {
		return l.Snapshot(), err
	}
	return l.await(ctx, s, tx, before)
}

// Resume waits for a tx broadcast before a restart. The balance before the
// wave is unknown, so the result is never classified as rewarded.
func (l *TxLifecycle) Resume(ctx context.Context, s WaveSubmitter, message string, tx *types.Transaction) (PendingWave, error) {
	if tx == nil {
		return l.Snapshot(), fmt.Errorf("%w: nothing to resume", ErrInvalidTransition)
	}
	if err := l.resume(message, tx); err != nil {
		return l.Snapshot(), err
	}
	return l.await(ctx, s, tx, nil)
}

func (l *TxLifecycle) await(ctx context.Context, s WaveSubmitter, tx *types.Transaction, before *big.Int) (PendingWave, error) {
	waitCtx := ctx
	if l.confirmationTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.confirmationTimeout)
		defer cancel()
	}

	receipt, err := s.WaitForConfirmation(waitCtx, tx)
	if err != nil {
		_ = l.transition(TxFailed, []TxState{TxPending}, func(p *PendingWave) {
			p.Receipt = receipt
			p.Err = err
			p.Kind = KindOf(err)
		})
		return l.Snapshot(), nil
	}

	var after *big.Int
	if before != nil {
		after, err = s.GetBalance(ctx)
		if err != nil {
			logger.WithFields(logger.Fields{
				"tx_hash": tx.Hash().Hex(),
				"error":   err,
			}).Debug("Couldn't read contract balance after waving. Reward won't be classified")
			after = nil
		}
	}
	if err := l.MarkConfirmed(receipt, before, after); err != nil {
		return l.Snapshot(), err
	}
	return l.Snapshot(), nil
}
