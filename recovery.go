package waveportal

import (
	"context"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
)

// Recover resumes the wave the active account had in flight when the
// process stopped. A wave that was still waiting for a signature was never
// broadcast and is discarded. It returns nil when there was nothing to resume.
func (c *AppController) Recover(ctx context.Context) (*PendingWave, error) {
	if c.submissionStore == nil {
		return nil, nil
	}
	acc, ok := c.gateway.Account()
	if !ok {
		return nil, ErrNoAccount
	}
	record, err := c.submissionStore.Get(ctx, acc)
	if err != nil {
		return nil, fmt.Errorf("couldn't load stored submission: %w", err)
	}
	if record == nil {
		return nil, nil
	}

	fields := logger.Fields{
		"session": c.Session(),
		"address": acc.Hex(),
		"state":   record.State.String(),
	}
	if record.Contract != c.client.Address() || record.State != TxPending || record.Tx == nil {
		logger.WithFields(fields).Info("Discarding stored submission that was never broadcast")
		if err := c.submissionStore.Delete(ctx, acc); err != nil {
			return nil, fmt.Errorf("couldn't delete stored submission: %w", err)
		}
		return nil, nil
	}

	fields["tx_hash"] = record.Tx.Hash().Hex()
	logger.WithFields(fields).Info("Resuming wave")
	result, err := c.lifecycle.Resume(ctx, c.client, record.Message, record.Tx)
	if err != nil {
		return nil, err
	}
	if result.State == TxFailed {
		_ = c.lifecycle.Reset()
	}
	return &result, nil
}

// persistTransition mirrors in-flight lifecycle states into the submission
// store and clears the record once the wave leaves them
func (c *AppController) persistTransition(prev TxState, current PendingWave) {
	if c.submissionStore == nil {
		return
	}
	acc, ok := c.gateway.Account()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var err error
	switch {
	case current.State.InFlight():
		now := time.Now()
		err = c.submissionStore.Save(ctx, &SubmissionRecord{
			Account:   acc,
			Contract:  c.client.Address(),
			Message:   current.Message,
			State:     current.State,
			Tx:        current.Tx,
			CreatedAt: now,
			UpdatedAt: now,
		})
	case prev.InFlight():
		err = c.submissionStore.Delete(ctx, acc)
	default:
		return
	}
	if err != nil {
		logger.WithFields(logger.Fields{
			"address": acc.Hex(),
			"state":   current.State.String(),
			"error":   err,
		}).Error("Couldn't persist wave submission")
	}
}
