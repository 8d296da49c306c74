package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/tranvictor/waveportal"
)

const submissionKeyPrefix = "waveportal:submission:" // in-flight wave by account

// SubmissionStore persists the in-flight wave of each account in Redis.
// It implements the waveportal.SubmissionStore interface.
//
// Records do not expire; the controller deletes them once the wave settles.
type SubmissionStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// SubmissionStoreOption configures a SubmissionStore.
type SubmissionStoreOption func(*SubmissionStore)

// WithSubmissionStoreKeyPrefix sets a custom prefix for all Redis keys.
func WithSubmissionStoreKeyPrefix(prefix string) SubmissionStoreOption {
	return func(s *SubmissionStore) {
		s.keyPrefix = prefix
	}
}

// NewSubmissionStore creates a new Redis-based submission store.
func NewSubmissionStore(client redis.UniversalClient, opts ...SubmissionStoreOption) *SubmissionStore {
	s := &SubmissionStore{
		client: client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SubmissionStore) key(account common.Address) string {
	return prefixedKey(s.keyPrefix, submissionKeyPrefix, strings.ToLower(account.Hex()))
}

// submissionData is the JSON-serializable form of SubmissionRecord
type submissionData struct {
	Account   string `json:"account"`
	Contract  string `json:"contract"`
	Message   string `json:"message"`
	State     string `json:"state"`
	TxRLP     []byte `json:"tx_rlp,omitempty"`
	CreatedAt int64  `json:"created_at"` // Nanoseconds
	UpdatedAt int64  `json:"updated_at"` // Nanoseconds
}

func serializeSubmission(r *waveportal.SubmissionRecord) ([]byte, error) {
	d := submissionData{
		Account:   r.Account.Hex(),
		Contract:  r.Contract.Hex(),
		Message:   r.Message,
		State:     r.State.String(),
		CreatedAt: r.CreatedAt.UnixNano(),
		UpdatedAt: r.UpdatedAt.UnixNano(),
	}
	if r.Tx != nil {
		txRLP, err := r.Tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transaction: %w", err)
		}
		d.TxRLP = txRLP
	}
	return json.Marshal(d)
}

func deserializeSubmission(data []byte) (*waveportal.SubmissionRecord, error) {
	var d submissionData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submission: %w", err)
	}
	state, err := waveportal.ParseTxState(d.State)
	if err != nil {
		return nil, err
	}
	r := &waveportal.SubmissionRecord{
		Account:   common.HexToAddress(d.Account),
		Contract:  common.HexToAddress(d.Contract),
		Message:   d.Message,
		State:     state,
		CreatedAt: time.Unix(0, d.CreatedAt),
		UpdatedAt: time.Unix(0, d.UpdatedAt),
	}
	if len(d.TxRLP) > 0 {
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(d.TxRLP); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
		}
		r.Tx = tx
	}
	return r, nil
}

// Save stores record as the account's in-flight wave. When a record for the
// same message is already stored its CreatedAt is kept.
func (s *SubmissionStore) Save(ctx context.Context, record *waveportal.SubmissionRecord) error {
	if record == nil {
		return fmt.Errorf("submission cannot be nil")
	}
	key := s.key(record.Account)

	return watchWithRetry(ctx, s.client, "save submission", func(rtx *redis.Tx) error {
		toSave := *record
		existing, err := rtx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to get existing submission: %w", err)
		}
		if err != redis.Nil {
			prev, parseErr := deserializeSubmission(existing)
			if parseErr == nil && prev.Message == record.Message && !prev.CreatedAt.IsZero() {
				toSave.CreatedAt = prev.CreatedAt
			}
		}

		data, err := serializeSubmission(&toSave)
		if err != nil {
			return fmt.Errorf("failed to serialize submission: %w", err)
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

// Get returns the in-flight wave of account.
func (s *SubmissionStore) Get(ctx context.Context, account common.Address) (*waveportal.SubmissionRecord, error) {
	data, err := s.client.Get(ctx, s.key(account)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return deserializeSubmission(data)
}

// Delete removes the in-flight wave of account. Deleting a missing record
// is not an error.
func (s *SubmissionStore) Delete(ctx context.Context, account common.Address) error {
	if err := s.client.Del(ctx, s.key(account)).Err(); err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	return nil
}

// Compile-time check
var _ waveportal.SubmissionStore = (*SubmissionStore)(nil)
