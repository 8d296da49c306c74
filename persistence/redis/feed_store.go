package redis

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/tranvictor/waveportal"
)

// Key prefixes for feed storage
const (
	feedKeyPrefix  = "waveportal:feed:" // list of waves by contract, insertion order
	feedKeysSuffix = ":keys"            // set of identity keys of the list
)

// FeedStore caches reconciled feeds in Redis.
// It implements the waveportal.FeedStore interface.
//
// Every contract gets a list holding the waves in insertion order and a set
// of their identity keys, written together in one MULTI/EXEC.
type FeedStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// FeedStoreOption configures a FeedStore.
type FeedStoreOption func(*FeedStore)

// WithFeedStoreKeyPrefix sets a custom prefix for all Redis keys.
func WithFeedStoreKeyPrefix(prefix string) FeedStoreOption {
	return func(s *FeedStore) {
		s.keyPrefix = prefix
	}
}

// NewFeedStore creates a new Redis-based feed store.
func NewFeedStore(client redis.UniversalClient, opts ...FeedStoreOption) *FeedStore {
	s := &FeedStore{
		client: client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FeedStore) listKey(contract common.Address) string {
	return prefixedKey(s.keyPrefix, feedKeyPrefix, strings.ToLower(contract.Hex()))
}

func (s *FeedStore) setKey(contract common.Address) string {
	return prefixedKey(s.keyPrefix, feedKeyPrefix, strings.ToLower(contract.Hex()), feedKeysSuffix)
}

// waveData is the JSON form of waveportal.WaveEvent
type waveData struct {
	Address   string `json:"address"`
	Timestamp uint64 `json:"timestamp"`
	Message   string `json:"message"`
	Seed      string `json:"seed,omitempty"` // decimal
	TxHash    string `json:"tx_hash,omitempty"`
}

func serializeWave(ev waveportal.WaveEvent) ([]byte, error) {
	d := waveData{
		Address:   ev.Address.Hex(),
		Timestamp: ev.Timestamp,
		Message:   ev.Message,
	}
	if ev.Seed != nil {
		d.Seed = ev.Seed.String()
	}
	if ev.TxHash != (common.Hash{}) {
		d.TxHash = ev.TxHash.Hex()
	}
	return json.Marshal(d)
}

func deserializeWave(data []byte) (waveportal.WaveEvent, error) {
	var d waveData
	if err := json.Unmarshal(data, &d); err != nil {
		return waveportal.WaveEvent{}, fmt.Errorf("failed to unmarshal wave: %w", err)
	}
	if !common.IsHexAddress(d.Address) {
		return waveportal.WaveEvent{}, fmt.Errorf("invalid wave address %q", d.Address)
	}
	ev := waveportal.WaveEvent{
		Address:   common.HexToAddress(d.Address),
		Timestamp: d.Timestamp,
		Message:   d.Message,
	}
	if d.Seed != "" {
		seed, ok := new(big.Int).SetString(d.Seed, 10)
		if !ok {
			return waveportal.WaveEvent{}, fmt.Errorf("invalid wave seed %q", d.Seed)
		}
		ev.Seed = seed
	}
	if d.TxHash != "" {
		ev.TxHash = common.HexToHash(d.TxHash)
	}
	return ev, nil
}

// Load returns the cached feed of contract in insertion order.
func (s *FeedStore) Load(ctx context.Context, contract common.Address) ([]waveportal.WaveEvent, error) {
	items, err := s.client.LRange(ctx, s.listKey(contract), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load feed: %w", err)
	}

	events := make([]waveportal.WaveEvent, 0, len(items))
	for _, item := range items {
		ev, err := deserializeWave([]byte(item))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Replace overwrites the cached feed of contract. Repeated identity keys in
// events keep their first occurrence.
func (s *FeedStore) Replace(ctx context.Context, contract common.Address, events []waveportal.WaveEvent) error {
	listKey := s.listKey(contract)
	setKey := s.setKey(contract)

	seen := make(map[waveportal.WaveKey]struct{}, len(events))
	values := make([]interface{}, 0, len(events))
	members := make([]interface{}, 0, len(events))
	for _, ev := range events {
		key := ev.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		data, err := serializeWave(ev)
		if err != nil {
			return fmt.Errorf("failed to serialize wave: %w", err)
		}
		values = append(values, data)
		members = append(members, key.String())
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, listKey, setKey)
		if len(values) > 0 {
			pipe.RPush(ctx, listKey, values...)
			pipe.SAdd(ctx, setKey, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace feed: %w", err)
	}
	return nil
}

// Append adds ev to the cached feed of contract unless its identity key is
// already there. Uses WATCH/MULTI/EXEC so concurrent appends of the same
// wave store it once.
func (s *FeedStore) Append(ctx context.Context, contract common.Address, ev waveportal.WaveEvent) (bool, error) {
	listKey := s.listKey(contract)
	setKey := s.setKey(contract)
	member := ev.Key().String()

	data, err := serializeWave(ev)
	if err != nil {
		return false, fmt.Errorf("failed to serialize wave: %w", err)
	}

	var added bool
	err = watchWithRetry(ctx, s.client, "append wave", func(rtx *redis.Tx) error {
		added = false
		exists, err := rtx.SIsMember(ctx, setKey, member).Result()
		if err != nil {
			return fmt.Errorf("failed to check wave key: %w", err)
		}
		if exists {
			return nil
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, listKey, data)
			pipe.SAdd(ctx, setKey, member)
			return nil
		})
		if err == nil {
			added = true
		}
		return err
	}, setKey)
	if err != nil {
		return false, err
	}
	return added, nil
}

// Len returns the number of cached waves of contract.
func (s *FeedStore) Len(ctx context.Context, contract common.Address) (int64, error) {
	n, err := s.client.LLen(ctx, s.listKey(contract)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count feed: %w", err)
	}
	return n, nil
}

// Compile-time check
var _ waveportal.FeedStore = (*FeedStore)(nil)
