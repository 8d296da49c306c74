package waveportal

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Defaults used when the corresponding option is not set
const (
	DefaultGasLimit        = uint64(300000)
	DefaultTxCheckInterval = 2 * time.Second

	// RewardSeedThreshold is the contract's 50% prize threshold on the 0-100 seed.
	RewardSeedThreshold = 50
)

// WaveKey is the identity of a wave across the snapshot read and the push
// subscription.
//
// The contract stamps waves with block time in whole seconds, so two waves
// from the same sender inside one second share a key and collapse into one.
// This is a precision limit of the event itself; widening the key needs a
// contract that emits something more specific.
type WaveKey struct {
	Address   common.Address
	Timestamp uint64
}

func (k WaveKey) String() string {
	return fmt.Sprintf("%s:%d", k.Address.Hex(), k.Timestamp)
}

// WaveEvent is one entry of the feed.
type WaveEvent struct {
	Address   common.Address
	Timestamp uint64 // seconds since epoch, as emitted
	Message   string
	// Seed is the random draw reported by contract versions that run the
	// prize lottery. Nil when the source didn't carry it.
	Seed *big.Int
	// TxHash is the tx that emitted a pushed wave. Zero for snapshot reads,
	// which don't carry it.
	TxHash common.Hash
}

// Key returns the identity key of the wave
func (w WaveEvent) Key() WaveKey {
	return WaveKey{Address: w.Address, Timestamp: w.Timestamp}
}

// Time converts the on-chain timestamp to local time
func (w WaveEvent) Time() time.Time {
	return time.Unix(int64(w.Timestamp), 0)
}

// Rewarded reports whether the seed cleared the prize threshold.
func (w WaveEvent) Rewarded() bool {
	return w.Seed != nil && w.Seed.Cmp(big.NewInt(RewardSeedThreshold)) >= 0
}

// Validate rejects waves that cannot be keyed.
func (w WaveEvent) Validate() error {
	if w.Address == (common.Address{}) {
		return fmt.Errorf("%w: missing sender address", ErrMalformedWave)
	}
	if w.Timestamp == 0 {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedWave)
	}
	return nil
}

// newWaveEvent converts raw uint256 fields into a WaveEvent, refusing values
// that do not fit instead of truncating them.
func newWaveEvent(from common.Address, timestamp *big.Int, message string, seed *big.Int) (WaveEvent, error) {
	if timestamp == nil || timestamp.Sign() < 0 || !timestamp.IsUint64() {
		return WaveEvent{}, fmt.Errorf("%w: timestamp %v out of range", ErrMalformedWave, timestamp)
	}
	ev := WaveEvent{
		Address:   from,
		Timestamp: timestamp.Uint64(),
		Message:   message,
	}
	if seed != nil {
		ev.Seed = new(big.Int).Set(seed)
	}
	return ev, ev.Validate()
}
