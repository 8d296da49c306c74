package waveportal

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Portal is what a presentation layer needs from the client.
// This interface allows for easy mocking in tests of a UI or CLI.
type Portal interface {
	// Session
	CheckConnection(ctx context.Context) (common.Address, bool, error)
	Connect(ctx context.Context) (common.Address, error)
	Recover(ctx context.Context) (*PendingWave, error)
	Close()

	// Read-only state
	Account() (common.Address, bool)
	Feed() []WaveEvent
	TxState() PendingWave

	// Actions
	Refresh(ctx context.Context) error
	SubmitWave(ctx context.Context, message string) (PendingWave, error)
}

// WaveReader is the read side of the contract surface
type WaveReader interface {
	GetTotalWaveCount(ctx context.Context) (*big.Int, error)
	GetAllWaves(ctx context.Context) ([]WaveEvent, error)
	GetBalance(ctx context.Context) (*big.Int, error)
}

// WaveWatcher opens push subscriptions to new waves
type WaveWatcher interface {
	SubscribeNewWave(ctx context.Context, handler WaveHandler) (*Subscription, error)
}

// Compile-time checks
var (
	_ Portal        = (*AppController)(nil)
	_ WaveReader    = (*ContractClient)(nil)
	_ WaveWatcher   = (*ContractClient)(nil)
	_ WaveSubmitter = (*ContractClient)(nil)

	_ Provider = (*PrivateKeyProvider)(nil)
	_ Provider = (*KeystoreProvider)(nil)

	_ TxMonitor = (*receiptMonitor)(nil)
	_ TxMonitor = (*jarvisTxMonitor)(nil)
)
