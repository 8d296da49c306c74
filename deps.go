// deps.go defines minimal interfaces for external dependencies.
// This allows for easy mocking in tests and decouples the client from specific implementations.
package waveportal

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthBackend is the subset of node RPC the contract client needs.
// *ethclient.Client satisfies it.
type EthBackend interface {
	// ChainID returns the chain id used for signing
	ChainID(ctx context.Context) (*big.Int, error)

	// CallContract executes a read-only call, also used to simulate a wave before signing
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	// BalanceAt returns the native balance of an account
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)

	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// SendTransaction broadcasts a signed transaction
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// TransactionReceipt returns ethereum.NotFound while the tx is not mined
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// SubscribeFilterLogs pushes matching logs into ch until unsubscribed
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Provider is the injected signing capability (the wallet).
type Provider interface {
	// Accounts returns already-authorized accounts without prompting the user
	Accounts(ctx context.Context) ([]common.Address, error)

	// RequestAccounts prompts the user to authorize an account.
	// Implementations return ErrUserRejected when the user declines.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// SignTx signs tx on behalf of from. Implementations return ErrUserRejected
	// when the user declines to sign.
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// TxInfoStatus represents the status of a transaction reported by a TxMonitor.
type TxInfoStatus string

const (
	// TxStatusDone indicates the transaction was mined successfully
	TxStatusDone TxInfoStatus = "done"
	// TxStatusReverted indicates the transaction was mined but execution reverted
	TxStatusReverted TxInfoStatus = "reverted"
	// TxStatusLost indicates the transaction was dropped from the mempool
	TxStatusLost TxInfoStatus = "lost"
	// TxStatusCancelled indicates the monitoring was cancelled via context
	TxStatusCancelled TxInfoStatus = "cancelled"
)

// TxMonitorStatus represents the final status of a monitored transaction.
type TxMonitorStatus struct {
	Status  TxInfoStatus
	Receipt *types.Receipt
}

// TxMonitor defines the minimal interface for waiting on a transaction.
type TxMonitor interface {
	// MakeWaitChannel returns a channel that receives exactly one final status
	MakeWaitChannel(ctx context.Context, txHash common.Hash, interval time.Duration) <-chan TxMonitorStatus
}

// TxMonitorFactory creates a TxMonitor for a backend.
// This allows injecting mock monitors for testing.
type TxMonitorFactory func(backend EthBackend) TxMonitor
