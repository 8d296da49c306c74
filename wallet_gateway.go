package waveportal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// WalletGateway detects the signing capability and tracks the single active
// account. The account survives until a later connect replaces it; the
// provider gives no disconnect signal.
type WalletGateway struct {
	provider Provider

	mu        sync.RWMutex
	account   common.Address
	connected bool
}

// NewWalletGateway wraps provider, which may be nil when no wallet is present
func NewWalletGateway(provider Provider) *WalletGateway {
	return &WalletGateway{provider: provider}
}

// HasProvider reports whether a signing capability is present
func (g *WalletGateway) HasProvider() bool {
	return g != nil && g.provider != nil
}

// Provider returns the wrapped provider, nil if absent
func (g *WalletGateway) Provider() Provider {
	if !g.HasProvider() {
		return nil
	}
	return g.provider
}

// Account returns the active account
func (g *WalletGateway) Account() (common.Address, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.account, g.connected
}

func (g *WalletGateway) setAccount(acc common.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account = acc
	g.connected = true
}

// AuthorizedAccount asks the provider for an already authorized account
// without prompting. Every failure, a missing provider included, reads as
// "no account".
func (g *WalletGateway) AuthorizedAccount(ctx context.Context) (common.Address, bool) {
	if !g.HasProvider() {
		logger.WithFields(logger.Fields{}).Info("Make sure you have a wallet provider")
		return common.Address{}, false
	}
	accs, err := g.provider.Accounts(ctx)
	if err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Debug("Checking authorized accounts failed. Treat as not connected")
		return common.Address{}, false
	}
	if len(accs) == 0 {
		logger.WithFields(logger.Fields{}).Info("No authorized account found")
		return common.Address{}, false
	}
	g.setAccount(accs[0])
	logger.WithFields(logger.Fields{
		"address": accs[0].Hex(),
	}).Info("Found an authorized account")
	return accs[0], true
}

// RequestConnection prompts the user to authorize an account.
// Possible errors: ErrNoProvider, ErrUserRejected when the user declines,
// ErrRPC when the provider fails.
func (g *WalletGateway) RequestConnection(ctx context.Context) (common.Address, error) {
	if !g.HasProvider() {
		return common.Address{}, ErrNoProvider
	}
	accs, err := g.provider.RequestAccounts(ctx)
	if err != nil {
		if KindOf(err) != KindUnknown {
			return common.Address{}, err
		}
		// the provider failed without the user answering
		return common.Address{}, errors.Join(ErrRPC, fmt.Errorf("couldn't connect wallet: %w", err))
	}
	if len(accs) == 0 {
		return common.Address{}, fmt.Errorf("%w: wallet returned no account", ErrUserRejected)
	}
	g.setAccount(accs[0])
	logger.WithFields(logger.Fields{
		"address": accs[0].Hex(),
	}).Info("Connected")
	return accs[0], nil
}
