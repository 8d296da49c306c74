// adapters.go provides jarvis-backed implementations of the minimal interfaces
// defined in deps.go.
package waveportal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/tranvictor/jarvis/accounts"
	"github.com/tranvictor/jarvis/networks"
	"github.com/tranvictor/jarvis/util"
	"github.com/tranvictor/jarvis/util/account"
	"github.com/tranvictor/jarvis/util/monitor"
)

// signWith signs tx with a jarvis account after checking it is the expected sender
func signWith(acc *account.Account, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if acc.Address() != from {
		return nil, fmt.Errorf("%w: wallet holds %s, not %s", ErrSubmissionRejected, acc.Address().Hex(), from.Hex())
	}
	signedAddr, signedTx, err := acc.SignTx(tx, chainID)
	if err != nil {
		return nil, errors.Join(ErrSubmissionRejected, fmt.Errorf("couldn't sign wave tx: %w", err))
	}
	if signedAddr != from {
		return nil, fmt.Errorf("%w: tx signed by %s instead of %s", ErrSubmissionRejected, signedAddr.Hex(), from.Hex())
	}
	return signedTx, nil
}

// PrivateKeyProvider is a wallet holding a single raw private key. Its account
// is authorized from the start, so it never prompts.
type PrivateKeyProvider struct {
	acc *account.Account
}

// NewPrivateKeyProvider creates a provider from a hex encoded private key
func NewPrivateKeyProvider(hexKey string) (*PrivateKeyProvider, error) {
	acc, err := account.NewPrivateKeyAccount(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("couldn't load private key account: %w", err)
	}
	return &PrivateKeyProvider{acc: acc}, nil
}

func (p *PrivateKeyProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.acc.Address()}, nil
}

func (p *PrivateKeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.acc.Address()}, nil
}

func (p *PrivateKeyProvider) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return signWith(p.acc, from, tx, chainID)
}

// KeystoreProvider is a wallet backed by the jarvis keystore. The account is
// locked until RequestAccounts succeeds, which prompts for the passphrase.
type KeystoreProvider struct {
	address common.Address

	mu  sync.RWMutex
	acc *account.Account

	// unlock is swapped in tests; defaults to the interactive jarvis unlock
	unlock func(addr common.Address) (*account.Account, error)
}

// NewKeystoreProvider creates a provider for a wallet registered in the jarvis keystore
func NewKeystoreProvider(address common.Address) *KeystoreProvider {
	return &KeystoreProvider{
		address: address,
		unlock:  unlockJarvisAccount,
	}
}

func unlockJarvisAccount(addr common.Address) (*account.Account, error) {
	accDesc, err := accounts.GetAccount(addr.Hex())
	if err != nil {
		return nil, fmt.Errorf("%w: wallet %s doesn't exist in jarvis", ErrNoProvider, addr.Hex())
	}
	acc, err := accounts.UnlockAccount(accDesc)
	if err != nil {
		return nil, errors.Join(ErrUserRejected, fmt.Errorf("unlocking wallet failed: %w", err))
	}
	return acc, nil
}

func (p *KeystoreProvider) unlocked() *account.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.acc
}

// Accounts lists the wallet only once it has been unlocked in this process
func (p *KeystoreProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	if p.unlocked() == nil {
		return nil, nil
	}
	return []common.Address{p.address}, nil
}

func (p *KeystoreProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if p.unlocked() != nil {
		return []common.Address{p.address}, nil
	}
	acc, err := p.unlock(p.address)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.acc = acc
	p.mu.Unlock()
	return []common.Address{p.address}, nil
}

func (p *KeystoreProvider) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	acc := p.unlocked()
	if acc == nil {
		return nil, fmt.Errorf("%w: wallet %s is locked", ErrUserRejected, p.address.Hex())
	}
	return signWith(acc, from, tx, chainID)
}

// jarvisTxMonitor wraps jarvis monitor.TxMonitor to implement our TxMonitor interface
type jarvisTxMonitor struct {
	monitor *monitor.TxMonitor
}

func (m *jarvisTxMonitor) MakeWaitChannel(ctx context.Context, txHash common.Hash, interval time.Duration) <-chan TxMonitorStatus {
	jarvisChan := m.monitor.MakeWaitChannelWithInterval(txHash.Hex(), interval)
	resultChan := make(chan TxMonitorStatus, 1)

	go func() {
		defer close(resultChan)
		select {
		case status := <-jarvisChan:
			resultChan <- TxMonitorStatus{
				Status:  TxInfoStatus(status.Status),
				Receipt: status.Receipt,
			}
		case <-ctx.Done():
			resultChan <- TxMonitorStatus{Status: TxStatusCancelled}
		}
	}()

	return resultChan
}

// NewJarvisTxMonitor creates a TxMonitor that uses the jarvis node pool of a
// known network instead of the client's own backend. It can tell a dropped
// tx apart from a slow one.
func NewJarvisTxMonitor(chainID uint64) (TxMonitor, error) {
	network, err := networks.GetNetworkByID(chainID)
	if err != nil {
		return nil, fmt.Errorf("chain %d is not a jarvis network: %w", chainID, err)
	}
	r, err := util.EthReader(network)
	if err != nil {
		return nil, fmt.Errorf("couldn't init jarvis reader for %s: %w", network.GetName(), err)
	}
	return &jarvisTxMonitor{monitor: monitor.NewGenericTxMonitor(r)}, nil
}
