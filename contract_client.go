package waveportal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	jarviscommon "github.com/tranvictor/jarvis/common"
)

const defaultSubscriptionBuffer = 128

// ContractClient is the RPC facade of a single wave portal contract.
type ContractClient struct {
	address common.Address
	backend EthBackend
	gateway *WalletGateway
	abi     abi.ABI

	gasLimit           uint64
	txCheckInterval    time.Duration
	subscriptionBuffer int
	errorABIs          []abi.ABI
	errDecoder         *ErrorDecoder

	txMonitorFactory TxMonitorFactory
	txMonitor        TxMonitor

	chainIDMu sync.Mutex
	chainID   *big.Int
}

// NewContractClient creates a client for the contract at address. The gateway
// supplies the sender and signer of waves; reads work without it.
func NewContractClient(address common.Address, backend EthBackend, gateway *WalletGateway, opts ...ClientOption) (*ContractClient, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is nil", ErrProviderMissing)
	}
	parsed, err := ParseWavePortalABI()
	if err != nil {
		return nil, err
	}

	c := &ContractClient{
		address:            address,
		backend:            backend,
		gateway:            gateway,
		abi:                parsed,
		gasLimit:           DefaultGasLimit,
		txCheckInterval:    DefaultTxCheckInterval,
		subscriptionBuffer: defaultSubscriptionBuffer,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.txMonitorFactory == nil {
		c.txMonitorFactory = DefaultTxMonitorFactory
	}
	c.txMonitor = c.txMonitorFactory(backend)

	c.errDecoder, err = NewErrorDecoder(append([]abi.ABI{parsed}, c.errorABIs...)...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Address returns the contract address
func (c *ContractClient) Address() common.Address {
	return c.address
}

// ChainID returns the chain id of the backend, cached after the first success
func (c *ContractClient) ChainID(ctx context.Context) (*big.Int, error) {
	c.chainIDMu.Lock()
	defer c.chainIDMu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Join(ErrRPC, fmt.Errorf("couldn't get chain id: %w", err))
	}
	c.chainID = id
	return id, nil
}

func (c *ContractClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("couldn't pack %s call: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, errors.Join(ErrRPC, fmt.Errorf("%s call failed: %w", method, err))
	}
	res, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, errors.Join(ErrRPC, fmt.Errorf("couldn't unpack %s result: %w", method, err))
	}
	if len(res) == 0 {
		return nil, errors.Join(ErrRPC, fmt.Errorf("%s returned nothing", method))
	}
	return res, nil
}

// GetTotalWaveCount reads the contract's wave counter
func (c *ContractClient) GetTotalWaveCount(ctx context.Context) (*big.Int, error) {
	res, err := c.call(ctx, methodGetTotalWaves)
	if err != nil {
		return nil, err
	}
	count, ok := res[0].(*big.Int)
	if !ok {
		return nil, errors.Join(ErrRPC, fmt.Errorf("unexpected %s result type %T", methodGetTotalWaves, res[0]))
	}
	return count, nil
}

// GetAllWaves reads the full wave history, oldest first. Records that cannot
// be keyed are skipped rather than failing the whole snapshot.
func (c *ContractClient) GetAllWaves(ctx context.Context) ([]WaveEvent, error) {
	res, err := c.call(ctx, methodGetAllWaves)
	if err != nil {
		return nil, err
	}
	records := *abi.ConvertType(res[0], new([]waveRecord)).(*[]waveRecord)

	waves := make([]WaveEvent, 0, len(records))
	for i, r := range records {
		ev, err := newWaveEvent(r.Waver, r.Timestamp, r.Message, r.Seed)
		if err != nil {
			logger.WithFields(logger.Fields{
				"index": i,
				"error": err,
			}).Error("Skipping malformed wave in snapshot")
			continue
		}
		waves = append(waves, ev)
	}
	logger.WithFields(logger.Fields{
		"contract": c.address.Hex(),
		"waves":    len(waves),
	}).Debug("Read wave snapshot")
	return waves, nil
}

// GetBalance returns the contract's native balance, used to tell whether a
// wave paid out a prize
func (c *ContractClient) GetBalance(ctx context.Context) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil, errors.Join(ErrRPC, fmt.Errorf("couldn't get contract balance: %w", err))
	}
	return balance, nil
}

func (c *ContractClient) signer() (Provider, common.Address, error) {
	provider := c.gateway.Provider()
	if provider == nil {
		return nil, common.Address{}, ErrProviderMissing
	}
	from, ok := c.gateway.Account()
	if !ok {
		return nil, common.Address{}, errors.Join(ErrProviderMissing, ErrNoAccount)
	}
	return provider, from, nil
}

// BuildWaveTx builds the unsigned wave tx with the fixed gas ceiling,
// the sender's pending nonce and the node's suggested fees.
func (c *ContractClient) BuildWaveTx(ctx context.Context, from common.Address, message string) (*types.Transaction, error) {
	data, err := c.abi.Pack(methodWave, message)
	if err != nil {
		return nil, fmt.Errorf("couldn't pack wave call: %w", err)
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	// simulate first so a wave the contract refuses never reaches the wallet
	_, err = c.backend.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.address,
		Gas:  c.gasLimit,
		Data: data,
	}, nil)
	if err != nil {
		revertData, isRevert := ethclient.RevertErrorData(err)
		if isRevert {
			reason := c.errDecoder.Reason(err, revertData)
			logger.WithFields(logger.Fields{
				"from":   from.Hex(),
				"reason": reason,
			}).Debug("Wave simulation showed a revert error")
			return nil, errors.Join(ErrSubmissionRejected, fmt.Errorf("wave will be reverted: %s", reason))
		}
		return nil, errors.Join(ErrRPC, fmt.Errorf("couldn't simulate wave: %w", err))
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, errors.Join(ErrRPC, fmt.Errorf("couldn't get pending nonce: %w", err))
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Join(ErrRPC, fmt.Errorf("couldn't get gas price: %w", err))
	}
	tipCap, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, errors.Join(ErrRPC, fmt.Errorf("couldn't get gas tip cap: %w", err))
	}

	gasPriceGwei := jarviscommon.BigToFloat(gasPrice, 9)
	tipCapGwei := jarviscommon.BigToFloat(tipCap, 9)
	if tipCapGwei > gasPriceGwei {
		gasPriceGwei = tipCapGwei
	}

	return jarviscommon.BuildExactTx(
		types.DynamicFeeTxType,
		nonce,
		c.address.Hex(),
		big.NewInt(0),
		c.gasLimit,
		gasPriceGwei,
		tipCapGwei,
		data,
		chainID.Uint64(),
	), nil
}

// SubmitWave has the wallet sign a wave tx and broadcasts it. It returns as
// soon as the node accepts the tx, before it is mined.
// Possible errors: ErrProviderMissing, ErrUserRejected, ErrSubmissionRejected, ErrRPC.
func (c *ContractClient) SubmitWave(ctx context.Context, message string) (*types.Transaction, error) {
	provider, from, err := c.signer()
	if err != nil {
		return nil, err
	}
	tx, err := c.BuildWaveTx(ctx, from, message)
	if err != nil {
		return nil, err
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	signed, err := provider.SignTx(ctx, from, tx, chainID)
	if err != nil {
		if errors.Is(err, ErrUserRejected) || errors.Is(err, ErrSubmissionRejected) {
			return nil, err
		}
		return nil, errors.Join(ErrSubmissionRejected, fmt.Errorf("wallet couldn't sign wave: %w", err))
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, errors.Join(ErrRPC, fmt.Errorf("couldn't broadcast wave tx %s: %w", signed.Hash().Hex(), err))
	}
	logger.WithFields(logger.Fields{
		"tx_hash":   signed.Hash().Hex(),
		"from":      from.Hex(),
		"nonce":     signed.Nonce(),
		"gas_limit": signed.Gas(),
		"tip_cap":   signed.GasTipCap().String(),
	}).Info("Mining wave")
	return signed, nil
}

// WaitForConfirmation blocks until tx is mined. There is no timeout of its
// own; bound it through ctx.
// Possible errors: ErrTransactionReverted, ErrRPC.
func (c *ContractClient) WaitForConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil")
	}
	status, ok := <-c.txMonitor.MakeWaitChannel(ctx, tx.Hash(), c.txCheckInterval)
	if !ok {
		return nil, errors.Join(ErrRPC, fmt.Errorf("monitor of tx %s closed without a status", tx.Hash().Hex()))
	}

	switch status.Status {
	case TxStatusDone:
		if status.Receipt == nil {
			return nil, errors.Join(ErrRPC, fmt.Errorf("tx %s reported mined without a receipt", tx.Hash().Hex()))
		}
		logger.WithFields(logger.Fields{
			"tx_hash":      tx.Hash().Hex(),
			"block_number": status.Receipt.BlockNumber,
			"gas_used":     status.Receipt.GasUsed,
		}).Info("Mined wave")
		return status.Receipt, nil
	case TxStatusReverted:
		return status.Receipt, fmt.Errorf("%w: tx %s", ErrTransactionReverted, tx.Hash().Hex())
	case TxStatusLost:
		return nil, errors.Join(ErrRPC, fmt.Errorf("tx %s was dropped from the mempool", tx.Hash().Hex()))
	case TxStatusCancelled:
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		return nil, errors.Join(ErrRPC, fmt.Errorf("stopped waiting for tx %s: %w", tx.Hash().Hex(), err))
	default:
		return nil, errors.Join(ErrRPC, fmt.Errorf("unexpected status %q for tx %s", status.Status, tx.Hash().Hex()))
	}
}

// decodeNewWave turns a NewWave log into a WaveEvent
func (c *ContractClient) decodeNewWave(l types.Log) (WaveEvent, error) {
	event := c.abi.Events[eventNewWave]
	if len(l.Topics) < 2 || l.Topics[0] != event.ID {
		return WaveEvent{}, fmt.Errorf("%w: log %s/%d is not a NewWave event", ErrMalformedWave, l.TxHash.Hex(), l.Index)
	}
	var data newWaveData
	if err := c.abi.UnpackIntoInterface(&data, eventNewWave, l.Data); err != nil {
		return WaveEvent{}, fmt.Errorf("%w: couldn't unpack NewWave: %v", ErrMalformedWave, err)
	}
	from := common.BytesToAddress(l.Topics[1].Bytes())
	ev, err := newWaveEvent(from, data.Timestamp, data.Message, data.Seed)
	if err != nil {
		return WaveEvent{}, err
	}
	ev.TxHash = l.TxHash
	return ev, nil
}

// SubscribeNewWave opens a push subscription to NewWave. handler runs on the
// subscription's own goroutine, once per event, in emission order. The
// caller owns the returned Subscription and must Cancel it.
func (c *ContractClient) SubscribeNewWave(ctx context.Context, handler WaveHandler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{c.abi.Events[eventNewWave].ID}},
	}
	buffer := c.subscriptionBuffer
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	logs := make(chan types.Log, buffer)

	upstream, err := c.backend.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, errors.Join(ErrRPC, fmt.Errorf("couldn't subscribe to NewWave: %w", err))
	}
	sub := newSubscription(upstream, logs, c.decodeNewWave, handler)
	logger.WithFields(logger.Fields{
		"contract": c.address.Hex(),
	}).Debug("Subscribed to NewWave")
	return sub, nil
}
