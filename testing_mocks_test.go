package waveportal

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Fixtures
// ============================================================

var (
	testChainID  = big.NewInt(31337)
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

	// well known dev key, never funded outside local chains
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAccount = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	testOtherWaver = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	return key
}

func testABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := ParseWavePortalABI()
	require.NoError(t, err)
	return parsed
}

// ============================================================
// Mock Implementations
// ============================================================

// mockSubscription implements ethereum.Subscription
type mockSubscription struct {
	errCh chan error
	once  sync.Once

	mu           sync.Mutex
	unsubscribed bool
}

func newMockSubscription() *mockSubscription {
	return &mockSubscription{errCh: make(chan error, 1)}
}

func (s *mockSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.unsubscribed = true
		s.mu.Unlock()
		close(s.errCh)
	})
}

func (s *mockSubscription) Err() <-chan error {
	return s.errCh
}

// fail simulates the node dropping the subscription
func (s *mockSubscription) fail(err error) {
	s.errCh <- err
}

func (s *mockSubscription) isUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

// mockBackend implements EthBackend for testing. Without hooks, contract
// calls are answered from AllWaves/TotalWaves and the wave simulation succeeds.
type mockBackend struct {
	mu  sync.Mutex
	abi abi.ABI

	AllWaves   []waveRecord
	TotalWaves *big.Int
	Balance    *big.Int

	// Function hooks - set these to customize behavior
	ChainIDFn             func(ctx context.Context) (*big.Int, error)
	CallContractFn        func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	BalanceAtFn           func(ctx context.Context, account common.Address) (*big.Int, error)
	PendingNonceAtFn      func(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPriceFn     func(ctx context.Context) (*big.Int, error)
	SuggestGasTipCapFn    func(ctx context.Context) (*big.Int, error)
	SendTransactionFn     func(ctx context.Context, tx *types.Transaction) error
	TransactionReceiptFn  func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeFilterLogsFn func(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)

	// Call tracking for assertions
	ChainIDCalls             int
	CallContractCalls        []ethereum.CallMsg
	SendTransactionCalls     []*types.Transaction
	TransactionReceiptCalls  []common.Hash
	SubscribeFilterLogsCalls []ethereum.FilterQuery

	// set by the default SubscribeFilterLogs
	subs  []*mockSubscription
	sinks []chan<- types.Log
}

func newMockBackend(t *testing.T) *mockBackend {
	return &mockBackend{abi: testABI(t)}
}

func (m *mockBackend) ChainID(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	m.ChainIDCalls++
	m.mu.Unlock()
	if m.ChainIDFn != nil {
		return m.ChainIDFn(ctx)
	}
	return new(big.Int).Set(testChainID), nil
}

func (m *mockBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	m.CallContractCalls = append(m.CallContractCalls, msg)
	m.mu.Unlock()
	if m.CallContractFn != nil {
		return m.CallContractFn(ctx, msg)
	}

	switch {
	case bytes.HasPrefix(msg.Data, m.abi.Methods[methodGetAllWaves].ID):
		records := m.AllWaves
		if records == nil {
			records = []waveRecord{}
		}
		return m.abi.Methods[methodGetAllWaves].Outputs.Pack(records)
	case bytes.HasPrefix(msg.Data, m.abi.Methods[methodGetTotalWaves].ID):
		total := m.TotalWaves
		if total == nil {
			total = big.NewInt(int64(len(m.AllWaves)))
		}
		return m.abi.Methods[methodGetTotalWaves].Outputs.Pack(total)
	default:
		// wave() returns nothing
		return nil, nil
	}
}

func (m *mockBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if m.BalanceAtFn != nil {
		return m.BalanceAtFn(ctx, account)
	}
	if m.Balance != nil {
		return new(big.Int).Set(m.Balance), nil
	}
	return big.NewInt(0), nil
}

func (m *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if m.PendingNonceAtFn != nil {
		return m.PendingNonceAtFn(ctx, account)
	}
	return 0, nil
}

func (m *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if m.SuggestGasPriceFn != nil {
		return m.SuggestGasPriceFn(ctx)
	}
	return big.NewInt(20_000_000_000), nil // 20 gwei
}

func (m *mockBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if m.SuggestGasTipCapFn != nil {
		return m.SuggestGasTipCapFn(ctx)
	}
	return big.NewInt(2_000_000_000), nil // 2 gwei
}

func (m *mockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	m.SendTransactionCalls = append(m.SendTransactionCalls, tx)
	m.mu.Unlock()
	if m.SendTransactionFn != nil {
		return m.SendTransactionFn(ctx, tx)
	}
	return nil
}

func (m *mockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	m.TransactionReceiptCalls = append(m.TransactionReceiptCalls, txHash)
	m.mu.Unlock()
	if m.TransactionReceiptFn != nil {
		return m.TransactionReceiptFn(ctx, txHash)
	}
	return nil, ethereum.NotFound
}

func (m *mockBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	m.mu.Lock()
	m.SubscribeFilterLogsCalls = append(m.SubscribeFilterLogsCalls, q)
	m.mu.Unlock()
	if m.SubscribeFilterLogsFn != nil {
		return m.SubscribeFilterLogsFn(ctx, q, ch)
	}
	sub := newMockSubscription()
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.sinks = append(m.sinks, ch)
	m.mu.Unlock()
	return sub, nil
}

// push delivers l to the most recent subscription
func (m *mockBackend) push(t *testing.T, l types.Log) {
	t.Helper()
	m.mu.Lock()
	require.NotEmpty(t, m.sinks, "no subscription to push to")
	sink := m.sinks[len(m.sinks)-1]
	m.mu.Unlock()
	sink <- l
}

func (m *mockBackend) lastSubscription(t *testing.T) *mockSubscription {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.subs, "no subscription opened")
	return m.subs[len(m.subs)-1]
}

func (m *mockBackend) subscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// mockProvider implements Provider for testing. Without hooks it is a wallet
// that already authorized testAccount and signs with testKey.
type mockProvider struct {
	mu  sync.Mutex
	key *ecdsa.PrivateKey

	AccountsFn        func(ctx context.Context) ([]common.Address, error)
	RequestAccountsFn func(ctx context.Context) ([]common.Address, error)
	SignTxFn          func(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)

	AccountsCalls        int
	RequestAccountsCalls int
	SignTxCalls          []*types.Transaction
}

func newMockProvider(t *testing.T) *mockProvider {
	return &mockProvider{key: testKey(t)}
}

func (m *mockProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	m.mu.Lock()
	m.AccountsCalls++
	m.mu.Unlock()
	if m.AccountsFn != nil {
		return m.AccountsFn(ctx)
	}
	return []common.Address{testAccount}, nil
}

func (m *mockProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	m.mu.Lock()
	m.RequestAccountsCalls++
	m.mu.Unlock()
	if m.RequestAccountsFn != nil {
		return m.RequestAccountsFn(ctx)
	}
	return []common.Address{testAccount}, nil
}

func (m *mockProvider) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	m.mu.Lock()
	m.SignTxCalls = append(m.SignTxCalls, tx)
	m.mu.Unlock()
	if m.SignTxFn != nil {
		return m.SignTxFn(ctx, from, tx, chainID)
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), m.key)
}

// mockTxMonitor implements TxMonitor for testing
type mockTxMonitor struct {
	mu sync.Mutex

	// MakeWaitChannelFn returns the final status for a tx hash. Default: mined.
	MakeWaitChannelFn func(ctx context.Context, txHash common.Hash) TxMonitorStatus

	// Block makes the monitor wait for ctx or Release before answering
	Block   bool
	release chan struct{}

	Calls []common.Hash
}

func newMockTxMonitor() *mockTxMonitor {
	return &mockTxMonitor{release: make(chan struct{})}
}

// Release unblocks every waiting MakeWaitChannel
func (m *mockTxMonitor) Release() {
	close(m.release)
}

func (m *mockTxMonitor) MakeWaitChannel(ctx context.Context, txHash common.Hash, interval time.Duration) <-chan TxMonitorStatus {
	m.mu.Lock()
	m.Calls = append(m.Calls, txHash)
	block := m.Block
	m.mu.Unlock()

	ch := make(chan TxMonitorStatus, 1)
	go func() {
		defer close(ch)
		if block {
			select {
			case <-ctx.Done():
				ch <- TxMonitorStatus{Status: TxStatusCancelled}
				return
			case <-m.release:
			}
		}
		if m.MakeWaitChannelFn != nil {
			ch <- m.MakeWaitChannelFn(ctx, txHash)
			return
		}
		ch <- TxMonitorStatus{Status: TxStatusDone, Receipt: newTestReceipt(txHash, types.ReceiptStatusSuccessful)}
	}()
	return ch
}

// mockSubmitter implements WaveSubmitter for lifecycle tests
type mockSubmitter struct {
	mu sync.Mutex

	SubmitWaveFn          func(ctx context.Context, message string) (*types.Transaction, error)
	WaitForConfirmationFn func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	// Balances are returned by successive GetBalance calls, the last one repeats
	Balances   []*big.Int
	BalanceErr error

	SubmitCalls  []string
	BalanceCalls int
}

func (m *mockSubmitter) SubmitWave(ctx context.Context, message string) (*types.Transaction, error) {
	m.mu.Lock()
	m.SubmitCalls = append(m.SubmitCalls, message)
	m.mu.Unlock()
	if m.SubmitWaveFn != nil {
		return m.SubmitWaveFn(ctx, message)
	}
	return newTestWaveTx(0), nil
}

func (m *mockSubmitter) WaitForConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if m.WaitForConfirmationFn != nil {
		return m.WaitForConfirmationFn(ctx, tx)
	}
	return newTestReceipt(tx.Hash(), types.ReceiptStatusSuccessful), nil
}

func (m *mockSubmitter) GetBalance(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.BalanceCalls
	m.BalanceCalls++
	if m.BalanceErr != nil {
		return nil, m.BalanceErr
	}
	if len(m.Balances) == 0 {
		return big.NewInt(0), nil
	}
	if i >= len(m.Balances) {
		i = len(m.Balances) - 1
	}
	return m.Balances[i], nil
}

// ============================================================
// Helpers
// ============================================================

func newTestWaveTx(nonce uint64) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   testChainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(2_000_000_000),
		GasFeeCap: big.NewInt(20_000_000_000),
		Gas:       DefaultGasLimit,
		To:        &testContract,
	})
}

func newTestReceipt(txHash common.Hash, status uint64) *types.Receipt {
	return &types.Receipt{
		Status:      status,
		TxHash:      txHash,
		BlockNumber: big.NewInt(1),
		GasUsed:     50000,
	}
}

// newWaveLog builds a NewWave log as the node would push it
func newWaveLog(t *testing.T, from common.Address, timestamp int64, message string, seed int64) types.Log {
	t.Helper()
	parsed := testABI(t)
	event := parsed.Events[eventNewWave]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(timestamp), message, big.NewInt(seed))
	require.NoError(t, err)
	return types.Log{
		Address: testContract,
		Topics:  []common.Hash{event.ID, common.BytesToHash(from.Bytes())},
		Data:    data,
		TxHash:  crypto.Keccak256Hash([]byte(message), big.NewInt(timestamp).Bytes()),
	}
}

func newWaveRecord(from common.Address, timestamp int64, message string, seed int64) waveRecord {
	return waveRecord{
		Waver:     from,
		Timestamp: big.NewInt(timestamp),
		Message:   message,
		Seed:      big.NewInt(seed),
	}
}

// testSetup holds a client wired to mocks
type testSetup struct {
	backend  *mockBackend
	provider *mockProvider
	gateway  *WalletGateway
	monitor  *mockTxMonitor
	client   *ContractClient
}

func newTestSetup(t *testing.T, opts ...ClientOption) *testSetup {
	t.Helper()
	s := &testSetup{
		backend:  newMockBackend(t),
		provider: newMockProvider(t),
		monitor:  newMockTxMonitor(),
	}
	s.gateway = NewWalletGateway(s.provider)

	opts = append([]ClientOption{
		WithTxMonitorFactory(func(EthBackend) TxMonitor { return s.monitor }),
		WithTxCheckInterval(10 * time.Millisecond),
	}, opts...)

	client, err := NewContractClient(testContract, s.backend, s.gateway, opts...)
	require.NoError(t, err)
	s.client = client
	return s
}

// connect authorizes testAccount on the gateway
func (s *testSetup) connect(t *testing.T) {
	t.Helper()
	acc, err := s.gateway.RequestConnection(context.Background())
	require.NoError(t, err)
	require.Equal(t, testAccount, acc)
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

// memFeedStore is an in-memory FeedStore
type memFeedStore struct {
	mu    sync.Mutex
	feeds map[common.Address][]WaveEvent

	LoadErr     error
	ReplaceErr  error
	AppendCalls int
}

func newMemFeedStore() *memFeedStore {
	return &memFeedStore{feeds: map[common.Address][]WaveEvent{}}
}

func (s *memFeedStore) Load(ctx context.Context, contract common.Address) ([]WaveEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	return append([]WaveEvent(nil), s.feeds[contract]...), nil
}

func (s *memFeedStore) Replace(ctx context.Context, contract common.Address, events []WaveEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReplaceErr != nil {
		return s.ReplaceErr
	}
	s.feeds[contract] = append([]WaveEvent(nil), events...)
	return nil
}

func (s *memFeedStore) Append(ctx context.Context, contract common.Address, ev WaveEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendCalls++
	for _, cached := range s.feeds[contract] {
		if cached.Key() == ev.Key() {
			return false, nil
		}
	}
	s.feeds[contract] = append(s.feeds[contract], ev)
	return true, nil
}

func (s *memFeedStore) feed(contract common.Address) []WaveEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WaveEvent(nil), s.feeds[contract]...)
}

// memSubmissionStore is an in-memory SubmissionStore that logs the states it saw
type memSubmissionStore struct {
	mu      sync.Mutex
	records map[common.Address]*SubmissionRecord

	SavedStates []TxState
	DeleteCalls int
}

func newMemSubmissionStore() *memSubmissionStore {
	return &memSubmissionStore{records: map[common.Address]*SubmissionRecord{}}
}

func (s *memSubmissionStore) Save(ctx context.Context, record *SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.records[record.Account] = &cp
	s.SavedStates = append(s.SavedStates, record.State)
	return nil
}

func (s *memSubmissionStore) Get(ctx context.Context, account common.Address) (*SubmissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[account]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (s *memSubmissionStore) Delete(ctx context.Context, account common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls++
	delete(s.records, account)
	return nil
}

func (s *memSubmissionStore) saved() []TxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TxState(nil), s.SavedStates...)
}
