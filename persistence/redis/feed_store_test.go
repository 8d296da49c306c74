package redis

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/waveportal"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testWaverA   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testWaverB   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestFeedStore_LoadEmpty(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewFeedStore(client)
	events, err := store.Load(context.Background(), testContract)

	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFeedStore_ReplaceAndLoad(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewFeedStore(client, WithFeedStoreKeyPrefix("test"))
	ctx := context.Background()

	events := []waveportal.WaveEvent{
		{Address: testWaverA, Timestamp: 100, Message: "hi"},
		{Address: testWaverB, Timestamp: 90, Message: "yo", Seed: big.NewInt(75), TxHash: common.HexToHash("0xbeef")},
		{Address: testWaverA, Timestamp: 100, Message: "hi again"}, // same key
	}
	require.NoError(t, store.Replace(ctx, testContract, events))

	loaded, err := store.Load(ctx, testContract)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "hi", loaded[0].Message)
	assert.Nil(t, loaded[0].Seed)
	assert.Equal(t, testWaverB, loaded[1].Address)
	assert.Equal(t, uint64(90), loaded[1].Timestamp)
	assert.Equal(t, 0, big.NewInt(75).Cmp(loaded[1].Seed))
	assert.Equal(t, common.HexToHash("0xbeef"), loaded[1].TxHash)
	assert.Equal(t, common.Hash{}, loaded[0].TxHash)

	// prefixed keys
	n, err := client.Exists(ctx, "test:waveportal:feed:"+"0x5fbdb2315678afecb367f032d93f642f64180aa3").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFeedStore_ReplaceOverwrites(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewFeedStore(client)
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, testContract, []waveportal.WaveEvent{
		{Address: testWaverA, Timestamp: 1, Message: "old"},
	}))
	require.NoError(t, store.Replace(ctx, testContract, []waveportal.WaveEvent{
		{Address: testWaverB, Timestamp: 2, Message: "new"},
	}))

	loaded, err := store.Load(ctx, testContract)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "new", loaded[0].Message)

	// the old key is gone, so the old wave can be appended again
	added, err := store.Append(ctx, testContract, waveportal.WaveEvent{Address: testWaverA, Timestamp: 1, Message: "old"})
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, store.Replace(ctx, testContract, nil))
	loaded, err = store.Load(ctx, testContract)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFeedStore_AppendDeduplicates(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewFeedStore(client)
	ctx := context.Background()

	ev := waveportal.WaveEvent{Address: testWaverA, Timestamp: 100, Message: "hi"}
	require.NoError(t, store.Replace(ctx, testContract, []waveportal.WaveEvent{ev}))

	added, err := store.Append(ctx, testContract, ev)
	require.NoError(t, err)
	assert.False(t, added)

	later := waveportal.WaveEvent{Address: testWaverB, Timestamp: 50, Message: "late"}
	added, err = store.Append(ctx, testContract, later)
	require.NoError(t, err)
	assert.True(t, added)

	loaded, err := store.Load(ctx, testContract)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	// insertion order, not timestamp order
	assert.Equal(t, "hi", loaded[0].Message)
	assert.Equal(t, "late", loaded[1].Message)

	n, err := store.Len(ctx, testContract)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFeedStore_ConcurrentAppend(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewFeedStore(client)
	ctx := context.Background()
	ev := waveportal.WaveEvent{Address: testWaverA, Timestamp: 7, Message: "race"}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Append(ctx, testContract, ev)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, added)
	n, err := store.Len(ctx, testContract)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFeedStore_ContractsAreIsolated(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewFeedStore(client)
	ctx := context.Background()
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")

	_, err := store.Append(ctx, testContract, waveportal.WaveEvent{Address: testWaverA, Timestamp: 1, Message: "a"})
	require.NoError(t, err)

	loaded, err := store.Load(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
