package simulation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shreekarashastry/blocksim/record"
)

func TestRoundRobinCyclesSenders(t *testing.T) {
	g := NewTxGenerator(TxRoundRobin, 10, []int{1, 2, 3}, 0, NewRandomStreams(1), nil)

	var senders []int
	for i := 0; i < 9; i++ {
		senders = append(senders, g.Generate(0).Sender())
	}
	require.Equal(t, []int{1, 2, 3, 1, 2, 3, 1, 2, 3}, senders)
}

func TestRoundRobinConcurrentCallers(t *testing.T) {
	g := NewTxGenerator(TxRoundRobin, 10, []int{1, 2, 3}, 0, NewRandomStreams(1), nil)

	var (
		mu     sync.Mutex
		counts = make(map[int]int)
		wg     sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tx := g.Generate(0)
				mu.Lock()
				counts[tx.Sender()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, map[int]int{1: 100, 2: 100, 3: 100}, counts)
}

func TestBalanceAwareLedger(t *testing.T) {
	ids := []int{1, 2, 3, 4, 5}
	const initial = 25
	rec := record.NewRecorder()
	g := NewTxGenerator(TxBalanceAware, 10, ids, initial, NewRandomStreams(3), rec)

	received := make(map[int]int64)
	sent := make(map[int]int64)
	for i := 0; i < 500; i++ {
		tx := g.Generate(int64(i))
		require.NotEqual(t, tx.Sender(), tx.Receiver())
		require.GreaterOrEqual(t, tx.Amount(), int64(0))
		sent[tx.Sender()] += tx.Amount()
		received[tx.Receiver()] += tx.Amount()
		for _, id := range ids {
			require.GreaterOrEqual(t, g.Balance(id), int64(0))
		}
	}
	var total int64
	for _, id := range ids {
		require.Equal(t, initial+received[id]-sent[id], g.Balance(id))
		total += g.Balance(id)
	}
	require.Equal(t, int64(initial*len(ids)), total)
	require.Len(t, rec.Filter(record.AddTx), 500)
}

func TestBalanceAwareDrainedSender(t *testing.T) {
	g := NewTxGenerator(TxBalanceAware, 10, []int{1, 2}, 0, NewRandomStreams(5), nil)
	g.SetBalance(1, 4)
	g.SetBalance(2, -3)
	require.Equal(t, int64(0), g.Balance(2))

	for i := 0; i < 20; i++ {
		tx := g.Generate(0)
		require.LessOrEqual(t, tx.Amount(), int64(4))
	}
	balances := g.Balances()
	require.Equal(t, int64(4), balances[1]+balances[2])
}

func TestFixedModeSingleNode(t *testing.T) {
	g := NewTxGenerator(TxFixed, 7, []int{9}, 0, NewRandomStreams(1), nil)
	tx := g.Generate(0)
	require.Equal(t, 9, tx.Sender())
	require.Equal(t, 9, tx.Receiver())
	require.Equal(t, int64(7), tx.Amount())
	require.Equal(t, uint64(1), tx.ID())
	require.Equal(t, uint64(2), g.Generate(0).ID())
	require.Equal(t, uint64(3), g.IDs().Next())
}

func TestMempoolIsFIFO(t *testing.T) {
	var m Mempool
	m.Push(NewTransaction(1, 1, 2, 1), nil, NewTransaction(2, 1, 2, 1), NewTransaction(3, 1, 2, 1))
	require.Equal(t, 3, m.Len())

	first := m.Take(2)
	require.Len(t, first, 2)
	require.Equal(t, uint64(1), first[0].ID())
	require.Equal(t, uint64(2), first[1].ID())

	rest := m.Take(10)
	require.Len(t, rest, 1)
	require.Equal(t, uint64(3), rest[0].ID())
	require.Zero(t, m.Len())
}

func TestParseModes(t *testing.T) {
	mode, err := ParseTxMode("balance-aware")
	require.NoError(t, err)
	require.Equal(t, TxBalanceAware, mode)
	_, err = ParseTxMode("random")
	require.ErrorIs(t, err, ErrInvalidConfig)

	strategy, err := ParseStrategy("selfish")
	require.NoError(t, err)
	require.Equal(t, Selfish, strategy)
	require.Equal(t, "DOUBLE_SPEND", DoubleSpend.String())

	policy, err := ParseUpliftPolicy("target-share")
	require.NoError(t, err)
	require.Equal(t, UpliftTargetShare, policy)
}
