package simulation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shreekarashastry/blocksim/record"
)

func attackerConfig(strategy Strategy) Config {
	cfg := testConfig()
	cfg.NumAttackers = 1
	cfg.Strategy = strategy
	return cfg
}

// arrivals counts queued BlockArrival tasks per block.
func arrivals(sim *Simulation) map[Hash]int {
	out := make(map[Hash]int)
	for _, task := range sim.scheduler.queue {
		if task.Kind == BlockArrival {
			out[task.Block]++
		}
	}
	return out
}

func mint(sim *Simulation, parent *Block, minter int, nonce uint64) *Block {
	b := parent.PendingBlock(minter, sim.Now(), sim.engine.Difficulty(), EncodeNonce(nonce))
	sim.db.Add(b)
	return b
}

func TestSelfishWithholdsThenReleasesOnce(t *testing.T) {
	rec := record.NewRecorder()
	sim := newTestSimulation(t, attackerConfig(Selfish), rec)
	require.Len(t, sim.Attackers(), 1)
	a := sim.Attackers()[0]
	n := sim.Node(1)

	var withheld []*Block
	for i := uint64(1); i <= 3; i++ {
		b := mint(sim, n.Tip(), n.ID(), i)
		a.OnMined(b)
		withheld = append(withheld, b)
	}
	require.Len(t, a.PrivateChain(), 3)
	require.Equal(t, withheld[2].Hash(), n.Tip().Hash())
	require.Empty(t, arrivals(sim))
	require.Equal(t, 3, a.Stats().LongestPrivateChain)

	a.Release()
	require.Empty(t, a.PrivateChain())
	require.Equal(t, 3, a.Stats().Released)
	require.Equal(t, 1, a.Stats().Releases)

	counts := arrivals(sim)
	for _, b := range withheld {
		require.Equal(t, len(n.Neighbors()), counts[b.Hash()])
		require.True(t, b.Sealed())
	}

	a.Release()
	n.Announce(withheld[0])
	require.Equal(t, counts, arrivals(sim))
	require.NotEmpty(t, rec.Filter(record.AttackLog))
}

func TestSelfishReleasesWhenHonestCatchesUp(t *testing.T) {
	sim := newTestSimulation(t, attackerConfig(Selfish), nil)
	a := sim.Attackers()[0]
	n := sim.Node(1)

	p1 := mint(sim, n.Tip(), n.ID(), 1)
	a.OnMined(p1)
	p2 := mint(sim, n.Tip(), n.ID(), 2)
	a.OnMined(p2)

	h1 := mint(sim, sim.Genesis(), 2, 10)
	a.OnReceived(h1, 2)
	require.Len(t, a.PrivateChain(), 2)
	require.Empty(t, arrivals(sim))

	h2 := mint(sim, h1, 2, 11)
	a.OnReceived(h2, 2)
	require.Empty(t, a.PrivateChain())
	require.Equal(t, 2, a.Stats().Released)
	counts := arrivals(sim)
	require.Equal(t, len(n.Neighbors()), counts[p1.Hash()])
	require.Equal(t, len(n.Neighbors()), counts[p2.Hash()])
	require.Equal(t, p2.Hash(), n.Tip().Hash())
	require.True(t, n.Chain().IsOrphan(h2.Hash()))
}

func TestSelfishReleasesWhenPendingBlocksConnect(t *testing.T) {
	sim := newTestSimulation(t, attackerConfig(Selfish), nil)
	a := sim.Attackers()[0]
	n := sim.Node(1)

	h1 := mint(sim, sim.Genesis(), 2, 101)
	h2 := mint(sim, h1, 2, 102)
	h3 := mint(sim, h2, 2, 103)
	h4 := mint(sim, h3, 2, 104)
	a.OnReceived(h4, 2)
	a.OnReceived(h3, 2)
	a.OnReceived(h2, 2)
	require.Equal(t, 3, n.Chain().Pending())
	require.Zero(t, a.PublicHeight())

	var withheld []*Block
	for i := uint64(1); i <= 3; i++ {
		b := mint(sim, n.Tip(), n.ID(), i)
		a.OnMined(b)
		withheld = append(withheld, b)
	}
	require.Len(t, a.PrivateChain(), 3)
	require.Empty(t, arrivals(sim))

	// h1 connects h2..h4 and the public chain overtakes the private tip.
	a.OnReceived(h1, 2)
	require.Equal(t, uint64(4), a.PublicHeight())
	require.Empty(t, a.PrivateChain())
	require.Equal(t, h4.Hash(), n.Tip().Hash())
	require.Equal(t, 3, a.Stats().Released)

	counts := arrivals(sim)
	for _, b := range withheld {
		require.Equal(t, len(n.Neighbors()), counts[b.Hash()])
		require.True(t, n.Chain().IsOrphan(b.Hash()))
	}

	next := mint(sim, n.Tip(), n.ID(), 4)
	a.OnMined(next)
	require.Len(t, a.PrivateChain(), 1)
	require.Equal(t, next.Hash(), n.Tip().Hash())
	require.Zero(t, arrivals(sim)[next.Hash()])
}

func TestSelfishLowerPendingBlocksDoNotRelease(t *testing.T) {
	sim := newTestSimulation(t, attackerConfig(Selfish), nil)
	a := sim.Attackers()[0]
	n := sim.Node(1)

	h1 := mint(sim, sim.Genesis(), 2, 101)
	h2 := mint(sim, h1, 2, 102)
	a.OnReceived(h2, 2)
	for i := uint64(1); i <= 3; i++ {
		a.OnMined(mint(sim, n.Tip(), n.ID(), i))
	}

	a.OnReceived(h1, 2)
	require.Equal(t, uint64(2), a.PublicHeight())
	require.Len(t, a.PrivateChain(), 3)
	require.Empty(t, arrivals(sim))
}

func TestRunReleasesWithheldBlocksAtEnd(t *testing.T) {
	rec := record.NewRecorder()
	sim := newTestSimulation(t, attackerConfig(Selfish), rec)
	a := sim.Attackers()[0]
	n := sim.Node(1)

	var withheld []*Block
	for i := uint64(1); i <= 2; i++ {
		b := mint(sim, n.Tip(), n.ID(), i)
		a.OnMined(b)
		withheld = append(withheld, b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Empty(t, a.PrivateChain())
	require.Equal(t, 2, a.Stats().Released)
	counts := arrivals(sim)
	for _, b := range withheld {
		require.Equal(t, len(n.Neighbors()), counts[b.Hash()])
	}

	logs := rec.Filter(record.AttackLog)
	require.Contains(t, logs[len(logs)-1].Message, "Released 2 private blocks")
	records := rec.Records()
	require.Equal(t, record.SimulationEnd, records[len(records)-1].Kind)
}

func TestSelfishRejectsOutOfOrderBlock(t *testing.T) {
	sim := newTestSimulation(t, attackerConfig(Selfish), nil)
	a := sim.Attackers()[0]
	n := sim.Node(1)

	a.OnMined(mint(sim, n.Tip(), n.ID(), 1))
	stray := mint(sim, sim.Genesis(), n.ID(), 2)
	require.ErrorIs(t, a.withhold(stray), ErrPrivateChainOrder)
	require.Len(t, a.PrivateChain(), 1)
}

func TestDoubleSpendInjectsOnce(t *testing.T) {
	rec := record.NewRecorder()
	cfg := attackerConfig(DoubleSpend)
	sim := newTestSimulation(t, cfg, rec)
	a := sim.Attackers()[0]
	n := sim.Node(1)

	b := mint(sim, n.Tip(), n.ID(), 1)
	a.inject(b)
	a.inject(b)
	require.Equal(t, 1, a.Stats().Injected)
	require.Equal(t, 1, countDoubleSpends(b, n.ID(), cfg))

	a.OnMined(b)
	require.Equal(t, 1, countDoubleSpends(b, n.ID(), cfg))
	require.True(t, b.Sealed())
	require.Equal(t, len(n.Neighbors()), arrivals(sim)[b.Hash()])

	txs := rec.Filter(record.AddTx)
	require.Len(t, txs, 1)
	require.Equal(t, a.Stats().DoubleSpendTx, txs[0].TxID)
	require.Equal(t, cfg.VictimID, txs[0].Receiver)
}

func countDoubleSpends(b *Block, attacker int, cfg Config) int {
	count := 0
	for _, tx := range b.Transactions() {
		if tx.Sender() == attacker && tx.Receiver() == cfg.VictimID && tx.Amount() == cfg.DoubleSpendAmount {
			count++
		}
	}
	return count
}

func TestDoubleSpendEveryAttackerBlock(t *testing.T) {
	cfg := attackerConfig(DoubleSpend)
	cfg.Uplift = UpliftTargetShare
	cfg.AttackerPowerShare = 0.5
	cfg.EndHeight = 10
	sim := newTestSimulation(t, cfg, nil)

	_, err := sim.Run(context.Background())
	require.NoError(t, err)

	mined := 0
	for _, b := range sim.BlockDB().Blocks() {
		if !b.HasParent() || b.Minter() != 1 {
			continue
		}
		mined++
		require.Equal(t, 1, countDoubleSpends(b, 1, cfg), "block %d", b.Number())
	}
	require.Positive(t, mined)
	require.Equal(t, mined, sim.Attackers()[0].Stats().Injected)
}

func TestSelfishRunGrowsPrivateChain(t *testing.T) {
	cfg := attackerConfig(Selfish)
	cfg.Uplift = UpliftTargetShare
	cfg.AttackerPowerShare = 0.9
	cfg.EndHeight = 15
	sim := newTestSimulation(t, cfg, nil)

	res, err := sim.Run(context.Background())
	require.NoError(t, err)

	stats := res.Attackers[1]
	require.Greater(t, stats.LongestPrivateChain, 1)
	require.Equal(t, stats.Withheld, stats.Released)
	require.Empty(t, sim.Attackers()[0].PrivateChain())
}

func TestHonestStrategyHasNoDecorator(t *testing.T) {
	sim := newTestSimulation(t, attackerConfig(Honest), nil)
	require.Empty(t, sim.Attackers())
	require.True(t, sim.Node(1).IsAttacker())
}
