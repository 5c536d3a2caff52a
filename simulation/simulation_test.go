package simulation

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/shreekarashastry/blocksim/record"
)

// testConfig is a small single-region network whose blocks propagate far
// faster than they are mined.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumNodes = 10
	cfg.EndHeight = 5
	cfg.Interval = 600_000
	cfg.RegionDistribution = []float64{1}
	cfg.Latency = [][]int64{{10}}
	cfg.UploadBandwidth = []int64{1_000_000_000}
	cfg.DownloadBandwidth = []int64{1_000_000_000}
	cfg.NumAttackers = 0
	cfg.Strategy = Honest
	cfg.GraphCheckpoint = nil
	return cfg
}

func newTestSimulation(t *testing.T, cfg Config, sink record.Sink) *Simulation {
	t.Helper()
	sim, err := NewSimulation(cfg, sink)
	require.NoError(t, err)
	return sim
}

func TestNewSimulationRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.NumNodes = 0
	_, err := NewSimulation(cfg, nil)
	require.ErrorIs(t, err, ErrNoNodes)

	cfg = testConfig()
	cfg.Latency = [][]int64{{10, 20}}
	_, err = NewSimulation(cfg, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSimulationInstallsGenesisEverywhere(t *testing.T) {
	rec := record.NewRecorder()
	sim := newTestSimulation(t, testConfig(), rec)

	require.Len(t, rec.Filter(record.AddNode), 10)
	genesis := rec.Filter(record.AddBlock)
	require.Len(t, genesis, 1)
	require.Equal(t, uint64(0), genesis[0].Height)
	require.Equal(t, "", genesis[0].ParentID)

	for _, n := range sim.Nodes() {
		require.Equal(t, sim.Genesis().Hash(), n.Tip().Hash())
		require.Greater(t, n.MiningPower(), int64(0))
	}
}

func TestRunEndToEnd(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		cfg := DefaultConfig()
		cfg.NumNodes = 10
		cfg.EndHeight = 5
		cfg.NumAttackers = 0
		cfg.Strategy = Honest
		cfg.GraphCheckpoint = nil
		cfg.Seed = seed

		rec := record.NewRecorder()
		sim := newTestSimulation(t, cfg, rec)
		res, err := sim.Run(context.Background())
		require.NoError(t, err, "seed %d", seed)
		require.NotNil(t, res)

		require.Len(t, rec.Filter(record.SimulationEnd), 1, "seed %d", seed)
		records := rec.Records()
		require.Equal(t, record.SimulationEnd, records[len(records)-1].Kind)

		blocks := rec.Filter(record.AddBlock)
		require.GreaterOrEqual(t, len(blocks), 5, "seed %d", seed)
		seen := make(map[string]struct{}, len(blocks))
		var last uint64
		for _, b := range blocks {
			require.LessOrEqual(t, b.Height, uint64(5), "seed %d", seed)
			require.GreaterOrEqual(t, b.Height, last, "seed %d", seed)
			require.NotContains(t, seen, b.BlockID, "seed %d", seed)
			seen[b.BlockID] = struct{}{}
			last = b.Height
		}
		require.Equal(t, uint64(5), last, "seed %d", seed)
		require.Equal(t, sim.BlockDB().Len(), len(blocks), "seed %d", seed)
		require.LessOrEqual(t, res.Height, uint64(5))

		_, err = sim.Run(context.Background())
		require.Error(t, err)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.NumNodes = 20
	cfg.EndHeight = 8
	cfg.Interval = 2_000
	cfg.RegionDistribution = DefaultConfig().RegionDistribution
	cfg.Latency = DefaultConfig().Latency
	cfg.UploadBandwidth = DefaultConfig().UploadBandwidth
	cfg.DownloadBandwidth = DefaultConfig().DownloadBandwidth

	run := func() (*Result, []record.Record) {
		rec := record.NewRecorder()
		res, err := newTestSimulation(t, cfg, rec).Run(context.Background())
		require.NoError(t, err)
		return res, rec.Records()
	}
	first, firstRecords := run()
	second, secondRecords := run()

	require.Equal(t, firstRecords, secondRecords)
	require.Equal(t, first.Height, second.Height)
	require.Equal(t, first.Orphans, second.Orphans)
	require.Equal(t, len(first.Blocks), len(second.Blocks))
	for i := range first.Blocks {
		require.Equal(t, first.Blocks[i].Block.Hash(), second.Blocks[i].Block.Hash())
		require.Equal(t, first.Blocks[i].OnChain, second.Blocks[i].OnChain)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := record.NewRecorder()
	res, err := newTestSimulation(t, testConfig(), rec).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	require.Equal(t, uint64(0), res.Height)
	require.Len(t, rec.Filter(record.SimulationEnd), 1)
}

type graphCapture map[uint64][][]int

func (g graphCapture) WriteGraph(height uint64, neighbors [][]int) error {
	g[height] = neighbors
	return nil
}

func TestGraphCheckpoints(t *testing.T) {
	cfg := testConfig()
	cfg.GraphCheckpoint = func(h uint64) bool { return h == 2 || h == 4 }

	graphs := graphCapture{}
	sim, err := NewSimulation(cfg, nil, WithGraphWriter(graphs))
	require.NoError(t, err)
	_, err = sim.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, graphs, 2)
	require.Contains(t, graphs, uint64(2))
	require.Contains(t, graphs, uint64(4))
	require.Len(t, graphs[2], cfg.NumNodes)
	require.Equal(t, sim.Node(1).Neighbors(), graphs[2][0])
}

func TestResultClassifiesBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.NumNodes = 30
	cfg.EndHeight = 10
	cfg.Interval = 200
	sim := newTestSimulation(t, cfg, nil)

	res, err := sim.Run(context.Background())
	require.NoError(t, err)

	chained, orphaned := 0, 0
	for i, status := range res.Blocks {
		if i > 0 {
			require.LessOrEqual(t, res.Blocks[i-1].Block.Time(), status.Block.Time())
		}
		if status.OnChain {
			chained++
		} else {
			orphaned++
		}
	}
	require.Equal(t, len(res.MainChain), chained)
	require.Equal(t, len(res.Orphans), orphaned)
	require.GreaterOrEqual(t, res.OrphanRate(), 0.0)
	require.Less(t, res.OrphanRate(), 1.0)
}

func TestRunSummaryLogFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sim, err := NewSimulation(testConfig(), nil, WithLogger(logger))
	require.NoError(t, err)
	res, err := sim.Run(context.Background())
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, "Simulation finished", entry.Message)
	require.Equal(t, res.EndTime, entry.Data["endTime"])
	require.NotContains(t, entry.Data, "time")
}
