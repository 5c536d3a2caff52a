package simulation

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func propagationConfig() *Config {
	cfg := DefaultConfig()
	cfg.RegionDistribution = []float64{0.5, 0.5}
	cfg.Latency = [][]int64{{100, 200}, {200, 100}}
	cfg.UploadBandwidth = []int64{8_000_000, 4_000_000}
	cfg.DownloadBandwidth = []int64{2_000_000, 16_000_000}
	return &cfg
}

func TestLatencyMeanMatchesTable(t *testing.T) {
	cfg := propagationConfig()
	p := NewPropagation(cfg, NewRandomStreams(3))
	from, to := &Node{id: 1, region: 0}, &Node{id: 2, region: 0}

	samples := make([]float64, 5000)
	for i := range samples {
		latency := p.Latency(from, to)
		require.GreaterOrEqual(t, latency, int64(95))
		samples[i] = float64(latency)
	}
	require.InDelta(t, 100, stat.Mean(samples, nil), 5)
}

func TestBandwidthIsLinkMinimum(t *testing.T) {
	p := NewPropagation(propagationConfig(), NewRandomStreams(1))
	a, b := &Node{region: 0}, &Node{region: 1}
	require.Equal(t, int64(8_000_000), p.Bandwidth(a, b))
	require.Equal(t, int64(2_000_000), p.Bandwidth(b, a))
	require.Equal(t, int64(2_000_000), p.Bandwidth(a, a))
}

func TestBlockSizeCompactRelay(t *testing.T) {
	cfg := propagationConfig()
	p := NewPropagation(cfg, NewRandomStreams(1))
	full, compact := &Node{}, &Node{useCBR: true}

	require.Equal(t, cfg.BlockSize, p.BlockSize(full, compact))
	require.Equal(t, cfg.BlockSize, p.BlockSize(compact, full))

	cfg.CBRFailureRateControl = 0
	require.Equal(t, cfg.CompactBlockSize, p.BlockSize(compact, compact))

	cfg.CBRFailureRateChurn = 1
	churning := &Node{useCBR: true, churn: true}
	for i := 0; i < 100; i++ {
		size := p.BlockSize(compact, churning)
		require.Greater(t, size, cfg.CompactBlockSize)
		require.LessOrEqual(t, size, cfg.CompactBlockSize+cfg.BlockSize)
	}
}

func TestDelayAddsTransferTime(t *testing.T) {
	cfg := propagationConfig()
	cfg.Latency = [][]int64{{1, 1}, {1, 1}}
	p := NewPropagation(cfg, NewRandomStreams(1))
	from, to := &Node{region: 0}, &Node{region: 1}

	// 535000 bytes over 8 Mbit/s
	transfer := cfg.BlockSize * 8 * 1000 / 8_000_000
	for i := 0; i < 50; i++ {
		delay := p.Delay(from, to)
		require.GreaterOrEqual(t, delay, transfer+1)
	}
}

func TestMintingDelayMatchesInterval(t *testing.T) {
	pow := NewProofOfWork(1_000, NewRandomStreams(9))
	require.Equal(t, int64(4_611_686_018_427_387_903), pow.MintingDelay(10))

	pow.Recalibrate(100)
	require.Equal(t, uint64(100_000), pow.Difficulty())

	samples := make([]float64, 20000)
	for i := range samples {
		samples[i] = float64(pow.MintingDelay(100))
	}
	require.InDelta(t, 1_000, stat.Mean(samples, nil), 50)

	samples = samples[:5000]
	for i := range samples {
		samples[i] = float64(pow.MintingDelay(25))
	}
	require.InDelta(t, 4_000, stat.Mean(samples, nil), 250)
}
