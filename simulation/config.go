package simulation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrNoNodes         = errors.New("node count must be positive")
	ErrZeroMiningPower = errors.New("total mining power is zero")
)

// Strategy is the behaviour wrapped around an attacker node.
type Strategy uint

const (
	Honest Strategy = iota
	Selfish
	DoubleSpend
)

func (s Strategy) String() string {
	switch s {
	case Honest:
		return "HONEST"
	case Selfish:
		return "SELFISH"
	case DoubleSpend:
		return "DOUBLE_SPEND"
	}
	return fmt.Sprintf("Strategy(%d)", uint(s))
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HONEST", "":
		return Honest, nil
	case "SELFISH":
		return Selfish, nil
	case "DOUBLE_SPEND", "DOUBLE-SPEND":
		return DoubleSpend, nil
	}
	return Honest, fmt.Errorf("%w: unknown attack strategy %q", ErrInvalidConfig, s)
}

// TxMode selects how the transaction generator picks senders and amounts.
type TxMode uint

const (
	TxFixed TxMode = iota
	TxRoundRobin
	TxBalanceAware
)

func (m TxMode) String() string {
	switch m {
	case TxFixed:
		return "FIXED"
	case TxRoundRobin:
		return "ROUND_ROBIN"
	case TxBalanceAware:
		return "BALANCE_AWARE"
	}
	return fmt.Sprintf("TxMode(%d)", uint(m))
}

func ParseTxMode(s string) (TxMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FIXED", "":
		return TxFixed, nil
	case "ROUND_ROBIN", "ROUND-ROBIN":
		return TxRoundRobin, nil
	case "BALANCE_AWARE", "BALANCE-AWARE":
		return TxBalanceAware, nil
	}
	return TxFixed, fmt.Errorf("%w: unknown transaction mode %q", ErrInvalidConfig, s)
}

// UpliftPolicy decides how much mining power is added to each attacker.
type UpliftPolicy uint

const (
	// UpliftScaled adds max(1, mean * share * N) to every attacker.
	UpliftScaled UpliftPolicy = iota
	// UpliftTargetShare adds enough power for the attackers to jointly hold
	// share of the network's total power.
	UpliftTargetShare
)

func ParseUpliftPolicy(s string) (UpliftPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scaled", "":
		return UpliftScaled, nil
	case "target-share", "target_share":
		return UpliftTargetShare, nil
	}
	return UpliftScaled, fmt.Errorf("%w: unknown uplift policy %q", ErrInvalidConfig, s)
}

const (
	RoutingBitcoinCore = "bitcoin-core"
	ConsensusPoW       = "pow"
)

// Config is the immutable parameter set of one run. Times are in
// milliseconds, sizes in bytes and bandwidths in bits per second.
type Config struct {
	NumNodes     int
	RoutingTable string
	Consensus    string
	Interval     int64
	EndHeight    uint64
	Seed         uint64

	AverageMiningPower int64
	StdevMiningPower   int64

	// RegionDistribution holds per-region weights, DegreeDistribution the
	// cumulative probability of each outbound degree (index + 1).
	RegionDistribution []float64
	DegreeDistribution []float64
	Latency            [][]int64
	UploadBandwidth    []int64
	DownloadBandwidth  []int64
	MaxInbound         int

	BlockSize        int64
	CompactBlockSize int64

	CBRUsageRate              float64
	ChurnNodeRate             float64
	CBRFailureRateControl     float64
	CBRFailureRateChurn       float64
	CBRFailureSizeControl     []float64
	CBRFailureSizeChurn       []float64
	KnownBlocksPerPeerMaxSize int

	NumAttackers        int
	AttackerPowerShare  float64
	Uplift              UpliftPolicy
	Strategy            Strategy
	AttackTriggerHeight uint64
	VictimConfirmations uint64
	VictimID            int
	DoubleSpendAmount   int64

	TxMode               TxMode
	TxAmount             int64
	InitialBalance       int64
	InitialTransactions  int
	TxPerBlock           int
	MaxBlockTransactions int

	// GraphCheckpoint reports whether the topology is dumped when the
	// network first reaches height h.
	GraphCheckpoint func(h uint64) bool
}

// DefaultConfig returns the parameters of the reference Bitcoin-like
// network.
func DefaultConfig() Config {
	return Config{
		NumNodes:     300,
		RoutingTable: RoutingBitcoinCore,
		Consensus:    ConsensusPoW,
		Interval:     10_000,
		EndHeight:    100,
		Seed:         10,

		AverageMiningPower: 400_000,
		StdevMiningPower:   100_000,

		RegionDistribution: []float64{0.3316, 0.4998, 0.0090, 0.1177, 0.0224, 0.0195},
		DegreeDistribution: []float64{
			0.025, 0.050, 0.075, 0.10, 0.20, 0.30, 0.40, 0.50, 0.60, 0.70,
			0.80, 0.85, 0.90, 0.95, 0.97, 0.97, 0.98, 0.99, 0.995, 1.0,
		},
		Latency: [][]int64{
			{32, 124, 184, 198, 151, 189},
			{124, 11, 227, 237, 252, 294},
			{184, 227, 88, 325, 301, 322},
			{198, 237, 325, 85, 58, 198},
			{151, 252, 301, 58, 12, 126},
			{189, 294, 322, 198, 126, 16},
		},
		UploadBandwidth:   []int64{19_200_000, 20_700_000, 5_800_000, 15_700_000, 10_200_000, 11_300_000},
		DownloadBandwidth: []int64{52_000_000, 40_000_000, 18_000_000, 22_800_000, 22_800_000, 29_900_000},
		MaxInbound:        125,

		BlockSize:        535_000,
		CompactBlockSize: 18_000,

		CBRUsageRate:              0.964,
		ChurnNodeRate:             0.976,
		CBRFailureRateControl:     0.13,
		CBRFailureRateChurn:       0.27,
		CBRFailureSizeControl:     []float64{0.01, 0.01, 0.02, 0.03, 0.05, 0.08, 0.13, 0.22, 0.40, 0.96},
		CBRFailureSizeChurn:       []float64{0.01, 0.01, 0.01, 0.02, 0.04, 0.09, 0.17, 0.31, 0.55, 0.96},
		KnownBlocksPerPeerMaxSize: 1024,

		NumAttackers:        1,
		AttackerPowerShare:  0.35,
		Uplift:              UpliftScaled,
		Strategy:            DoubleSpend,
		AttackTriggerHeight: 2,
		VictimConfirmations: 6,
		VictimID:            999,
		DoubleSpendAmount:   100,

		TxMode:               TxFixed,
		TxAmount:             10,
		InitialBalance:       1000,
		InitialTransactions:  10,
		TxPerBlock:           5,
		MaxBlockTransactions: 100,

		GraphCheckpoint: func(h uint64) bool { return h == 2 || h%100 == 0 },
	}
}

func (c *Config) Validate() error {
	if c.NumNodes <= 0 {
		return ErrNoNodes
	}
	if c.RoutingTable != RoutingBitcoinCore {
		return fmt.Errorf("%w: unsupported routing table %q", ErrInvalidConfig, c.RoutingTable)
	}
	if c.Consensus != ConsensusPoW {
		return fmt.Errorf("%w: unsupported consensus %q", ErrInvalidConfig, c.Consensus)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: block interval must be positive", ErrInvalidConfig)
	}
	if len(c.RegionDistribution) == 0 || len(c.DegreeDistribution) == 0 {
		return fmt.Errorf("%w: empty region or degree distribution", ErrInvalidConfig)
	}
	regions := len(c.RegionDistribution)
	if len(c.Latency) != regions || len(c.UploadBandwidth) != regions || len(c.DownloadBandwidth) != regions {
		return fmt.Errorf("%w: latency and bandwidth tables must cover %d regions", ErrInvalidConfig, regions)
	}
	for i, row := range c.Latency {
		if len(row) != regions {
			return fmt.Errorf("%w: latency row %d has %d entries", ErrInvalidConfig, i, len(row))
		}
	}
	for i := range c.UploadBandwidth {
		if c.UploadBandwidth[i] <= 0 || c.DownloadBandwidth[i] <= 0 {
			return fmt.Errorf("%w: bandwidth of region %d must be positive", ErrInvalidConfig, i)
		}
	}
	if c.MaxInbound <= 0 {
		return fmt.Errorf("%w: max inbound must be positive", ErrInvalidConfig)
	}
	for _, rate := range []float64{c.CBRUsageRate, c.ChurnNodeRate, c.CBRFailureRateControl, c.CBRFailureRateChurn} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%w: rate %v outside [0, 1]", ErrInvalidConfig, rate)
		}
	}
	if len(c.CBRFailureSizeControl) == 0 || len(c.CBRFailureSizeChurn) == 0 {
		return fmt.Errorf("%w: empty CBR failure size distribution", ErrInvalidConfig)
	}
	if c.NumAttackers < 0 || c.NumAttackers > c.NumNodes {
		return fmt.Errorf("%w: attacker count %d with %d nodes", ErrInvalidConfig, c.NumAttackers, c.NumNodes)
	}
	if c.AttackerPowerShare < 0 || c.AttackerPowerShare >= 1 {
		return fmt.Errorf("%w: attacker power share %v outside [0, 1)", ErrInvalidConfig, c.AttackerPowerShare)
	}
	if c.TxAmount < 0 || c.DoubleSpendAmount < 0 || c.InitialBalance < 0 {
		return fmt.Errorf("%w: amounts and balances must be non-negative", ErrInvalidConfig)
	}
	if c.TxPerBlock < 0 || c.InitialTransactions < 0 || c.MaxBlockTransactions < 0 {
		return fmt.Errorf("%w: transaction counts must be non-negative", ErrInvalidConfig)
	}
	if c.doubleSpendCollides() {
		return fmt.Errorf("%w: victim %d is a node and generated transactions can carry the double-spend amount %d", ErrInvalidConfig, c.VictimID, c.DoubleSpendAmount)
	}
	if c.KnownBlocksPerPeerMaxSize <= 0 {
		return fmt.Errorf("%w: known block cache size must be positive", ErrInvalidConfig)
	}
	return nil
}

// doubleSpendCollides reports whether the transaction generator could emit
// a transaction indistinguishable from the attacker's double-spend: the
// victim is a real node and a generated amount can equal the target amount.
func (c *Config) doubleSpendCollides() bool {
	if c.Strategy != DoubleSpend || c.NumAttackers == 0 {
		return false
	}
	if c.VictimID < 1 || c.VictimID > c.NumNodes {
		return false
	}
	if c.TxMode == TxBalanceAware {
		return c.DoubleSpendAmount <= c.TxAmount
	}
	return c.DoubleSpendAmount == c.TxAmount
}
