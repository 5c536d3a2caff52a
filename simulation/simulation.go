package simulation

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/shreekarashastry/blocksim/record"
)

// GraphWriter persists the neighbour graph when the network first reaches
// a checkpoint height. neighbors[i] lists the peers of node i+1.
type GraphWriter interface {
	WriteGraph(height uint64, neighbors [][]int) error
}

type Option func(*Simulation)

func WithLogger(logger *log.Logger) Option {
	return func(sim *Simulation) { sim.logger = logger }
}

func WithGraphWriter(w GraphWriter) Option {
	return func(sim *Simulation) { sim.graph = w }
}

type Simulation struct {
	cfg         Config
	rand        *RandomStreams
	sink        record.Sink
	logger      *log.Logger
	graph       GraphWriter
	db          *BlockDB
	nodes       []*Node
	scheduler   *Scheduler
	engine      *ProofOfWork
	propagation *Propagation
	txgen       *TxGenerator
	mempool     *Mempool
	genesis     *Block

	maxHeight uint64
	stale     int
	reach     map[Hash]int
	fullAt    map[Hash]int64
	quit      bool
	finished  bool
}

// NewSimulation builds the network, picks the genesis minter and installs
// the genesis block on every node. Configuration and topology errors are
// returned here; a simulation that was built can always run.
func NewSimulation(cfg Config, sink record.Sink, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = record.Discard
	}
	sim := &Simulation{
		cfg:       cfg,
		rand:      NewRandomStreams(cfg.Seed),
		sink:      sink,
		logger:    log.StandardLogger(),
		db:        NewBlockDB(),
		scheduler: NewScheduler(),
		mempool:   new(Mempool),
		reach:     make(map[Hash]int),
		fullAt:    make(map[Hash]int64),
	}
	for _, opt := range opts {
		opt(sim)
	}
	sim.engine = NewProofOfWork(sim.cfg.Interval, sim.rand)
	sim.propagation = NewPropagation(&sim.cfg, sim.rand)

	nodes, err := NewTopologyBuilder(&sim.cfg, sim.rand).Build()
	if err != nil {
		return nil, fmt.Errorf("building topology: %w", err)
	}
	sim.nodes = nodes
	for _, n := range nodes {
		n.sim = sim
		n.peerKnown = make(map[int]*lru.Cache[Hash, struct{}], len(n.neighbors))
		sim.emit(record.NewAddNode(0, n.id, n.region))
		if n.attacker {
			sim.emit(record.NewAttackLog(0, fmt.Sprintf("Attacker node created: %d with mining power %d", n.id, n.power)))
			sim.logger.WithFields(log.Fields{
				"node":     n.id,
				"power":    n.power,
				"strategy": sim.cfg.Strategy,
			}).Info("Attacker node created")
		}
	}
	sim.engine.Recalibrate(TotalMiningPower(nodes))

	minter, err := SelectGenesisMinter(nodes, sim.rand)
	if err != nil {
		return nil, fmt.Errorf("selecting genesis minter: %w", err)
	}
	sim.genesis = GenesisBlock(minter.id, sim.engine.Difficulty(), sim.engine.Seal())
	sim.genesis.Seal()
	sim.db.Add(sim.genesis)
	sim.emit(record.NewAddBlock(0, sim.genesis.Hash().String(), 0, minter.id, ""))

	ids := make([]int, len(nodes))
	for i, n := range nodes {
		ids[i] = n.id
	}
	sim.txgen = NewTxGenerator(sim.cfg.TxMode, sim.cfg.TxAmount, ids, sim.cfg.InitialBalance, sim.rand, sim)

	for _, n := range nodes {
		n.chain = NewChainState(sim.db, sim.genesis)
		n.behavior = &honest{node: n}
		if n.attacker && sim.cfg.Strategy != Honest {
			n.behavior = NewAttacker(n, n.behavior, sim.cfg.Strategy)
		}
		sim.noteArrival(sim.genesis)
	}
	sim.logger.WithFields(log.Fields{
		"nodes":      len(nodes),
		"totalPower": TotalMiningPower(nodes),
		"genesis":    sim.genesis.Hash().TerminalString(),
		"minter":     minter.id,
	}).Info("Simulation network constructed")
	return sim, nil
}

func (sim *Simulation) Config() Config            { return sim.cfg }
func (sim *Simulation) Now() int64                { return sim.scheduler.Now() }
func (sim *Simulation) Nodes() []*Node            { return sim.nodes }
func (sim *Simulation) Genesis() *Block           { return sim.genesis }
func (sim *Simulation) BlockDB() *BlockDB         { return sim.db }
func (sim *Simulation) TxGenerator() *TxGenerator { return sim.txgen }

func (sim *Simulation) node(id int) *Node {
	return sim.nodes[id-1]
}

// Node returns the node with the given id, or nil.
func (sim *Simulation) Node(id int) *Node {
	if id < 1 || id > len(sim.nodes) {
		return nil
	}
	return sim.node(id)
}

// Attackers returns the attacker decorators in node id order.
func (sim *Simulation) Attackers() []*Attacker {
	var out []*Attacker
	for _, n := range sim.nodes {
		if a, ok := n.behavior.(*Attacker); ok {
			out = append(out, a)
		}
	}
	return out
}

// Emit implements record.Sink so the transaction generator reports
// through the simulation.
func (sim *Simulation) Emit(rec record.Record) {
	sim.emit(rec)
}

func (sim *Simulation) emit(rec record.Record) {
	sim.sink.Emit(rec)
}

// Start runs the simulation to completion.
func (sim *Simulation) Start() (*Result, error) {
	return sim.Run(context.Background())
}

// Stop makes a running simulation return after the current event.
func (sim *Simulation) Stop() {
	sim.quit = true
}

// Run drives the event loop until the end height is reached, the queue
// drains, Stop is called or ctx is cancelled.
func (sim *Simulation) Run(ctx context.Context) (*Result, error) {
	if sim.finished {
		return nil, fmt.Errorf("simulation already ran")
	}
	sim.finished = true

	for i := 0; i < sim.cfg.InitialTransactions; i++ {
		sim.mempool.Push(sim.txgen.Generate(sim.Now()))
	}
	for _, n := range sim.nodes {
		sim.scheduleMining(n)
	}

	var err error
loop:
	for !sim.quit {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		default:
		}
		t, ok := sim.scheduler.Next()
		if !ok {
			break loop
		}
		switch t.Kind {
		case MiningComplete:
			if !sim.mine(t) {
				break loop
			}
		case BlockArrival:
			sim.deliver(t)
		}
	}
	// Whatever is still withheld is announced before the run closes.
	for _, a := range sim.Attackers() {
		if len(a.privateChain) > 0 {
			a.log(fmt.Sprintf("Run ended with %d withheld blocks, releasing private chain", len(a.privateChain)))
			a.Release()
		}
	}
	sim.emit(record.NewSimulationEnd(sim.Now()))

	res := sim.result()
	sim.logger.WithFields(log.Fields{
		"endTime":    res.EndTime,
		"height":     res.Height,
		"orphans":    len(res.Orphans),
		"staleTasks": sim.stale,
	}).Info("Simulation finished")
	return res, err
}

// checkpoint dumps the graph the first time the network reaches a
// checkpoint height.
func (sim *Simulation) checkpoint(height uint64) {
	if height <= sim.maxHeight {
		return
	}
	sim.maxHeight = height
	if sim.graph == nil || sim.cfg.GraphCheckpoint == nil || !sim.cfg.GraphCheckpoint(height) {
		return
	}
	neighbors := make([][]int, len(sim.nodes))
	for i, n := range sim.nodes {
		neighbors[i] = n.Neighbors()
	}
	if err := sim.graph.WriteGraph(height, neighbors); err != nil {
		sim.logger.WithFields(log.Fields{"height": height, "err": err}).Warn("Failed to write graph")
	}
}

// noteArrival tracks how many nodes know a block and when the last one
// learned it.
func (sim *Simulation) noteArrival(b *Block) {
	sim.reach[b.Hash()]++
	if sim.reach[b.Hash()] == len(sim.nodes) {
		sim.fullAt[b.Hash()] = sim.Now()
	}
}

// BlockStatus pairs a block with its classification on the reference
// node's chain.
type BlockStatus struct {
	Block   *Block
	OnChain bool
}

// PropagationStats describes how long blocks took to reach every node.
type PropagationStats struct {
	Blocks int
	Mean   float64
	Median float64
	P90    float64
	Max    float64
}

type Result struct {
	EndTime        int64
	Height         uint64
	MainChain      []*Block
	Orphans        []Hash
	AverageOrphans float64
	AttackerBlocks int
	Blocks         []BlockStatus
	Propagation    PropagationStats
	Attackers      map[int]AttackerStats
}

// OrphanRate is the share of mined blocks that ended up orphaned.
func (r *Result) OrphanRate() float64 {
	total := len(r.MainChain) - 1 + len(r.Orphans)
	if total <= 0 {
		return 0
	}
	return float64(len(r.Orphans)) / float64(total)
}

func (sim *Simulation) result() *Result {
	ref := sim.nodes[0]
	res := &Result{
		EndTime:   sim.Now(),
		Height:    ref.chain.Height(),
		MainChain: ref.chain.Path(),
		Attackers: make(map[int]AttackerStats),
	}
	for _, b := range res.MainChain {
		if b.HasParent() && sim.node(b.Minter()).attacker {
			res.AttackerBlocks++
		}
	}

	orphans := make(map[Hash]struct{})
	total := 0
	for _, n := range sim.nodes {
		total += n.chain.OrphanCount()
		for _, h := range n.chain.Orphans() {
			orphans[h] = struct{}{}
		}
		if a, ok := n.behavior.(*Attacker); ok {
			res.Attackers[n.id] = a.Stats()
		}
	}
	res.AverageOrphans = float64(total) / float64(len(sim.nodes))

	onChain := make(map[Hash]struct{}, len(res.MainChain))
	for _, b := range res.MainChain {
		onChain[b.Hash()] = struct{}{}
	}
	for _, b := range sim.db.Blocks() {
		_, chained := onChain[b.Hash()]
		_, orphaned := orphans[b.Hash()]
		if orphaned && !chained {
			res.Orphans = append(res.Orphans, b.Hash())
		}
		if chained || orphaned {
			res.Blocks = append(res.Blocks, BlockStatus{Block: b, OnChain: chained})
		}
	}
	sort.SliceStable(res.Blocks, func(i, j int) bool {
		return res.Blocks[i].Block.Time() < res.Blocks[j].Block.Time()
	})
	res.Propagation = sim.propagationStats()
	return res
}

func (sim *Simulation) propagationStats() PropagationStats {
	var times []float64
	for _, b := range sim.db.Blocks() {
		at, ok := sim.fullAt[b.Hash()]
		if !ok || !b.HasParent() {
			continue
		}
		times = append(times, float64(at-b.Time()))
	}
	if len(times) == 0 {
		return PropagationStats{}
	}
	sort.Float64s(times)
	return PropagationStats{
		Blocks: len(times),
		Mean:   stat.Mean(times, nil),
		Median: stat.Quantile(0.5, stat.Empirical, times, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, times, nil),
		Max:    times[len(times)-1],
	}
}
