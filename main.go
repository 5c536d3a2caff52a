package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/natefinch/lumberjack"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/shreekarashastry/blocksim/archive"
	"github.com/shreekarashastry/blocksim/record"
	"github.com/shreekarashastry/blocksim/simulation"
	"github.com/shreekarashastry/blocksim/sink"
)

var (
	numNodes       int
	routingTable   string
	consensus      string
	interval       int64
	endHeight      uint64
	seed           uint64
	avgPower       int64
	stdevPower     int64
	blockSize      int64
	compactSize    int64
	cbrUsage       float64
	churnRate      float64
	numAttackers   int
	attackerShare  float64
	upliftPolicy   string
	strategy       string
	triggerHeight  uint64
	confirmations  uint64
	victimID       int
	doubleSpendAmt int64
	txMode         string
	txAmount       int64
	txPerBlock     int

	outputFile     string
	graphDir       string
	ingestURL      string
	ingestRate     float64
	wsAddr         string
	archivePath    string
	archiveBackend string
	logFile        string
	logLevel       string
)

func main() {
	defaults := simulation.DefaultConfig()

	flag.IntVarP(&numNodes, "nodes", "n", defaults.NumNodes, "number of simulated nodes")
	flag.StringVar(&routingTable, "routing-table", defaults.RoutingTable, "routing table kind")
	flag.StringVar(&consensus, "consensus", defaults.Consensus, "consensus algorithm kind")
	flag.Int64VarP(&interval, "interval", "i", defaults.Interval, "target block interval in milliseconds")
	flag.Uint64VarP(&endHeight, "end-height", "e", defaults.EndHeight, "stop once this block height is reached")
	flag.Uint64VarP(&seed, "seed", "s", defaults.Seed, "random seed")
	flag.Int64Var(&avgPower, "avg-power", defaults.AverageMiningPower, "average mining power")
	flag.Int64Var(&stdevPower, "stdev-power", defaults.StdevMiningPower, "standard deviation of mining power")
	flag.Int64Var(&blockSize, "block-size", defaults.BlockSize, "block size in bytes")
	flag.Int64Var(&compactSize, "compact-block-size", defaults.CompactBlockSize, "compact block size in bytes")
	flag.Float64Var(&cbrUsage, "cbr-usage-rate", defaults.CBRUsageRate, "share of nodes using compact block relay")
	flag.Float64Var(&churnRate, "churn-rate", defaults.ChurnNodeRate, "share of churning nodes")
	flag.IntVarP(&numAttackers, "attackers", "a", defaults.NumAttackers, "number of attacker nodes")
	flag.Float64Var(&attackerShare, "attacker-share", defaults.AttackerPowerShare, "attacker hash power share")
	flag.StringVar(&upliftPolicy, "uplift", "scaled", "attacker power uplift policy: scaled or target-share")
	flag.StringVar(&strategy, "strategy", defaults.Strategy.String(), "attack strategy: HONEST, SELFISH or DOUBLE_SPEND")
	flag.Uint64Var(&triggerHeight, "trigger-height", defaults.AttackTriggerHeight, "height from which the double-spend counts")
	flag.Uint64Var(&confirmations, "victim-confirmations", defaults.VictimConfirmations, "confirmations the victim waits for")
	flag.IntVar(&victimID, "victim", defaults.VictimID, "receiver id of the double-spend transaction")
	flag.Int64Var(&doubleSpendAmt, "double-spend-amount", defaults.DoubleSpendAmount, "amount of the double-spend transaction")
	flag.StringVar(&txMode, "tx-mode", defaults.TxMode.String(), "transaction mode: FIXED, ROUND_ROBIN or BALANCE_AWARE")
	flag.Int64Var(&txAmount, "tx-amount", defaults.TxAmount, "fixed transaction amount")
	flag.IntVar(&txPerBlock, "tx-per-block", defaults.TxPerBlock, "transactions generated per mined block")

	flag.StringVarP(&outputFile, "output", "o", "output.json", "record output file, empty to disable")
	flag.StringVar(&graphDir, "graph-dir", "", "directory for topology dumps, empty to disable")
	flag.StringVar(&ingestURL, "ingest-url", "", "dashboard ingest endpoint, empty to disable")
	flag.Float64Var(&ingestRate, "ingest-rate", 200, "maximum records forwarded per second")
	flag.StringVar(&wsAddr, "ws-addr", "", "listen address of the websocket record stream, empty to disable")
	flag.StringVar(&archivePath, "archive", "", "path of the run archive, empty to disable")
	flag.StringVar(&archiveBackend, "archive-backend", archive.BackendLevelDB, "archive backend: leveldb or bolt")
	flag.StringVar(&logFile, "log-file", "", "log file, rotated; stderr when empty")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.Parse()

	setupLogging()

	cfg, err := buildConfig(defaults)
	if err != nil {
		log.WithField("err", err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := sink.NewDispatcher(1024)
	var closers []func()

	if outputFile != "" {
		out, err := sink.NewJSONFile(outputFile)
		if err != nil {
			log.WithField("err", err).Fatal("Cannot open output file")
		}
		dispatcher.Attach("json", out)
		closers = append(closers, func() {
			if err := out.Close(); err != nil {
				log.WithField("err", err).Error("Failed to close output file")
			}
		})
	}
	if ingestURL != "" {
		dispatcher.AttachBestEffort("ingest", sink.NewForwarder(ingestURL, ingestRate, int(ingestRate)))
	}
	if wsAddr != "" {
		hub := sink.NewHub()
		dispatcher.AttachBestEffort("websocket", hub)
		server := &http.Server{Addr: wsAddr, Handler: hub, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithField("err", err).Error("WebSocket server stopped")
			}
		}()
		closers = append(closers, func() {
			hub.Close()
			server.Close()
		})
	}

	var opts []simulation.Option
	opts = append(opts, simulation.WithLogger(log.StandardLogger()))
	if graphDir != "" {
		dumper, err := sink.NewGraphDumper(graphDir)
		if err != nil {
			log.WithField("err", err).Fatal("Cannot create graph directory")
		}
		opts = append(opts, simulation.WithGraphWriter(dumper))
	}

	start := time.Now()
	sim, err := simulation.NewSimulation(cfg, record.Sink(dispatcher), opts...)
	if err != nil {
		log.WithField("err", err).Fatal("Simulation cannot start")
	}
	res, err := sim.Run(ctx)
	if res == nil {
		log.WithField("err", err).Fatal("Simulation failed")
	}
	if err != nil {
		log.WithField("err", err).Warn("Simulation interrupted")
	}
	dispatcher.Close()
	for _, c := range closers {
		c()
	}
	if dropped := dispatcher.Dropped(); dropped > 0 {
		log.WithField("dropped", dropped).Warn("Network sinks fell behind, records dropped")
	}

	log.WithFields(log.Fields{
		"height":          res.Height,
		"orphans":         len(res.Orphans),
		"orphanRate":      res.OrphanRate(),
		"avgOrphans":      res.AverageOrphans,
		"attackerBlocks":  res.AttackerBlocks,
		"propagationMean": res.Propagation.Mean,
		"propagationP90":  res.Propagation.P90,
		"elapsed":         time.Since(start),
	}).Info("Run summary")
	for id, stats := range res.Attackers {
		log.WithFields(log.Fields{
			"node":      id,
			"withheld":  stats.Withheld,
			"released":  stats.Released,
			"longest":   stats.LongestPrivateChain,
			"injected":  stats.Injected,
			"confirmed": stats.Confirmed,
		}).Info("Attacker summary")
	}

	if archivePath != "" {
		store, err := archive.Open(archiveBackend, archivePath)
		if err != nil {
			log.WithField("err", err).Fatal("Cannot open archive")
		}
		defer store.Close()
		if err := archive.Save(store, cfg, res); err != nil {
			log.WithField("err", err).Error("Failed to archive run")
		}
	}
}

func setupLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
}

func buildConfig(cfg simulation.Config) (simulation.Config, error) {
	cfg.NumNodes = numNodes
	cfg.RoutingTable = routingTable
	cfg.Consensus = consensus
	cfg.Interval = interval
	cfg.EndHeight = endHeight
	cfg.Seed = seed
	cfg.AverageMiningPower = avgPower
	cfg.StdevMiningPower = stdevPower
	cfg.BlockSize = blockSize
	cfg.CompactBlockSize = compactSize
	cfg.CBRUsageRate = cbrUsage
	cfg.ChurnNodeRate = churnRate
	cfg.NumAttackers = numAttackers
	cfg.AttackerPowerShare = attackerShare
	cfg.AttackTriggerHeight = triggerHeight
	cfg.VictimConfirmations = confirmations
	cfg.VictimID = victimID
	cfg.DoubleSpendAmount = doubleSpendAmt
	cfg.TxAmount = txAmount
	cfg.TxPerBlock = txPerBlock

	var err error
	if cfg.Uplift, err = simulation.ParseUpliftPolicy(upliftPolicy); err != nil {
		return cfg, err
	}
	if cfg.Strategy, err = simulation.ParseStrategy(strategy); err != nil {
		return cfg, err
	}
	if cfg.TxMode, err = simulation.ParseTxMode(txMode); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
