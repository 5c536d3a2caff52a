// Package archive stores the outcome of a run: every block that ended on
// the reference chain or as an orphan, and a summary of the run.
package archive

import (
	"errors"
	"fmt"

	"github.com/shreekarashastry/blocksim/simulation"
)

var ErrNotFound = errors.New("not found")

// BlockEntry is the stored form of a block.
type BlockEntry struct {
	Hash         string   `json:"hash"`
	ParentHash   string   `json:"parentHash"`
	Height       uint64   `json:"height"`
	Minter       int      `json:"minter"`
	Time         int64    `json:"time"`
	OnChain      bool     `json:"onChain"`
	Transactions []uint64 `json:"transactions"`
}

type Summary struct {
	Seed           uint64                           `json:"seed"`
	Nodes          int                              `json:"nodes"`
	Strategy       string                           `json:"strategy"`
	EndTime        int64                            `json:"endTime"`
	Height         uint64                           `json:"height"`
	Orphans        int                              `json:"orphans"`
	OrphanRate     float64                          `json:"orphanRate"`
	AverageOrphans float64                          `json:"averageOrphans"`
	AttackerBlocks int                              `json:"attackerBlocks"`
	Propagation    simulation.PropagationStats      `json:"propagation"`
	Attackers      map[int]simulation.AttackerStats `json:"attackers"`
}

// Store persists a run. Implementations are backed by LevelDB or BoltDB.
type Store interface {
	PutBlock(BlockEntry) error
	PutSummary(Summary) error
	Blocks() ([]BlockEntry, error)
	Summary() (Summary, error)
	Close() error
}

const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Open returns a store of the named backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendLevelDB, "":
		return OpenLevelDB(path)
	case BackendBolt:
		return OpenBolt(path)
	}
	return nil, fmt.Errorf("unknown archive backend %q", backend)
}

// Save writes every classified block of res and the run summary.
func Save(s Store, cfg simulation.Config, res *simulation.Result) error {
	for _, status := range res.Blocks {
		b := status.Block
		entry := BlockEntry{
			Hash:    b.Hash().String(),
			Height:  b.Number(),
			Minter:  b.Minter(),
			Time:    b.Time(),
			OnChain: status.OnChain,
		}
		if b.HasParent() {
			entry.ParentHash = b.ParentHash().String()
		}
		for _, tx := range b.Transactions() {
			entry.Transactions = append(entry.Transactions, tx.ID())
		}
		if err := s.PutBlock(entry); err != nil {
			return fmt.Errorf("failed to store block %d: %w", entry.Height, err)
		}
	}
	summary := Summary{
		Seed:           cfg.Seed,
		Nodes:          cfg.NumNodes,
		Strategy:       cfg.Strategy.String(),
		EndTime:        res.EndTime,
		Height:         res.Height,
		Orphans:        len(res.Orphans),
		OrphanRate:     res.OrphanRate(),
		AverageOrphans: res.AverageOrphans,
		AttackerBlocks: res.AttackerBlocks,
		Propagation:    res.Propagation,
		Attackers:      res.Attackers,
	}
	if err := s.PutSummary(summary); err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}
	return nil
}

func blockKey(e BlockEntry) []byte {
	// height first so iteration returns blocks in height order
	return []byte(fmt.Sprintf("block:%020d:%s", e.Height, e.Hash))
}

var summaryKey = []byte("summary")
