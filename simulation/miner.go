package simulation

import (
	log "github.com/sirupsen/logrus"

	"github.com/shreekarashastry/blocksim/record"
)

// scheduleMining starts a fresh mining attempt on the node's current tip.
// A pending attempt on an older tip goes stale and is dropped when popped.
func (sim *Simulation) scheduleMining(n *Node) {
	tip := n.Tip().Hash()
	if n.miningParent == tip {
		return
	}
	n.miningParent = tip
	sim.scheduler.Schedule(&Task{Kind: MiningComplete, Node: n.id, Parent: tip}, sim.engine.MintingDelay(n.power))
}

// mine handles a MiningComplete task. It returns false when the block
// would pass the end height and the run must stop.
func (sim *Simulation) mine(t *Task) bool {
	n := sim.node(t.Node)
	if t.Parent != n.miningParent || t.Parent != n.Tip().Hash() {
		sim.stale++
		return true
	}
	parent, ok := sim.db.Get(t.Parent)
	if !ok {
		sim.logger.WithField("parent", t.Parent.TerminalString()).Error("Mining parent missing from block database")
		return true
	}
	if parent.Number() >= sim.cfg.EndHeight {
		return false
	}

	block := parent.PendingBlock(n.id, sim.Now(), sim.engine.Difficulty(), sim.engine.Seal())
	for i := 0; i < sim.cfg.TxPerBlock; i++ {
		sim.mempool.Push(sim.txgen.Generate(sim.Now()))
	}
	for _, tx := range sim.mempool.Take(sim.cfg.MaxBlockTransactions) {
		if err := block.AppendTransaction(tx); err != nil {
			sim.logger.WithField("err", err).Error("Failed to attach transaction")
		}
	}
	sim.db.Add(block)
	sim.emit(record.NewAddBlock(sim.Now(), block.Hash().String(), block.Number(), n.id, parent.Hash().String()))
	sim.logger.WithFields(log.Fields{
		"node":   n.id,
		"number": block.Number(),
		"hash":   block.Hash().TerminalString(),
		"txs":    len(block.txs),
	}).Debug("Mined a new block")
	sim.checkpoint(block.Number())

	n.miningParent = Hash{}
	n.behavior.OnMined(block)
	if n.miningParent.IsZero() {
		sim.scheduleMining(n)
	}
	return true
}

// deliver handles a BlockArrival task.
func (sim *Simulation) deliver(t *Task) {
	n := sim.node(t.Node)
	block, ok := sim.db.Get(t.Block)
	if !ok {
		sim.logger.WithField("block", t.Block.TerminalString()).Error("Arriving block missing from block database")
		return
	}
	n.behavior.OnReceived(block, t.From)
}

func (sim *Simulation) scheduleArrival(from, to *Node, b *Block) {
	sim.scheduler.Schedule(&Task{Kind: BlockArrival, Node: to.id, Block: b.Hash(), From: from.id}, sim.propagation.Delay(from, to))
}
