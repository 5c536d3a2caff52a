package simulation

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/shreekarashastry/blocksim/record"
)

var ErrPrivateChainOrder = errors.New("block does not extend the private chain")

// AttackerStats summarises what an attacker did during a run.
type AttackerStats struct {
	Withheld            int
	Released            int
	Releases            int
	LongestPrivateChain int
	Injected            int
	DoubleSpendTx       uint64
	Confirmed           bool
}

// Attacker decorates the honest behaviour of a node with a selfish mining
// or double-spend strategy.
type Attacker struct {
	inner    Behavior
	node     *Node
	strategy Strategy

	privateChain []*Block
	doubleSpend  *Transaction
	stats        AttackerStats

	// external tracks received blocks of other minters until they connect
	// to the attacker's chain; publicHeight is the highest that connected.
	external     []*Block
	publicHeight uint64
}

func NewAttacker(node *Node, inner Behavior, strategy Strategy) *Attacker {
	return &Attacker{inner: inner, node: node, strategy: strategy}
}

func (a *Attacker) Strategy() Strategy {
	return a.strategy
}

func (a *Attacker) Stats() AttackerStats {
	return a.stats
}

// PrivateChain returns the withheld blocks, lowest first.
func (a *Attacker) PrivateChain() []*Block {
	return append([]*Block(nil), a.privateChain...)
}

func (a *Attacker) OnMined(b *Block) {
	switch a.strategy {
	case Selfish:
		if err := a.withhold(b); err != nil {
			a.node.logger().WithFields(log.Fields{
				"number": b.Number(),
				"err":    err,
			}).Error("Cannot withhold block, announcing it")
			a.inner.OnMined(b)
		}
	case DoubleSpend:
		a.inject(b)
		a.inner.OnMined(b)
		a.checkConfirmation()
	default:
		a.inner.OnMined(b)
	}
}

func (a *Attacker) OnReceived(b *Block, from int) {
	if a.strategy == Selfish && b.Minter() != a.node.id {
		a.external = append(a.external, b)
	}
	a.inner.OnReceived(b, from)
	switch a.strategy {
	case Selfish:
		a.observePublic()
		if len(a.privateChain) > 0 && a.publicHeight >= a.privateTip().Number() {
			a.log(fmt.Sprintf("Public tip %d caught up with private tip %d, releasing private chain", a.publicHeight, a.privateTip().Number()))
			a.Release()
		}
	case DoubleSpend:
		a.checkConfirmation()
	}
}

// observePublic raises publicHeight to the highest external block that now
// has a known path to genesis. A block arriving before its parent only
// counts once the parent shows up.
func (a *Attacker) observePublic() {
	waiting := a.external[:0]
	for _, b := range a.external {
		if !a.node.chain.Connected(b.Hash()) {
			waiting = append(waiting, b)
			continue
		}
		a.publicHeight = max(a.publicHeight, b.Number())
	}
	for i := len(waiting); i < len(a.external); i++ {
		a.external[i] = nil
	}
	a.external = waiting
}

// PublicHeight is the height of the highest block from other minters the
// attacker has connected to its chain.
func (a *Attacker) PublicHeight() uint64 {
	return a.publicHeight
}

func (a *Attacker) privateTip() *Block {
	return a.privateChain[len(a.privateChain)-1]
}

// withhold keeps b off the network. The attacker still adopts it so its
// next block extends the private chain.
func (a *Attacker) withhold(b *Block) error {
	expected := a.node.Tip().Hash()
	if len(a.privateChain) > 0 {
		expected = a.privateTip().Hash()
	}
	if b.ParentHash() != expected {
		return fmt.Errorf("%w: parent %v, expected %v", ErrPrivateChainOrder, b.ParentHash().TerminalString(), expected.TerminalString())
	}
	a.node.Accept(b)
	a.privateChain = append(a.privateChain, b)
	a.stats.Withheld++
	a.stats.LongestPrivateChain = max(a.stats.LongestPrivateChain, len(a.privateChain))
	a.log(fmt.Sprintf("Attacker mined block %d but withheld it, private chain length %d", b.Number(), len(a.privateChain)))
	return nil
}

// Release announces the whole private chain in height order and clears it.
func (a *Attacker) Release() {
	if len(a.privateChain) == 0 {
		return
	}
	blocks := a.privateChain
	a.privateChain = nil
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Number() <= blocks[i-1].Number() || blocks[i].ParentHash() != blocks[i-1].Hash() {
			panic(fmt.Sprintf("attacker %d: private chain out of order at %d", a.node.id, blocks[i].Number()))
		}
	}
	for _, b := range blocks {
		a.node.Announce(b)
	}
	a.stats.Released += len(blocks)
	a.stats.Releases++
	a.log(fmt.Sprintf("Released %d private blocks up to height %d", len(blocks), blocks[len(blocks)-1].Number()))
}

// inject appends the attacker's conflicting transaction to b. The
// transaction is created once and reused for every later block.
func (a *Attacker) inject(b *Block) {
	cfg := a.node.sim.cfg
	if a.doubleSpend == nil {
		a.doubleSpend = NewTransaction(a.node.sim.txgen.IDs().Next(), a.node.id, cfg.VictimID, cfg.DoubleSpendAmount)
		a.stats.DoubleSpendTx = a.doubleSpend.ID()
		a.node.emit(record.NewAddTx(a.node.sim.Now(), a.doubleSpend.ID(), a.doubleSpend.Sender(), a.doubleSpend.Receiver(), a.doubleSpend.Amount()))
		a.log(fmt.Sprintf("Attacker created double-spend tx %d", a.doubleSpend.ID()))
	}
	if containsTx(b, a.doubleSpend.ID()) {
		return
	}
	if err := b.AppendTransaction(a.doubleSpend); err != nil {
		a.node.logger().WithFields(log.Fields{
			"number": b.Number(),
			"err":    err,
		}).Warn("Unable to inject double-spend tx")
		return
	}
	a.stats.Injected++
	a.log(fmt.Sprintf("Injected double-spend tx into block %d", b.Number()))
}

// checkConfirmation reports, once, when a block carrying the double-spend
// at or above the trigger height is buried under enough confirmations on
// the attacker's accepted chain.
func (a *Attacker) checkConfirmation() {
	if a.doubleSpend == nil || a.stats.Confirmed {
		return
	}
	cfg := a.node.sim.cfg
	tip := a.node.Tip()
	for _, b := range a.node.chain.Path() {
		if b.Number() < cfg.AttackTriggerHeight {
			continue
		}
		if !containsTx(b, a.doubleSpend.ID()) {
			continue
		}
		if confirmations := tip.Number() - b.Number() + 1; confirmations >= cfg.VictimConfirmations {
			a.stats.Confirmed = true
			a.log(fmt.Sprintf("Double-spend tx %d confirmed in block %d with %d confirmations", a.doubleSpend.ID(), b.Number(), confirmations))
		}
		return
	}
}

func (a *Attacker) log(msg string) {
	a.node.emit(record.NewAttackLog(a.node.sim.Now(), msg))
	a.node.logger().WithField("strategy", a.strategy).Debug(msg)
}

func containsTx(b *Block, id uint64) bool {
	for _, tx := range b.Transactions() {
		if tx.ID() == id {
			return true
		}
	}
	return false
}
