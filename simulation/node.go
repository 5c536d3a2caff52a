package simulation

import (
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/shreekarashastry/blocksim/record"
)

// Behavior is what a node does with the blocks it mines and receives.
// Honest nodes and attackers implement the same two operations; an
// attacker wraps the honest behaviour.
type Behavior interface {
	OnMined(b *Block)
	OnReceived(b *Block, from int)
}

// Node is one simulated peer. Its profile is fixed at topology build time;
// its chain state is mutated only by its own event handlers.
type Node struct {
	id       int
	region   int
	degree   int
	power    int64
	useCBR   bool
	churn    bool
	attacker bool

	neighbors []int

	chain        *ChainState
	behavior     Behavior
	miningParent Hash
	peerKnown    map[int]*lru.Cache[Hash, struct{}]

	sim *Simulation
}

func (n *Node) ID() int                { return n.id }
func (n *Node) Region() int            { return n.region }
func (n *Node) Degree() int            { return n.degree }
func (n *Node) MiningPower() int64     { return n.power }
func (n *Node) UseCBR() bool           { return n.useCBR }
func (n *Node) Churn() bool            { return n.churn }
func (n *Node) IsAttacker() bool       { return n.attacker }
func (n *Node) Chain() *ChainState     { return n.chain }
func (n *Node) Behavior() Behavior     { return n.behavior }
func (n *Node) Neighbors() []int       { return append([]int(nil), n.neighbors...) }
func (n *Node) Tip() *Block            { return n.chain.Tip() }
func (n *Node) logger() *log.Entry     { return n.sim.logger.WithField("node", n.id) }
func (n *Node) emit(rec record.Record) { n.sim.sink.Emit(rec) }

// Accept adds b to the node's chain state. A tip change restarts mining on
// the new tip.
func (n *Node) Accept(b *Block) AddResult {
	res := n.chain.Add(b)
	if res.Known {
		return res
	}
	n.sim.noteArrival(b)
	if res.TipChanged {
		n.logger().WithFields(log.Fields{
			"number": n.chain.Tip().Number(),
			"hash":   n.chain.Tip().Hash().TerminalString(),
		}).Debug("Adopted new tip")
		n.sim.scheduleMining(n)
	}
	if len(res.Orphaned) > 0 {
		n.logger().WithFields(log.Fields{
			"tip":      n.chain.Tip().Number(),
			"orphaned": len(res.Orphaned),
		}).Debug("Chain reorganised")
	}
	return res
}

// Announce seals b and relays it to every neighbour not known to have it.
func (n *Node) Announce(b *Block) {
	n.relay(b, 0)
}

func (n *Node) relay(b *Block, except int) {
	b.Seal()
	for _, peer := range n.neighbors {
		if peer == except || n.peerKnows(peer, b.Hash()) {
			continue
		}
		n.markPeerKnows(peer, b.Hash())
		n.sim.scheduleArrival(n, n.sim.node(peer), b)
	}
}

func (n *Node) peerKnows(peer int, h Hash) bool {
	cache, ok := n.peerKnown[peer]
	return ok && cache.Contains(h)
}

func (n *Node) markPeerKnows(peer int, h Hash) {
	cache, ok := n.peerKnown[peer]
	if !ok {
		var err error
		cache, err = lru.New[Hash, struct{}](n.sim.cfg.KnownBlocksPerPeerMaxSize)
		if err != nil {
			n.logger().WithField("err", err).Error("Failed to create known block cache")
			return
		}
		n.peerKnown[peer] = cache
	}
	cache.Add(h, struct{}{})
}

// honest is the default behaviour: announce what is mined, adopt and relay
// what is received.
type honest struct {
	node *Node
}

func (h *honest) OnMined(b *Block) {
	h.node.Accept(b)
	h.node.Announce(b)
}

func (h *honest) OnReceived(b *Block, from int) {
	n := h.node
	n.markPeerKnows(from, b.Hash())
	res := n.Accept(b)
	for _, accepted := range res.Accepted {
		n.relay(accepted, from)
	}
}
