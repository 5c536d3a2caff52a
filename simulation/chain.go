package simulation

import "fmt"

// AddResult describes what ChainState.Add did with a block.
type AddResult struct {
	// Known is set when the block had been seen before; nothing changed.
	Known bool
	// Accepted lists the blocks that joined the accepted path during the
	// call, lowest first. It includes pending children resolved by the
	// block and may include the block itself.
	Accepted []*Block
	// Orphaned lists blocks that left the accepted path in a reorg.
	Orphaned []*Block
	// TipChanged reports whether the tip moved.
	TipChanged bool
}

// ChainState is one node's view of the block tree: the accepted tip, every
// known block and the known blocks that are not on the tip's path. Blocks
// whose parent is unknown are kept as orphans until the parent shows up.
type ChainState struct {
	db      *BlockDB
	tip     *Block
	known   map[Hash]struct{}
	orphans map[Hash]struct{}

	// detached holds known blocks without a known path to genesis, pending
	// maps a missing parent to the children waiting for it.
	detached map[Hash]struct{}
	pending  map[Hash][]*Block
}

func NewChainState(db *BlockDB, genesis *Block) *ChainState {
	c := &ChainState{
		db:       db,
		known:    make(map[Hash]struct{}),
		orphans:  make(map[Hash]struct{}),
		detached: make(map[Hash]struct{}),
		pending:  make(map[Hash][]*Block),
	}
	c.tip = genesis
	c.known[genesis.Hash()] = struct{}{}
	return c
}

func (c *ChainState) Tip() *Block {
	return c.tip
}

func (c *ChainState) Height() uint64 {
	return c.tip.Number()
}

func (c *ChainState) Knows(h Hash) bool {
	_, ok := c.known[h]
	return ok
}

func (c *ChainState) IsOrphan(h Hash) bool {
	_, ok := c.orphans[h]
	return ok
}

func (c *ChainState) KnownCount() int {
	return len(c.known)
}

func (c *ChainState) OrphanCount() int {
	return len(c.orphans)
}

// Orphans returns the orphaned block hashes in the arena's minting order.
func (c *ChainState) Orphans() []Hash {
	var out []Hash
	for _, b := range c.db.Blocks() {
		if c.IsOrphan(b.Hash()) {
			out = append(out, b.Hash())
		}
	}
	return out
}

// Path returns the accepted path from genesis to the tip.
func (c *ChainState) Path() []*Block {
	path := make([]*Block, c.tip.Number()+1)
	for b := c.tip; ; {
		path[b.Number()] = b
		if !b.HasParent() {
			break
		}
		b = c.mustGet(b.ParentHash())
	}
	return path
}

// OnPath reports whether the block lies on the accepted path.
func (c *ChainState) OnPath(b *Block) bool {
	if !c.Knows(b.Hash()) || b.Number() > c.tip.Number() {
		return false
	}
	anc, ok := c.db.Ancestor(c.tip.Hash(), b.Number())
	return ok && anc.Hash() == b.Hash()
}

// Add records b. A block with an unknown parent is held as an orphan
// pending its parent. A block with a known parent becomes the tip when it
// is higher than the current tip; otherwise it is an orphan.
func (c *ChainState) Add(b *Block) AddResult {
	if c.Knows(b.Hash()) {
		return AddResult{Known: true}
	}
	c.known[b.Hash()] = struct{}{}
	if b.HasParent() && !c.connected(b.ParentHash()) {
		c.orphans[b.Hash()] = struct{}{}
		c.detached[b.Hash()] = struct{}{}
		c.pending[b.ParentHash()] = append(c.pending[b.ParentHash()], b)
		return AddResult{}
	}

	var res AddResult
	queue := []*Block{b}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		delete(c.detached, next.Hash())
		c.attach(next, &res)
		queue = append(queue, c.pending[next.Hash()]...)
		delete(c.pending, next.Hash())
	}
	return res
}

// Pending reports how many known blocks still wait for an ancestor.
func (c *ChainState) Pending() int {
	return len(c.detached)
}

// Connected reports whether h is known and has a known path to genesis.
func (c *ChainState) Connected(h Hash) bool {
	return c.connected(h)
}

func (c *ChainState) connected(h Hash) bool {
	if !c.Knows(h) {
		return false
	}
	_, detached := c.detached[h]
	return !detached
}

// attach links a block whose parent is known.
func (c *ChainState) attach(b *Block, res *AddResult) {
	if b.Number() <= c.tip.Number() {
		c.orphans[b.Hash()] = struct{}{}
		return
	}
	old := c.tip

	var added []*Block
	newSide := b
	for newSide.Number() > old.Number() {
		added = append(added, newSide)
		newSide = c.mustGet(newSide.ParentHash())
	}
	oldSide := old
	for oldSide.Hash() != newSide.Hash() {
		c.orphans[oldSide.Hash()] = struct{}{}
		res.Orphaned = append(res.Orphaned, oldSide)
		added = append(added, newSide)
		oldSide = c.mustGet(oldSide.ParentHash())
		newSide = c.mustGet(newSide.ParentHash())
	}
	for i := len(added) - 1; i >= 0; i-- {
		delete(c.orphans, added[i].Hash())
		res.Accepted = append(res.Accepted, added[i])
	}
	c.tip = b
	res.TipChanged = true
}

func (c *ChainState) mustGet(h Hash) *Block {
	b, ok := c.db.Get(h)
	if !ok || !c.Knows(h) {
		panic(fmt.Sprintf("chain state: ancestor %v not known", h.TerminalString()))
	}
	return b
}
