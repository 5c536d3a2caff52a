package simulation

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shreekarashastry/blocksim/record"
)

type Transaction struct {
	id       uint64
	sender   int
	receiver int
	amount   int64
}

func NewTransaction(id uint64, sender, receiver int, amount int64) *Transaction {
	return &Transaction{id: id, sender: sender, receiver: receiver, amount: amount}
}

func (tx *Transaction) ID() uint64    { return tx.id }
func (tx *Transaction) Sender() int   { return tx.sender }
func (tx *Transaction) Receiver() int { return tx.receiver }
func (tx *Transaction) Amount() int64 { return tx.amount }

func (tx *Transaction) String() string {
	return fmt.Sprintf("tx:%d:%d:%d:%d", tx.id, tx.sender, tx.receiver, tx.amount)
}

// IDIssuer hands out strictly increasing transaction ids starting at 1.
type IDIssuer struct {
	last atomic.Uint64
}

func (i *IDIssuer) Next() uint64 {
	return i.last.Add(1)
}

// TxGenerator produces transactions in one of the TxMode flavours. It is
// safe for concurrent use.
type TxGenerator struct {
	mode        TxMode
	fixedAmount int64
	nodeIDs     []int
	rand        *RandomStreams
	ids         *IDIssuer
	sink        record.Sink

	rrIndex atomic.Uint64

	mu       sync.Mutex
	balances map[int]int64
}

func NewTxGenerator(mode TxMode, fixedAmount int64, nodeIDs []int, initialBalance int64, rand *RandomStreams, sink record.Sink) *TxGenerator {
	if sink == nil {
		sink = record.Discard
	}
	g := &TxGenerator{
		mode:        mode,
		fixedAmount: fixedAmount,
		nodeIDs:     append([]int(nil), nodeIDs...),
		rand:        rand,
		ids:         new(IDIssuer),
		sink:        sink,
		balances:    make(map[int]int64, len(nodeIDs)),
	}
	for _, id := range nodeIDs {
		g.balances[id] = initialBalance
	}
	return g
}

// IDs exposes the generator's id counter so other producers share it.
func (g *TxGenerator) IDs() *IDIssuer {
	return g.ids
}

func (g *TxGenerator) Mode() TxMode {
	return g.mode
}

// SetBalance overrides a node's ledger balance. Negative values are
// clamped to zero.
func (g *TxGenerator) SetBalance(nodeID int, amount int64) {
	if amount < 0 {
		amount = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[nodeID] = amount
}

func (g *TxGenerator) Balance(nodeID int) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[nodeID]
}

// Balances returns a snapshot of the ledger.
func (g *TxGenerator) Balances() map[int]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int]int64, len(g.balances))
	for id, b := range g.balances {
		out[id] = b
	}
	return out
}

// Generate creates one transaction stamped with now and emits it.
func (g *TxGenerator) Generate(now int64) *Transaction {
	if len(g.nodeIDs) == 0 {
		return nil
	}
	g.mu.Lock()
	from := g.chooseSender()
	to := g.chooseReceiver(from)
	amount := g.chooseAmount(from)
	if g.mode == TxBalanceAware {
		g.balances[from] = max(0, g.balances[from]-amount)
		g.balances[to] += amount
	}
	tx := NewTransaction(g.ids.Next(), from, to, amount)
	g.mu.Unlock()

	g.sink.Emit(record.NewAddTx(now, tx.ID(), tx.Sender(), tx.Receiver(), tx.Amount()))
	return tx
}

func (g *TxGenerator) chooseSender() int {
	switch g.mode {
	case TxRoundRobin:
		idx := (g.rrIndex.Add(1) - 1) % uint64(len(g.nodeIDs))
		return g.nodeIDs[idx]
	case TxBalanceAware:
		var capable []int
		for _, id := range g.nodeIDs {
			if g.balances[id] >= g.fixedAmount {
				capable = append(capable, id)
			}
		}
		if len(capable) > 0 {
			return capable[g.rand.Intn(len(capable))]
		}
	}
	return g.nodeIDs[g.rand.Intn(len(g.nodeIDs))]
}

func (g *TxGenerator) chooseReceiver(from int) int {
	if len(g.nodeIDs) == 1 {
		return g.nodeIDs[0]
	}
	for {
		to := g.nodeIDs[g.rand.Intn(len(g.nodeIDs))]
		if to != from {
			return to
		}
	}
}

func (g *TxGenerator) chooseAmount(from int) int64 {
	if g.mode != TxBalanceAware {
		return g.fixedAmount
	}
	bal := g.balances[from]
	if bal <= 0 {
		return 0
	}
	return min(g.fixedAmount, bal)
}

// Mempool is the FIFO of generated transactions waiting for a block.
type Mempool struct {
	txs []*Transaction
}

func (m *Mempool) Push(txs ...*Transaction) {
	for _, tx := range txs {
		if tx != nil {
			m.txs = append(m.txs, tx)
		}
	}
}

// Take removes and returns up to n transactions in arrival order.
func (m *Mempool) Take(n int) []*Transaction {
	if n > len(m.txs) {
		n = len(m.txs)
	}
	out := m.txs[:n:n]
	m.txs = m.txs[n:]
	return out
}

func (m *Mempool) Len() int {
	return len(m.txs)
}
