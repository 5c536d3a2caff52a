// Package record defines the structured event records emitted by the
// simulator and the Sink collaborator that receives them.
package record

import (
	"encoding/json"
	"sync"
)

type Kind string

const (
	AddNode       Kind = "add-node"
	AddTx         Kind = "add-tx"
	AddBlock      Kind = "add-block"
	AttackLog     Kind = "attack-log"
	SimulationEnd Kind = "simulation-end"
)

// Record is a single event. Only the fields relevant to Kind are set; the
// JSON encoding mirrors the dashboard's {"kind", "content"} layout.
type Record struct {
	Kind      Kind
	Timestamp int64

	NodeID   int
	RegionID int

	TxID     uint64
	Sender   int
	Receiver int
	Amount   int64

	BlockID  string
	Height   uint64
	MinerID  int
	ParentID string

	Message string
}

func NewAddNode(ts int64, nodeID, regionID int) Record {
	return Record{Kind: AddNode, Timestamp: ts, NodeID: nodeID, RegionID: regionID}
}

func NewAddTx(ts int64, txID uint64, sender, receiver int, amount int64) Record {
	return Record{Kind: AddTx, Timestamp: ts, TxID: txID, Sender: sender, Receiver: receiver, Amount: amount}
}

func NewAddBlock(ts int64, blockID string, height uint64, minerID int, parentID string) Record {
	return Record{Kind: AddBlock, Timestamp: ts, BlockID: blockID, Height: height, MinerID: minerID, ParentID: parentID}
}

func NewAttackLog(ts int64, msg string) Record {
	return Record{Kind: AttackLog, Timestamp: ts, Message: msg}
}

func NewSimulationEnd(ts int64) Record {
	return Record{Kind: SimulationEnd, Timestamp: ts}
}

func (r Record) content() map[string]interface{} {
	c := map[string]interface{}{"timestamp": r.Timestamp}
	switch r.Kind {
	case AddNode:
		c["node-id"] = r.NodeID
		c["region-id"] = r.RegionID
	case AddTx:
		c["tx-id"] = r.TxID
		c["sender"] = r.Sender
		c["receiver"] = r.Receiver
		c["amount"] = r.Amount
	case AddBlock:
		c["block-id"] = r.BlockID
		c["height"] = r.Height
		c["miner-id"] = r.MinerID
		c["parent-id"] = r.ParentID
	case AttackLog:
		c["message"] = r.Message
	}
	return c
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    Kind                   `json:"kind"`
		Content map[string]interface{} `json:"content"`
	}{r.Kind, r.content()})
}

// Sink receives records. Implementations must not block the caller for
// long and must swallow their own failures.
type Sink interface {
	Emit(Record)
}

// Discard drops every record.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Record) {}

// Multi fans a record out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(r Record) {
	for _, s := range m {
		s.Emit(r)
	}
}

// Recorder keeps every record in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of everything emitted so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Filter returns the records of the given kind in emission order.
func (r *Recorder) Filter(kind Kind) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}
