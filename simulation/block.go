package simulation

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

const HashLength = 32

var ErrBlockSealed = errors.New("block already announced")

type Hash [HashLength]byte

type BlockNonce [8]byte

// EncodeNonce converts the given integer to a block nonce.
func EncodeNonce(i uint64) BlockNonce {
	var n BlockNonce
	binary.BigEndian.PutUint64(n[:], i)
	return n
}

// Bytes() returns the raw bytes of the block nonce
func (n BlockNonce) Bytes() []byte {
	return n[:]
}

// Uint64 returns the integer value of a block nonce.
func (n BlockNonce) Uint64() uint64 {
	return binary.BigEndian.Uint64(n[:])
}

// SetBytes sets the hash to the value of b.
// If b is larger than len(h), b will be cropped from the left.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-HashLength:]
	}

	copy(h[HashLength-len(b):], b)
}

func (h Hash) String() string {
	enc := make([]byte, len(h[:])*2+2)
	copy(enc, "0x")
	hex.Encode(enc[2:], h[:])
	return string(enc)
}

// TerminalString returns a shortened hex form for logs.
func (h Hash) TerminalString() string {
	return fmt.Sprintf("%x…%x", h[:3], h[29:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Block is immutable once sealed. Its parent is referenced by hash and
// resolved through a BlockDB, never by pointer.
type Block struct {
	parentHash Hash
	number     uint64
	difficulty uint64
	nonce      BlockNonce
	time       int64
	minter     int
	txs        []*Transaction

	hash   Hash
	sealed bool
}

func GenesisBlock(minter int, difficulty uint64, nonce BlockNonce) *Block {
	b := &Block{
		number:     0,
		difficulty: difficulty,
		nonce:      nonce,
		minter:     minter,
	}
	b.hash = b.computeHash()
	return b
}

// PendingBlock returns an unsealed child of b minted by minter at time.
func (b *Block) PendingBlock(minter int, time int64, difficulty uint64, nonce BlockNonce) *Block {
	child := &Block{
		parentHash: b.Hash(),
		number:     b.Number() + 1,
		difficulty: difficulty,
		nonce:      nonce,
		time:       time,
		minter:     minter,
	}
	child.hash = child.computeHash()
	return child
}

func (b *Block) computeHash() (hash Hash) {
	sealHash := b.SealHash().Bytes()
	var hData [40]byte
	copy(hData[:], b.Nonce().Bytes())
	copy(hData[len(b.nonce):], sealHash)
	sum := blake3.Sum256(hData[:])
	hash.SetBytes(sum[:])
	return hash
}

func (b *Block) SealHash() (hash Hash) {
	sealData := struct {
		ParentHash Hash
		Number     uint64
		Difficulty uint64
		Time       int64
		Minter     int
	}{
		ParentHash: b.ParentHash(),
		Number:     b.Number(),
		Difficulty: b.Difficulty(),
		Time:       b.Time(),
		Minter:     b.Minter(),
	}
	buf := bytes.Buffer{}
	e := gob.NewEncoder(&buf)
	if err := e.Encode(sealData); err != nil {
		panic(fmt.Sprintf("failed gob encode: %v", err))
	}
	data := buf.Bytes()
	sum := blake3.Sum256(data[:])
	hash.SetBytes(sum[:])
	return hash
}

// Hash is the block's identity. Transactions are not part of it, so
// injecting one before announcement does not change the hash.
func (b *Block) Hash() Hash {
	return b.hash
}

func (b *Block) ParentHash() Hash {
	return b.parentHash
}

func (b *Block) HasParent() bool {
	return b.number > 0
}

func (b *Block) Number() uint64 {
	return b.number
}

func (b *Block) Difficulty() uint64 {
	return b.difficulty
}

func (b *Block) Nonce() BlockNonce {
	return b.nonce
}

func (b *Block) Time() int64 {
	return b.time
}

func (b *Block) Minter() int {
	return b.minter
}

// Transactions returns a copy of the block's transaction list.
func (b *Block) Transactions() []*Transaction {
	out := make([]*Transaction, len(b.txs))
	copy(out, b.txs)
	return out
}

// AppendTransaction adds tx to an unsealed block.
func (b *Block) AppendTransaction(tx *Transaction) error {
	if b.sealed {
		return ErrBlockSealed
	}
	b.txs = append(b.txs, tx)
	return nil
}

// Seal freezes the transaction list. It is idempotent.
func (b *Block) Seal() {
	b.sealed = true
}

func (b *Block) Sealed() bool {
	return b.sealed
}

func (b *Block) String() string {
	return fmt.Sprintf("{ Hash: %v, ParentHash: %v, Number: %v, Minter: %v, Time: %v, Txs: %v}",
		b.Hash().TerminalString(), b.ParentHash().TerminalString(), b.Number(), b.Minter(), b.Time(), len(b.txs))
}

// BlockDB is the arena of every block minted during a run.
type BlockDB struct {
	blocks map[Hash]*Block
	order  []Hash
}

func NewBlockDB() *BlockDB {
	return &BlockDB{blocks: make(map[Hash]*Block)}
}

func (db *BlockDB) Add(b *Block) {
	if _, exists := db.blocks[b.Hash()]; exists {
		return
	}
	db.blocks[b.Hash()] = b
	db.order = append(db.order, b.Hash())
}

func (db *BlockDB) Get(h Hash) (*Block, bool) {
	b, ok := db.blocks[h]
	return b, ok
}

func (db *BlockDB) Len() int {
	return len(db.order)
}

// Blocks returns every block in minting order.
func (db *BlockDB) Blocks() []*Block {
	out := make([]*Block, 0, len(db.order))
	for _, h := range db.order {
		out = append(out, db.blocks[h])
	}
	return out
}

// Ancestor walks back from h to the block at height number.
func (db *BlockDB) Ancestor(h Hash, number uint64) (*Block, bool) {
	b, ok := db.Get(h)
	for ok && b.Number() > number {
		b, ok = db.Get(b.ParentHash())
	}
	if !ok || b.Number() != number {
		return nil, false
	}
	return b, true
}
