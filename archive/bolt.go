package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

var (
	blocksBucket = []byte("blocks")
	runBucket    = []byte("run")
)

type Bolt struct {
	db *bolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(blocksBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(runBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) PutBlock(e BlockEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(blockKey(e), data)
	})
}

func (b *Bolt) PutSummary(s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(runBucket).Put(summaryKey, data)
	})
}

func (b *Bolt) Blocks() ([]BlockEntry, error) {
	var blocks []BlockEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).ForEach(func(k, v []byte) error {
			var e BlockEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal block: %w", err)
			}
			blocks = append(blocks, e)
			return nil
		})
	})
	return blocks, err
}

func (b *Bolt) Summary() (Summary, error) {
	var s Summary
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(runBucket).Get(summaryKey)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &s)
	})
	return s, err
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
