package archive

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type LevelDB struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) PutBlock(e BlockEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %v", err)
	}
	if err := l.db.Put(blockKey(e), data, nil); err != nil {
		return fmt.Errorf("failed to store block: %v", err)
	}
	return nil
}

func (l *LevelDB) PutSummary(s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %v", err)
	}
	if err := l.db.Put(summaryKey, data, nil); err != nil {
		return fmt.Errorf("failed to store summary: %v", err)
	}
	return nil
}

func (l *LevelDB) Blocks() ([]BlockEntry, error) {
	var blocks []BlockEntry
	iter := l.db.NewIterator(util.BytesPrefix([]byte("block:")), nil)
	defer iter.Release()

	for iter.Next() {
		var e BlockEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block: %v", err)
		}
		blocks = append(blocks, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %v", err)
	}
	return blocks, nil
}

func (l *LevelDB) Summary() (Summary, error) {
	data, err := l.db.Get(summaryKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get summary: %v", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("failed to unmarshal summary: %v", err)
	}
	return s, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
