package pinstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBBackend 单机后端。key 布局：
//
//	blob:{cid}            信封内容
//	pin:{cid}             Pin 元数据 JSON
//	tag:{k}={v}:{cid}     tag 索引（值为空，k 和 v 经过转义）
type LevelDBBackend struct {
	mu sync.Mutex // Put 先读后写
	db *leveldb.DB
}

func NewLevelDBBackend(path string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBBackend{db: db}, nil
}

var _ Backend = (*LevelDBBackend)(nil)

func tagPrefix(k, v string) string {
	return "tag:" + tagIndexKey(k, v) + ":"
}

func (b *LevelDBBackend) Put(_ context.Context, pin Pin, content []byte) (Pin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.db.Get([]byte("pin:"+pin.ContentID), nil)
	switch {
	case err == nil:
		var prev Pin
		if err := json.Unmarshal(existing, &prev); err != nil {
			return Pin{}, fmt.Errorf("pin %s: %w", pin.ContentID, err)
		}
		pin = mergePin(prev, pin)
	case !errors.Is(err, leveldb.ErrNotFound):
		return Pin{}, err
	}

	meta, err := json.Marshal(pin)
	if err != nil {
		return Pin{}, err
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte("blob:"+pin.ContentID), content)
	batch.Put([]byte("pin:"+pin.ContentID), meta)
	for k, v := range pin.Tags {
		batch.Put([]byte(tagPrefix(k, v)+pin.ContentID), nil)
	}
	if err := b.db.Write(batch, nil); err != nil {
		return Pin{}, err
	}
	return pin, nil
}

func (b *LevelDBBackend) Get(_ context.Context, contentID string) ([]byte, error) {
	data, err := b.db.Get([]byte("blob:"+contentID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *LevelDBBackend) ListByTag(_ context.Context, key, value string) ([]Pin, error) {
	prefix := tagPrefix(key, value)
	iter := b.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	pins := []Pin{}
	for iter.Next() {
		id := string(iter.Key()[len(prefix):])
		meta, err := b.db.Get([]byte("pin:"+id), nil)
		if err != nil {
			return nil, fmt.Errorf("pin %s: %w", id, err)
		}
		var p Pin
		if err := json.Unmarshal(meta, &p); err != nil {
			return nil, err
		}
		pins = append(pins, p)
	}
	return pins, iter.Error()
}

func (b *LevelDBBackend) Close() error {
	return b.db.Close()
}
