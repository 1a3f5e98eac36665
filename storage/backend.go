package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrKeyNotFound is returned by Backend.Get when the raw key is absent. It
// is distinct from the engine-level storage.Error{Kind: KindNotFound}, which
// additionally carries namespace/key context for callers.
var ErrKeyNotFound = errors.New("storage: backend key not found")

// Backend is the byte-oriented persistence interface StorageEngine is built
// on. It is unaware of namespaces, versions, quotas, or auth — those are the
// engine's concerns. Ported from the teacher's Database interface
// (Put/Get/Close), generalized with Delete and prefix iteration since the
// engine needs both for version history and list_keys.
type Backend interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// Iterate calls fn for every stored key with the given prefix, in
	// lexicographic order. Iteration stops early if fn returns an error.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close()
}

// MemBackend is an in-process map-backed Backend, used as the default and
// in tests.
type MemBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemBackend constructs an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{data: make(map[string][]byte)}
}

func (b *MemBackend) Put(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cloned := append([]byte(nil), value...)
	b.data[string(key)] = cloned
	return nil
}

func (b *MemBackend) Get(key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, ok := b.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

func (b *MemBackend) Delete(key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, string(key))
	return nil
}

func (b *MemBackend) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	b.mu.RLock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	type kv struct {
		key   string
		value []byte
	}
	snapshot := make([]kv, 0, len(keys))
	for _, k := range keys {
		snapshot = append(snapshot, kv{key: k, value: append([]byte(nil), b.data[k]...)})
	}
	b.mu.RUnlock()

	for _, entry := range snapshot {
		if err := fn([]byte(entry.key), entry.value); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemBackend) Close() {}

// LevelDBBackend wraps goleveldb as a durable Backend, used when a data
// directory is configured.
type LevelDBBackend struct {
	db *leveldb.DB
}

// NewLevelDBBackend opens (or creates) a LevelDB database at path.
func NewLevelDBBackend(path string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errIo("open", path, err)
	}
	return &LevelDBBackend{db: db}, nil
}

func (b *LevelDBBackend) Put(key, value []byte) error {
	if err := b.db.Put(key, value, nil); err != nil {
		return errIo("put", string(key), err)
	}
	return nil
}

func (b *LevelDBBackend) Get(key []byte) ([]byte, error) {
	value, err := b.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, errIo("get", string(key), err)
	}
	return value, nil
}

func (b *LevelDBBackend) Delete(key []byte) error {
	if err := b.db.Delete(key, nil); err != nil {
		return errIo("delete", string(key), err)
	}
	return nil
}

func (b *LevelDBBackend) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := b.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return errIo("iterate", string(prefix), err)
	}
	return nil
}

func (b *LevelDBBackend) Close() {
	b.db.Close()
}
