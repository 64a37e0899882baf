package engine_util

import (
	"sync"

	"github.com/Connor1996/badger"
)

// KvEngine is the external collaborator named in spec.md section 1: a
// durable store that accepts atomic write batches keyed by column family.
// The peer event loop only ever reaches the engine through this
// interface, so tests can swap in MemEngine instead of a real badger
// instance.
type KvEngine interface {
	GetCF(cf string, key []byte) ([]byte, error)
	// Get reads a raw, un-prefixed key, used for the apply-state and
	// region-state metadata records that live outside any column family.
	Get(key []byte) ([]byte, error)
	Write(wb *WriteBatch) error
}

// BadgerEngine is the production KvEngine, backed by a single badger.DB
// with keys namespaced by column family via KeyWithCF.
type BadgerEngine struct {
	DB *badger.DB
}

func NewBadgerEngine(db *badger.DB) *BadgerEngine { return &BadgerEngine{DB: db} }

func (e *BadgerEngine) GetCF(cf string, key []byte) ([]byte, error) {
	return GetCF(e.DB, cf, key)
}

func (e *BadgerEngine) Write(wb *WriteBatch) error {
	return wb.WriteToDB(e.DB)
}

func (e *BadgerEngine) Get(key []byte) ([]byte, error) {
	var val []byte
	err := e.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		v, err := item.Value()
		if err != nil {
			return err
		}
		val = append([]byte(nil), v...)
		return nil
	})
	return val, err
}

// MemEngine is an in-memory KvEngine used by raftstore's own tests, the
// same role the teacher's tests give a scratch badger directory but
// without touching disk.
type MemEngine struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemEngine() *MemEngine {
	return &MemEngine{data: make(map[string][]byte)}
}

func (e *MemEngine) GetCF(cf string, key []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.data[string(KeyWithCF(cf, key))]
	if !ok {
		return nil, badger.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (e *MemEngine) Write(wb *WriteBatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, item := range wb.items {
		k := string(item.diskKey())
		switch item.code {
		case batchPut:
			e.data[k] = append([]byte(nil), item.value...)
		case batchDelete:
			delete(e.data, k)
		}
	}
	return nil
}

func (e *MemEngine) Get(key []byte) ([]byte, error) {
	e.mu.Lock()
	v, ok := e.data[string(key)]
	e.mu.Unlock()
	if !ok {
		return nil, badger.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

// GetMeta reads a raw metadata key and gob-decodes it into out.
func (e *MemEngine) GetMeta(key []byte, out interface{}) error {
	v, err := e.Get(key)
	if err != nil {
		return err
	}
	return gobDecode(v, out)
}
