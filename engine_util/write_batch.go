package engine_util

import (
	"github.com/Connor1996/badger"
)

type batchOpCode int

const (
	batchPut batchOpCode = iota
	batchDelete
)

type batchItem struct {
	code  batchOpCode
	cf    string
	key   []byte
	value []byte
}

// WriteBatch accumulates Put/Delete operations against one or more
// column families and commits them to a badger.DB as a single atomic
// transaction, the Go counterpart of the teacher's storage::WriteBatch.
// Every entry application in this repository goes through exactly one
// WriteBatch per Ready cycle, so applied_index and the user-visible
// writes it covers always land together or not at all.
type WriteBatch struct {
	items []batchItem
	size  int
}

func (wb *WriteBatch) SetCF(cf string, key, val []byte) {
	wb.items = append(wb.items, batchItem{code: batchPut, cf: cf, key: append([]byte(nil), key...), value: append([]byte(nil), val...)})
	wb.size += len(cf) + 1 + len(key) + len(val)
}

func (wb *WriteBatch) DeleteCF(cf string, key []byte) {
	wb.items = append(wb.items, batchItem{code: batchDelete, cf: cf, key: append([]byte(nil), key...)})
	wb.size += len(cf) + 1 + len(key)
}

// SetMeta stages a raw, un-prefixed key, used for the apply-state and
// region-state metadata records which live outside any column family.
func (wb *WriteBatch) SetMeta(key, val []byte) {
	wb.items = append(wb.items, batchItem{code: batchPut, key: append([]byte(nil), key...), value: append([]byte(nil), val...)})
	wb.size += len(key) + len(val)
}

// DeleteMeta stages deletion of a raw, un-prefixed key.
func (wb *WriteBatch) DeleteMeta(key []byte) {
	wb.items = append(wb.items, batchItem{code: batchDelete, key: append([]byte(nil), key...)})
	wb.size += len(key)
}

func (wb *WriteBatch) Len() int { return len(wb.items) }

func (wb *WriteBatch) Size() int { return wb.size }

func (wb *WriteBatch) Reset() {
	wb.items = wb.items[:0]
	wb.size = 0
}

// diskKey returns the on-disk key for item, applying KeyWithCF only when the
// item was staged against a column family.
func (item batchItem) diskKey() []byte {
	if item.cf == "" {
		return item.key
	}
	return KeyWithCF(item.cf, item.key)
}

// WriteToDB commits every staged item to db as a single badger
// transaction, so either all of it is visible or none of it is.
func (wb *WriteBatch) WriteToDB(db *badger.DB) error {
	return db.Update(func(txn *badger.Txn) error {
		for _, item := range wb.items {
			switch item.code {
			case batchPut:
				if err := txn.SetEntry(&badger.Entry{Key: item.diskKey(), Value: item.value}); err != nil {
					return err
				}
			case batchDelete:
				if err := txn.Delete(item.diskKey()); err != nil && err != badger.ErrKeyNotFound {
					return err
				}
			}
		}
		return nil
	})
}
