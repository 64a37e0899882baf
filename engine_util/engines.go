package engine_util

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/Connor1996/badger"
)

// Engines bundles the two badger instances a store keeps: kv holds
// column-family data plus per-region metadata, raft holds the raft log
// and hard state. Splitting them mirrors the teacher's engine_util.Engines
// and keeps a crash mid-apply from ever corrupting raft's own log.
type Engines struct {
	Kv   *badger.DB
	Raft *badger.DB

	KvPath   string
	RaftPath string
}

// CreateDB opens (creating if absent) a badger instance rooted at path.
func CreateDB(path string, raft bool) (*badger.DB, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	if raft {
		opts.ValueThreshold = 256
	}
	return badger.Open(opts)
}

// NewEngines opens both engines under a common root directory, in "kv"
// and "raft" subdirectories.
func NewEngines(root string) (*Engines, error) {
	kvPath := filepath.Join(root, "kv")
	raftPath := filepath.Join(root, "raft")
	kv, err := CreateDB(kvPath, false)
	if err != nil {
		return nil, err
	}
	raft, err := CreateDB(raftPath, true)
	if err != nil {
		kv.Close()
		return nil, err
	}
	return &Engines{Kv: kv, Raft: raft, KvPath: kvPath, RaftPath: raftPath}, nil
}

func (en *Engines) Close() error {
	if err := en.Kv.Close(); err != nil {
		return err
	}
	return en.Raft.Close()
}

// ApplyStateKey is the metadata key under which a region's RaftApplyState
// (applied index + truncated state) is stored, per spec.md section 6.
func ApplyStateKey(regionID uint64) []byte {
	key := make([]byte, 0, 16)
	key = append(key, "raft_apply_state_"...)
	return appendUint64(key, regionID)
}

// RegionStateKey is the metadata key under which a region's
// RegionLocalState (lifecycle + descriptor) is stored.
func RegionStateKey(regionID uint64) []byte {
	key := make([]byte, 0, 16)
	key = append(key, "region_state_"...)
	return appendUint64(key, regionID)
}

// RaftStateKey is the metadata key under which a region's HardState
// (term, vote, commit) is stored in the raft engine.
func RaftStateKey(regionID uint64) []byte {
	key := make([]byte, 0, 16)
	key = append(key, "raft_state_"...)
	return appendUint64(key, regionID)
}

// RaftLogKey is the key one raft log entry for regionID is stored under
// in the raft engine, ordered by index so a range scan replays the log
// in order.
func RaftLogKey(regionID, index uint64) []byte {
	key := make([]byte, 0, 24)
	key = append(key, "raft_log_"...)
	key = appendUint64(key, regionID)
	return appendUint64(key, index)
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

// GetMeta reads the value stored at a raw metadata key (as opposed to a
// column-family key) and gob-decodes it into out.
func GetMeta(db *badger.DB, key []byte, out interface{}) error {
	return db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err := item.Value()
		if err != nil {
			return err
		}
		return gobDecode(val, out)
	})
}

// GetCF reads a value from a column family, returning badger.ErrKeyNotFound
// when absent.
func GetCF(db *badger.DB, cf string, key []byte) ([]byte, error) {
	var val []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(KeyWithCF(cf, key))
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
