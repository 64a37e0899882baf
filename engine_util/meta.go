package engine_util

import (
	"bytes"
	"encoding/gob"
)

// gobEncode and gobDecode give the small metadata records PeerStorage
// persists (RaftApplyState, RegionLocalState) the same gob-based wire
// form raft_cmdpb.RaftCmdRequest uses, rather than a hand-rolled binary
// layout, since the wire codec itself is out of scope for this repository.
func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, out interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(out)
}

// PutMeta gob-encodes v and stages it into wb at the raw metadata key.
func PutMeta(wb *WriteBatch, key []byte, v interface{}) error {
	data, err := gobEncode(v)
	if err != nil {
		return err
	}
	wb.SetMeta(key, data)
	return nil
}

// LoadMeta reads a raw metadata key from engine and gob-decodes it into
// out. It returns badger.ErrKeyNotFound when the key is absent, the way
// a freshly bootstrapped region has no apply state yet.
func LoadMeta(engine KvEngine, key []byte, out interface{}) error {
	data, err := engine.Get(key)
	if err != nil {
		return err
	}
	return gobDecode(data, out)
}
