package engine_util

// Column families the KV engine stores alongside each other inside the
// same badger instance, distinguished by key prefix rather than a
// separate badger database, the way tinykv's engine_util does it.
const (
	CfDefault = "default"
	CfLock    = "lock"
	CfWrite   = "write"
)

var CFs = []string{CfDefault, CfLock, CfWrite}

// KeyWithCF prefixes key with its column family, the on-disk key shape
// spec.md section 6 names explicitly ("key_with_cf").
func KeyWithCF(cf string, key []byte) []byte {
	out := make([]byte, 0, len(cf)+1+len(key))
	out = append(out, cf...)
	out = append(out, '_')
	out = append(out, key...)
	return out
}
