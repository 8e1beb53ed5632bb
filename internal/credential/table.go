package credential

import "sync"

// Table is the key/value view the store keeps credentials in.
type Table interface {
	Get(token string) (Credential, bool)
	Set(token string, cred Credential)
	Delete(token string)
	// All returns a copy of every entry.
	All() map[string]Credential
}

// MemoryTable is a Table backed by a sync.Map. Reads take no lock.
type MemoryTable struct {
	entries sync.Map
}

// NewMemoryTable returns an empty table.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{}
}

func (t *MemoryTable) Get(token string) (Credential, bool) {
	v, ok := t.entries.Load(token)
	if !ok {
		return Credential{}, false
	}
	return v.(Credential).clone(), true
}

func (t *MemoryTable) Set(token string, cred Credential) {
	t.entries.Store(token, cred.clone())
}

func (t *MemoryTable) Delete(token string) {
	t.entries.Delete(token)
}

func (t *MemoryTable) All() map[string]Credential {
	out := make(map[string]Credential)
	t.entries.Range(func(k, v any) bool {
		out[k.(string)] = v.(Credential).clone()
		return true
	})
	return out
}
