package value

// Table is the open-addressed hash table spec.md §4.1 mandates for the
// string intern table and every module's globals/exports table: linear
// probing, capacity always a power of two, load factor 0.75, tombstone
// deletion.
//
// A tombstone entry keeps its key with the tomb flag set and a True
// value; a probe stops at a never-used slot (no key). Rehashing on grow drops
// tombstones and recounts live entries, exactly as spec.md describes.
type Table struct {
	entries []tableEntry
	count   int // live entries, NOT counting tombstones
}

type tableEntry struct {
	key     string
	hasKey  bool
	tomb    bool
	value   Value
}

const tableInitialCapacity = 8
const tableMaxLoad = 0.75

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{}
}

// Get looks up key, returning (value, true) if present.
func (t *Table) Get(key string) (Value, bool) {
	if len(t.entries) == 0 {
		return Value{}, false
	}
	idx := t.findEntry(key)
	e := &t.entries[idx]
	if !e.hasKey || e.tomb {
		return Value{}, false
	}
	return e.value, true
}

// Set inserts or overwrites key->val. Returns true if key was not live
// before (a never-used slot or a reused tombstone), false if this
// overwrote a live entry.
func (t *Table) Set(key string, val Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.grow()
	}
	idx := t.findEntry(key)
	e := &t.entries[idx]
	isNew := !e.hasKey || e.tomb
	if isNew {
		t.count++
	}
	e.key = key
	e.hasKey = true
	e.tomb = false
	e.value = val
	return isNew
}

// Delete removes key, leaving a tombstone so later probes still find
// entries that were inserted after a collision with it.
func (t *Table) Delete(key string) bool {
	if len(t.entries) == 0 {
		return false
	}
	idx := t.findEntry(key)
	e := &t.entries[idx]
	if !e.hasKey || e.tomb {
		return false
	}
	e.tomb = true
	e.value = True
	t.count--
	return true
}

// Count returns the number of live (non-tombstone) entries.
func (t *Table) Count() int { return t.count }

// Each calls fn for every live entry, in table-slot order.
func (t *Table) Each(fn func(key string, val Value)) {
	for _, e := range t.entries {
		if e.hasKey && !e.tomb {
			fn(e.key, e.value)
		}
	}
}

func (t *Table) findEntry(key string) int {
	cap := len(t.entries)
	idx := int(fnv1a(key)) & (cap - 1)
	var tombIdx = -1
	for {
		e := &t.entries[idx]
		if !e.hasKey {
			if tombIdx != -1 {
				return tombIdx
			}
			return idx
		}
		if e.tomb {
			if tombIdx == -1 {
				tombIdx = idx
			}
		} else if e.key == key {
			return idx
		}
		idx = (idx + 1) & (cap - 1)
	}
}

func (t *Table) grow() {
	newCap := tableInitialCapacity
	if len(t.entries) != 0 {
		newCap = len(t.entries) * 2
	}
	old := t.entries
	t.entries = make([]tableEntry, newCap)
	t.count = 0
	for _, e := range old {
		if !e.hasKey || e.tomb {
			continue
		}
		idx := t.findEntryIn(t.entries, e.key)
		t.entries[idx] = tableEntry{key: e.key, hasKey: true, value: e.value}
		t.count++
	}
}

func (t *Table) findEntryIn(entries []tableEntry, key string) int {
	cap := len(entries)
	idx := int(fnv1a(key)) & (cap - 1)
	for {
		e := &entries[idx]
		if !e.hasKey || e.key == key {
			return idx
		}
		idx = (idx + 1) & (cap - 1)
	}
}

// fnv1a computes the 32-bit FNV-1a hash spec.md §4.1 specifies (offset
// basis 2166136261, prime 16777619) over the bytes of s.
func fnv1a(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// HashString is exported so the intern table (owned by pkg/vm) can
// precompute and cache a String's hash at allocation time.
func HashString(s string) uint32 { return fnv1a(s) }
