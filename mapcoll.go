package colyseus

// MapSchema is the keyed-map collection type (spec §3/§4.4): items by
// string key, plus an auxiliary slot (index) → key mapping so the server
// can address an entry by numeric slot after its first ADD. Iteration is
// required to be insertion-ordered and stable across frames that do not
// touch the map — Go's native map gives no such guarantee, so keys are
// tracked in an explicit ordered slice alongside the key → value store.
//
// Grounded on original_source/include/colyseus/schema/collections.h's
// colyseus_map_schema_t (uthash items + indexes table).
type MapSchema struct {
	RefID           uint32
	ChildDescriptor Descriptor // set when values are schema refs
	ChildPrimitive  string     // set when values are primitives

	keyOrder  []string
	values    map[string]any
	slotToKey map[int]string
}

// NewMapSchema returns an empty keyed map.
func NewMapSchema() *MapSchema {
	return &MapSchema{
		values:    make(map[string]any),
		slotToKey: make(map[int]string),
	}
}

// SetByIndex upserts both the slot→key mapping and the key→value entry,
// returning the value previously held at key (nil if key is new).
func (m *MapSchema) SetByIndex(slot int, key string, value any) (previous any) {
	if _, existed := m.values[key]; !existed {
		m.keyOrder = append(m.keyOrder, key)
	}
	previous = m.values[key]
	m.values[key] = value
	m.slotToKey[slot] = key
	return previous
}

// KeyForSlot resolves the key a numeric slot currently addresses, for
// mutations that reference an entry by slot rather than key.
func (m *MapSchema) KeyForSlot(slot int) (string, bool) {
	k, ok := m.slotToKey[slot]
	return k, ok
}

// DeleteByIndex resolves slot to a key and drops both entries, returning
// the removed value.
func (m *MapSchema) DeleteByIndex(slot int) (key string, previous any, found bool) {
	key, ok := m.slotToKey[slot]
	if !ok {
		return "", nil, false
	}
	previous = m.values[key]
	delete(m.values, key)
	delete(m.slotToKey, slot)
	m.removeFromOrder(key)
	return key, previous, true
}

func (m *MapSchema) removeFromOrder(key string) {
	for i, k := range m.keyOrder {
		if k == key {
			m.keyOrder = append(m.keyOrder[:i], m.keyOrder[i+1:]...)
			return
		}
	}
}

// Get returns the current value at key.
func (m *MapSchema) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Len reports the number of entries.
func (m *MapSchema) Len() int { return len(m.values) }

// Keys returns keys in stable insertion order, the iteration order required
// by §4.4.
func (m *MapSchema) Keys() []string {
	out := make([]string, len(m.keyOrder))
	copy(out, m.keyOrder)
	return out
}

// Clear removes every entry, returning one DataChange per removed item
// (DynamicIndex == its key, PreviousValue == the removed item) and
// decrementing any schema children in tracker. A clear on an already-empty
// map returns nil, per §8.
func (m *MapSchema) Clear(tracker *RefTracker) []DataChange {
	if len(m.values) == 0 {
		return nil
	}
	changes := make([]DataChange, 0, len(m.values))
	for _, key := range m.keyOrder {
		v := m.values[key]
		changes = append(changes, DataChange{
			RefID:         m.RefID,
			Op:            OpDelete,
			DynamicIndex:  key,
			PreviousValue: v,
		})
		if node, ok := v.(*Node); ok {
			tracker.Remove(node.RefID)
		}
	}
	m.values = make(map[string]any)
	m.slotToKey = make(map[int]string)
	m.keyOrder = nil
	return changes
}

// Clone produces a shallow copy of entries and the slot→key mapping; the
// inner node/collection values are shared with the original until
// overwritten. Used when a map's refId is re-ADDed so the prior value
// remains observable as a change record's PreviousValue.
func (m *MapSchema) Clone() *MapSchema {
	clone := &MapSchema{
		RefID:           m.RefID,
		ChildDescriptor: m.ChildDescriptor,
		ChildPrimitive:  m.ChildPrimitive,
		values:          make(map[string]any, len(m.values)),
		slotToKey:       make(map[int]string, len(m.slotToKey)),
		keyOrder:        append([]string(nil), m.keyOrder...),
	}
	for k, v := range m.values {
		clone.values[k] = v
	}
	for slot, k := range m.slotToKey {
		clone.slotToKey[slot] = k
	}
	return clone
}

func (m *MapSchema) childRefIDs() []uint32 {
	if m.ChildDescriptor == nil {
		return nil
	}
	var ids []uint32
	for _, v := range m.values {
		if node, ok := v.(*Node); ok {
			ids = append(ids, node.RefID)
		}
	}
	return ids
}
