package colyseus

// refEntry is one live node owned by the tracker.
//
// Grounded on original_source/include/colyseus/schema/ref_tracker.h's
// colyseus_ref_entry_t.
type refEntry struct {
	refID      uint32
	ref        any // *Node, *ArraySchema or *MapSchema
	refCount   int
	kind       Kind
	descriptor Descriptor
}

// RefTracker is the sole owner of every live node in a decoded state graph,
// keyed by the server-assigned refId. It performs reference-counted
// teardown: a node is only destroyed once every field and collection slot
// referencing it has released its hold.
//
// Grounded on original_source/include/colyseus/schema/ref_tracker.h.
type RefTracker struct {
	entries map[uint32]*refEntry
	pending map[uint32]struct{} // refIds enqueued for gc()
}

// NewRefTracker returns an empty tracker.
func NewRefTracker() *RefTracker {
	return &RefTracker{
		entries: make(map[uint32]*refEntry),
		pending: make(map[uint32]struct{}),
	}
}

// Add creates or updates the entry for refID. If increment is true, the
// entry's refCount is incremented. Re-adding a refId that was queued for GC
// removes it from that queue — the reference became live again before GC
// ran.
func (t *RefTracker) Add(refID uint32, ref any, kind Kind, descriptor Descriptor, increment bool) {
	e, ok := t.entries[refID]
	if !ok {
		e = &refEntry{refID: refID, kind: kind, descriptor: descriptor}
		t.entries[refID] = e
	}
	e.ref = ref
	e.kind = kind
	if descriptor != nil {
		e.descriptor = descriptor
	}
	if increment {
		e.refCount++
	}
	delete(t.pending, refID)
}

// Get returns the live value for refID, or nil if it is not tracked.
func (t *RefTracker) Get(refID uint32) any {
	e, ok := t.entries[refID]
	if !ok {
		return nil
	}
	return e.ref
}

// Has reports whether refID names a live entry.
func (t *RefTracker) Has(refID uint32) bool {
	_, ok := t.entries[refID]
	return ok
}

// entry exposes the raw tracker entry for a refID, used by the callback
// engine to determine a change's Kind without a second lookup structure.
func (t *RefTracker) entry(refID uint32) (*refEntry, bool) {
	e, ok := t.entries[refID]
	return e, ok
}

// Remove decrements refID's refCount. If it drops to zero or below, the
// entry is enqueued for GC and Remove returns true. Removing an untracked
// refId is a silent no-op (mirrors the source's tolerance for collections
// referencing ids that raced ahead of a corresponding ADD).
func (t *RefTracker) Remove(refID uint32) bool {
	e, ok := t.entries[refID]
	if !ok {
		return false
	}
	e.refCount--
	if e.refCount <= 0 {
		t.pending[refID] = struct{}{}
		return true
	}
	return false
}

// GC reclaims every entry whose refCount is still ≤0, recursing into
// schema fields and collection items via each entry's descriptor/kind so
// that releasing a subtree's root cascades correctly. Called once per
// frame, after callback dispatch completes (SPEC_FULL.md §9).
func (t *RefTracker) GC() {
	if len(t.pending) == 0 {
		return
	}
	queue := make([]uint32, 0, len(t.pending))
	for id := range t.pending {
		queue = append(queue, id)
	}
	t.pending = make(map[uint32]struct{})

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		e, ok := t.entries[id]
		if !ok || e.refCount > 0 {
			continue
		}

		switch e.kind {
		case KindSchema:
			node, _ := e.ref.(*Node)
			if node != nil {
				for _, childID := range node.childRefIDs() {
					if t.Remove(childID) {
						queue = append(queue, childID)
					}
				}
				if dd, ok := node.Descriptor.(*DynamicDescriptor); ok && dd.FreeInstance != nil {
					dd.FreeInstance(node.HostInstance)
				}
			}
		case KindList:
			list, _ := e.ref.(*ArraySchema)
			if list != nil {
				for _, childID := range list.childRefIDs() {
					if t.Remove(childID) {
						queue = append(queue, childID)
					}
				}
			}
		case KindMap:
			m, _ := e.ref.(*MapSchema)
			if m != nil {
				for _, childID := range m.childRefIDs() {
					if t.Remove(childID) {
						queue = append(queue, childID)
					}
				}
			}
		}

		delete(t.entries, id)
	}
}

// Clear drops every entry. Used at decoder teardown.
func (t *RefTracker) Clear() {
	t.entries = make(map[uint32]*refEntry)
	t.pending = make(map[uint32]struct{})
}

// Len reports how many entries are currently tracked, for tests asserting
// refcount/teardown invariants.
func (t *RefTracker) Len() int { return len(t.entries) }
