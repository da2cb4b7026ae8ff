package colyseus

import "sort"

// ArraySchema is the ordered-list collection type (spec §3/§4.4): items
// indexed by non-negative integers, not necessarily dense during decode,
// with a deferred-deletion set applied at end-of-frame so the decoder never
// mutates the items sequence while it is still walking it.
//
// Grounded on original_source/include/colyseus/schema/collections.h's
// colyseus_array_schema_t.
type ArraySchema struct {
	RefID           uint32
	ChildDescriptor Descriptor // set when items are schema refs
	ChildPrimitive  string     // set when items are primitives

	items   map[int]any
	deleted map[int]struct{}
}

// NewArraySchema returns an empty ordered list.
func NewArraySchema() *ArraySchema {
	return &ArraySchema{
		items:   make(map[int]any),
		deleted: make(map[int]struct{}),
	}
}

// Set upserts index with value. A prepend (index 0, op ADD, non-empty list)
// shifts every existing item's index up by one first; DELETE_AND_MOVE
// overwrites in place rather than shifting.
func (a *ArraySchema) Set(index int, value any, op Op) (previous any) {
	if index == 0 && op == OpAdd && len(a.items) > 0 {
		shifted := make(map[int]any, len(a.items)+1)
		for idx, v := range a.items {
			shifted[idx+1] = v
		}
		a.items = shifted
		shiftedDeleted := make(map[int]struct{}, len(a.deleted))
		for idx := range a.deleted {
			shiftedDeleted[idx+1] = struct{}{}
		}
		a.deleted = shiftedDeleted
	}
	previous = a.items[index]
	a.items[index] = value
	return previous
}

// Delete marks index for removal at end-of-frame and returns the value it
// held (so the caller can still build a DataChange with a non-nil
// PreviousValue).
func (a *ArraySchema) Delete(index int) any {
	previous := a.items[index]
	a.deleted[index] = struct{}{}
	return previous
}

// At returns the current value at index.
func (a *ArraySchema) At(index int) (any, bool) {
	v, ok := a.items[index]
	return v, ok
}

// Len reports the number of stored items, including any marked for
// deferred deletion that OnDecodeEnd has not yet removed.
func (a *ArraySchema) Len() int { return len(a.items) }

// Indexes returns the live indices in ascending order, the iteration order
// required by §4.4.
func (a *ArraySchema) Indexes() []int {
	idxs := make([]int, 0, len(a.items))
	for idx := range a.items {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

// Clear removes every item, returning one DataChange per removed item
// (previousValue == the removed item) and decrementing any schema children
// in tracker. A clear on an already-empty list returns nil, per §8.
func (a *ArraySchema) Clear(tracker *RefTracker) []DataChange {
	if len(a.items) == 0 {
		return nil
	}
	changes := make([]DataChange, 0, len(a.items))
	for _, idx := range a.Indexes() {
		v := a.items[idx]
		idx := idx
		changes = append(changes, DataChange{
			RefID:         a.RefID,
			Op:            OpDelete,
			DynamicIndex:  idx,
			PreviousValue: v,
		})
		if node, ok := v.(*Node); ok {
			tracker.Remove(node.RefID)
		}
	}
	a.items = make(map[int]any)
	a.deleted = make(map[int]struct{})
	return changes
}

// Reverse rewrites every item's index to maxIndex-index.
func (a *ArraySchema) Reverse() {
	if len(a.items) == 0 {
		return
	}
	max := 0
	for idx := range a.items {
		if idx > max {
			max = idx
		}
	}
	reversed := make(map[int]any, len(a.items))
	for idx, v := range a.items {
		reversed[max-idx] = v
	}
	a.items = reversed
}

// DeleteByRefID linear-scans for the slot whose value is a *Node with the
// given refId and deletes that slot. Not-found is a no-op (§9).
func (a *ArraySchema) DeleteByRefID(refID uint32) (index int, previous any, found bool) {
	for _, idx := range a.Indexes() {
		if node, ok := a.items[idx].(*Node); ok && node.RefID == refID {
			previous = a.Delete(idx)
			return idx, previous, true
		}
	}
	return 0, nil, false
}

// OnDecodeEnd removes every slot marked for deferred deletion and resets
// the deletion set. Called once at the end of each frame (§4.4).
func (a *ArraySchema) OnDecodeEnd() {
	for idx := range a.deleted {
		delete(a.items, idx)
	}
	a.deleted = make(map[int]struct{})
}

// Clone produces a shallow copy of items and the deferred-deletion set; the
// inner node/collection values are shared with the original until
// overwritten. Used when a list's refId is re-ADDed so the prior value
// remains observable as a change record's PreviousValue.
func (a *ArraySchema) Clone() *ArraySchema {
	clone := &ArraySchema{
		RefID:           a.RefID,
		ChildDescriptor: a.ChildDescriptor,
		ChildPrimitive:  a.ChildPrimitive,
		items:           make(map[int]any, len(a.items)),
		deleted:         make(map[int]struct{}, len(a.deleted)),
	}
	for idx, v := range a.items {
		clone.items[idx] = v
	}
	for idx := range a.deleted {
		clone.deleted[idx] = struct{}{}
	}
	return clone
}

func (a *ArraySchema) childRefIDs() []uint32 {
	if a.ChildDescriptor == nil {
		return nil
	}
	var ids []uint32
	for _, v := range a.items {
		if node, ok := v.(*Node); ok {
			ids = append(ids, node.RefID)
		}
	}
	return ids
}
