package colyseus

import (
	"fmt"

	"go.uber.org/zap"
)

// Decoder is the main dispatch loop described in SPEC_FULL.md §4.3: it
// consumes a frame of wire bytes left to right, resolves the "current
// reference" at each SWITCH_TO_STRUCTURE boundary, and applies the
// operations found between boundaries to the tracked node graph,
// accumulating a DataChange per mutation.
//
// Grounded on glint's decoder.go unmarshal() dispatch-by-instruction-kind
// loop (the overall shape: one exported entry point, a private recursive
// walk, panic-to-error conversion at the boundary), cross-checked against
// other_examples/a201629a_mxkacsa-statesync__decoder.go.go's decodePatch/
// decodeField/decodeArrayChanges/decodeMapChanges for the colyseus-specific
// operation dispatch, and original_source/include/colyseus/schema/decode.h
// + decoder.h for the exact wire primitives and decoder struct shape.
type Decoder struct {
	tracker *RefTracker
	state   *Node

	// typeContext maps a server-assigned concrete type id (handshake §4.6)
	// to the local descriptor it was matched against.
	typeContext map[uint32]Descriptor

	changes changeBuffer
	limits  DecodeLimits
	logger  *zap.Logger

	ref      any          // current reference: *Node, *ArraySchema or *MapSchema
	lastList *ArraySchema // most recently current list, finalised on the next SWITCH or at end-of-frame

	callbackHook func(changes []DataChange, tracker *RefTracker)
}

// DecoderOption configures a Decoder at construction.
type DecoderOption func(*Decoder)

// WithLogger attaches a structured logger, used for recoverable decode
// conditions (resync entry, unknown TYPE_ID fallback) per §7.
func WithLogger(l *zap.Logger) DecoderOption {
	return func(d *Decoder) { d.logger = l }
}

// WithDecodeLimits overrides the default bounds-checking limits. Only
// MaxCollectionGrowth is read from l; string and byte-slice lengths are
// always checked against DefaultLimits by Reader, and DecodeHandshake checks
// the blob size against DefaultLimits.MaxSchemaBlobLen.
func WithDecodeLimits(l DecodeLimits) DecoderOption {
	return func(d *Decoder) { d.limits = l }
}

// NewDecoder constructs a Decoder whose root state node uses rootDescriptor.
// The root is created lazily here (not on first frame) and added to the
// tracker at refId 0 with count 1 — it is never GC'd until Teardown, per
// the invariant in §3.
func NewDecoder(rootDescriptor Descriptor, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		tracker:     NewRefTracker(),
		typeContext: make(map[uint32]Descriptor),
		limits:      DefaultLimits,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.state = rootDescriptor.NewNode()
	d.state.RefID = 0
	d.tracker.Add(0, d.state, KindSchema, rootDescriptor, true)
	d.ref = d.state
	return d
}

// State returns the root state node. Its fields are mutated in place as
// frames are decoded; application code should read through the callback
// engine rather than polling State directly where ordering matters.
func (d *Decoder) State() *Node { return d.state }

// Tracker exposes the reference tracker, used by the callback engine and by
// tests asserting refcount/teardown invariants.
func (d *Decoder) Tracker() *RefTracker { return d.tracker }

// RegisterType binds a server-assigned concrete type id (discovered during
// the handshake, §4.6) to a local descriptor, so that a TYPE_ID prefix on
// the wire resolves to it instead of falling back to the declared field
// descriptor.
func (d *Decoder) RegisterType(typeID uint32, descriptor Descriptor) {
	d.typeContext[typeID] = descriptor
}

// setCallbackHook is called by NewCallbackManager to intercept the
// end-of-frame point described in §4.3 step 4 and §4.7.
func (d *Decoder) setCallbackHook(hook func(changes []DataChange, tracker *RefTracker)) {
	d.callbackHook = hook
}

// Decode applies one frame of wire bytes starting at offset 0 to the state
// graph, with the root state as the current reference until the first
// SWITCH_TO_STRUCTURE, returning the DataChange records produced. An empty frame is a
// no-op (§8) that fires no callbacks. Decode errors that are frame-fatal
// (unknown refId, cursor overrun, malformed number) abandon the remainder
// of the frame — whatever mutations already applied stand, per §4.3's "no
// automatic rollback" — and are returned as *DecodeError; the decoder is
// left ready to accept the next frame.
func (d *Decoder) Decode(data []byte) (changes []DataChange, err error) {
	if len(data) == 0 {
		return nil, nil
	}

	d.changes.reset()
	d.ref = d.state
	r := NewReader(data)

	defer func() {
		if rec := recover(); rec != nil {
			if cause, ok := rec.(error); ok {
				err = newDecodeError("decode", d.currentRefID(), cause)
			} else {
				err = newDecodeError("decode", d.currentRefID(), fmt.Errorf("%v", rec))
			}
			d.logger.Error("decode frame abandoned", zap.Error(err))
		}
	}()

	resyncing := false
	for !r.AtEnd() {
		if r.PeekByte() == SwitchToStructure {
			r.ReadByte()
			refID := uint32(r.ReadUint64())
			next := d.tracker.Get(refID)
			if next == nil {
				if resyncing {
					// Per §4.3 step 3, resync requires the byte to be
					// SWITCH_TO_STRUCTURE *and* the following number to
					// resolve to a known refId. A 0xFF encountered mid-
					// garbage whose refId doesn't resolve is just more
					// garbage — keep scanning, don't treat it as fatal.
					continue
				}
				panic(fmt.Errorf("%w: refId=%d", ErrRefNotFound, refID))
			}
			if d.lastList != nil {
				d.lastList.OnDecodeEnd()
				d.lastList = nil
			}
			d.ref = next
			if list, ok := next.(*ArraySchema); ok {
				d.lastList = list
			}
			resyncing = false
			continue
		}

		if resyncing {
			// Scan forward one byte at a time for the next structural
			// boundary whose refId is known, per §4.3 step 3. No change is
			// emitted for skipped bytes.
			r.ReadByte()
			continue
		}

		switch ref := d.ref.(type) {
		case *Node:
			if !d.decodeSchemaField(&r, ref) {
				resyncing = true
				d.logger.Warn("decoder entering resync mode", zap.Uint32("refId", ref.RefID))
			}
		case *ArraySchema:
			d.decodeListOp(&r, ref)
		case *MapSchema:
			d.decodeMapOp(&r, ref)
		default:
			panic(fmt.Errorf("%w: current reference has no recognised kind", ErrRefNotFound))
		}
	}

	if d.lastList != nil {
		d.lastList.OnDecodeEnd()
		d.lastList = nil
	}

	changes = append([]DataChange(nil), d.changes.changes...)
	if d.callbackHook != nil {
		d.callbackHook(changes, d.tracker)
	}
	d.tracker.GC()
	return changes, nil
}

func (d *Decoder) currentRefID() uint32 {
	switch ref := d.ref.(type) {
	case *Node:
		return ref.RefID
	case *ArraySchema:
		return ref.RefID
	case *MapSchema:
		return ref.RefID
	default:
		return 0
	}
}

// decodeSchemaField reads and applies one field mutation on a schema node.
// It returns false when the field index is unknown, the signal to the
// caller to enter resync mode (§4.3's {NORMAL, RESYNCING} state machine).
func (d *Decoder) decodeSchemaField(r *Reader, node *Node) bool {
	b := r.ReadByte()
	op, fieldIndex := splitSchemaFieldByte(b)

	fd, ok := node.Descriptor.FieldByIndex(fieldIndex)
	if !ok {
		return false
	}

	previous, _ := node.Get(fieldIndex)

	if op == OpDelete {
		d.releaseIfTracked(previous)
		node.set(fieldIndex, nil)
		d.changes.append(DataChange{RefID: node.RefID, Op: op, Field: &fd.Name, Value: nil, PreviousValue: previous})
		return true
	}

	if op.IsDelete() {
		// DELETE_AND_ADD: release the old reference but keep going — a new
		// value follows on the wire.
		d.releaseIfTracked(previous)
	}

	value := d.decodeFieldValue(r, fd, op, previous)
	node.set(fieldIndex, value)
	d.changes.append(DataChange{RefID: node.RefID, Op: op, Field: &fd.Name, Value: value, PreviousValue: previous})
	return true
}

// releaseIfTracked decrements the tracker entry for a previous field/slot
// value that is itself a tracked node, per §4.3 "Handling DELETE". GC of
// the released subtree, if any, is deferred to end-of-frame.
func (d *Decoder) releaseIfTracked(previous any) {
	switch v := previous.(type) {
	case *Node:
		d.tracker.Remove(v.RefID)
	case *ArraySchema:
		d.tracker.Remove(v.RefID)
	case *MapSchema:
		d.tracker.Remove(v.RefID)
	}
}

// decodeFieldValue performs the "Value decoding" dispatch from §4.3 for a
// schema-node field: ref, primitive, or collection.
func (d *Decoder) decodeFieldValue(r *Reader, fd FieldDef, op Op, previous any) any {
	switch fd.Kind {
	case FieldRef:
		return d.decodeRefValue(r, fd.Child, op, previous)
	case FieldArray:
		return d.decodeCollectionValue(r, KindList, fd.Child, fd.ChildPrimitive, op, previous)
	case FieldMap:
		return d.decodeCollectionValue(r, KindMap, fd.Child, fd.ChildPrimitive, op, previous)
	default:
		return r.ReadPrimitive(fd.TypeString)
	}
}

// decodeRefValue reads a refId and resolves or constructs the node it
// names, per §4.3's ref-field value decoding rule.
func (d *Decoder) decodeRefValue(r *Reader, declaredChild Descriptor, op Op, previous any) *Node {
	refID := uint32(r.ReadUint64())

	descriptor := declaredChild
	if op.IsAdd() && r.BytesLeft() > 0 && r.PeekByte() == TypeID {
		r.ReadByte()
		typeID := uint32(r.ReadUint64())
		if concrete, ok := d.typeContext[typeID]; ok {
			descriptor = concrete
		} else {
			d.logger.Debug("unknown concrete type id, falling back to declared descriptor", zap.Uint32("typeId", typeID))
		}
	}

	existing, _ := d.tracker.Get(refID).(*Node)
	node := existing
	if node == nil {
		node = descriptor.NewNode()
		node.RefID = refID
	}

	increment := !sameValue(node, previous) || op == OpDeleteAndAdd
	d.tracker.Add(refID, node, KindSchema, descriptor, increment)
	return node
}

// decodeCollectionValue reads a refId naming an ordered list or keyed map
// and resolves it: a fresh instance if the refId is new, or a structural
// clone of the prior instance (preserving PreviousValue observability) if
// it was already tracked, per §4.3's collection value-decoding rule.
func (d *Decoder) decodeCollectionValue(r *Reader, kind Kind, childDescriptor Descriptor, childPrimitive string, op Op, previous any) any {
	refID := uint32(r.ReadUint64())

	var instance any
	switch kind {
	case KindList:
		var list *ArraySchema
		if existing, ok := d.tracker.Get(refID).(*ArraySchema); ok {
			list = existing.Clone()
		} else {
			list = NewArraySchema()
		}
		list.RefID = refID
		list.ChildDescriptor = childDescriptor
		list.ChildPrimitive = childPrimitive
		instance = list
	case KindMap:
		var m *MapSchema
		if existing, ok := d.tracker.Get(refID).(*MapSchema); ok {
			m = existing.Clone()
		} else {
			m = NewMapSchema()
		}
		m.RefID = refID
		m.ChildDescriptor = childDescriptor
		m.ChildPrimitive = childPrimitive
		instance = m
	}

	increment := !sameValue(instance, previous) || op == OpDeleteAndAdd
	d.tracker.Add(refID, instance, kind, nil, increment)
	return instance
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case *Node:
		bv, ok := b.(*Node)
		return ok && av == bv
	case *ArraySchema:
		bv, ok := b.(*ArraySchema)
		return ok && av == bv
	case *MapSchema:
		bv, ok := b.(*MapSchema)
		return ok && av == bv
	default:
		return a == b
	}
}

// decodeChildValue decodes one collection item (list or map) according to
// its child-type tag: a ref (looked up/constructed exactly like a ref field,
// including the optional TYPE_ID prefix on ADD-bearing ops) or a primitive.
func (d *Decoder) decodeChildValue(r *Reader, childDescriptor Descriptor, childPrimitive string, op Op, previous any) any {
	if childDescriptor != nil {
		return d.decodeRefValue(r, childDescriptor, op, previous)
	}
	return r.ReadPrimitive(childPrimitive)
}

// checkCollectionGrowth enforces DecodeLimits.MaxCollectionGrowth (§4.1)
// against a list index or map slot read off the wire, before that slot is
// used to size or index into any allocation, so a corrupt or hostile frame
// can't drive the collection's backing storage arbitrarily large.
func (d *Decoder) checkCollectionGrowth(slot int) {
	if slot < 0 || uint32(slot) > d.limits.MaxCollectionGrowth {
		panic(fmt.Errorf("%w: collection slot %d exceeds growth limit %d", ErrLimitExceeded, slot, d.limits.MaxCollectionGrowth))
	}
}

// decodeListOp reads and applies one ordered-list mutation, per §4.4.
func (d *Decoder) decodeListOp(r *Reader, list *ArraySchema) {
	op := Op(r.ReadByte())

	switch op {
	case OpClear:
		for _, ch := range list.Clear(d.tracker) {
			d.changes.append(ch)
		}
		return
	case OpReverse:
		list.Reverse()
		return
	case OpDeleteByRefID:
		refID := uint32(r.ReadUint64())
		idx, previous, found := list.DeleteByRefID(refID)
		if !found {
			return // not-found is a no-op, §9
		}
		d.releaseIfTracked(previous)
		d.changes.append(DataChange{RefID: list.RefID, Op: OpDelete, DynamicIndex: idx, PreviousValue: previous})
		return
	case OpAddByRefID:
		refID := uint32(r.ReadUint64())
		node, ok := d.tracker.Get(refID).(*Node)
		if !ok {
			return
		}
		idx := list.Len()
		previous := list.Set(idx, node, OpAdd)
		d.tracker.Add(refID, node, KindSchema, node.Descriptor, true)
		d.changes.append(DataChange{RefID: list.RefID, Op: OpAddByRefID, DynamicIndex: idx, Value: node, PreviousValue: previous})
		return
	}

	index := int(r.ReadUint64())
	d.checkCollectionGrowth(index)
	previous, _ := list.At(index)

	if op == OpDelete {
		removed := list.Delete(index)
		d.releaseIfTracked(removed)
		d.changes.append(DataChange{RefID: list.RefID, Op: op, DynamicIndex: index, PreviousValue: removed})
		return
	}

	if op.IsDelete() {
		d.releaseIfTracked(previous)
	}
	value := d.decodeChildValue(r, list.ChildDescriptor, list.ChildPrimitive, op, previous)
	list.Set(index, value, op)
	d.changes.append(DataChange{RefID: list.RefID, Op: op, DynamicIndex: index, Value: value, PreviousValue: previous})
}

// decodeMapOp reads and applies one keyed-map mutation, per §4.4.
func (d *Decoder) decodeMapOp(r *Reader, m *MapSchema) {
	op := Op(r.ReadByte())

	if op == OpClear {
		for _, ch := range m.Clear(d.tracker) {
			d.changes.append(ch)
		}
		return
	}

	slot := int(r.ReadUint64())
	d.checkCollectionGrowth(slot)

	if op.IsAdd() {
		key := r.ReadString()
		previous, _ := m.Get(key)
		if op.IsDelete() {
			d.releaseIfTracked(previous)
		}
		value := d.decodeChildValue(r, m.ChildDescriptor, m.ChildPrimitive, op, previous)
		m.SetByIndex(slot, key, value)
		d.changes.append(DataChange{RefID: m.RefID, Op: op, DynamicIndex: key, Value: value, PreviousValue: previous})
		return
	}

	if op == OpDelete {
		key, previous, found := m.DeleteByIndex(slot)
		if !found {
			return
		}
		d.releaseIfTracked(previous)
		d.changes.append(DataChange{RefID: m.RefID, Op: op, DynamicIndex: key, PreviousValue: previous})
		return
	}

	// REPLACE addressed by slot: resolve the key the server already taught
	// us for this slot via a prior ADD.
	key, ok := m.KeyForSlot(slot)
	if !ok {
		return
	}
	previous, _ := m.Get(key)
	value := d.decodeChildValue(r, m.ChildDescriptor, m.ChildPrimitive, op, previous)
	m.SetByIndex(slot, key, value)
	d.changes.append(DataChange{RefID: m.RefID, Op: op, DynamicIndex: key, Value: value, PreviousValue: previous})
}

// Teardown releases the root state and clears the tracker. Call when the
// room this decoder belongs to is left.
func (d *Decoder) Teardown() {
	d.tracker.Clear()
}
