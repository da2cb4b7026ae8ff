package colyseus

import "reflect"

// Handle identifies a registered listener for later removal.
type Handle uint64

// PropertyHandler is invoked for a `listen(instance, property)` registration.
type PropertyHandler func(value, previous any)

// InstanceChangeHandler is invoked for an `onChange(instance)` registration,
// fired once per frame the node changed, regardless of which field(s) did.
type InstanceChangeHandler func()

// ItemHandler is invoked for `onAdd`/`onRemove` collection registrations.
// key is an int for ArraySchema, a string for MapSchema.
type ItemHandler func(value, key any)

// CollectionChangeHandler is invoked for an `onChange(collection)`
// registration, fired when an existing slot's value is replaced.
type CollectionChangeHandler func(key, value any)

type propertyListener struct {
	handler PropertyHandler
}

type instanceListener struct {
	handler InstanceChangeHandler
}

type itemListener struct {
	handler ItemHandler
}

type collectionChangeListener struct {
	handler CollectionChangeHandler
}

type regKind uint8

const (
	regProperty regKind = iota
	regInstance
	regRemoveInstance
	regAdd
	regRemove
	regChange
	regPending
)

type registration struct {
	kind  regKind
	refID uint32
	field string
}

// CallbackManager dispatches the DataChange records accumulated during one
// Decoder.Decode call into user-registered listeners, per SPEC_FULL.md
// §4.7. It has no analogue in the teacher (glint is a one-shot marshal/
// unmarshal library with no live-state concept) and is built fresh in the
// teacher's idiom: small structs, explicit method sets, Go closures instead
// of void* userdata (per §9's re-architecture note).
//
// Grounded on original_source/include/colyseus/schema/callbacks.h's full
// API surface (listen/on_add/on_remove/on_change_instance/
// on_change_collection, handle-based removal).
type CallbackManager struct {
	tracker *RefTracker

	nextHandle uint64
	registry   map[Handle]registration

	propertyListeners map[uint32]map[string]map[Handle]*propertyListener
	instanceListeners map[uint32]map[Handle]*instanceListener
	removeListeners   map[uint32]map[Handle]*instanceListener // fired on instance removal, keyed by the removed node's refId

	collectionAdd    map[uint32]map[Handle]*itemListener
	collectionRemove map[uint32]map[Handle]*itemListener
	collectionChange map[uint32]map[Handle]*collectionChangeListener

	pending map[Handle]*pendingCollectionSub

	isTriggering bool
}

// pendingCollectionSub holds a collection subscription registered against a
// property whose value has not yet arrived, per §4.7's "Deferred collection
// listeners". It is converted into a concrete subscription the moment the
// parent property fires with a non-nil collection value.
type pendingCollectionSub struct {
	kind       regKind // regAdd, regRemove or regChange
	node       *Node
	property   string
	immediate  bool
	item       ItemHandler
	collection CollectionChangeHandler
	propHandle Handle
}

// NewCallbackManager creates a callbacks manager bound to decoder,
// intercepting its end-of-frame hook (§4.3 step 4).
func NewCallbackManager(decoder *Decoder) *CallbackManager {
	cm := &CallbackManager{
		tracker:           decoder.Tracker(),
		registry:          make(map[Handle]registration),
		propertyListeners: make(map[uint32]map[string]map[Handle]*propertyListener),
		instanceListeners: make(map[uint32]map[Handle]*instanceListener),
		removeListeners:   make(map[uint32]map[Handle]*instanceListener),
		collectionAdd:     make(map[uint32]map[Handle]*itemListener),
		collectionRemove:  make(map[uint32]map[Handle]*itemListener),
		collectionChange:  make(map[uint32]map[Handle]*collectionChangeListener),
		pending:           make(map[Handle]*pendingCollectionSub),
	}
	decoder.setCallbackHook(cm.dispatch)
	return cm
}

func (cm *CallbackManager) allocHandle(r registration) Handle {
	cm.nextHandle++
	h := Handle(cm.nextHandle)
	cm.registry[h] = r
	return h
}

// Listen registers handler for changes to property on node. If immediate
// is set and registration happens outside an in-progress dispatch, handler
// fires synchronously once with the field's current value before Listen
// returns (§8's testable property; §4.7's immediate-replay semantics).
func (cm *CallbackManager) Listen(node *Node, property string, handler PropertyHandler, immediate bool) Handle {
	byField, ok := cm.propertyListeners[node.RefID]
	if !ok {
		byField = make(map[string]map[Handle]*propertyListener)
		cm.propertyListeners[node.RefID] = byField
	}
	byHandle, ok := byField[property]
	if !ok {
		byHandle = make(map[Handle]*propertyListener)
		byField[property] = byHandle
	}

	h := cm.allocHandle(registration{kind: regProperty, refID: node.RefID, field: property})
	byHandle[h] = &propertyListener{handler: handler}

	if immediate && !cm.isTriggering {
		value, _ := node.GetByName(property)
		handler(value, nil)
	}
	return h
}

// OnChangeInstance registers handler to fire once per frame in which any
// field of node changed.
func (cm *CallbackManager) OnChangeInstance(node *Node, handler InstanceChangeHandler) Handle {
	m, ok := cm.instanceListeners[node.RefID]
	if !ok {
		m = make(map[Handle]*instanceListener)
		cm.instanceListeners[node.RefID] = m
	}
	h := cm.allocHandle(registration{kind: regInstance, refID: node.RefID})
	m[h] = &instanceListener{handler: handler}
	return h
}

// onRemoveInstance registers handler to fire when the node named by refID
// is removed from the graph — the "you were removed" signal dispatched
// from a previousValue, not from a live tracker entry.
func (cm *CallbackManager) onRemoveInstance(refID uint32, handler InstanceChangeHandler) Handle {
	m, ok := cm.removeListeners[refID]
	if !ok {
		m = make(map[Handle]*instanceListener)
		cm.removeListeners[refID] = m
	}
	h := cm.allocHandle(registration{kind: regRemoveInstance, refID: refID})
	m[h] = &instanceListener{handler: handler}
	return h
}

// OnAddCollection registers handler to fire for each item inserted into
// coll (an *ArraySchema or *MapSchema). If immediate is set and
// registration happens outside an in-progress dispatch, handler fires
// synchronously once per existing item, in the collection's deterministic
// iteration order.
func (cm *CallbackManager) OnAddCollection(coll any, handler ItemHandler, immediate bool) Handle {
	refID, existing := collectionSnapshot(coll)
	m, ok := cm.collectionAdd[refID]
	if !ok {
		m = make(map[Handle]*itemListener)
		cm.collectionAdd[refID] = m
	}
	h := cm.allocHandle(registration{kind: regAdd, refID: refID})
	m[h] = &itemListener{handler: handler}

	if immediate && !cm.isTriggering {
		for _, kv := range existing {
			handler(kv.value, kv.key)
		}
	}
	return h
}

// OnRemoveCollection registers handler to fire for each item removed from coll.
func (cm *CallbackManager) OnRemoveCollection(coll any, handler ItemHandler) Handle {
	refID, _ := collectionSnapshot(coll)
	m, ok := cm.collectionRemove[refID]
	if !ok {
		m = make(map[Handle]*itemListener)
		cm.collectionRemove[refID] = m
	}
	h := cm.allocHandle(registration{kind: regRemove, refID: refID})
	m[h] = &itemListener{handler: handler}
	return h
}

// OnChangeCollection registers handler to fire when an existing slot in
// coll is replaced.
func (cm *CallbackManager) OnChangeCollection(coll any, handler CollectionChangeHandler) Handle {
	refID, _ := collectionSnapshot(coll)
	m, ok := cm.collectionChange[refID]
	if !ok {
		m = make(map[Handle]*collectionChangeListener)
		cm.collectionChange[refID] = m
	}
	h := cm.allocHandle(registration{kind: regChange, refID: refID})
	m[h] = &collectionChangeListener{handler: handler}
	return h
}

// OnAdd subscribes to item-add events on the collection held by node's
// property. If the collection has not yet been received, the subscription
// is held pending and converted the moment the property first becomes
// non-nil (§4.7's deferred collection listeners).
func (cm *CallbackManager) OnAdd(node *Node, property string, handler ItemHandler, immediate bool) Handle {
	if value, ok := node.GetByName(property); ok && value != nil {
		return cm.OnAddCollection(value, handler, immediate)
	}
	return cm.deferCollectionSub(node, property, regAdd, handler, nil, immediate)
}

// OnRemove subscribes to item-remove events on the collection held by
// node's property, deferring as OnAdd does.
func (cm *CallbackManager) OnRemove(node *Node, property string, handler ItemHandler) Handle {
	if value, ok := node.GetByName(property); ok && value != nil {
		return cm.OnRemoveCollection(value, handler)
	}
	return cm.deferCollectionSub(node, property, regRemove, handler, nil, false)
}

// OnChange subscribes to item-replace events on the collection held by
// node's property, deferring as OnAdd does.
func (cm *CallbackManager) OnChange(node *Node, property string, handler CollectionChangeHandler) Handle {
	if value, ok := node.GetByName(property); ok && value != nil {
		return cm.OnChangeCollection(value, handler)
	}
	return cm.deferCollectionSub(node, property, regChange, nil, handler, false)
}

func (cm *CallbackManager) deferCollectionSub(node *Node, property string, kind regKind, item ItemHandler, collection CollectionChangeHandler, immediate bool) Handle {
	sub := &pendingCollectionSub{kind: kind, node: node, property: property, immediate: immediate, item: item, collection: collection}
	sub.propHandle = cm.Listen(node, property, func(value, previous any) {
		if value == nil {
			return
		}
		cm.resolvePending(sub, value)
	}, false)

	h := cm.allocHandle(registration{kind: regPending, refID: node.RefID, field: property})
	cm.pending[h] = sub
	return h
}

func (cm *CallbackManager) resolvePending(sub *pendingCollectionSub, value any) {
	cm.removePropertyHandle(sub.propHandle)
	switch sub.kind {
	case regAdd:
		cm.OnAddCollection(value, sub.item, sub.immediate)
	case regRemove:
		cm.OnRemoveCollection(value, sub.item)
	case regChange:
		cm.OnChangeCollection(value, sub.collection)
	}
}

// Remove unregisters the listener named by h. Removing an already-removed
// or unknown handle is a silent no-op.
func (cm *CallbackManager) Remove(h Handle) {
	r, ok := cm.registry[h]
	if !ok {
		return
	}
	delete(cm.registry, h)

	switch r.kind {
	case regProperty:
		cm.removePropertyHandle(h)
	case regInstance:
		if m, ok := cm.instanceListeners[r.refID]; ok {
			delete(m, h)
			if len(m) == 0 {
				delete(cm.instanceListeners, r.refID)
			}
		}
	case regRemoveInstance:
		if m, ok := cm.removeListeners[r.refID]; ok {
			delete(m, h)
			if len(m) == 0 {
				delete(cm.removeListeners, r.refID)
			}
		}
	case regAdd:
		if m, ok := cm.collectionAdd[r.refID]; ok {
			delete(m, h)
			if len(m) == 0 {
				delete(cm.collectionAdd, r.refID)
			}
		}
	case regRemove:
		if m, ok := cm.collectionRemove[r.refID]; ok {
			delete(m, h)
			if len(m) == 0 {
				delete(cm.collectionRemove, r.refID)
			}
		}
	case regChange:
		if m, ok := cm.collectionChange[r.refID]; ok {
			delete(m, h)
			if len(m) == 0 {
				delete(cm.collectionChange, r.refID)
			}
		}
	case regPending:
		if sub, ok := cm.pending[h]; ok {
			cm.removePropertyHandle(sub.propHandle)
			delete(cm.pending, h)
		}
	}
}

func (cm *CallbackManager) removePropertyHandle(h Handle) {
	r, ok := cm.registry[h]
	if !ok || r.kind != regProperty {
		return
	}
	delete(cm.registry, h)
	byField, ok := cm.propertyListeners[r.refID]
	if !ok {
		return
	}
	byHandle, ok := byField[r.field]
	if !ok {
		return
	}
	delete(byHandle, h)
	if len(byHandle) == 0 {
		delete(byField, r.field)
	}
	if len(byField) == 0 {
		delete(cm.propertyListeners, r.refID)
	}
}

// dispatch walks changes in order and invokes registered listeners,
// following the algorithm from §4.7: instance-removal signals first, then
// per-refId/per-field dispatch keyed by the tracked kind of change.RefID.
// isTriggering stays set for the whole walk, so an immediate registration
// made from any handler fired here does not replay synchronously.
func (cm *CallbackManager) dispatch(changes []DataChange, tracker *RefTracker) {
	cm.isTriggering = true
	defer func() { cm.isTriggering = false }()

	seen := make(map[uint32]struct{}, len(changes))

	for _, change := range changes {
		if change.Op.IsDelete() {
			if prevNode, ok := change.PreviousValue.(*Node); ok {
				for _, l := range cm.removeListeners[prevNode.RefID] {
					l.handler()
				}
			}
		}

		entry, tracked := tracker.entry(change.RefID)
		kind := KindSchema
		if tracked {
			kind = entry.kind
		} else if change.Field == nil {
			kind = collectionKindFromDynamicIndex(change.DynamicIndex)
		}

		if kind == KindSchema {
			if _, wasSeen := seen[change.RefID]; !wasSeen {
				for _, l := range cm.instanceListeners[change.RefID] {
					l.handler()
				}
			}
			if change.Field != nil {
				for _, l := range cm.propertyListeners[change.RefID][*change.Field] {
					l.handler(change.Value, change.PreviousValue)
				}
			}
		} else {
			if change.Op.IsDelete() && change.PreviousValue != nil {
				for _, l := range cm.collectionRemove[change.RefID] {
					l.handler(change.PreviousValue, change.DynamicIndex)
				}
			}
			if change.Op.IsAdd() && !valuesEqual(change.Value, change.PreviousValue) {
				for _, l := range cm.collectionAdd[change.RefID] {
					l.handler(change.Value, change.DynamicIndex)
				}
			}
			if !valuesEqual(change.Value, change.PreviousValue) {
				for _, l := range cm.collectionChange[change.RefID] {
					l.handler(change.DynamicIndex, change.Value)
				}
			}
		}

		seen[change.RefID] = struct{}{}
	}
}

func collectionKindFromDynamicIndex(idx any) Kind {
	if _, ok := idx.(string); ok {
		return KindMap
	}
	return KindList
}

type collectionItem struct {
	key   any
	value any
}

// collectionSnapshot returns coll's refId and its current items in
// deterministic iteration order (ascending index for lists, insertion
// order for maps), per §4.4.
func collectionSnapshot(coll any) (uint32, []collectionItem) {
	switch c := coll.(type) {
	case *ArraySchema:
		items := make([]collectionItem, 0, c.Len())
		for _, idx := range c.Indexes() {
			v, _ := c.At(idx)
			items = append(items, collectionItem{key: idx, value: v})
		}
		return c.RefID, items
	case *MapSchema:
		keys := c.Keys()
		items := make([]collectionItem, 0, len(keys))
		for _, k := range keys {
			v, _ := c.Get(k)
			items = append(items, collectionItem{key: k, value: v})
		}
		return c.RefID, items
	default:
		return 0, nil
	}
}

// valuesEqual compares two decoded values for the "value != previous" gate
// used by collection ADD/REPLACE dispatch (§4.7). Schema/collection values
// compare by identity; primitives by ordinary equality; byte slices
// (uncomparable via ==) fall back to a safe reflect.DeepEqual.
func valuesEqual(a, b any) bool {
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
	case []byte:
		bv, ok := b.([]byte)
		return ok && reflect.DeepEqual(av, bv)
	default:
		av2 := reflect.ValueOf(a)
		bv2 := reflect.ValueOf(b)
		if av2.Type() != bv2.Type() {
			return false
		}
		if !av2.Comparable() {
			return reflect.DeepEqual(a, b)
		}
		return a == b
	}
}
