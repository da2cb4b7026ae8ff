package colyseus

// Node is one live schema-node instance: a refId, its type descriptor, and
// its current field values keyed by field index. Both static and dynamic
// descriptors share this same storage shape; only where the descriptor's
// metadata comes from differs.
type Node struct {
	RefID      uint32
	Descriptor Descriptor
	values     map[int]any

	// HostInstance is the host-side mirror object built by a
	// DynamicDescriptor's CreateInstance hook, if any (§4.6, §9). nil for
	// static-descriptor nodes and for dynamic nodes with no hooks set.
	HostInstance any
}

func newNode(d Descriptor) *Node {
	return &Node{Descriptor: d, values: make(map[int]any)}
}

// Get returns the current value of field index, and whether it has ever
// been set. Fields never observed on the wire report ok == false, per the
// invariant that unseen fields retain their zero/null value (§8).
func (n *Node) Get(index int) (any, bool) {
	v, ok := n.values[index]
	return v, ok
}

// GetByName looks up a field by name via the node's descriptor, then reads
// its current value.
func (n *Node) GetByName(name string) (any, bool) {
	fd, ok := n.Descriptor.FieldByName(name)
	if !ok {
		return nil, false
	}
	return n.Get(fd.Index)
}

func (n *Node) set(index int, v any) {
	n.values[index] = v
	if dd, ok := n.Descriptor.(*DynamicDescriptor); ok && dd.SetField != nil {
		if fd, ok := dd.FieldByIndex(index); ok {
			dd.SetField(n.HostInstance, fd.Name, v)
		}
	}
}

// childRefIDs returns the refIds of every ref/array/map-valued field
// currently populated on this node, used by RefTracker.GC to cascade
// teardown into children.
func (n *Node) childRefIDs() []uint32 {
	if n.Descriptor == nil {
		return nil
	}
	var ids []uint32
	for _, fd := range n.Descriptor.Fields() {
		if fd.Kind == FieldPrimitive {
			continue
		}
		val, ok := n.values[fd.Index]
		if !ok || val == nil {
			continue
		}
		switch v := val.(type) {
		case *Node:
			ids = append(ids, v.RefID)
		case *ArraySchema:
			ids = append(ids, v.RefID)
		case *MapSchema:
			ids = append(ids, v.RefID)
		}
	}
	return ids
}
