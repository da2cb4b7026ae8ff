package colyseus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefTrackerAddGetRemove(t *testing.T) {
	tr := NewRefTracker()
	node := &Node{RefID: 5, values: map[int]any{}}
	tr.Add(5, node, KindSchema, nil, true)

	assert.True(t, tr.Has(5))
	assert.Equal(t, node, tr.Get(5))

	removed := tr.Remove(5)
	assert.True(t, removed) // refCount dropped to 0

	tr.GC()
	assert.False(t, tr.Has(5))
}

func TestRefTrackerRemoveUntrackedIsNoop(t *testing.T) {
	tr := NewRefTracker()
	assert.False(t, tr.Remove(999))
}

func TestRefTrackerReAddBeforeGCCancelsPendingRemoval(t *testing.T) {
	tr := NewRefTracker()
	node := &Node{RefID: 1, values: map[int]any{}}
	tr.Add(1, node, KindSchema, nil, true)
	tr.Remove(1) // refCount -> 0, enqueued for GC

	tr.Add(1, node, KindSchema, nil, true) // becomes live again before GC runs
	tr.GC()

	assert.True(t, tr.Has(1))
}

func TestRefTrackerGCCascadesIntoChildren(t *testing.T) {
	tr := NewRefTracker()
	child := newNode(RegisterStatic(testPosition{}))
	child.RefID = 2
	parentDesc := RegisterStatic(testPlayer{})
	parent := newNode(parentDesc)
	parent.RefID = 1
	parent.set(1, child) // position field, index 1

	tr.Add(2, child, KindSchema, nil, true)
	tr.Add(1, parent, KindSchema, parentDesc, true)

	tr.Remove(1) // parent refCount -> 0
	tr.GC()

	assert.False(t, tr.Has(1))
	assert.False(t, tr.Has(2)) // cascaded release of the child
}

func TestRefTrackerClear(t *testing.T) {
	tr := NewRefTracker()
	tr.Add(1, &Node{RefID: 1}, KindSchema, nil, true)
	tr.Add(2, &Node{RefID: 2}, KindSchema, nil, true)
	tr.Clear()
	assert.Equal(t, 0, tr.Len())
}
