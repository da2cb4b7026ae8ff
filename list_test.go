package colyseus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArraySchemaSetAndAt(t *testing.T) {
	a := NewArraySchema()
	a.Set(0, "x", OpAdd)
	a.Set(1, "y", OpAdd)

	v, ok := a.At(0)
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	assert.Equal(t, 2, a.Len())
}

func TestArraySchemaPrependShiftsIndexes(t *testing.T) {
	a := NewArraySchema()
	a.Set(0, "first", OpAdd)
	a.Set(0, "second", OpAdd) // prepend: "first" should move to index 1

	first, _ := a.At(1)
	second, _ := a.At(0)
	assert.Equal(t, "first", first)
	assert.Equal(t, "second", second)
}

func TestArraySchemaDeleteAndMoveOverwritesInPlace(t *testing.T) {
	a := NewArraySchema()
	a.Set(0, "x", OpAdd)
	a.Set(1, "y", OpAdd)
	// DELETE_AND_MOVE never goes through Set's prepend-shift branch because
	// Set only takes that branch for plain ADD at index 0.
	a.Set(0, "z", OpDeleteAndMove)

	z, _ := a.At(0)
	y, _ := a.At(1)
	assert.Equal(t, "z", z)
	assert.Equal(t, "y", y)
	assert.Equal(t, 2, a.Len())
}

func TestArraySchemaDeferredDelete(t *testing.T) {
	a := NewArraySchema()
	a.Set(0, "x", OpAdd)
	a.Set(1, "y", OpAdd)

	removed := a.Delete(0)
	assert.Equal(t, "x", removed)
	// still present until OnDecodeEnd, so concurrent indexing during a frame
	// observes a stable view
	_, ok := a.At(0)
	assert.True(t, ok)

	a.OnDecodeEnd()
	_, ok = a.At(0)
	assert.False(t, ok)
	assert.Equal(t, 1, a.Len())
}

func TestArraySchemaClearOnEmptyReturnsNil(t *testing.T) {
	a := NewArraySchema()
	assert.Nil(t, a.Clear(NewRefTracker()))
}

func TestArraySchemaClearReturnsChangesAndReleasesChildren(t *testing.T) {
	a := NewArraySchema()
	node := &Node{RefID: 42}
	tr := NewRefTracker()
	tr.Add(42, node, KindSchema, nil, true)
	a.Set(0, node, OpAdd)

	changes := a.Clear(tr)
	assert.Len(t, changes, 1)
	assert.Equal(t, OpDelete, changes[0].Op)
	assert.Equal(t, node, changes[0].PreviousValue)
	assert.Equal(t, 0, a.Len())

	tr.GC()
	assert.False(t, tr.Has(42))
}

func TestArraySchemaReverse(t *testing.T) {
	a := NewArraySchema()
	a.Set(0, "a", OpAdd)
	a.Set(1, "b", OpAdd)
	a.Set(2, "c", OpAdd)

	a.Reverse()
	v0, _ := a.At(0)
	v2, _ := a.At(2)
	assert.Equal(t, "c", v0)
	assert.Equal(t, "a", v2)

	a.Reverse()
	v0again, _ := a.At(0)
	assert.Equal(t, "a", v0again)
}

func TestArraySchemaDeleteByRefID(t *testing.T) {
	a := NewArraySchema()
	node := &Node{RefID: 7}
	a.Set(0, node, OpAdd)

	idx, previous, found := a.DeleteByRefID(7)
	assert.True(t, found)
	assert.Equal(t, 0, idx)
	assert.Equal(t, node, previous)

	a.OnDecodeEnd() // finalize the deferred deletion
	_, _, found = a.DeleteByRefID(7)
	assert.False(t, found) // no longer present, no-op
}

func TestArraySchemaClone(t *testing.T) {
	a := NewArraySchema()
	a.Set(0, "x", OpAdd)
	clone := a.Clone()

	clone.Set(1, "y", OpAdd)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 2, clone.Len())
}
