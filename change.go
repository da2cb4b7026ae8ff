package colyseus

// DataChange records one mutation applied during a frame. Field is set for
// schema-node mutations; DynamicIndex is set for collection mutations
// (an int for ordered lists, a string for keyed maps) — exactly one of the
// two is populated for any given change, never both.
//
// Grounded on original_source/include/colyseus/schema/types.h's
// colyseus_data_change_t.
type DataChange struct {
	RefID        uint32
	Op           Op
	Field        *string
	DynamicIndex any // int for lists, string for maps, nil for schema changes
	Value        any
	PreviousValue any
}

// changeBuffer accumulates DataChange records for the frame currently being
// decoded. It is cleared and refilled by each call to Decoder.Decode.
type changeBuffer struct {
	changes []DataChange
}

func (c *changeBuffer) reset() {
	c.changes = c.changes[:0]
}

func (c *changeBuffer) append(ch DataChange) {
	c.changes = append(c.changes, ch)
}
