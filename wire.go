package colyseus

// Sentinel bytes steering decoder framing. Distinct from the msgpack
// prefix-byte space used by Reader's value decoding.
const (
	// SwitchToStructure announces that the following variable-width number
	// is the refId of the structure that subsequent operations apply to.
	SwitchToStructure byte = 0xFF
	// TypeID precedes an inline concrete-type id, used when a polymorphic
	// ref field receives an instance of a subclass of its declared type.
	TypeID byte = 0xD5
)

// Op is a schema/collection mutation opcode. Schema-node dispatch packs it
// into the high two bits of the field byte; collection dispatch uses the
// full byte.
type Op byte

const (
	OpAdd           Op = 0x80
	OpReplace       Op = 0x00
	OpDelete        Op = 0x40
	OpDeleteAndAdd  Op = 0xC0
	OpDeleteAndMove Op = 0x60
	OpClear         Op = 0x0A
	OpReverse       Op = 0x0F
	OpDeleteByRefID Op = 0x21
	OpAddByRefID    Op = 0x81
)

func (op Op) String() string {
	switch op {
	case OpAdd:
		return "ADD"
	case OpReplace:
		return "REPLACE"
	case OpDelete:
		return "DELETE"
	case OpDeleteAndAdd:
		return "DELETE_AND_ADD"
	case OpDeleteAndMove:
		return "DELETE_AND_MOVE"
	case OpClear:
		return "CLEAR"
	case OpReverse:
		return "REVERSE"
	case OpDeleteByRefID:
		return "DELETE_BY_REFID"
	case OpAddByRefID:
		return "ADD_BY_REFID"
	default:
		return "UNKNOWN"
	}
}

// IsDelete reports whether op carries the DELETE bit. DELETE_AND_ADD
// satisfies both IsDelete and IsAdd.
func (op Op) IsDelete() bool { return op&OpDelete == OpDelete }

// IsAdd reports whether op carries the ADD bit.
func (op Op) IsAdd() bool { return op&OpAdd == OpAdd }

// schemaFieldOpMask/schemaFieldIndexMask split a schema-node field byte
// into its operation and field-index halves. The field index is a 6-bit
// bit-mask extraction per SPEC_FULL.md §9 — never the modulo form the
// original source's dispatch arithmetic suggested.
const (
	schemaFieldOpMask    = 0xC0
	schemaFieldIndexMask = 0x3F
)

func splitSchemaFieldByte(b byte) (op Op, fieldIndex int) {
	return Op(b & schemaFieldOpMask), int(b & schemaFieldIndexMask)
}

// Kind identifies what a tracker entry actually holds.
type Kind uint8

const (
	KindSchema Kind = iota
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}
