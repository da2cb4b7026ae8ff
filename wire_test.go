package colyseus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSchemaFieldByte(t *testing.T) {
	cases := []struct {
		name      string
		b         byte
		wantOp    Op
		wantIndex int
	}{
		{"add field 0", 0x80, OpAdd, 0},
		{"replace field 5", 0x05, OpReplace, 5},
		{"delete field 12", 0x4C, OpDelete, 12},
		{"delete_and_add field 3", 0xC3, OpDeleteAndAdd, 3},
		{"field index masks to 6 bits", 0xBF, OpAdd, 0x3F},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op, idx := splitSchemaFieldByte(tc.b)
			assert.Equal(t, tc.wantOp, op)
			assert.Equal(t, tc.wantIndex, idx)
		})
	}
}

func TestOpIsAddIsDelete(t *testing.T) {
	assert.True(t, OpAdd.IsAdd())
	assert.False(t, OpAdd.IsDelete())

	assert.True(t, OpDelete.IsDelete())
	assert.False(t, OpDelete.IsAdd())

	assert.True(t, OpDeleteAndAdd.IsAdd())
	assert.True(t, OpDeleteAndAdd.IsDelete())

	assert.False(t, OpReplace.IsAdd())
	assert.False(t, OpReplace.IsDelete())
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "ADD", OpAdd.String())
	assert.Equal(t, "UNKNOWN", Op(0xFE).String())
}
