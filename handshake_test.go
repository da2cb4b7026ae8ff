package colyseus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInheritedFieldsWalksExtendsChain(t *testing.T) {
	types := []ReflectionType{
		{ID: 0, ExtendsID: noExtends, Fields: []ReflectionField{{Name: "base", TypeString: "string"}}},
		{ID: 1, ExtendsID: 0, Fields: []ReflectionField{{Name: "derived", TypeString: "number"}}},
	}
	fields := inheritedFields(types, types[1])
	assert.Len(t, fields, 2)
	assert.Equal(t, "base", fields[0].Name)
	assert.Equal(t, "derived", fields[1].Name)
}

func TestInheritedFieldsToleratesCycles(t *testing.T) {
	types := []ReflectionType{
		{ID: 0, ExtendsID: 1, Fields: []ReflectionField{{Name: "a"}}},
		{ID: 1, ExtendsID: 0, Fields: []ReflectionField{{Name: "b"}}},
	}
	assert.NotPanics(t, func() {
		inheritedFields(types, types[0])
	})
}

func TestDescriptorMatchesChecksFieldCountIndexNameAndTypePrefix(t *testing.T) {
	d := RegisterStatic(testPosition{})
	good := []ReflectionField{
		{Name: "x", TypeString: "float32"},
		{Name: "y", TypeString: "float32:3"}, // server may suffix with a schema sub-id
	}
	assert.True(t, descriptorMatches(d, good))

	wrongCount := []ReflectionField{{Name: "x", TypeString: "float32"}}
	assert.False(t, descriptorMatches(d, wrongCount))

	wrongName := []ReflectionField{
		{Name: "x", TypeString: "float32"},
		{Name: "z", TypeString: "float32"},
	}
	assert.False(t, descriptorMatches(d, wrongName))

	wrongType := []ReflectionField{
		{Name: "x", TypeString: "string"},
		{Name: "y", TypeString: "float32"},
	}
	assert.False(t, descriptorMatches(d, wrongType))
}

func TestCollectDescriptorsWalksRefChildrenAndDeduplicates(t *testing.T) {
	root := RegisterStatic(testGameState{})
	got := collectDescriptors(root)

	names := make(map[string]bool)
	for _, d := range got {
		names[d.TypeName()] = true
	}
	assert.True(t, names["testGameState"])
	assert.True(t, names["testPlayer"])
	assert.True(t, names["testPosition"])
	assert.Len(t, got, 3) // no duplicates despite testPlayer being reachable via the map child
}

func TestMatchHandshakeBindsServerTypeIDsToLocalDescriptors(t *testing.T) {
	reflection := &Reflection{
		RootType: 0,
		Types: []ReflectionType{
			{
				ID: 0, ExtendsID: noExtends,
				Fields: []ReflectionField{
					{Name: "players", TypeString: "map"},
					{Name: "tags", TypeString: "array"},
				},
			},
			{
				ID: 1, ExtendsID: noExtends,
				Fields: []ReflectionField{
					{Name: "name", TypeString: "string"},
					{Name: "position", TypeString: "ref"},
				},
			},
			{
				ID: 2, ExtendsID: noExtends,
				Fields: []ReflectionField{
					{Name: "x", TypeString: "float32"},
					{Name: "y", TypeString: "float32"},
				},
			},
		},
	}

	root := RegisterStatic(testGameState{})
	matched := MatchHandshake(reflection, root)

	require := assert.New(t)
	require.Len(matched, 3)
	require.Equal("testGameState", matched[0].TypeName())
	require.Equal("testPlayer", matched[1].TypeName())
	require.Equal("testPosition", matched[2].TypeName())
}

func TestDecodeHandshakeRejectsOversizedBlob(t *testing.T) {
	oversized := make([]byte, DefaultLimits.MaxSchemaBlobLen+1)
	_, err := DecodeHandshake(oversized)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestMatchHandshakeBuildsDynamicDescriptorForUnmatchedType(t *testing.T) {
	reflection := &Reflection{
		Types: []ReflectionType{
			{ID: 9, ExtendsID: noExtends, Fields: []ReflectionField{{Name: "nope", TypeString: "string"}}},
		},
	}
	root := RegisterStatic(testGameState{})
	matched := MatchHandshake(reflection, root)

	require.Contains(t, matched, uint32(9))
	dd, ok := matched[9].(*DynamicDescriptor)
	require.True(t, ok)
	fd, ok := dd.FieldByName("nope")
	require.True(t, ok)
	assert.Equal(t, FieldPrimitive, fd.Kind)
	assert.Equal(t, "string", fd.TypeString)
}
