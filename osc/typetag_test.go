package osc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTypeTag_Simple(t *testing.T) {
	types := ParseTypeTag("ifsbhtdcrmTFNI")
	require.Len(t, types, 14)

	expected := []SimpleType{
		TypeInt, TypeFloat, TypeString, TypeBlob, TypeInt64, TypeTimeTag,
		TypeDouble, TypeChar, TypeRGBA, TypeMIDI, TypeTrue, TypeFalse,
		TypeNil, TypeInfinitum,
	}
	for i, st := range expected {
		assert.False(t, types[i].IsArray())
		assert.Equal(t, st, types[i].Simple)
	}
}

func TestParseTypeTag_StringAlias(t *testing.T) {
	types := ParseTypeTag("S")
	require.Len(t, types, 1)
	assert.Equal(t, TypeString, types[0].Simple)
}

func TestParseTypeTag_Nested(t *testing.T) {
	types := ParseTypeTag("if[si]Nb")
	require.Len(t, types, 5)

	assert.Equal(t, TypeInt, types[0].Simple)
	assert.Equal(t, TypeFloat, types[1].Simple)

	arr := types[2]
	require.True(t, arr.IsArray())
	require.Len(t, arr.Array, 2)
	assert.Equal(t, TypeString, arr.Array[0].Simple)
	assert.Equal(t, TypeInt, arr.Array[1].Simple)

	assert.Equal(t, TypeNil, types[3].Simple)
	assert.Equal(t, TypeBlob, types[4].Simple)
}

func TestParseTypeTag_DeepNesting(t *testing.T) {
	types := ParseTypeTag("[s[if]b]")
	require.Len(t, types, 1)

	outer := types[0]
	require.True(t, outer.IsArray())
	require.Len(t, outer.Array, 3)
	assert.Equal(t, TypeString, outer.Array[0].Simple)

	inner := outer.Array[1]
	require.True(t, inner.IsArray())
	require.Len(t, inner.Array, 2)
	assert.Equal(t, TypeInt, inner.Array[0].Simple)
	assert.Equal(t, TypeFloat, inner.Array[1].Simple)

	assert.Equal(t, TypeBlob, outer.Array[2].Simple)
}

func TestParseTypeTag_UnknownCharsDropped(t *testing.T) {
	types := ParseTypeTag("i?f x!")
	require.Len(t, types, 2)
	assert.Equal(t, TypeInt, types[0].Simple)
	assert.Equal(t, TypeFloat, types[1].Simple)
}

func TestParseTypeTag_UnbalancedOpenDiscards(t *testing.T) {
	types := ParseTypeTag("i[sf")
	require.Len(t, types, 1)
	assert.Equal(t, TypeInt, types[0].Simple)
}

func TestParseTypeTag_StrayCloseIgnored(t *testing.T) {
	types := ParseTypeTag("]if")
	require.Len(t, types, 2)
	assert.Equal(t, TypeInt, types[0].Simple)
	assert.Equal(t, TypeFloat, types[1].Simple)
}

func TestParseTypeTag_Empty(t *testing.T) {
	assert.Empty(t, ParseTypeTag(""))
}

func TestTypeTagString_RoundTrip(t *testing.T) {
	cases := []string{
		"",
		"if",
		"if[si]Nb",
		"[s[if]b]",
		"s[iF]",
		"TFNI",
	}
	for _, tag := range cases {
		t.Run(tag, func(t *testing.T) {
			assert.Equal(t, tag, TypeTagString(ParseTypeTag(tag)))
		})
	}
}

func TestTypeEqual(t *testing.T) {
	a := ArrayType(NewType(TypeInt), NewType(TypeFalse))
	b := ArrayType(NewType(TypeInt), NewType(TypeFalse))
	c := ArrayType(NewType(TypeInt))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(NewType(TypeInt)))
	assert.True(t, NewType(TypeFloat).Equal(NewType(TypeFloat)))
}
