package bencode

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDictExample(t *testing.T) {
	v := NewDict()
	v.Set("a", Int64(1))
	v.Set("b", NewList(Int64(2), Str("three")))

	var buf bytes.Buffer
	require.NoError(t, v.Encode(&buf))
	assert.Equal(t, "d1:ai1e1:bli2e5:threeee", buf.String())
}

func TestDecodeDictExample(t *testing.T) {
	v, err := Decode(strings.NewReader("d1:ai1e1:bli2e5:threeee"))
	require.NoError(t, err)

	want := NewDict()
	want.Set("a", Int64(1))
	want.Set("b", NewList(Int64(2), Str("three")))
	assert.True(t, v.Equal(want))
}

func TestRoundTripIsIdentity(t *testing.T) {
	inputs := []string{
		"i0e",
		"i-42e",
		"4:spam",
		"0:",
		"le",
		"l4:spam4:eggse",
		"de",
		"d3:cow3:moo4:spam4:eggse",
		"d4:spaml1:a1:bee",
	}
	for _, in := range inputs {
		v, err := Decode(strings.NewReader(in))
		require.NoError(t, err, in)
		assert.Equal(t, in, string(v.EncodeToBytes()), in)
	}
}

func TestDecodeRejectsNonMinimalInteger(t *testing.T) {
	for _, in := range []string{"i03e", "i-0e", "i-03e"} {
		_, err := Decode(strings.NewReader(in))
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	for _, in := range []string{"i1", "5:abc", "l4:spam", "d3:cow"} {
		_, err := Decode(strings.NewReader(in))
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestDecodeRejectsUnknownLeadingByte(t *testing.T) {
	_, err := Decode(strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsDuplicateKeys(t *testing.T) {
	_, err := Decode(strings.NewReader("d1:ai1e1:ai2ee"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDictEncodesKeysInAscendingOrder(t *testing.T) {
	v := NewDict()
	v.Set("z", Int64(1))
	v.Set("a", Int64(2))
	v.Set("m", Int64(3))

	assert.Equal(t, "d1:ai2e1:mi3e1:zi1ee", string(v.EncodeToBytes()))
}
