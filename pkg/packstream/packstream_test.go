package packstream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackIntegerMinimalEncoding(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want []byte
	}{
		{"tiny positive", 42, []byte{0x2A}},
		{"tiny negative boundary", -16, []byte{0xF0}},
		{"int8 negative", -17, []byte{0xC8, 0xEF}},
		{"int8 max", 127, []byte{0x7F}},
		{"int32 positive past int16 max", 32768, []byte{0xCA, 0x00, 0x00, 0x80, 0x00}},
		{"int32 negative boundary", -2147483649, []byte{0xCB, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F, 0xFF, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pack(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			v, n, err := Unpack(got, 0)
			require.NoError(t, err)
			assert.Equal(t, len(got), n)
			assert.Equal(t, tt.in, v)
		})
	}
}

func TestPackIntegerOutOfRange(t *testing.T) {
	// int64 cannot exceed its own range; exercise the structure overflow
	// path instead, which shares the same error kind (a list or dict would
	// need 2^32 elements to overflow).
	big := make([]any, 0)
	s := Structure{Tag: 0x01, Fields: big}
	_, err := Pack(s)
	require.NoError(t, err) // empty fields is fine; sanity check wiring

	_, err = Pack(Structure{Tag: 0x01, Fields: make([]any, 0x10000)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestStructureTagHighBitRejected(t *testing.T) {
	_, err := Pack(Structure{Tag: 0x80, Fields: nil})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestRoundTripValues(t *testing.T) {
	values := []any{
		nil,
		true,
		false,
		int64(0),
		int64(-1),
		int64(127),
		int64(128),
		int64(-129),
		float64(1.1),
		float64(-1.1),
		"",
		"A",
		"Größenmaßstäbe",
		[]any{},
		[]any{int64(1), int64(2), int64(3)},
		[]any{int64(1), float64(2.0), "three"},
		Dict{},
		Dict{{Key: "one", Value: "eins"}},
		Structure{Tag: 0x01, Fields: []any{int64(1), int64(2), int64(3)}},
	}
	for _, v := range values {
		packed, err := Pack(v)
		require.NoError(t, err)

		unpacked, n, err := Unpack(packed, 0)
		require.NoError(t, err)
		assert.Equal(t, len(packed), n)
		assert.True(t, Equal(v, unpacked), "round trip mismatch for %#v -> %#v", v, unpacked)

		// Canonical encoding: re-packing the unpacked value reproduces the
		// same bytes exactly.
		repacked, err := Pack(unpacked)
		require.NoError(t, err)
		assert.Equal(t, packed, repacked)
	}
}

func TestLongStringMarkers(t *testing.T) {
	s := "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	packed, err := Pack(s)
	require.NoError(t, err)
	require.Equal(t, byte(0xD0), packed[0])
	require.Equal(t, byte(26), packed[1])
}

func TestBigDictPacksWithD8Marker(t *testing.T) {
	dict := make(Dict, 0, 26)
	for i := 0; i < 26; i++ {
		dict = append(dict, DictEntry{Key: string(rune('A' + i)), Value: int64(i + 1)})
	}
	packed, err := Pack(dict)
	require.NoError(t, err)
	require.Equal(t, byte(0xD8), packed[0])
	require.Equal(t, byte(26), packed[1])

	v, _, err := Unpack(packed, 0)
	require.NoError(t, err)
	got, ok := v.(Dict)
	require.True(t, ok)
	for i := 0; i < 26; i++ {
		val, found := got.Get(string(rune('A' + i)))
		assert.True(t, found)
		assert.Equal(t, int64(i+1), val)
	}
}

func TestUnpackTruncated(t *testing.T) {
	_, _, err := Unpack([]byte{0xCA, 0x00, 0x00}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncated))
}

func TestUnpackBadMarker(t *testing.T) {
	for _, m := range []byte{0xC4, 0xCC, 0xD3, 0xD7, 0xDB, 0xDE, 0xEF} {
		_, _, err := Unpack([]byte{m}, 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBadMarker), "marker 0x%02X", m)
	}
}

func TestUnpackBadUtf8(t *testing.T) {
	// marker for tiny string of length 1 followed by an invalid UTF-8 byte.
	_, _, err := Unpack([]byte{0x81, 0xFF}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadUtf8))
}

func TestUnpackAll(t *testing.T) {
	packed, err := Pack(int64(1), "two", true)
	require.NoError(t, err)

	values, err := UnpackAll(packed)
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, int64(1), values[0])
	assert.Equal(t, "two", values[1])
	assert.Equal(t, true, values[2])
}

func TestDictOrderIrrelevantForEqual(t *testing.T) {
	a := Dict{{Key: "x", Value: int64(1)}, {Key: "y", Value: int64(2)}}
	b := Dict{{Key: "y", Value: int64(2)}, {Key: "x", Value: int64(1)}}
	assert.True(t, Equal(a, b))
}

func TestNumericEqualityAcrossIntFloat(t *testing.T) {
	assert.True(t, Equal(int64(2), float64(2.0)))
	assert.False(t, Equal(int64(2), float64(2.5)))
}
