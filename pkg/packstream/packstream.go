// Package packstream implements PackStream, the self-describing big-endian
// binary serialisation format that underpins Bolt message bodies.
//
// The value domain is closed: nil, bool, int64, float64, string, []any
// (List), Dict (an ordered slice of key/value pairs) and Structure (a
// single-byte tag plus an ordered field list). Pack chooses the smallest
// legal encoding for integers and container sizes; Unpack is bit-exact with
// whatever Pack would have produced for the same logical value.
package packstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Error kinds returned by Pack/Unpack. Wrap these with fmt.Errorf("%w: ...")
// for additional context; callers should check with errors.Is.
var (
	ErrOutOfRange = errors.New("packstream: value out of packable range")
	ErrBadMarker  = errors.New("packstream: reserved or unknown marker byte")
	ErrBadUtf8    = errors.New("packstream: string payload is not valid UTF-8")
	ErrTruncated  = errors.New("packstream: buffer ended mid-value")
)

// Marker bytes, per the PackStream spec.
const (
	markerNull  byte = 0xC0
	markerFalse byte = 0xC2
	markerTrue  byte = 0xC3
	markerFloat byte = 0xC1

	markerInt8  byte = 0xC8
	markerInt16 byte = 0xC9
	markerInt32 byte = 0xCA
	markerInt64 byte = 0xCB

	markerTinyStringBase byte = 0x80
	markerString8        byte = 0xD0
	markerString16       byte = 0xD1
	markerString32       byte = 0xD2

	markerTinyListBase byte = 0x90
	markerList8        byte = 0xD4
	markerList16       byte = 0xD5
	markerList32       byte = 0xD6

	markerTinyDictBase byte = 0xA0
	markerDict8        byte = 0xD8
	markerDict16       byte = 0xD9
	markerDict32       byte = 0xDA

	markerTinyStructBase byte = 0xB0
	markerStruct8        byte = 0xDC
	markerStruct16       byte = 0xDD
)

// Structure is a composite value carrying a single-byte tag (high bit
// clear) and an ordered sequence of fields. Bolt messages are Structures.
type Structure struct {
	Tag    byte
	Fields []any
}

// DictEntry is one key/value pair of a Dict, preserving wire order.
type DictEntry struct {
	Key   string
	Value any
}

// Dict is an ordered sequence of key/value pairs. Order is preserved on
// decode but is semantically unordered on the wire: two Dicts with the same
// pairs in different orders are considered equal by Equal.
type Dict []DictEntry

// Get returns the value for the first entry with the given key.
func (d Dict) Get(key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func isReservedMarker(b byte) bool {
	switch {
	case b >= 0xC4 && b <= 0xC7:
		return true
	case b >= 0xCC && b <= 0xCF:
		return true
	case b == 0xD3:
		return true
	case b == 0xD7:
		return true
	case b == 0xDB:
		return true
	case b >= 0xDE && b <= 0xEF:
		return true
	default:
		return false
	}
}

// Pack serialises values in order into a single byte slice.
func Pack(values ...any) ([]byte, error) {
	buf := make([]byte, 0, 64)
	for _, v := range values {
		var err error
		buf, err = packValue(buf, v)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func packValue(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, markerNull), nil
	case bool:
		if x {
			return append(buf, markerTrue), nil
		}
		return append(buf, markerFalse), nil
	case int:
		return packInt(buf, int64(x))
	case int32:
		return packInt(buf, int64(x))
	case int64:
		return packInt(buf, x)
	case float64:
		return packFloat(buf, x)
	case string:
		return packString(buf, x)
	case []any:
		return packList(buf, x)
	case Dict:
		return packDict(buf, x)
	case Structure:
		return packStructure(buf, x)
	default:
		return nil, fmt.Errorf("%w: cannot pack Go value of type %T", ErrOutOfRange, v)
	}
}

// packInt chooses the narrowest of TINY_INT/INT_8/INT_16/INT_32/INT_64 that
// can represent n, per the minimal-encoding table in spec §4.1.
func packInt(buf []byte, n int64) ([]byte, error) {
	switch {
	case n >= -0x10 && n < 0x80:
		return append(buf, byte(n)), nil
	case n >= -0x80 && n < 0x80:
		return append(buf, markerInt8, byte(n)), nil
	case n >= -0x8000 && n < 0x8000:
		buf = append(buf, markerInt16)
		return appendUint16(buf, uint16(n)), nil
	case n >= -0x80000000 && n < 0x80000000:
		buf = append(buf, markerInt32)
		return appendUint32(buf, uint32(n)), nil
	default:
		buf = append(buf, markerInt64)
		return appendUint64(buf, uint64(n)), nil
	}
}

func packFloat(buf []byte, f float64) ([]byte, error) {
	buf = append(buf, markerFloat)
	return appendUint64(buf, math.Float64bits(f)), nil
}

func packString(buf []byte, s string) ([]byte, error) {
	size := len(s)
	switch {
	case size < 0x10:
		buf = append(buf, markerTinyStringBase+byte(size))
	case size < 0x100:
		buf = append(buf, markerString8, byte(size))
	case size < 0x10000:
		buf = append(buf, markerString16)
		buf = appendUint16(buf, uint16(size))
	case int64(size) < 0x100000000:
		buf = append(buf, markerString32)
		buf = appendUint32(buf, uint32(size))
	default:
		return nil, fmt.Errorf("%w: string of %d bytes exceeds u32", ErrOutOfRange, size)
	}
	return append(buf, s...), nil
}

func packList(buf []byte, list []any) ([]byte, error) {
	size := len(list)
	var err error
	switch {
	case size < 0x10:
		buf = append(buf, markerTinyListBase+byte(size))
	case size < 0x100:
		buf = append(buf, markerList8, byte(size))
	case size < 0x10000:
		buf = append(buf, markerList16)
		buf = appendUint16(buf, uint16(size))
	case int64(size) < 0x100000000:
		buf = append(buf, markerList32)
		buf = appendUint32(buf, uint32(size))
	default:
		return nil, fmt.Errorf("%w: list of %d elements exceeds u32", ErrOutOfRange, size)
	}
	for _, item := range list {
		buf, err = packValue(buf, item)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func packDict(buf []byte, dict Dict) ([]byte, error) {
	size := len(dict)
	var err error
	switch {
	case size < 0x10:
		buf = append(buf, markerTinyDictBase+byte(size))
	case size < 0x100:
		buf = append(buf, markerDict8, byte(size))
	case size < 0x10000:
		buf = append(buf, markerDict16)
		buf = appendUint16(buf, uint16(size))
	case int64(size) < 0x100000000:
		buf = append(buf, markerDict32)
		buf = appendUint32(buf, uint32(size))
	default:
		return nil, fmt.Errorf("%w: dict of %d entries exceeds u32", ErrOutOfRange, size)
	}
	for _, e := range dict {
		buf, err = packValue(buf, e.Key)
		if err != nil {
			return nil, err
		}
		buf, err = packValue(buf, e.Value)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func packStructure(buf []byte, s Structure) ([]byte, error) {
	if s.Tag&0x80 != 0 {
		return nil, fmt.Errorf("%w: structure tag 0x%02X has high bit set", ErrOutOfRange, s.Tag)
	}
	size := len(s.Fields)
	var err error
	switch {
	case size < 0x10:
		buf = append(buf, markerTinyStructBase+byte(size))
	case size < 0x100:
		buf = append(buf, markerStruct8, byte(size))
	case size < 0x10000:
		buf = append(buf, markerStruct16)
		buf = appendUint16(buf, uint16(size))
	default:
		return nil, fmt.Errorf("%w: structure of %d fields exceeds u16", ErrOutOfRange, size)
	}
	buf = append(buf, s.Tag)
	for _, f := range s.Fields {
		buf, err = packValue(buf, f)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// Unpack decodes a single value from buf starting at offset, returning the
// value and the offset immediately following it.
func Unpack(buf []byte, offset int) (any, int, error) {
	if offset >= len(buf) {
		return nil, offset, fmt.Errorf("%w: no marker byte at offset %d", ErrTruncated, offset)
	}
	marker := buf[offset]
	offset++

	switch {
	case marker == markerNull:
		return nil, offset, nil
	case marker == markerTrue:
		return true, offset, nil
	case marker == markerFalse:
		return false, offset, nil
	case marker < 0x80:
		return int64(marker), offset, nil
	case marker >= 0xF0:
		return int64(marker) - 0x100, offset, nil
	case marker == markerInt8:
		return unpackInt8(buf, offset)
	case marker == markerInt16:
		return unpackInt16(buf, offset)
	case marker == markerInt32:
		return unpackInt32(buf, offset)
	case marker == markerInt64:
		return unpackInt64(buf, offset)
	case marker == markerFloat:
		return unpackFloat(buf, offset)
	case marker >= 0x80 && marker < 0x90:
		return unpackString(buf, offset, int(marker&0x0F))
	case marker == markerString8:
		return unpackSizedString(buf, offset, 1)
	case marker == markerString16:
		return unpackSizedString(buf, offset, 2)
	case marker == markerString32:
		return unpackSizedString(buf, offset, 4)
	case marker >= 0x90 && marker < 0xA0:
		return unpackList(buf, offset, int(marker&0x0F))
	case marker == markerList8:
		return unpackSizedList(buf, offset, 1)
	case marker == markerList16:
		return unpackSizedList(buf, offset, 2)
	case marker == markerList32:
		return unpackSizedList(buf, offset, 4)
	case marker >= 0xA0 && marker < 0xB0:
		return unpackDict(buf, offset, int(marker&0x0F))
	case marker == markerDict8:
		return unpackSizedDict(buf, offset, 1)
	case marker == markerDict16:
		return unpackSizedDict(buf, offset, 2)
	case marker == markerDict32:
		return unpackSizedDict(buf, offset, 4)
	case marker >= 0xB0 && marker < 0xC0:
		return unpackStructure(buf, offset, int(marker&0x0F))
	case marker == markerStruct8:
		return unpackSizedStructure(buf, offset, 1)
	case marker == markerStruct16:
		return unpackSizedStructure(buf, offset, 2)
	case isReservedMarker(marker):
		return nil, offset, fmt.Errorf("%w: 0x%02X", ErrBadMarker, marker)
	default:
		return nil, offset, fmt.Errorf("%w: 0x%02X", ErrBadMarker, marker)
	}
}

func need(buf []byte, offset, n int) error {
	if offset+n > len(buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, offset, len(buf)-offset)
	}
	return nil
}

func unpackInt8(buf []byte, offset int) (any, int, error) {
	if err := need(buf, offset, 1); err != nil {
		return nil, offset, err
	}
	return int64(int8(buf[offset])), offset + 1, nil
}

func unpackInt16(buf []byte, offset int) (any, int, error) {
	if err := need(buf, offset, 2); err != nil {
		return nil, offset, err
	}
	return int64(int16(binary.BigEndian.Uint16(buf[offset:]))), offset + 2, nil
}

func unpackInt32(buf []byte, offset int) (any, int, error) {
	if err := need(buf, offset, 4); err != nil {
		return nil, offset, err
	}
	return int64(int32(binary.BigEndian.Uint32(buf[offset:]))), offset + 4, nil
}

func unpackInt64(buf []byte, offset int) (any, int, error) {
	if err := need(buf, offset, 8); err != nil {
		return nil, offset, err
	}
	return int64(binary.BigEndian.Uint64(buf[offset:])), offset + 8, nil
}

func unpackFloat(buf []byte, offset int) (any, int, error) {
	if err := need(buf, offset, 8); err != nil {
		return nil, offset, err
	}
	bits := binary.BigEndian.Uint64(buf[offset:])
	return math.Float64frombits(bits), offset + 8, nil
}

func readSize(buf []byte, offset, width int) (int, int, error) {
	if err := need(buf, offset, width); err != nil {
		return 0, offset, err
	}
	switch width {
	case 1:
		return int(buf[offset]), offset + 1, nil
	case 2:
		return int(binary.BigEndian.Uint16(buf[offset:])), offset + 2, nil
	case 4:
		return int(binary.BigEndian.Uint32(buf[offset:])), offset + 4, nil
	default:
		panic("packstream: unsupported size width")
	}
}

func unpackString(buf []byte, offset, size int) (any, int, error) {
	if err := need(buf, offset, size); err != nil {
		return nil, offset, err
	}
	raw := buf[offset : offset+size]
	if !utf8.Valid(raw) {
		return nil, offset, ErrBadUtf8
	}
	return string(raw), offset + size, nil
}

func unpackSizedString(buf []byte, offset, width int) (any, int, error) {
	size, offset, err := readSize(buf, offset, width)
	if err != nil {
		return nil, offset, err
	}
	return unpackString(buf, offset, size)
}

func unpackList(buf []byte, offset, size int) (any, int, error) {
	list := make([]any, 0, size)
	for i := 0; i < size; i++ {
		var v any
		var err error
		v, offset, err = Unpack(buf, offset)
		if err != nil {
			return nil, offset, err
		}
		list = append(list, v)
	}
	return list, offset, nil
}

func unpackSizedList(buf []byte, offset, width int) (any, int, error) {
	size, offset, err := readSize(buf, offset, width)
	if err != nil {
		return nil, offset, err
	}
	return unpackList(buf, offset, size)
}

func unpackDict(buf []byte, offset, size int) (any, int, error) {
	dict := make(Dict, 0, size)
	for i := 0; i < size; i++ {
		var k, v any
		var err error
		k, offset, err = Unpack(buf, offset)
		if err != nil {
			return nil, offset, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, offset, fmt.Errorf("%w: dict key must be a string, got %T", ErrBadMarker, k)
		}
		v, offset, err = Unpack(buf, offset)
		if err != nil {
			return nil, offset, err
		}
		dict = append(dict, DictEntry{Key: key, Value: v})
	}
	return dict, offset, nil
}

func unpackSizedDict(buf []byte, offset, width int) (any, int, error) {
	size, offset, err := readSize(buf, offset, width)
	if err != nil {
		return nil, offset, err
	}
	return unpackDict(buf, offset, size)
}

func unpackStructure(buf []byte, offset, size int) (any, int, error) {
	if err := need(buf, offset, 1); err != nil {
		return nil, offset, err
	}
	tag := buf[offset]
	offset++
	fields := make([]any, 0, size)
	for i := 0; i < size; i++ {
		var v any
		var err error
		v, offset, err = Unpack(buf, offset)
		if err != nil {
			return nil, offset, err
		}
		fields = append(fields, v)
	}
	return Structure{Tag: tag, Fields: fields}, offset, nil
}

func unpackSizedStructure(buf []byte, offset, width int) (any, int, error) {
	size, offset, err := readSize(buf, offset, width)
	if err != nil {
		return nil, offset, err
	}
	return unpackStructure(buf, offset, size)
}

// UnpackAll decodes values from buf until it is fully consumed, mirroring
// the Python implementation's stream-style unpack_all.
func UnpackAll(buf []byte) ([]any, error) {
	var out []any
	offset := 0
	for offset < len(buf) {
		v, next, err := Unpack(buf, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		offset = next
	}
	return out, nil
}

// Equal reports whether two decoded values are structurally equal using
// JSON semantics: numbers compare by value (an int64 and a float64 of the
// same magnitude are equal), strings by codepoint, lists/dicts recursively,
// and dict entry order is irrelevant.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case int64:
		return numericEqual(float64(av), b)
	case float64:
		return numericEqual(av, b)
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Dict:
		bv, ok := b.(Dict)
		if !ok || len(av) != len(bv) {
			return false
		}
		return dictEqual(av, bv)
	case Structure:
		bv, ok := b.(Structure)
		if !ok || av.Tag != bv.Tag || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if !Equal(av.Fields[i], bv.Fields[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func numericEqual(av float64, b any) bool {
	switch bv := b.(type) {
	case int64:
		return av == float64(bv)
	case float64:
		return av == bv
	default:
		return false
	}
}

func dictEqual(a, b Dict) bool {
	used := make([]bool, len(b))
	for _, ea := range a {
		found := false
		for i, eb := range b {
			if used[i] || ea.Key != eb.Key {
				continue
			}
			if Equal(ea.Value, eb.Value) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
