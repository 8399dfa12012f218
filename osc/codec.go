package osc

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/defektu/oscquery/errors"
)

// Message is a single OSC 1.0 message: an address pattern plus its decoded
// argument values in tag order.
type Message struct {
	Path string
	Args []any
}

// align rounds n up to the next 4-byte boundary.
func align(n int) int {
	return (n + 3) &^ 3
}

// Decode parses a single OSC 1.0 message from data. It returns
// errors.ErrMalformedPacket when not even an address can be framed. A packet
// truncated mid-argument yields the successfully decoded prefix.
func Decode(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, errors.WrapInvalid(errors.ErrMalformedPacket, "osc", "Decode", "packet shorter than 4 bytes")
	}

	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		return nil, errors.WrapInvalid(errors.ErrMalformedPacket, "osc", "Decode", "unterminated address")
	}

	msg := &Message{
		Path: string(data[:nul]),
		Args: []any{},
	}

	cursor := align(nul + 1)
	if cursor >= len(data) || data[cursor] != ',' {
		// No type tag string: a message with zero arguments.
		return msg, nil
	}

	tagEnd := bytes.IndexByte(data[cursor:], 0)
	if tagEnd < 0 {
		return msg, nil
	}
	tags := string(data[cursor+1 : cursor+tagEnd])
	cursor += align(tagEnd + 1)

	for i := 0; i < len(tags); i++ {
		arg, consumed, ok := decodeArg(tags[i], data[cursor:])
		if !ok {
			// Truncated argument: keep the decoded prefix.
			return msg, nil
		}
		if consumed < 0 {
			// Unknown or non-value tag character, no cursor advancement.
			continue
		}
		msg.Args = append(msg.Args, arg)
		cursor += consumed
	}

	return msg, nil
}

// decodeArg decodes one argument for tag from rest. It returns the value and
// the number of bytes consumed. ok=false signals truncation; consumed=-1
// signals a tag that yields no argument (unknown tags, array brackets).
func decodeArg(tag byte, rest []byte) (any, int, bool) {
	switch tag {
	case 'i':
		if len(rest) < 4 {
			return nil, 0, false
		}
		return int32(binary.BigEndian.Uint32(rest)), 4, true

	case 'f':
		if len(rest) < 4 {
			return nil, 0, false
		}
		return math.Float32frombits(binary.BigEndian.Uint32(rest)), 4, true

	case 's', 'S':
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, 0, false
		}
		return string(rest[:nul]), align(nul + 1), true

	case 'b':
		if len(rest) < 4 {
			return nil, 0, false
		}
		size := int(binary.BigEndian.Uint32(rest))
		if size < 0 || len(rest) < 4+size {
			return nil, 0, false
		}
		blob := make([]byte, size)
		copy(blob, rest[4:4+size])
		return blob, 4 + align(size), true

	case 'h':
		if len(rest) < 8 {
			return nil, 0, false
		}
		return int64(binary.BigEndian.Uint64(rest)), 8, true

	case 't':
		if len(rest) < 8 {
			return nil, 0, false
		}
		return TimeTag{
			Seconds:  binary.BigEndian.Uint32(rest),
			Fraction: binary.BigEndian.Uint32(rest[4:]),
		}, 8, true

	case 'd':
		if len(rest) < 8 {
			return nil, 0, false
		}
		return math.Float64frombits(binary.BigEndian.Uint64(rest)), 8, true

	case 'c':
		if len(rest) < 4 {
			return nil, 0, false
		}
		return rune(binary.BigEndian.Uint32(rest)), 4, true

	case 'r':
		if len(rest) < 4 {
			return nil, 0, false
		}
		return RGBA{R: rest[0], G: rest[1], B: rest[2], A: rest[3]}, 4, true

	case 'm':
		if len(rest) < 4 {
			return nil, 0, false
		}
		return MIDI{Port: rest[0], Status: rest[1], Data1: rest[2], Data2: rest[3]}, 4, true

	case 'T':
		return true, 0, true
	case 'F':
		return false, 0, true
	case 'N':
		return nil, 0, true
	case 'I':
		return math.Inf(1), 0, true

	default:
		// Array brackets and unknown tags produce no argument.
		return nil, -1, true
	}
}

// Encode builds the OSC 1.0 wire form for a message. Unsupported argument
// types are skipped; their indices are returned so callers can log them.
// The returned buffer length is always a multiple of 4.
func Encode(path string, args []any) (data []byte, skipped []int) {
	var tags bytes.Buffer
	var payload bytes.Buffer
	tags.WriteByte(',')

	for i, arg := range args {
		if !encodeArg(&tags, &payload, arg) {
			skipped = append(skipped, i)
		}
	}

	var buf bytes.Buffer
	writePaddedString(&buf, path)
	writePaddedString(&buf, tags.String())
	buf.Write(payload.Bytes())
	return buf.Bytes(), skipped
}

// encodeArg appends one argument's tag and payload. It reports false for
// unsupported types.
func encodeArg(tags, payload *bytes.Buffer, arg any) bool {
	switch v := arg.(type) {
	case nil:
		tags.WriteByte('N')
		return true

	case bool:
		if v {
			tags.WriteByte('T')
		} else {
			tags.WriteByte('F')
		}
		return true

	case string:
		tags.WriteByte('s')
		writePaddedString(payload, v)
		return true

	case []byte:
		tags.WriteByte('b')
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(v)))
		payload.Write(size[:])
		payload.Write(v)
		for i := len(v); i%4 != 0; i++ {
			payload.WriteByte(0)
		}
		return true

	default:
		f, ok := asFloat64(arg)
		if !ok {
			return false
		}
		return encodeNumber(tags, payload, f)
	}
}

// encodeNumber picks INT for exact integers within int32 range, FLOAT
// otherwise.
func encodeNumber(tags, payload *bytes.Buffer, f float64) bool {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		tags.WriteByte('i')
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(int32(f)))
		payload.Write(b[:])
		return true
	}

	tags.WriteByte('f')
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(float32(f)))
	payload.Write(b[:])
	return true
}

// asFloat64 widens any Go numeric value. Infinities and NaN are rejected so
// they do not round-trip as garbage int32s.
func asFloat64(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// writePaddedString writes s NUL-terminated and padded to a 4-byte boundary.
func writePaddedString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

// IsOSCFrame reports whether a WebSocket frame payload should be treated as
// a binary OSC message: OSC address patterns start with '/' or '#'.
func IsOSCFrame(data []byte) bool {
	return len(data) > 0 && (data[0] == '/' || data[0] == '#')
}
