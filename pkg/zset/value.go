package zset

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind is the type of a single tuple element.
type Kind uint8

const (
	// KindAny matches every kind in a schema. It is never the kind of a concrete value.
	KindAny Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
)

var kindNames = map[Kind]string{
	KindAny:    "any",
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind returns the kind for a name as printed by Kind.String.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == strings.ToLower(name) {
			return k, nil
		}
	}
	return KindAny, errors.Newf("unknown kind %q", name)
}

// ErrInvalidValue marks values that cannot be stored in a tuple.
var ErrInvalidValue = errors.New("invalid value")

// KindOf returns the kind of a normalized value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case string:
		return KindString
	default:
		return KindAny
	}
}

// Normalize converts a Go value to one of the canonical element types (nil, bool, int64,
// float64, string). -0.0 becomes 0.0 and every NaN becomes the same NaN.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int64, string:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, errors.Mark(errors.Newf("unsigned value %d overflows int64", x), ErrInvalidValue)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, errors.Mark(errors.Newf("unsigned value %d overflows int64", x), ErrInvalidValue)
		}
		return int64(x), nil
	case float32:
		return canonicalFloat(float64(x)), nil
	case float64:
		return canonicalFloat(x), nil
	default:
		return nil, errors.Mark(errors.Newf("unsupported value type %T", v), ErrInvalidValue)
	}
}

func canonicalFloat(f float64) float64 {
	if f == 0 {
		return 0
	}
	if math.IsNaN(f) {
		return math.NaN()
	}
	return f
}

// CompareValues orders two normalized values: first by kind, then by value.
func CompareValues(a, b any) int {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return cmp.Compare(ka, kb)
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case int64:
		return cmp.Compare(x, b.(int64))
	case float64:
		return cmp.Compare(x, b.(float64))
	case string:
		return strings.Compare(x, b.(string))
	}
	return 0
}

// Value encoding tags. The order of the tags follows the kind order so that encoded keys sort
// like the values they encode.
const (
	tagNull   byte = 0x01
	tagFalse  byte = 0x02
	tagTrue   byte = 0x03
	tagInt    byte = 0x04
	tagFloat  byte = 0x05
	tagString byte = 0x06

	escape     byte = 0x00
	escapedNul byte = 0xff
	terminator byte = 0x01
)

// appendValue appends the order-preserving encoding of a normalized value.
func appendValue(buf []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(buf, tagNull)
	case bool:
		if x {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case int64:
		buf = append(buf, tagInt)
		return binary.BigEndian.AppendUint64(buf, uint64(x)^(1<<63))
	case float64:
		buf = append(buf, tagFloat)
		if math.IsNaN(x) {
			// NaN sorts below every other float, as in cmp.Compare.
			return binary.BigEndian.AppendUint64(buf, 0)
		}
		bits := math.Float64bits(x)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return binary.BigEndian.AppendUint64(buf, bits)
	case string:
		buf = append(buf, tagString)
		for i := 0; i < len(x); i++ {
			if x[i] == escape {
				buf = append(buf, escape, escapedNul)
				continue
			}
			buf = append(buf, x[i])
		}
		return append(buf, escape, terminator)
	}
	panic(errors.AssertionFailedf("cannot encode non-normalized value of type %T", v))
}

// decodeValue decodes one value from the head of buf and returns the rest.
func decodeValue(buf []byte) (any, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, errors.Mark(errors.New("unexpected end of tuple encoding"), ErrInvalidValue)
	}
	tag, buf := buf[0], buf[1:]
	switch tag {
	case tagNull:
		return nil, buf, nil
	case tagFalse:
		return false, buf, nil
	case tagTrue:
		return true, buf, nil
	case tagInt:
		if len(buf) < 8 {
			return nil, nil, errors.Mark(errors.New("truncated int"), ErrInvalidValue)
		}
		return int64(binary.BigEndian.Uint64(buf) ^ (1 << 63)), buf[8:], nil
	case tagFloat:
		if len(buf) < 8 {
			return nil, nil, errors.Mark(errors.New("truncated float"), ErrInvalidValue)
		}
		bits := binary.BigEndian.Uint64(buf)
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), buf[8:], nil
	case tagString:
		var sb strings.Builder
		for i := 0; i < len(buf); i++ {
			if buf[i] != escape {
				sb.WriteByte(buf[i])
				continue
			}
			if i+1 >= len(buf) {
				break
			}
			switch buf[i+1] {
			case terminator:
				return sb.String(), buf[i+2:], nil
			case escapedNul:
				sb.WriteByte(escape)
				i++
			default:
				return nil, nil, errors.Mark(errors.Newf("invalid escape 0x%02x", buf[i+1]), ErrInvalidValue)
			}
		}
		return nil, nil, errors.Mark(errors.New("unterminated string"), ErrInvalidValue)
	default:
		return nil, nil, errors.Mark(errors.Newf("unknown value tag 0x%02x", tag), ErrInvalidValue)
	}
}
