package profiletree

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/behrlich/go-measure/internal/logging"
)

// ValueKind tags the representation of a metric value.
type ValueKind uint8

const (
	ValueUint64 ValueKind = iota
	ValueDouble
	ValueComplex
	valueKindCount
)

// Value is a tagged metric value. The closed capability set --
// combine, clone, serialize -- dispatches over the kind tag; there is
// no open class hierarchy behind it.
type Value struct {
	Kind ValueKind
	u    uint64
	d    float64
	im   float64
}

// Uint64Value wraps an integer metric value.
func Uint64Value(v uint64) Value {
	return Value{Kind: ValueUint64, u: v}
}

// DoubleValue wraps a floating-point metric value.
func DoubleValue(v float64) Value {
	return Value{Kind: ValueDouble, d: v}
}

// ComplexValue wraps a complex metric value.
func ComplexValue(re, im float64) Value {
	return Value{Kind: ValueComplex, d: re, im: im}
}

// Uint64 returns the integer representation.
func (v Value) Uint64() uint64 {
	switch v.Kind {
	case ValueUint64:
		return v.u
	case ValueDouble:
		return uint64(v.d)
	default:
		return uint64(v.d)
	}
}

// Double returns the floating-point representation.
func (v Value) Double() float64 {
	switch v.Kind {
	case ValueUint64:
		return float64(v.u)
	default:
		return v.d
	}
}

// valueOps is the dispatch table over the closed capability set.
type valueOps struct {
	combine   func(a, b Value) Value
	serialize func(v Value, buf []byte) []byte
	format    func(v Value) string
}

var valueDispatch = [valueKindCount]valueOps{
	ValueUint64: {
		combine: func(a, b Value) Value { return Uint64Value(a.u + b.Uint64()) },
		serialize: func(v Value, buf []byte) []byte {
			return binary.LittleEndian.AppendUint64(buf, v.u)
		},
		format: func(v Value) string { return strconv.FormatUint(v.u, 10) },
	},
	ValueDouble: {
		combine: func(a, b Value) Value { return DoubleValue(a.d + b.Double()) },
		serialize: func(v Value, buf []byte) []byte {
			return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.d))
		},
		format: func(v Value) string {
			return strconv.FormatFloat(v.d, 'g', -1, 64)
		},
	},
	ValueComplex: {
		combine: func(a, b Value) Value {
			return ComplexValue(a.d+b.d, a.im+b.im)
		},
		serialize: func(v Value, buf []byte) []byte {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.d))
			return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.im))
		},
		format: func(v Value) string {
			return strconv.FormatFloat(v.d, 'g', -1, 64) + "+" +
				strconv.FormatFloat(v.im, 'g', -1, 64) + "i"
		},
	},
}

func (v Value) ops() *valueOps {
	logging.BugOn(v.Kind >= valueKindCount, "Invalid metric value kind %d", v.Kind)
	return &valueDispatch[v.Kind]
}

// Combine folds other into v. Mixed kinds coerce to v's kind.
func (v Value) Combine(other Value) Value {
	return v.ops().combine(v, other)
}

// Clone returns an independent copy.
func (v Value) Clone() Value {
	return v
}

// Serialize appends the value's wire form to buf.
func (v Value) Serialize(buf []byte) []byte {
	return v.ops().serialize(v, buf)
}

// String formats the value for diagnostics.
func (v Value) String() string {
	return v.ops().format(v)
}
