package jsbridge

import "math"

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
)

// Value is the structured value model shared by every conversion boundary.
// The zero Value is Null.
type Value struct {
	kind Kind
	data any
}

// Member is one key/value pair of a mapping.
type Member struct {
	Key   string
	Value Value
}

type numberForm uint8

const (
	numberInt numberForm = iota
	numberUint
	numberFloat
)

// Number keeps the integer/float distinction of the wire format. Unsigned
// form is only used for integers above math.MaxInt64.
type Number struct {
	form numberForm
	i    int64
	u    uint64
	f    float64
}

func IntNumber(i int64) Number { return Number{form: numberInt, i: i} }

func UintNumber(u uint64) Number {
	if u <= math.MaxInt64 {
		return Number{form: numberInt, i: int64(u)}
	}
	return Number{form: numberUint, u: u}
}

func FloatNumber(f float64) Number { return Number{form: numberFloat, f: f} }

// IsInteger reports whether n was produced from an integer.
func (n Number) IsInteger() bool { return n.form != numberFloat }

// IsUnsigned reports whether n is an integer too large for int64.
func (n Number) IsUnsigned() bool { return n.form == numberUint }

func (n Number) Int64() int64 {
	switch n.form {
	case numberUint:
		return int64(n.u)
	case numberFloat:
		return int64(n.f)
	default:
		return n.i
	}
}

func (n Number) Uint64() uint64 {
	switch n.form {
	case numberUint:
		return n.u
	case numberFloat:
		return uint64(n.f)
	default:
		return uint64(n.i)
	}
}

func (n Number) Float64() float64 {
	switch n.form {
	case numberUint:
		return float64(n.u)
	case numberFloat:
		return n.f
	default:
		return float64(n.i)
	}
}

func (n Number) Equal(other Number) bool {
	if n.form != other.form {
		return false
	}
	switch n.form {
	case numberUint:
		return n.u == other.u
	case numberFloat:
		return n.f == other.f || (math.IsNaN(n.f) && math.IsNaN(other.f))
	default:
		return n.i == other.i
	}
}

type mapping struct {
	members []Member
	index   map[string]int
}

func newMapping(size int) *mapping {
	return &mapping{
		members: make([]Member, 0, size),
		index:   make(map[string]int, size),
	}
}

// set replaces the value of an existing key in place, so the first position
// of a key is kept.
func (m *mapping) set(key string, val Value) {
	if idx, ok := m.index[key]; ok {
		m.members[idx].Value = val
		return
	}
	m.index[key] = len(m.members)
	m.members = append(m.members, Member{Key: key, Value: val})
}
