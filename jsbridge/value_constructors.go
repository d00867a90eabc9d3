package jsbridge

import (
	"math/big"
	"slices"
)

func NewNull() Value              { return Value{kind: KindNull} }
func NewBool(b bool) Value        { return Value{kind: KindBool, data: b} }
func NewInt(i int64) Value        { return Value{kind: KindNumber, data: IntNumber(i)} }
func NewUint(u uint64) Value      { return Value{kind: KindNumber, data: UintNumber(u)} }
func NewFloat(f float64) Value    { return Value{kind: KindNumber, data: FloatNumber(f)} }
func NewNumber(n Number) Value    { return Value{kind: KindNumber, data: n} }
func NewString(s string) Value    { return Value{kind: KindString, data: s} }
func NewSequence(s []Value) Value { return Value{kind: KindSequence, data: s} }
func NewBigInt(b *big.Int) Value  { return NewString(b.String()) }
func NewMapping(members ...Member) Value {
	m := newMapping(len(members))
	for _, member := range members {
		m.set(member.Key, member.Value)
	}
	return Value{kind: KindMapping, data: m}
}

// NewMappingFromMap builds a mapping with keys in sorted order, since Go maps
// carry no order of their own.
func NewMappingFromMap(entries map[string]Value) Value {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	m := newMapping(len(keys))
	for _, key := range keys {
		m.set(key, entries[key])
	}
	return Value{kind: KindMapping, data: m}
}

// M is shorthand for building a Member.
func M(key string, val Value) Member { return Member{Key: key, Value: val} }
