package jsbridge

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() bool {
	if v.kind == KindBool {
		return v.data.(bool)
	}
	return false
}

func (v Value) Number() Number {
	if v.kind == KindNumber {
		return v.data.(Number)
	}
	return Number{}
}

// Text returns the string held by a string value and "" for every other kind.
func (v Value) Text() string {
	if v.kind == KindString {
		return v.data.(string)
	}
	return ""
}

func (v Value) Sequence() []Value {
	if v.kind != KindSequence {
		return nil
	}
	return v.data.([]Value)
}

// Members returns the mapping entries in order. The slice is shared with the
// value and must not be modified.
func (v Value) Members() []Member {
	if v.kind != KindMapping {
		return nil
	}
	return v.data.(*mapping).members
}

func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return NewNull(), false
	}
	m := v.data.(*mapping)
	idx, ok := m.index[key]
	if !ok {
		return NewNull(), false
	}
	return m.members[idx].Value, true
}

// Index returns the i-th element of a sequence.
func (v Value) Index(i int) (Value, bool) {
	seq := v.Sequence()
	if i < 0 || i >= len(seq) {
		return NewNull(), false
	}
	return seq[i], true
}

// Len returns the element count of a sequence or mapping and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.data.([]Value))
	case KindMapping:
		return len(v.data.(*mapping).members)
	default:
		return 0
	}
}
