package jsbridge

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// EncodeBinary renders v as MessagePack. Integers use their smallest encoding
// and floats are always float64, so DecodeBinary restores the exact value and
// its integer/float form.
func EncodeBinary(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := encodeBinaryValue(enc, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeBinaryValue(enc *msgpack.Encoder, v Value, depth int) error {
	if depth > MaxNestingDepth {
		return fmt.Errorf("msgpack: %w", ErrMaxDepth)
	}
	switch v.Kind() {
	case KindNull:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.Bool())
	case KindNumber:
		n := v.Number()
		switch {
		case n.IsUnsigned():
			return enc.EncodeUint(n.Uint64())
		case n.IsInteger():
			return enc.EncodeInt(n.Int64())
		default:
			return enc.EncodeFloat64(n.Float64())
		}
	case KindString:
		return enc.EncodeString(v.Text())
	case KindSequence:
		seq := v.Sequence()
		if err := enc.EncodeArrayLen(len(seq)); err != nil {
			return err
		}
		for _, elem := range seq {
			if err := encodeBinaryValue(enc, elem, depth+1); err != nil {
				return err
			}
		}
		return nil
	case KindMapping:
		members := v.Members()
		if err := enc.EncodeMapLen(len(members)); err != nil {
			return err
		}
		for _, member := range members {
			if err := enc.EncodeString(member.Key); err != nil {
				return err
			}
			if err := encodeBinaryValue(enc, member.Value, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("msgpack: %w: kind %s", ErrUnsupportedValue, v.Kind())
	}
}

// DecodeBinary parses exactly one MessagePack value from data.
func DecodeBinary(data []byte) (Value, error) {
	if len(data) == 0 {
		return NewNull(), fmt.Errorf("msgpack: %w", ErrEmptyDocument)
	}
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	d := &binaryDecoder{dec: dec, r: r}
	val, err := d.decode(0)
	if err != nil {
		return NewNull(), err
	}
	if r.Len() > 0 {
		return NewNull(), fmt.Errorf("msgpack: %w (%d bytes)", ErrTrailingData, r.Len())
	}
	return val, nil
}

type binaryDecoder struct {
	dec *msgpack.Decoder
	r   *bytes.Reader
}

// checkLen rejects container lengths that cannot fit in the remaining input,
// before anything is allocated for them.
func (d *binaryDecoder) checkLen(n int) error {
	if n > d.r.Len() {
		return fmt.Errorf("msgpack: declared length %d exceeds remaining %d bytes", n, d.r.Len())
	}
	return nil
}

func (d *binaryDecoder) decode(depth int) (Value, error) {
	if depth > MaxNestingDepth {
		return NewNull(), fmt.Errorf("msgpack: %w", ErrMaxDepth)
	}
	code, err := d.dec.PeekCode()
	if err != nil {
		return NewNull(), fmt.Errorf("msgpack: %w", err)
	}

	switch {
	case code == msgpcode.Nil:
		if err := d.dec.DecodeNil(); err != nil {
			return NewNull(), fmt.Errorf("msgpack: %w", err)
		}
		return NewNull(), nil
	case code == msgpcode.True || code == msgpcode.False:
		b, err := d.dec.DecodeBool()
		if err != nil {
			return NewNull(), fmt.Errorf("msgpack: %w", err)
		}
		return NewBool(b), nil
	case code == msgpcode.Float || code == msgpcode.Double:
		f, err := d.dec.DecodeFloat64()
		if err != nil {
			return NewNull(), fmt.Errorf("msgpack: %w", err)
		}
		return NewFloat(f), nil
	case code == msgpcode.Uint64:
		u, err := d.dec.DecodeUint64()
		if err != nil {
			return NewNull(), fmt.Errorf("msgpack: %w", err)
		}
		return NewUint(u), nil
	case msgpcode.IsFixedNum(code), code >= msgpcode.Uint8 && code <= msgpcode.Int64:
		i, err := d.dec.DecodeInt64()
		if err != nil {
			return NewNull(), fmt.Errorf("msgpack: %w", err)
		}
		return NewInt(i), nil
	case msgpcode.IsString(code):
		s, err := d.dec.DecodeString()
		if err != nil {
			return NewNull(), fmt.Errorf("msgpack: %w", err)
		}
		return NewString(s), nil
	case msgpcode.IsBin(code):
		raw, err := d.dec.DecodeBytes()
		if err != nil {
			return NewNull(), fmt.Errorf("msgpack: %w", err)
		}
		items := make([]Value, len(raw))
		for i, b := range raw {
			items[i] = NewInt(int64(b))
		}
		return NewSequence(items), nil
	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		return d.decodeSequence(depth)
	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		return d.decodeMapping(depth)
	case msgpcode.IsExt(code):
		return d.decodeExt()
	default:
		return NewNull(), fmt.Errorf("msgpack: invalid code 0x%02x", code)
	}
}

func (d *binaryDecoder) decodeSequence(depth int) (Value, error) {
	n, err := d.dec.DecodeArrayLen()
	if err != nil {
		return NewNull(), fmt.Errorf("msgpack: %w", err)
	}
	if err := d.checkLen(n); err != nil {
		return NewNull(), err
	}
	items := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		item, err := d.decode(depth + 1)
		if err != nil {
			return NewNull(), err
		}
		items = append(items, item)
	}
	return NewSequence(items), nil
}

func (d *binaryDecoder) decodeMapping(depth int) (Value, error) {
	n, err := d.dec.DecodeMapLen()
	if err != nil {
		return NewNull(), fmt.Errorf("msgpack: %w", err)
	}
	if err := d.checkLen(n * 2); err != nil {
		return NewNull(), err
	}
	m := newMapping(n)
	for i := 0; i < n; i++ {
		key, err := d.decode(depth + 1)
		if err != nil {
			return NewNull(), err
		}
		item, err := d.decode(depth + 1)
		if err != nil {
			return NewNull(), err
		}
		m.set(mappingKey(key), item)
	}
	return Value{kind: KindMapping, data: m}, nil
}

// mappingKey renders a non-string map key the way it would appear as a JSON
// value, which is what the key would look like after passing through a
// document.
func mappingKey(key Value) string {
	if key.Kind() == KindString {
		return key.Text()
	}
	return key.String()
}

// decodeExt accepts only the timestamp extension, rendered as RFC 3339 text.
func (d *binaryDecoder) decodeExt() (Value, error) {
	t, err := d.dec.DecodeTime()
	if err != nil {
		return NewNull(), fmt.Errorf("msgpack: %w: %v", ErrUnsupportedValue, err)
	}
	return NewString(t.UTC().Format(time.RFC3339Nano)), nil
}
