package jsbridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// FormatDocument renders v as canonical JSON text. Mapping order is kept and
// integral floats carry a fractional part so they parse back as floats.
func FormatDocument(v Value) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	w := &documentWriter{buf: &buf, enc: enc}
	if err := w.write(v, 0); err != nil {
		return "", err
	}
	return w.out.String(), nil
}

type documentWriter struct {
	out strings.Builder
	buf *bytes.Buffer
	enc *json.Encoder
}

func (w *documentWriter) write(v Value, depth int) error {
	if depth > MaxNestingDepth {
		return fmt.Errorf("document: %w", ErrMaxDepth)
	}
	switch v.Kind() {
	case KindNull:
		w.out.WriteString("null")
	case KindBool:
		if v.Bool() {
			w.out.WriteString("true")
		} else {
			w.out.WriteString("false")
		}
	case KindNumber:
		n := v.Number()
		if !n.IsInteger() && (math.IsNaN(n.Float64()) || math.IsInf(n.Float64(), 0)) {
			return fmt.Errorf("document: %w: %s", ErrUnsupportedValue, n.String())
		}
		w.out.WriteString(n.String())
	case KindString:
		return w.writeString(v.Text())
	case KindSequence:
		w.out.WriteByte('[')
		for i, elem := range v.Sequence() {
			if i > 0 {
				w.out.WriteByte(',')
			}
			if err := w.write(elem, depth+1); err != nil {
				return err
			}
		}
		w.out.WriteByte(']')
	case KindMapping:
		w.out.WriteByte('{')
		for i, member := range v.Members() {
			if i > 0 {
				w.out.WriteByte(',')
			}
			if err := w.writeString(member.Key); err != nil {
				return err
			}
			w.out.WriteByte(':')
			if err := w.write(member.Value, depth+1); err != nil {
				return err
			}
		}
		w.out.WriteByte('}')
	default:
		return fmt.Errorf("document: %w: kind %s", ErrUnsupportedValue, v.Kind())
	}
	return nil
}

func (w *documentWriter) writeString(s string) error {
	w.buf.Reset()
	if err := w.enc.Encode(s); err != nil {
		return fmt.Errorf("document: %w", err)
	}
	w.out.Write(bytes.TrimSuffix(w.buf.Bytes(), []byte("\n")))
	return nil
}

// ParseDocument parses canonical JSON text into a Value, keeping object key
// order. A repeated key keeps its first position and its last value.
func ParseDocument(text string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	val, err := parseDocumentValue(dec, 0)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return NewNull(), fmt.Errorf("document: %w", ErrEmptyDocument)
		}
		return NewNull(), err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return NewNull(), fmt.Errorf("document: %w", ErrTrailingData)
	}
	return val, nil
}

func parseDocumentValue(dec *json.Decoder, depth int) (Value, error) {
	if depth > MaxNestingDepth {
		return NewNull(), fmt.Errorf("document: %w", ErrMaxDepth)
	}
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return NewNull(), err
		}
		return NewNull(), fmt.Errorf("document: invalid JSON: %w", err)
	}
	switch t := tok.(type) {
	case nil:
		return NewNull(), nil
	case bool:
		return NewBool(t), nil
	case string:
		return NewString(t), nil
	case json.Number:
		return numberFromLiteral(t.String())
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := parseDocumentValue(dec, depth+1)
				if err != nil {
					return NewNull(), unexpectedEOF(err)
				}
				items = append(items, item)
			}
			if err := expectDelim(dec, ']'); err != nil {
				return NewNull(), err
			}
			return NewSequence(items), nil
		case '{':
			m := newMapping(0)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return NewNull(), fmt.Errorf("document: invalid JSON: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return NewNull(), fmt.Errorf("document: invalid object key %v", keyTok)
				}
				item, err := parseDocumentValue(dec, depth+1)
				if err != nil {
					return NewNull(), unexpectedEOF(err)
				}
				m.set(key, item)
			}
			if err := expectDelim(dec, '}'); err != nil {
				return NewNull(), err
			}
			return Value{kind: KindMapping, data: m}, nil
		}
	}
	return NewNull(), fmt.Errorf("document: unexpected token %v", tok)
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err == io.EOF {
		return unexpectedEOF(err)
	}
	if err != nil {
		return fmt.Errorf("document: invalid JSON: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("document: expected %q, got %v", want, tok)
	}
	return nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return fmt.Errorf("document: invalid JSON: %w", io.ErrUnexpectedEOF)
	}
	return err
}

// numberFromLiteral keeps integer literals as integers, widening to uint64
// before giving up and reading them as floats.
func numberFromLiteral(lit string) (Value, error) {
	if !strings.ContainsAny(lit, ".eE") {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return NewInt(i), nil
		}
		if u, err := strconv.ParseUint(lit, 10, 64); err == nil {
			return NewUint(u), nil
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return NewNull(), fmt.Errorf("document: invalid number %q", lit)
	}
	return NewFloat(f), nil
}
