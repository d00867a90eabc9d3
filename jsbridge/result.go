package jsbridge

import (
	"encoding/json"
	"strings"
)

// Result is the outcome of one evaluation. Exactly one of Value and Err is
// meaningful: Err is nil on success.
type Result struct {
	Value Value
	Err   *EvalError
}

func (r Result) OK() bool { return r.Err == nil }

// Error returns the single-line failure description, or "" on success.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Description()
}

// Document renders the result as {"value": ...} or {"error": "..."}.
func (r Result) Document() (string, error) {
	var b strings.Builder
	if r.Err != nil {
		msg, err := json.Marshal(r.Err.Description())
		if err != nil {
			return "", err
		}
		b.WriteString(`{"error":`)
		b.Write(msg)
		b.WriteString("}")
		return b.String(), nil
	}
	doc, err := FormatDocument(r.Value)
	if err != nil {
		return "", err
	}
	b.WriteString(`{"value":`)
	b.WriteString(doc)
	b.WriteString("}")
	return b.String(), nil
}

func (r Result) MarshalJSON() ([]byte, error) {
	doc, err := r.Document()
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}
