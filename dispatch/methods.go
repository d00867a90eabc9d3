package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/mgomes/jsbridge/jsbridge"
)

// ErrUnknownMethod is returned when a method table has no entry for a call.
var ErrUnknownMethod = errors.New("unknown method")

// MethodFunc handles one capability method on decoded values.
type MethodFunc func(ctx context.Context, arg jsbridge.Value) (jsbridge.Value, error)

// Methods is a Dispatcher that decodes the payload, calls the named method
// and encodes its result. Errors returned by a MethodFunc are passed through
// untouched so scripts see their text.
type Methods map[string]MethodFunc

func (m Methods) Invoke(ctx context.Context, identifier, method string, payload []byte) ([]byte, error) {
	fn, ok := m[method]
	if !ok || fn == nil {
		return nil, fmt.Errorf("%s: %w %q", identifier, ErrUnknownMethod, method)
	}
	arg, err := jsbridge.DecodeBinary(payload)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: decode argument: %w", identifier, method, err)
	}
	out, err := fn(ctx, arg)
	if err != nil {
		return nil, err
	}
	encoded, err := jsbridge.EncodeBinary(out)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: encode result: %w", identifier, method, err)
	}
	return encoded, nil
}
