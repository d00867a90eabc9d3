package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Dispatcher resolves capability calls made from script code. A nil error
// means payload is the MessagePack encoded response; otherwise err.Error()
// is the failure text handed back to the script. Implementations must be
// safe for concurrent use.
//
// Integers in a response that a float64 cannot hold exactly (beyond ±2^53)
// reach script code as BigInt values rather than lossy Numbers. Scripts must
// use BigInt arithmetic on them: mixing one with a Number throws a TypeError.
// Returned unchanged as the completion value, such an integer appears in
// Result as its exact decimal text.
type Dispatcher interface {
	Invoke(ctx context.Context, identifier, method string, payload []byte) ([]byte, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, identifier, method string, payload []byte) ([]byte, error)

func (f DispatcherFunc) Invoke(ctx context.Context, identifier, method string, payload []byte) ([]byte, error) {
	return f(ctx, identifier, method, payload)
}

// Invocation is one capability call as seen by the bridge.
type Invocation struct {
	Identifier string
	Method     string
	Argument   Value
}

type BridgeOptions struct {
	FailureMode FailureMode
	AllowList   []string
	DenyList    []string
	Logger      *slog.Logger
}

// ErrCapabilityFailed wraps dispatcher failures and undecodable responses.
var ErrCapabilityFailed = errors.New("capability call failed")

// NewCallBridge returns the native that scripts call as
// name(identifier, method, argument). Successful responses come back as fresh
// script values; failures come back per opts.FailureMode.
func NewCallBridge(d Dispatcher, opts BridgeOptions) NativeFunc {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b := &callBridge{
		dispatcher: d,
		mode:       opts.FailureMode,
		policy:     newCapabilityPolicy(opts.AllowList, opts.DenyList),
		logger:     logger,
	}
	return b.call
}

type callBridge struct {
	dispatcher Dispatcher
	mode       FailureMode
	policy     policy
	logger     *slog.Logger
}

func (b *callBridge) call(call *NativeCall) (Value, error) {
	inv, err := invocationFromCall(call)
	if err != nil {
		return Value{}, err
	}

	payload, err := encodeArgument(inv.Argument)
	if err != nil {
		return Value{}, TypeErrorf("%s: argument: %v", call.Name(), err)
	}

	// the evaluation is interrupted on return; the dispatcher is never called
	// with a done context
	if err := call.Context().Err(); err != nil {
		return Value{}, err
	}

	started := time.Now()
	response, callErr := b.dispatch(call.Context(), inv, payload)
	var result Value
	if callErr == nil {
		result, callErr = decodeResponse(response)
	}

	attrs := []any{
		"identifier", inv.Identifier,
		"method", inv.Method,
		"request_bytes", len(payload),
		"response_bytes", len(response),
		"duration", time.Since(started),
	}
	if callErr != nil {
		b.logger.Debug("capability call failed", append(attrs, "error", callErr.Error())...)
		return b.failure(inv, callErr)
	}
	b.logger.Debug("capability call", attrs...)
	return result, nil
}

func (b *callBridge) dispatch(ctx context.Context, inv Invocation, payload []byte) ([]byte, error) {
	if verdict := b.policy.check(inv.Identifier); verdict != "" {
		return nil, fmt.Errorf("capability %q %s by policy", inv.Identifier, verdict)
	}
	if b.dispatcher == nil {
		return nil, fmt.Errorf("capability %q has no dispatcher", inv.Identifier)
	}
	return b.dispatcher.Invoke(ctx, inv.Identifier, inv.Method, payload)
}

// failure routes the failure text through the same document path as a
// successful response.
func (b *callBridge) failure(inv Invocation, callErr error) (Value, error) {
	text, err := roundTripDocument(NewString(callErr.Error()))
	if err != nil {
		return Value{}, err
	}
	if b.mode == FailureAsException {
		return Value{}, &ScriptError{
			Name:    "CapabilityError",
			Message: text.Text(),
			Fields: []Member{
				M("identifier", NewString(inv.Identifier)),
				M("method", NewString(inv.Method)),
			},
		}
	}
	return text, nil
}

func invocationFromCall(call *NativeCall) (Invocation, error) {
	identifier, ok := call.StringArg(0)
	if !ok {
		return Invocation{}, TypeErrorf("%s: identifier must be a string, got %s", call.Name(), call.ArgType(0))
	}
	method, ok := call.StringArg(1)
	if !ok {
		return Invocation{}, TypeErrorf("%s: method must be a string, got %s", call.Name(), call.ArgType(1))
	}
	arg, err := call.Arg(2)
	if err != nil {
		if isConversionError(err) {
			return Invocation{}, TypeErrorf("%s: argument: %v", call.Name(), err)
		}
		return Invocation{}, err
	}
	return Invocation{Identifier: identifier, Method: method, Argument: arg}, nil
}

// encodeArgument takes the argument through its canonical document before
// encoding it for the wire.
func encodeArgument(arg Value) ([]byte, error) {
	canonical, err := roundTripDocument(arg)
	if err != nil {
		return nil, err
	}
	return EncodeBinary(canonical)
}

func decodeResponse(response []byte) (Value, error) {
	decoded, err := DecodeBinary(response)
	if err != nil {
		return Value{}, fmt.Errorf("%w: malformed response: %v", ErrCapabilityFailed, err)
	}
	out, err := roundTripDocument(decoded)
	if err != nil {
		return Value{}, fmt.Errorf("%w: malformed response: %v", ErrCapabilityFailed, err)
	}
	return out, nil
}

func roundTripDocument(v Value) (Value, error) {
	doc, err := FormatDocument(v)
	if err != nil {
		return Value{}, err
	}
	return ParseDocument(doc)
}
