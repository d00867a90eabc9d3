package jsbridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type dispatcherCall struct {
	ctx        context.Context
	identifier string
	method     string
	argument   Value
}

type dispatcherStub struct {
	mu       sync.Mutex
	calls    []dispatcherCall
	response []byte
	result   Value
	err      error
}

func (s *dispatcherStub) Invoke(ctx context.Context, identifier, method string, payload []byte) ([]byte, error) {
	arg, decodeErr := DecodeBinary(payload)
	s.mu.Lock()
	s.calls = append(s.calls, dispatcherCall{ctx: ctx, identifier: identifier, method: method, argument: arg})
	s.mu.Unlock()
	if decodeErr != nil {
		return nil, decodeErr
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.response != nil {
		return s.response, nil
	}
	return EncodeBinary(s.result)
}

func (s *dispatcherStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func runWithConfig(t testing.TB, cfg Config, source string, d Dispatcher) Result {
	t.Helper()
	return MustNewEngine(cfg).Run(context.Background(), source, d)
}

func TestBridgeDeliversResponse(t *testing.T) {
	stub := &dispatcherStub{result: NewMapping(M("x", NewInt(1)), M("y", NewInt(2)))}
	res := runWithConfig(t, Config{}, "function f(a){ return subinvoke('svc', 'm', a); }; f({x:1})", stub)

	requireValue(t, res, NewMapping(M("x", NewInt(1)), M("y", NewInt(2))))
	if len(stub.calls) != 1 {
		t.Fatalf("expected one dispatcher call, got %d", len(stub.calls))
	}
	call := stub.calls[0]
	if call.identifier != "svc" || call.method != "m" {
		t.Fatalf("unexpected routing %s.%s", call.identifier, call.method)
	}
	if !call.argument.Equal(NewMapping(M("x", NewInt(1)))) {
		t.Fatalf("unexpected argument %s", call.argument)
	}
}

func TestBridgeFailureReturnsString(t *testing.T) {
	stub := &dispatcherStub{err: errors.New("unreachable")}
	res := runWithConfig(t, Config{}, "function f(a){ return subinvoke('svc', 'm', a); }; f({x:1})", stub)
	requireValue(t, res, NewString("unreachable"))
}

func TestBridgeFailureCanBeHandledByScript(t *testing.T) {
	stub := &dispatcherStub{err: errors.New("quota exhausted")}
	source := `
var r = subinvoke('svc', 'm', null);
typeof r === 'string' ? 'failed: ' + r : r.value`
	requireValue(t, runWithConfig(t, Config{}, source, stub), NewString("failed: quota exhausted"))
}

func TestBridgeFailureAsException(t *testing.T) {
	stub := &dispatcherStub{err: errors.New("unreachable")}
	source := `
var out = 'no exception';
try {
  subinvoke('svc', 'm', 1);
} catch (e) {
  out = [e.name, e.message, e.identifier, e.method, e instanceof Error];
}
out`
	res := runWithConfig(t, Config{FailureMode: FailureAsException}, source, stub)
	requireValue(t, res, NewSequence([]Value{
		NewString("CapabilityError"),
		NewString("unreachable"),
		NewString("svc"),
		NewString("m"),
		NewBool(true),
	}))

	uncaught := runWithConfig(t, Config{FailureMode: FailureAsException}, "subinvoke('svc', 'm', 1)", stub)
	requireError(t, uncaught, ErrorKindRuntime, "CapabilityError: unreachable")
}

func TestBridgeContractViolations(t *testing.T) {
	cases := []struct {
		source   string
		contains string
	}{
		{"subinvoke()", "identifier must be a string, got undefined"},
		{"subinvoke(1, 'm', null)", "identifier must be a string, got number"},
		{"subinvoke('svc', null, null)", "method must be a string, got object"},
		{"subinvoke('svc', 'm', function() {})", "cannot convert function at $"},
		{"subinvoke('svc', 'm', Symbol('x'))", "cannot convert symbol"},
	}
	stub := &dispatcherStub{result: NewNull()}
	for _, tc := range cases {
		res := runWithConfig(t, Config{}, tc.source, stub)
		evalErr := requireError(t, res, ErrorKindRuntime, tc.contains)
		if evalErr.Type != "TypeError" {
			t.Fatalf("expected TypeError for %q, got %q", tc.source, evalErr.Type)
		}
	}
	if stub.callCount() != 0 {
		t.Fatalf("dispatcher must not be reached on contract violations")
	}

	caught := runWithConfig(t, Config{}, "var caught = false; try { subinvoke(42) } catch (e) { caught = e instanceof TypeError } caught", stub)
	requireValue(t, caught, NewBool(true))
}

func TestBridgeRejectsOversizedArgument(t *testing.T) {
	stub := &dispatcherStub{result: NewNull()}
	source := "var a = []; a.length = 2147483647; var kind; try { subinvoke('svc', 'm', a); } catch (e) { kind = e.name + ': ' + e.message; } kind"
	res := runWithConfig(t, Config{}, source, stub)
	requireValue(t, res, NewString("TypeError: subinvoke: argument: cannot convert array of length 2147483647 at $"))
	if stub.callCount() != 0 {
		t.Fatalf("dispatcher must not be reached for oversized arguments")
	}
}

func TestBridgeSkipsDispatchAfterDeadline(t *testing.T) {
	stub := &dispatcherStub{result: NewNull()}
	cfg := Config{Timeout: 20 * time.Millisecond}
	source := "var s = []; s.length = 1048576; subinvoke('svc', 'm', [s, s, s]); 'done'"
	res := runWithConfig(t, cfg, source, stub)
	requireError(t, res, ErrorKindInterrupted, "context deadline exceeded")
	if stub.callCount() != 0 {
		t.Fatalf("dispatcher called with an expired context")
	}
}

func TestBridgeMalformedResponseReturnsString(t *testing.T) {
	cases := [][]byte{
		{0xc1},
		{0xc0, 0xc0},
		{},
		{0xcb, 0x7f, 0xf8, 0, 0, 0, 0, 0, 1},
	}
	for _, response := range cases {
		stub := &dispatcherStub{response: response}
		res := runWithConfig(t, Config{}, "subinvoke('svc', 'm', null)", stub)
		if res.Err != nil {
			t.Fatalf("unexpected error for %x: %v", response, res.Err)
		}
		if res.Value.Kind() != KindString || !strings.Contains(res.Value.Text(), "malformed response") {
			t.Fatalf("expected malformed response text for %x, got %s", response, res.Value)
		}
	}
}

func TestBridgePreservesNumbersAndOrder(t *testing.T) {
	response := NewMapping(
		M("z", NewFloat(0.5)),
		M("a", NewInt(-3)),
		M("list", NewSequence([]Value{NewString("s"), NewNull(), NewBool(false)})),
		M("whole", NewFloat(4)),
	)
	stub := &dispatcherStub{result: response}
	res := runWithConfig(t, Config{}, "var r = subinvoke('svc', 'm', [1, 2.5, 'x']); [Object.keys(r).join(','), r.z, r.a, r.list, r.whole]", stub)
	requireValue(t, res, NewSequence([]Value{
		NewString("z,a,list,whole"),
		NewFloat(0.5),
		NewInt(-3),
		NewSequence([]Value{NewString("s"), NewNull(), NewBool(false)}),
		NewInt(4),
	}))
	if !stub.calls[0].argument.Equal(NewSequence([]Value{NewInt(1), NewFloat(2.5), NewString("x")})) {
		t.Fatalf("unexpected argument %s", stub.calls[0].argument)
	}
}

func TestBridgeLargeIntegersArriveAsBigInt(t *testing.T) {
	stub := &dispatcherStub{result: NewMapping(M("n", NewInt(1<<60)), M("safe", NewInt(1<<53)))}
	source := `
var r = subinvoke('svc', 'm', null);
var mixed;
try { r.n + 1; mixed = 'added'; } catch (e) { mixed = e.name; }
[typeof r.n, mixed, (r.n + 1n).toString(), Number(r.n) === Math.pow(2, 60), typeof r.safe, r.safe - 1]`
	res := runWithConfig(t, Config{}, source, stub)
	requireValue(t, res, NewSequence([]Value{
		NewString("bigint"),
		NewString("TypeError"),
		NewString("1152921504606846977"),
		NewBool(true),
		NewString("number"),
		NewInt(1<<53 - 1),
	}))

	passthrough := runWithConfig(t, Config{}, "subinvoke('svc', 'm', null).n", stub)
	requireValue(t, passthrough, NewString("1152921504606846976"))
}

func TestBridgePassesEvaluationContext(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")
	stub := &dispatcherStub{result: NewNull()}
	res := MustNewEngine(Config{}).Run(ctx, "subinvoke('svc', 'm', undefined)", stub)
	requireValue(t, res, NewNull())
	if got := stub.calls[0].ctx.Value(ctxKey{}); got != "marker" {
		t.Fatalf("dispatcher did not receive evaluation context, got %v", got)
	}
	if !stub.calls[0].argument.IsNull() {
		t.Fatalf("undefined argument should arrive as null, got %s", stub.calls[0].argument)
	}
}

func TestBridgeCapabilityPolicy(t *testing.T) {
	stub := &dispatcherStub{result: NewString("ok")}
	cfg := Config{CapabilityAllowList: []string{"svc", "store.*"}, CapabilityDenyList: []string{"store.secret*"}}
	source := "[subinvoke('svc', 'm', 0), subinvoke('store.kv', 'get', 0), subinvoke('store.secrets', 'get', 0), subinvoke('other', 'm', 0)]"
	res := runWithConfig(t, cfg, source, stub)
	requireValue(t, res, NewSequence([]Value{
		NewString("ok"),
		NewString("ok"),
		NewString(`capability "store.secrets" denied by policy`),
		NewString(`capability "other" not allowed by policy`),
	}))
	if stub.callCount() != 2 {
		t.Fatalf("expected 2 dispatched calls, got %d", stub.callCount())
	}
}

func TestBridgeCustomName(t *testing.T) {
	stub := &dispatcherStub{result: NewInt(7)}
	res := runWithConfig(t, Config{BridgeName: "host"}, "[typeof subinvoke, host('svc', 'm', null)]", stub)
	requireValue(t, res, NewSequence([]Value{NewString("undefined"), NewInt(7)}))
}

func TestBridgeWithDispatcherFunc(t *testing.T) {
	d := DispatcherFunc(func(_ context.Context, identifier, method string, payload []byte) ([]byte, error) {
		arg, err := DecodeBinary(payload)
		if err != nil {
			return nil, err
		}
		return EncodeBinary(NewMapping(M("echo", arg), M("route", NewString(identifier+"."+method))))
	})
	res := runWithConfig(t, Config{}, "subinvoke('svc', 'm', {n: 1}).route", d)
	requireValue(t, res, NewString("svc.m"))
}

func TestBridgeNilDispatcher(t *testing.T) {
	res := runWithConfig(t, Config{}, "subinvoke('svc', 'm', null)", nil)
	requireValue(t, res, NewString(`capability "svc" has no dispatcher`))
}
