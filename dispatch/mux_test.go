package dispatch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/mgomes/jsbridge/jsbridge"
)

func encode(t *testing.T, v jsbridge.Value) []byte {
	t.Helper()
	data, err := jsbridge.EncodeBinary(v)
	if err != nil {
		t.Fatalf("encode %s: %v", v, err)
	}
	return data
}

func decode(t *testing.T, data []byte) jsbridge.Value {
	t.Helper()
	v, err := jsbridge.DecodeBinary(data)
	if err != nil {
		t.Fatalf("decode %x: %v", data, err)
	}
	return v
}

func TestMuxRoutesByIdentifier(t *testing.T) {
	mux := NewMux()
	mux.HandleMethods("svc", Methods{
		"m": func(_ context.Context, arg jsbridge.Value) (jsbridge.Value, error) {
			x, _ := arg.Get("x")
			return jsbridge.NewMapping(jsbridge.M("x", x), jsbridge.M("y", jsbridge.NewInt(2))), nil
		},
	})
	mux.Handle("echo", jsbridge.DispatcherFunc(func(_ context.Context, identifier, method string, payload []byte) ([]byte, error) {
		return payload, nil
	}))

	if got := mux.Identifiers(); !reflect.DeepEqual(got, []string{"echo", "svc"}) {
		t.Fatalf("unexpected identifiers %v", got)
	}

	out, err := mux.Invoke(context.Background(), "svc", "m", encode(t, jsbridge.NewMapping(jsbridge.M("x", jsbridge.NewInt(1)))))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	want := jsbridge.NewMapping(jsbridge.M("x", jsbridge.NewInt(1)), jsbridge.M("y", jsbridge.NewInt(2)))
	if got := decode(t, out); !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}

	_, err = mux.Invoke(context.Background(), "missing", "m", encode(t, jsbridge.NewNull()))
	if !errors.Is(err, ErrNotRegistered) || err.Error() != `capability "missing" is not registered` {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestMethodsErrors(t *testing.T) {
	methods := Methods{
		"fail": func(context.Context, jsbridge.Value) (jsbridge.Value, error) {
			return jsbridge.NewNull(), errors.New("unreachable")
		},
		"echo": func(context.Context, jsbridge.Value) (jsbridge.Value, error) {
			return jsbridge.NewSequence([]jsbridge.Value{jsbridge.NewNull()}), nil
		},
	}
	ctx := context.Background()

	_, err := methods.Invoke(ctx, "svc", "nope", encode(t, jsbridge.NewNull()))
	if !errors.Is(err, ErrUnknownMethod) || !strings.Contains(err.Error(), `"nope"`) {
		t.Fatalf("unexpected error %v", err)
	}

	_, err = methods.Invoke(ctx, "svc", "fail", encode(t, jsbridge.NewNull()))
	if err == nil || err.Error() != "unreachable" {
		t.Fatalf("method errors must pass through, got %v", err)
	}

	_, err = methods.Invoke(ctx, "svc", "echo", []byte{0xc1})
	if err == nil || !strings.Contains(err.Error(), "svc.echo: decode argument") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestMuxWithEngine(t *testing.T) {
	mux := NewMux()
	mux.HandleMethods("svc", Methods{
		"m": func(_ context.Context, arg jsbridge.Value) (jsbridge.Value, error) {
			x, _ := arg.Get("x")
			return jsbridge.NewMapping(jsbridge.M("x", x), jsbridge.M("y", jsbridge.NewInt(2))), nil
		},
	})
	engine := jsbridge.MustNewEngine(jsbridge.Config{})
	source := "function f(a){ return subinvoke('svc', 'm', a); }; [f({x:1}), subinvoke('other', 'm', null)]"
	res := engine.Run(context.Background(), source, mux)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	want := jsbridge.NewSequence([]jsbridge.Value{
		jsbridge.NewMapping(jsbridge.M("x", jsbridge.NewInt(1)), jsbridge.M("y", jsbridge.NewInt(2))),
		jsbridge.NewString(`capability "other" is not registered`),
	})
	if !res.Value.Equal(want) {
		t.Fatalf("got %s, want %s", res.Value, want)
	}
}

func TestMuxHandlePanicsOnInvalidRoute(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for nil dispatcher")
		}
	}()
	NewMux().Handle("svc", nil)
}

func TestMuxDefaultDispatcher(t *testing.T) {
	fixtures, err := ParseFixtures("[[fixture]]\nidentifier = \"kv\"\nmethod = \"get\"\nresponse = '\"v\"'\n", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mux := NewMux()
	mux.HandleDefault(fixtures)

	out, err := mux.Invoke(context.Background(), "kv", "get", encode(t, jsbridge.NewNull()))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := decode(t, out); !got.Equal(jsbridge.NewString("v")) {
		t.Fatalf("unexpected response %s", got)
	}
	if _, err := mux.Invoke(context.Background(), "other", "get", encode(t, jsbridge.NewNull())); !errors.Is(err, ErrNoFixture) {
		t.Fatalf("expected fallback miss, got %v", err)
	}
}
