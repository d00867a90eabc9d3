package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/BurntSushi/toml"

	"github.com/mgomes/jsbridge/jsbridge"
)

// ErrNoFixture is returned when no fixture matches an invocation.
var ErrNoFixture = errors.New("no fixture")

// Fixture is one canned response. A nil Argument matches any argument.
// When Err is non-empty the fixture fails with that text instead of
// returning Response.
type Fixture struct {
	Identifier string
	Method     string
	Argument   *jsbridge.Value
	Response   jsbridge.Value
	Err        string
}

func (f Fixture) matches(identifier, method string, arg jsbridge.Value) bool {
	if f.Identifier != identifier || f.Method != method {
		return false
	}
	return f.Argument == nil || f.Argument.Equal(arg)
}

// Fixtures answers invocations from a fixed list; the first match wins.
type Fixtures struct {
	entries []Fixture
	logger  *slog.Logger
}

func NewFixtures(logger *slog.Logger, entries ...Fixture) *Fixtures {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fixtures{entries: append([]Fixture(nil), entries...), logger: logger}
}

// Len reports the number of fixtures.
func (f *Fixtures) Len() int { return len(f.entries) }

func (f *Fixtures) Invoke(ctx context.Context, identifier, method string, payload []byte) ([]byte, error) {
	arg, err := jsbridge.DecodeBinary(payload)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: decode argument: %w", identifier, method, err)
	}
	for i, fixture := range f.entries {
		if !fixture.matches(identifier, method, arg) {
			continue
		}
		f.logger.DebugContext(ctx, "fixture matched", "identifier", identifier, "method", method, "index", i)
		if fixture.Err != "" {
			return nil, errors.New(fixture.Err)
		}
		return jsbridge.EncodeBinary(fixture.Response)
	}
	f.logger.DebugContext(ctx, "fixture missing", "identifier", identifier, "method", method, "argument", arg.String())
	return nil, fmt.Errorf("%w for %s.%s", ErrNoFixture, identifier, method)
}

type fixtureFile struct {
	Fixture []fixtureEntry `toml:"fixture"`
}

type fixtureEntry struct {
	Identifier string  `toml:"identifier"`
	Method     string  `toml:"method"`
	Argument   *string `toml:"argument"`
	Response   *string `toml:"response"`
	Error      *string `toml:"error"`
}

// ParseFixtures reads fixtures from TOML text:
//
//	[[fixture]]
//	identifier = "svc"
//	method = "m"
//	argument = '{"x":1}'
//	response = '{"x":1,"y":2}'
//
// argument and response hold canonical documents; error replaces response
// with a failure message.
func ParseFixtures(text string, logger *slog.Logger) (*Fixtures, error) {
	var file fixtureFile
	md, err := toml.Decode(text, &file)
	if err != nil {
		return nil, fmt.Errorf("fixtures: %w", err)
	}
	return buildFixtures(file, md, logger)
}

// LoadFixtures reads fixtures from a TOML file.
func LoadFixtures(path string, logger *slog.Logger) (*Fixtures, error) {
	var file fixtureFile
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("fixtures: %w", err)
	}
	return buildFixtures(file, md, logger)
}

func buildFixtures(file fixtureFile, md toml.MetaData, logger *slog.Logger) (*Fixtures, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("fixtures: unknown key %q", undecoded[0].String())
	}
	entries := make([]Fixture, 0, len(file.Fixture))
	for i, raw := range file.Fixture {
		entry, err := raw.fixture()
		if err != nil {
			return nil, fmt.Errorf("fixtures: entry %d: %w", i+1, err)
		}
		entries = append(entries, entry)
	}
	return NewFixtures(logger, entries...), nil
}

func (e fixtureEntry) fixture() (Fixture, error) {
	if e.Identifier == "" {
		return Fixture{}, errors.New("identifier is required")
	}
	if e.Method == "" {
		return Fixture{}, errors.New("method is required")
	}
	if (e.Response == nil) == (e.Error == nil) {
		return Fixture{}, errors.New("exactly one of response or error is required")
	}
	out := Fixture{Identifier: e.Identifier, Method: e.Method}
	if e.Argument != nil {
		arg, err := jsbridge.ParseDocument(*e.Argument)
		if err != nil {
			return Fixture{}, fmt.Errorf("argument: %w", err)
		}
		out.Argument = &arg
	}
	if e.Error != nil {
		if *e.Error == "" {
			return Fixture{}, errors.New("error must not be empty")
		}
		out.Err = *e.Error
		return out, nil
	}
	resp, err := jsbridge.ParseDocument(*e.Response)
	if err != nil {
		return Fixture{}, fmt.Errorf("response: %w", err)
	}
	out.Response = resp
	return out, nil
}
