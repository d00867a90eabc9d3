//go:build cgo

package dispatch

import (
	"context"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mgomes/jsbridge/jsbridge"
)

func openTestSQL(t *testing.T) *SQL {
	t.Helper()
	s, err := OpenSQL(context.Background(), "sqlite3", ":memory:", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// one connection keeps the in-memory database alive across calls
	s.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

func callSQL(t *testing.T, s *SQL, method string, arg jsbridge.Value) (jsbridge.Value, error) {
	t.Helper()
	out, err := s.Invoke(context.Background(), "sql", method, encode(t, arg))
	if err != nil {
		return jsbridge.NewNull(), err
	}
	return decode(t, out), nil
}

func stmtArg(text string, params jsbridge.Value) jsbridge.Value {
	return jsbridge.NewMapping(jsbridge.M("sql", jsbridge.NewString(text)), jsbridge.M("params", params))
}

func TestSQLExecAndQuery(t *testing.T) {
	s := openTestSQL(t)
	if _, err := callSQL(t, s, "exec", stmtArg("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, score REAL)", jsbridge.NewNull())); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := callSQL(t, s, "exec", stmtArg("INSERT INTO users (name, score) VALUES (?, ?)",
		jsbridge.NewSequence([]jsbridge.Value{jsbridge.NewString("ann"), jsbridge.NewFloat(1.5)})))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	want := jsbridge.NewMapping(jsbridge.M("rowsAffected", jsbridge.NewInt(1)), jsbridge.M("lastInsertId", jsbridge.NewInt(1)))
	if !res.Equal(want) {
		t.Fatalf("exec result %s, want %s", res, want)
	}

	if _, err := callSQL(t, s, "exec", stmtArg("INSERT INTO users (name, score) VALUES (:name, :score)",
		jsbridge.NewMapping(jsbridge.M("name", jsbridge.NewString("bob")), jsbridge.M("score", jsbridge.NewNull())))); err != nil {
		t.Fatalf("named insert: %v", err)
	}

	rows, err := callSQL(t, s, "query", stmtArg("SELECT name, id, score FROM users ORDER BY id", jsbridge.NewNull()))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	wantRows := jsbridge.NewSequence([]jsbridge.Value{
		jsbridge.NewMapping(jsbridge.M("name", jsbridge.NewString("ann")), jsbridge.M("id", jsbridge.NewInt(1)), jsbridge.M("score", jsbridge.NewFloat(1.5))),
		jsbridge.NewMapping(jsbridge.M("name", jsbridge.NewString("bob")), jsbridge.M("id", jsbridge.NewInt(2)), jsbridge.M("score", jsbridge.NewNull())),
	})
	if !rows.Equal(wantRows) {
		t.Fatalf("rows %s, want %s", rows, wantRows)
	}

	empty, err := callSQL(t, s, "query", stmtArg("SELECT id FROM users WHERE id > ?", jsbridge.NewSequence([]jsbridge.Value{jsbridge.NewInt(10)})))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if empty.Kind() != jsbridge.KindSequence || empty.Len() != 0 {
		t.Fatalf("expected empty sequence, got %s", empty)
	}
}

func TestSQLBatchRollsBack(t *testing.T) {
	s := openTestSQL(t)
	if _, err := callSQL(t, s, "exec", stmtArg("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)", jsbridge.NewNull())); err != nil {
		t.Fatalf("create: %v", err)
	}
	insert := func(k string) jsbridge.Value {
		return stmtArg("INSERT INTO kv (k, v) VALUES (?, 'x')", jsbridge.NewSequence([]jsbridge.Value{jsbridge.NewString(k)}))
	}

	res, err := callSQL(t, s, "batch", jsbridge.NewMapping(jsbridge.M("statements", jsbridge.NewSequence([]jsbridge.Value{insert("a"), insert("b")}))))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res.Len() != 2 {
		t.Fatalf("expected two results, got %s", res)
	}

	_, err = callSQL(t, s, "batch", jsbridge.NewMapping(jsbridge.M("statements", jsbridge.NewSequence([]jsbridge.Value{insert("c"), insert("a")}))))
	if err == nil || !strings.Contains(err.Error(), "batch: statement 1") {
		t.Fatalf("expected failing statement error, got %v", err)
	}

	var count int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM kv").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected rollback to keep 2 rows, got %d", count)
	}
}

func TestSQLArgumentErrors(t *testing.T) {
	s := openTestSQL(t)
	cases := []struct {
		method   string
		arg      jsbridge.Value
		contains string
	}{
		{"query", jsbridge.NewString("SELECT 1"), "argument must be a mapping"},
		{"query", jsbridge.NewMapping(jsbridge.M("sql", jsbridge.NewInt(1))), "sql must be a non-empty string"},
		{"exec", stmtArg("SELECT ?", jsbridge.NewString("x")), "params must be a sequence or mapping"},
		{"exec", stmtArg("SELECT ?", jsbridge.NewSequence([]jsbridge.Value{jsbridge.NewSequence(nil)})), "param 0: sequence values are not supported"},
		{"batch", jsbridge.NewMapping(), "statements must be a sequence"},
		{"query", stmtArg("SELECT * FROM missing", jsbridge.NewNull()), "no such table"},
		{"drop", jsbridge.NewNull(), "unknown method"},
	}
	for _, tc := range cases {
		_, err := callSQL(t, s, tc.method, tc.arg)
		if err == nil || !strings.Contains(err.Error(), tc.contains) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.method, tc.contains, err)
		}
	}
}

func TestSQLFromScript(t *testing.T) {
	s := openTestSQL(t)
	mux := NewMux()
	mux.Handle("sql", s)
	engine := jsbridge.MustNewEngine(jsbridge.Config{})
	source := `
subinvoke('sql', 'exec', {sql: 'CREATE TABLE t (n INTEGER)'});
subinvoke('sql', 'batch', {statements: [1, 2, 3].map(function(n) { return {sql: 'INSERT INTO t VALUES (?)', params: [n]}; })});
var rows = subinvoke('sql', 'query', {sql: 'SELECT SUM(n) AS total FROM t'});
rows[0].total`
	res := engine.Run(context.Background(), source, mux)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Value.Equal(jsbridge.NewInt(6)) {
		t.Fatalf("got %s, want 6", res.Value)
	}
}
