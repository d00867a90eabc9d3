package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mgomes/jsbridge/jsbridge"
)

// SQL exposes a database handle as a capability with the methods:
//
//	query {sql, params} -> [{column: value, ...}, ...]
//	exec  {sql, params} -> {rowsAffected, lastInsertId}
//	batch {statements: [{sql, params}, ...]} -> [{rowsAffected, lastInsertId}, ...]
//
// params is either a sequence of positional values or a mapping of named
// values. batch runs its statements in one transaction.
type SQL struct {
	db      *sql.DB
	logger  *slog.Logger
	methods Methods
}

func NewSQL(db *sql.DB, logger *slog.Logger) *SQL {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &SQL{db: db, logger: logger}
	s.methods = Methods{
		"query": s.query,
		"exec":  s.exec,
		"batch": s.batch,
	}
	return s
}

// OpenSQL opens a database with a registered driver and verifies the
// connection.
func OpenSQL(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sql: ping %s: %w", driver, err)
	}
	return NewSQL(db, logger), nil
}

// DB returns the underlying handle.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) Invoke(ctx context.Context, identifier, method string, payload []byte) ([]byte, error) {
	return s.methods.Invoke(ctx, identifier, method, payload)
}

type statement struct {
	text string
	args []any
}

func (s *SQL) query(ctx context.Context, arg jsbridge.Value) (jsbridge.Value, error) {
	stmt, err := parseStatement(arg)
	if err != nil {
		return jsbridge.NewNull(), err
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, stmt.text, stmt.args...)
	if err != nil {
		return jsbridge.NewNull(), err
	}
	defer rows.Close()
	out, err := collectRows(rows)
	s.logger.DebugContext(ctx, "sql query", "sql", stmt.text, "rows", len(out), "duration", time.Since(start), "error", err)
	if err != nil {
		return jsbridge.NewNull(), err
	}
	return jsbridge.NewSequence(out), nil
}

func (s *SQL) exec(ctx context.Context, arg jsbridge.Value) (jsbridge.Value, error) {
	stmt, err := parseStatement(arg)
	if err != nil {
		return jsbridge.NewNull(), err
	}
	start := time.Now()
	result, err := s.db.ExecContext(ctx, stmt.text, stmt.args...)
	s.logger.DebugContext(ctx, "sql exec", "sql", stmt.text, "duration", time.Since(start), "error", err)
	if err != nil {
		return jsbridge.NewNull(), err
	}
	return execResult(result), nil
}

func (s *SQL) batch(ctx context.Context, arg jsbridge.Value) (jsbridge.Value, error) {
	if arg.Kind() != jsbridge.KindMapping {
		return jsbridge.NewNull(), fmt.Errorf("batch: argument must be a mapping, got %s", arg.Kind())
	}
	list, ok := arg.Get("statements")
	if !ok || list.Kind() != jsbridge.KindSequence {
		return jsbridge.NewNull(), errors.New("batch: statements must be a sequence")
	}
	stmts := make([]statement, 0, list.Len())
	for i, raw := range list.Sequence() {
		stmt, err := parseStatement(raw)
		if err != nil {
			return jsbridge.NewNull(), fmt.Errorf("batch: statement %d: %w", i, err)
		}
		stmts = append(stmts, stmt)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jsbridge.NewNull(), err
	}
	results := make([]jsbridge.Value, 0, len(stmts))
	for i, stmt := range stmts {
		result, err := tx.ExecContext(ctx, stmt.text, stmt.args...)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.WarnContext(ctx, "sql rollback failed", "error", rbErr)
			}
			return jsbridge.NewNull(), fmt.Errorf("batch: statement %d: %w", i, err)
		}
		results = append(results, execResult(result))
	}
	if err := tx.Commit(); err != nil {
		return jsbridge.NewNull(), fmt.Errorf("batch: commit: %w", err)
	}
	s.logger.DebugContext(ctx, "sql batch", "statements", len(stmts))
	return jsbridge.NewSequence(results), nil
}

func parseStatement(arg jsbridge.Value) (statement, error) {
	if arg.Kind() != jsbridge.KindMapping {
		return statement{}, fmt.Errorf("argument must be a mapping with sql and params, got %s", arg.Kind())
	}
	text, ok := arg.Get("sql")
	if !ok || text.Kind() != jsbridge.KindString || text.Text() == "" {
		return statement{}, errors.New("sql must be a non-empty string")
	}
	stmt := statement{text: text.Text()}
	params, ok := arg.Get("params")
	if !ok || params.IsNull() {
		return stmt, nil
	}
	switch params.Kind() {
	case jsbridge.KindSequence:
		for i, p := range params.Sequence() {
			v, err := sqlParam(p)
			if err != nil {
				return statement{}, fmt.Errorf("param %d: %w", i, err)
			}
			stmt.args = append(stmt.args, v)
		}
	case jsbridge.KindMapping:
		for _, member := range params.Members() {
			v, err := sqlParam(member.Value)
			if err != nil {
				return statement{}, fmt.Errorf("param %q: %w", member.Key, err)
			}
			stmt.args = append(stmt.args, sql.Named(member.Key, v))
		}
	default:
		return statement{}, fmt.Errorf("params must be a sequence or mapping, got %s", params.Kind())
	}
	return stmt, nil
}

func sqlParam(v jsbridge.Value) (any, error) {
	switch v.Kind() {
	case jsbridge.KindSequence, jsbridge.KindMapping:
		return nil, fmt.Errorf("%s values are not supported", v.Kind())
	default:
		return v.Interface(), nil
	}
}

func collectRows(rows *sql.Rows) ([]jsbridge.Value, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []jsbridge.Value{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		members := make([]jsbridge.Member, len(columns))
		for i, col := range columns {
			members[i] = jsbridge.M(col, columnValue(values[i]))
		}
		out = append(out, jsbridge.NewMapping(members...))
	}
	return out, rows.Err()
}

func columnValue(raw any) jsbridge.Value {
	v, err := jsbridge.FromGo(raw)
	if err != nil {
		return jsbridge.NewString(fmt.Sprint(raw))
	}
	return v
}

func execResult(result sql.Result) jsbridge.Value {
	affected := jsbridge.NewNull()
	if n, err := result.RowsAffected(); err == nil {
		affected = jsbridge.NewInt(n)
	}
	lastID := jsbridge.NewNull()
	if id, err := result.LastInsertId(); err == nil {
		lastID = jsbridge.NewInt(id)
	}
	return jsbridge.NewMapping(
		jsbridge.M("rowsAffected", affected),
		jsbridge.M("lastInsertId", lastID),
	)
}
