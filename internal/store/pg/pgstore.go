// Package pg implements the generic row operations directly over Postgres
// for self-hosted deployments that skip the hosted REST gateway.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"studiodesk.app/internal/remote"
)

// Store adapts a SQL database to the remote row-store surface.
type Store struct {
	db *sql.DB
}

var _ remote.Data = (*Store)(nil)

// Open connects with pool defaults tuned for an interactive client.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle (tests).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func ident(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("%w: bad identifier %q", remote.ErrInvalidInput, name)
	}
	return name, nil
}

// Select fetches rows matching q into dest.
func (s *Store) Select(ctx context.Context, q remote.Query, dest any) error {
	table, err := ident(q.Table)
	if err != nil {
		return err
	}
	where, args, err := whereClause(q.Filter, 1)
	if err != nil {
		return err
	}
	query := "select * from " + table + where
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			col, err := ident(o.Column)
			if err != nil {
				return err
			}
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts = append(parts, col+" "+dir)
		}
		query += " order by " + strings.Join(parts, ", ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	collected, err := collectRows(rows)
	if err != nil {
		return err
	}
	return reencode(collected, dest)
}

// Insert stores row and decodes the stored representation into dest when
// dest is non-nil.
func (s *Store) Insert(ctx context.Context, table string, row remote.Row, dest any) error {
	tbl, err := ident(table)
	if err != nil {
		return err
	}
	cols := make([]string, 0, len(row))
	placeholders := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for i, k := range sortedKeys(row) {
		col, err := ident(k)
		if err != nil {
			return err
		}
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, driverValue(row[k]))
	}
	query := fmt.Sprintf("insert into %s (%s) values (%s) returning *",
		tbl, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	collected, err := collectRows(rows)
	if err != nil {
		return err
	}
	if dest == nil || len(collected) == 0 {
		return nil
	}
	return reencode(collected[0], dest)
}

// Update patches rows matching filter.
func (s *Store) Update(ctx context.Context, table string, patch remote.Row, filter remote.Filter) error {
	tbl, err := ident(table)
	if err != nil {
		return err
	}
	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+len(filter))
	n := 1
	for _, k := range sortedKeys(patch) {
		col, err := ident(k)
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, driverValue(patch[k]))
		n++
	}
	where, whereArgs, err := whereClause(filter, n)
	if err != nil {
		return err
	}
	args = append(args, whereArgs...)
	query := fmt.Sprintf("update %s set %s%s", tbl, strings.Join(sets, ", "), where)
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// Delete removes rows matching filter.
func (s *Store) Delete(ctx context.Context, table string, filter remote.Filter) error {
	tbl, err := ident(table)
	if err != nil {
		return err
	}
	where, args, err := whereClause(filter, 1)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "delete from "+tbl+where, args...)
	return err
}

func whereClause(filter remote.Filter, start int) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	conds := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	for i, k := range sortedKeys(filter) {
		col, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, fmt.Sprintf("%s = $%d", col, start+i))
		args = append(args, driverValue(filter[k]))
	}
	return " where " + strings.Join(conds, " and "), args, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// driverValue flattens JSON payloads to bytes the driver can bind to jsonb
// columns.
func driverValue(v any) any {
	switch t := v.(type) {
	case json.RawMessage:
		return []byte(t)
	case map[string]any, map[string]bool, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return v
		}
		return data
	default:
		return v
	}
}

// collectRows reads all rows into generic maps, normalizing driver byte
// payloads into JSON-friendly values.
func collectRows(rows *sql.Rows) ([]remote.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []remote.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(remote.Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if json.Valid(b) {
		return json.RawMessage(append([]byte(nil), b...))
	}
	return string(b)
}

// reencode moves src into dest through a JSON round trip, matching the REST
// gateway's row representation.
func reencode(src, dest any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}
