// Package rowstore exposes SQL tables as header-labelled rows. Callers address
// cells by header name and rows by their key column; the SQL column layout is
// private to the Table description.
package rowstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"slam/internal/db"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownHeader  = errors.New("unknown header")
	ErrComputedHeader = errors.New("computed column is read-only")
	ErrEmptyKey       = errors.New("key must not be empty")
)

// Column maps one header to its SQL column.
type Column struct {
	Header   string
	Name     string
	Computed bool
}

// Table describes a header-labelled table. Key is the header of the key column.
type Table struct {
	Name    string
	Key     string
	Columns []Column
}

// Row maps header to raw cell value as returned by the driver.
type Row map[string]any

// RowHandle is a stable position for a row: its insertion sequence number.
type RowHandle int64

// Store reads and writes one table through any Querier, so writes made in a
// transaction are visible to later reads on the same transaction.
type Store struct {
	DB    *db.DB
	Table Table
}

func (s Store) column(header string) (Column, error) {
	for _, c := range s.Table.Columns {
		if c.Header == header {
			return c, nil
		}
	}
	return Column{}, fmt.Errorf("%w %q in %s", ErrUnknownHeader, header, s.Table.Name)
}

func (s Store) selectList() string {
	cols := make([]string, 0, len(s.Table.Columns))
	for _, c := range s.Table.Columns {
		cols = append(cols, c.Name)
	}
	return strings.Join(cols, ",")
}

func (s Store) scanRow(scan func(dest ...any) error) (Row, error) {
	cells := make([]any, len(s.Table.Columns))
	ptrs := make([]any, len(cells))
	for i := range cells {
		ptrs[i] = &cells[i]
	}
	if err := scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(Row, len(cells))
	for i, c := range s.Table.Columns {
		if b, ok := cells[i].([]byte); ok {
			cells[i] = string(b)
		}
		row[c.Header] = cells[i]
	}
	return row, nil
}

// FindRowByKey returns the first row whose key cell equals key.
func (s Store) FindRowByKey(ctx context.Context, q db.Querier, key string) (RowHandle, error) {
	keyCol, err := s.column(s.Table.Key)
	if err != nil {
		return 0, err
	}
	var h RowHandle
	query := fmt.Sprintf(`SELECT seq FROM %s WHERE %s=? ORDER BY seq LIMIT 1`, s.Table.Name, keyCol.Name)
	err = s.DB.QueryRowOn(ctx, q, query, key).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return h, err
}

func (s Store) ReadRow(ctx context.Context, q db.Querier, h RowHandle) (Row, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE seq=?`, s.selectList(), s.Table.Name)
	row, err := s.scanRow(s.DB.QueryRowOn(ctx, q, query, int64(h)).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return row, err
}

// WriteCell sets one cell. Computed and unknown headers are refused.
func (s Store) WriteCell(ctx context.Context, q db.Querier, h RowHandle, header string, value any) error {
	col, err := s.column(header)
	if err != nil {
		return err
	}
	if col.Computed {
		return fmt.Errorf("%w: %s", ErrComputedHeader, header)
	}
	if header == s.Table.Key {
		if str, ok := value.(string); !ok || str == "" {
			return ErrEmptyKey
		}
	}
	res, err := s.DB.ExecOn(ctx, q, fmt.Sprintf(`UPDATE %s SET %s=? WHERE seq=?`, s.Table.Name, col.Name), value, int64(h))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSwap writes cells only if the guard cell still holds expect.
// It reports whether the row was updated.
func (s Store) CompareAndSwap(ctx context.Context, q db.Querier, h RowHandle, guard string, expect any, values Row) (bool, error) {
	guardCol, err := s.column(guard)
	if err != nil {
		return false, err
	}
	sets := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+2)
	for _, c := range s.Table.Columns {
		v, ok := values[c.Header]
		if !ok {
			continue
		}
		if c.Computed {
			return false, fmt.Errorf("%w: %s", ErrComputedHeader, c.Header)
		}
		sets = append(sets, c.Name+"=?")
		args = append(args, v)
	}
	if len(sets) != len(values) {
		for header := range values {
			if _, err := s.column(header); err != nil {
				return false, err
			}
		}
	}
	if len(sets) == 0 {
		return false, errors.New("no cells to write")
	}
	args = append(args, int64(h), expect)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE seq=? AND %s=?`, s.Table.Name, strings.Join(sets, ","), guardCol.Name)
	res, err := s.DB.ExecOn(ctx, q, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AppendRow inserts a row. Computed columns and headers absent from values are
// left to the store.
func (s Store) AppendRow(ctx context.Context, q db.Querier, values Row) (RowHandle, error) {
	if key, _ := values[s.Table.Key].(string); key == "" {
		return 0, ErrEmptyKey
	}
	var (
		cols  []string
		marks []string
		args  []any
	)
	for _, c := range s.Table.Columns {
		v, ok := values[c.Header]
		if !ok || c.Computed {
			continue
		}
		cols = append(cols, c.Name)
		marks = append(marks, "?")
		args = append(args, v)
	}
	for header := range values {
		if _, err := s.column(header); err != nil {
			return 0, err
		}
	}
	query := fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s) RETURNING seq`, s.Table.Name, strings.Join(cols, ","), strings.Join(marks, ","))
	var h RowHandle
	if err := s.DB.QueryRowOn(ctx, q, query, args...).Scan(&h); err != nil {
		return 0, err
	}
	return h, nil
}

// Scan returns every row with a non-empty key in insertion order.
func (s Store) Scan(ctx context.Context, q db.Querier) ([]Row, error) {
	rows, err := s.DB.QueryOn(ctx, q, fmt.Sprintf(`SELECT %s FROM %s ORDER BY seq`, s.selectList(), s.Table.Name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		row, err := s.scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		if key, _ := row[s.Table.Key].(string); key == "" {
			continue
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Delete removes rows whose cells match every given header/value pair and
// reports how many went.
func (s Store) Delete(ctx context.Context, q db.Querier, match Row) (int64, error) {
	if len(match) == 0 {
		return 0, errors.New("delete requires a match")
	}
	var (
		conds []string
		args  []any
	)
	for _, c := range s.Table.Columns {
		v, ok := match[c.Header]
		if !ok {
			continue
		}
		conds = append(conds, c.Name+"=?")
		args = append(args, v)
	}
	if len(conds) != len(match) {
		return 0, fmt.Errorf("%w in delete match", ErrUnknownHeader)
	}
	res, err := s.DB.ExecOn(ctx, q, fmt.Sprintf(`DELETE FROM %s WHERE %s`, s.Table.Name, strings.Join(conds, " AND ")), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Exists reports whether the backing table is present.
func (s Store) Exists(ctx context.Context, q db.Querier) (bool, error) {
	var query string
	switch s.DB.Dialect {
	case db.Postgres:
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name=?`
	default:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
	}
	var n int
	if err := s.DB.QueryRowOn(ctx, q, query, s.Table.Name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
