package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Rows is a fully read query result.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Maps returns the rows as column name → value maps.
func (r *Rows) Maps() []map[string]any {
	out := make([]map[string]any, len(r.Values))
	for i, vals := range r.Values {
		m := make(map[string]any, len(r.Columns))
		for j, col := range r.Columns {
			m[col] = vals[j]
		}
		out[i] = m
	}
	return out
}

// QueryRows runs a query and reads all rows. TEXT and BLOB values are
// returned as strings.
//
// Returns an empty (not nil) Values slice if no rows match.
func (s *Store) QueryRows(ctx context.Context, query string, params ...any) (_ *Rows, err error) {
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("close rows: %w", cerr)).ErrorOrNil()
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	out := &Rows{Columns: cols, Values: [][]any{}}
	for rows.Next() {
		vals, err := scanRow(rows, len(cols))
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func scanRow(rows *sql.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	for i, v := range vals {
		vals[i] = scanValue(v)
	}
	return vals, nil
}
