package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/cqnlower/internal/cqn"
)

// LoggedQuery is one entry of the query log.
type LoggedQuery struct {
	ID       string // content hash of the lowered query
	Query    string // canonical JSON of the lowered query
	SQL      string
	Params   string // canonical JSON array
	RowCount int
	Seq      int64
}

// ReplayMismatch reports a logged query whose row count changed.
type ReplayMismatch struct {
	Entry LoggedQuery
	Got   int
}

// RecordQuery appends a lowered query and its rendered SQL to the log.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - recording the same
// lowered query again keeps the first entry.
func (s *Store) RecordQuery(ctx context.Context, q *cqn.Select, query string, params []any, rowCount int) (string, error) {
	id, err := cqn.QueryKey(q)
	if err != nil {
		return "", fmt.Errorf("record query: %w", err)
	}
	queryJSON, err := marshalQuery(q)
	if err != nil {
		return "", fmt.Errorf("record query: %w", err)
	}
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return "", fmt.Errorf("record query: %w", err)
	}
	seq, err := s.GetLastSeq(ctx)
	if err != nil {
		return "", fmt.Errorf("record query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_log (id, query, sql, params, row_count, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, queryJSON, query, paramsJSON, rowCount, seq+1)
	if err != nil {
		return "", fmt.Errorf("record query: %w", err)
	}
	return id, nil
}

// QueryLog returns all logged queries ordered by seq.
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) QueryLog(ctx context.Context) ([]LoggedQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, sql, params, row_count, seq
		FROM query_log
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()

	entries := []LoggedQuery{}
	for rows.Next() {
		var e LoggedQuery
		if err := rows.Scan(&e.ID, &e.Query, &e.SQL, &e.Params, &e.RowCount, &e.Seq); err != nil {
			return nil, fmt.Errorf("scan query log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query log: %w", err)
	}
	return entries, nil
}

// Replay re-runs every logged query in seq order and reports those whose
// row count differs from the recorded one.
func (s *Store) Replay(ctx context.Context) ([]ReplayMismatch, error) {
	entries, err := s.QueryLog(ctx)
	if err != nil {
		return nil, err
	}
	mismatches := []ReplayMismatch{}
	for _, e := range entries {
		params, err := unmarshalParams(e.Params)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", e.ID, err)
		}
		rows, err := s.QueryRows(ctx, e.SQL, params...)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", e.ID, err)
		}
		if got := len(rows.Values); got != e.RowCount {
			mismatches = append(mismatches, ReplayMismatch{Entry: e, Got: got})
		}
	}
	return mismatches, nil
}

// GetLastSeq returns the highest seq in the query log, or 0 if it is empty.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM query_log`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq.Int64, nil
}
