package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cqnlower/internal/csn"
	"github.com/roach88/cqnlower/internal/querysql"
)

// SeedData maps entity names to the rows to insert.
type SeedData map[string][]map[string]any

// ParseSeed parses seed data from YAML (or JSON):
//
//	bookshop.Authors:
//	  - {ID: 101, name: Emily Bronte}
//	bookshop.Books:
//	  - {ID: 201, title: Wuthering Heights, author: {ID: 101}}
func ParseSeed(data []byte) (SeedData, error) {
	var seed SeedData
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return seed, nil
}

// Seed inserts seed data for every entity it names. Entities are seeded
// in model order. All unknown entities and columns are reported together
// before anything is written.
func (s *Store) Seed(ctx context.Context, m *csn.Model, seed SeedData) error {
	var errs *multierror.Error
	names := make([]string, 0, len(seed))
	for name := range seed {
		if _, ok := m.Definition(name); !ok {
			errs = multierror.Append(errs, fmt.Errorf("seed: unknown entity %s", name))
			continue
		}
		names = append(names, name)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	order := make(map[string]int)
	for i, d := range m.Definitions() {
		order[d.Name] = i
	}
	sort.Slice(names, func(i, j int) bool { return order[names[i]] < order[names[j]] })

	for _, name := range names {
		d, _ := m.Definition(name)
		if err := s.InsertRows(ctx, d, seed[name]); err != nil {
			return err
		}
	}
	return nil
}

// InsertRows inserts rows into the table of an entity in one transaction.
//
// Row keys are element names. Structured values and managed associations
// may be given as nested objects ({author: {ID: 1}}) or flat column names
// (author_ID). Every invalid column of every row is reported.
func (s *Store) InsertRows(ctx context.Context, d *csn.Definition, rows []map[string]any) error {
	if d.Projection != "" {
		return fmt.Errorf("insert rows: %s is a view", d.Name)
	}

	type insert struct {
		sql  string
		args []any
	}
	var (
		errs    *multierror.Error
		inserts []insert
	)
	for i, row := range rows {
		flat := make(map[string]any)
		flattenRow("", row, flat)

		cols := make([]string, 0, len(flat))
		for col := range flat {
			if _, ok := d.Column(col); !ok {
				errs = multierror.Append(errs, fmt.Errorf("%s row %d: unknown column %s", d.Name, i, col))
				continue
			}
			cols = append(cols, col)
		}
		sort.Strings(cols)

		args := make([]any, len(cols))
		quoted := make([]string, len(cols))
		for j, col := range cols {
			v, err := columnValue(flat[col])
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s row %d column %s: %w", d.Name, i, col, err))
			}
			args[j] = v
			quoted[j] = quote(col)
		}
		inserts = append(inserts, insert{
			sql: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quote(querysql.TableName(d.Name)),
				strings.Join(quoted, ", "),
				strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")),
			args: args,
		})
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert rows: %w", err)
	}
	defer tx.Rollback()

	for i, ins := range inserts {
		if _, err := tx.ExecContext(ctx, ins.sql, ins.args...); err != nil {
			return fmt.Errorf("insert %s row %d: %w", d.Name, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert rows: %w", err)
	}
	return nil
}

// flattenRow joins nested object keys with "_", matching the flattened
// column names of structures and foreign keys.
func flattenRow(prefix string, row map[string]any, out map[string]any) {
	for k, v := range row {
		name := k
		if prefix != "" {
			name = prefix + "_" + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenRow(name, nested, out)
			continue
		}
		out[name] = v
	}
}
