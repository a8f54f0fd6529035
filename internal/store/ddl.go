package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/cqnlower/internal/csn"
	"github.com/roach88/cqnlower/internal/querysql"
)

// CreateTables creates one table per entity and one view per projection
// of the model. Existing tables are kept.
//
// Views are created after all tables so a view may project an entity
// declared later in the model.
func (s *Store) CreateTables(ctx context.Context, m *csn.Model) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	defer tx.Rollback()

	var views []string
	for _, d := range m.Entities() {
		if d.Projection != "" {
			views = append(views, ViewDDL(d))
			continue
		}
		if _, err := tx.ExecContext(ctx, TableDDL(d)); err != nil {
			return fmt.Errorf("create table %s: %w", d.Name, err)
		}
	}
	for _, ddl := range views {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create view: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// TableDDL returns the CREATE TABLE statement for an entity. Columns are
// the flattened physical columns in declaration order.
func TableDDL(d *csn.Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quote(querysql.TableName(d.Name)))
	var keys []string
	for i, l := range d.Columns() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", quote(l.Column), columnType(l))
		if l.TargetColumn == "" && l.Element != nil && l.Element.NotNull {
			b.WriteString(" NOT NULL")
		}
		if l.Key {
			keys = append(keys, quote(l.Column))
		}
	}
	if len(keys) > 0 {
		fmt.Fprintf(&b, ", PRIMARY KEY (%s)", strings.Join(keys, ", "))
	}
	b.WriteString(")")
	return b.String()
}

// ViewDDL returns the CREATE VIEW statement for a projection.
func ViewDDL(d *csn.Definition) string {
	return fmt.Sprintf("CREATE VIEW IF NOT EXISTS %s AS SELECT * FROM %s",
		quote(querysql.TableName(d.Name)), quote(querysql.TableName(d.Projection)))
}

// columnType maps a scalar type to a SQLite column type.
func columnType(l csn.Leaf) string {
	if l.Element == nil {
		return "TEXT"
	}
	switch strings.TrimPrefix(l.Element.Type, "cds.") {
	case "Integer", "Int16", "Int32", "Int64", "UInt8", "Boolean":
		return "INTEGER"
	case "Decimal", "Double":
		return "REAL"
	case "Binary", "LargeBinary":
		return "BLOB"
	default:
		return "TEXT"
	}
}

func quote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
