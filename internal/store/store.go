package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// queryLogVersion is kept in PRAGMA user_version. A database written with a
// newer query log layout is refused instead of being modified.
const queryLogVersion = 1

// Store is a SQLite sandbox for lowered queries: the tables of one model
// and the log of queries run against them.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the sandbox at path, creating the file and the query log if
// needed. The path ":memory:" opens a private in-memory database that lives
// until Close.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// Every connection to ":memory:" sees its own empty database, so the
	// pool holds exactly one connection and never recycles it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &Store{db: db, path: path}
	if err := s.initQueryLog(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initQueryLog creates the query log and stamps its version.
func (s *Store) initQueryLog() error {
	version, err := s.version()
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	if version > queryLogVersion {
		return fmt.Errorf("open %s: query log version %d is newer than supported version %d", s.path, version, queryLogVersion)
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create query log: %w", err)
	}
	if version < queryLogVersion {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", queryLogVersion)); err != nil {
			return fmt.Errorf("stamp query log version: %w", err)
		}
	}
	return nil
}

func (s *Store) version() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// Close closes the database. An in-memory sandbox is discarded.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}
