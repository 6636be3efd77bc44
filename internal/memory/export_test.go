package memory

import (
	"database/sql"
	"errors"
)

// DB exposes the internal *sql.DB for test helpers in memory_test.
// This file only compiles during `go test`.
func (s *Store) DB() *sql.DB {
	return s.db
}

// FailCommits makes every later transaction commit fail.
func (s *Store) FailCommits() {
	s.hooks.commit = func(tx *sql.Tx) error {
		_ = tx.Rollback()
		return errors.New("forced commit failure")
	}
}

// SanitizeFTS exposes sanitizeFTS to memory_test.
var SanitizeFTS = sanitizeFTS

// FailQueries makes every later read query fail.
func (s *Store) FailQueries() {
	s.hooks.queryIt = func(queryer, string, ...any) (rowScanner, error) {
		return nil, errors.New("forced query failure")
	}
}

// FailBegin makes every later transaction fail to start.
func (s *Store) FailBegin() {
	s.hooks.beginTx = func(*sql.DB) (*sql.Tx, error) {
		return nil, errors.New("forced begin failure")
	}
}

// FailExec makes every later statement outside a query fail.
func (s *Store) FailExec() {
	s.hooks.exec = func(execer, string, ...any) (sql.Result, error) {
		return nil, errors.New("forced exec failure")
	}
}
