package sqlite

import "database/sql"

// DB exposes the connection so tests can write rows the Store never would.
func (s *Store) DB() *sql.DB { return s.db }
