/*
Package sqlite provides the SQLite backend for the cashbook ledger.

PURPOSE:
  Opens a SQLite database with the pragmas the ledger relies on and
  hands it to sqldb, which holds the queries shared with PostgreSQL.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

IMMEDIATE TRANSACTIONS:
  _txlock=immediate makes every BeginTx take the write lock up front, so
  two processes closing the same day serialize instead of both reading
  the same unregistered set. _busy_timeout makes the loser wait rather
  than fail with SQLITE_BUSY.

USAGE:
  store, err := sqlite.New("./data/cashbook.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.NewLedger(store)

SEE ALSO:
  - store/sqldb/sqldb.go: Queries and transaction handling
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/cashbook/store/sqldb"
)

// Dialect describes SQLite to sqldb.
var Dialect = sqldb.Dialect{
	Name:              "sqlite",
	SeqColumn:         "seq INTEGER PRIMARY KEY AUTOINCREMENT",
	IsUniqueViolation: isUniqueConstraintError,
}

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqldb.Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps ":memory:" databases alive across calls and
	// matches SQLite's single-writer model.
	db.SetMaxOpenConns(1)

	store, err := sqldb.New(db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
