/*
Package sqldb provides a database/sql implementation of ledger.TxStore.

PURPOSE:
  One implementation of the ledger persistence interfaces shared by the
  SQLite and PostgreSQL backends. Dialect differences (placeholder style,
  auto-increment column, unique-violation detection) live in Dialect;
  the queries themselves are written once with '?' placeholders.

KEY TABLES:
  movements:  Ledger entries. seq is the insertion sequence used as the
              ordering tie-breaker; idempotency_key is UNIQUE (NULLs allowed)
  categories: Category registry (name is the primary key)
  closings:   Cash closings with JSON-encoded method totals and id snapshot

IDEMPOTENCY:
  The UNIQUE index on movements.idempotency_key is the cross-process
  guarantee. A violating insert returns ledger.ErrDuplicateIdempotencyKey.

COMPARE-AND-SWAP:
  UpdateMovement writes WHERE id = ? AND registered = false AND version = ?
  and reports whether a row matched.

CONCURRENCY:
  sync.RWMutex serializes writers inside one process. Across processes
  the database does the work: SQLite opens transactions with BEGIN
  IMMEDIATE (see store/sqlite). PostgreSQL relies on the unique index,
  the CAS predicates and row locks on the rows a closing is about to flag
  (Dialect.RowLocks).

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite/sqlite.go: SQLite dialect and constructor
  - store/postgres/postgres.go: PostgreSQL dialect and constructor
*/
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/cashbook/ledger"
)

// maxInParams bounds the number of ids bound into one IN (...) list.
const maxInParams = 500

// =============================================================================
// DIALECT
// =============================================================================

type Dialect struct {
	Name string

	// SeqColumn is the column definition of the auto-incrementing
	// insertion sequence.
	SeqColumn string

	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool

	// RowLocks adds FOR UPDATE to unregistered listings made inside WithTx,
	// so a closing holds its rows until commit and a concurrent update or
	// delete of them waits and then fails its registered = false predicate.
	RowLocks bool

	// IsUniqueViolation reports whether err is a unique-constraint failure.
	IsUniqueViolation func(err error) bool
}

func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() string {
	return fmt.Sprintf(`
	-- Ledger entries
	CREATE TABLE IF NOT EXISTS movements (
		%s,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL CHECK (type IN ('income', 'expense', 'investment')),
		amount TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		client_name TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		registered BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- Closing selection and daily listings (hot path)
	CREATE INDEX IF NOT EXISTS idx_movements_date_registered
		ON movements(date, registered);

	-- Rename cascade
	CREATE INDEX IF NOT EXISTS idx_movements_category
		ON movements(category);

	CREATE INDEX IF NOT EXISTS idx_movements_order
		ON movements(order_id);

	-- Category registry
	CREATE TABLE IF NOT EXISTS categories (
		name TEXT PRIMARY KEY
	);

	-- Cash closings (immutable)
	CREATE TABLE IF NOT EXISTS closings (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		total TEXT NOT NULL,
		method_totals_json TEXT NOT NULL,
		movement_ids_json TEXT NOT NULL,
		closed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_closings_date
		ON closings(date);
	`, d.SeqColumn)
}

// =============================================================================
// STORE
// =============================================================================

// Store implements ledger.TxStore over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.RWMutex
}

var _ ledger.TxStore = (*Store)(nil)

// New wraps an open database and migrates the schema.
func New(db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, dialect: d}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate %s database: %w", d.Name, err)
	}
	return s, nil
}

// Open is New without migration, for callers that manage the schema.
func Open(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d}
}

func (s *Store) migrate(ctx context.Context) error {
	// Statement by statement: lib/pq rejects multi-statement Exec with args,
	// and keeping one path for both dialects is simpler.
	for _, stmt := range strings.Split(s.dialect.schema(), ";") {
		if strings.TrimSpace(stripComments(stmt)) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func stripComments(stmt string) string {
	var out []string
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) conn() *conn { return &conn{q: s.db, d: s.dialect} }

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTxLocked(ctx, fn)
}

func (s *Store) withTxLocked(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&conn{q: tx, d: s.dialect, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Reset deletes every row. Demo scenarios only.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(ls ledger.Store) error {
		c := ls.(*conn)
		for _, table := range []string{"movements", "categories", "closings"} {
			if _, err := c.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// Locked wrappers around conn. Writes take the write lock, reads the read lock.

func (s *Store) InsertMovement(ctx context.Context, m ledger.Movement) (ledger.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().InsertMovement(ctx, m)
}

func (s *Store) GetMovement(ctx context.Context, id ledger.MovementID) (ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().GetMovement(ctx, id)
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (ledger.Movement, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().FindByIdempotencyKey(ctx, key)
}

func (s *Store) UpdateMovement(ctx context.Context, m ledger.Movement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().UpdateMovement(ctx, m)
}

func (s *Store) DeleteMovement(ctx context.Context, id ledger.MovementID, unregisteredOnly bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().DeleteMovement(ctx, id, unregisteredOnly)
}

func (s *Store) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().ListMovements(ctx, f)
}

func (s *Store) MarkRegistered(ctx context.Context, ids []ledger.MovementID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.withTxLocked(ctx, func(ls ledger.Store) error {
		var err error
		n, err = ls.MarkRegistered(ctx, ids)
		return err
	})
	return n, err
}

func (s *Store) PendingDates(ctx context.Context) ([]ledger.Date, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().PendingDates(ctx)
}

func (s *Store) InsertCategory(ctx context.Context, c ledger.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().InsertCategory(ctx, c)
}

func (s *Store) CategoryExists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().CategoryExists(ctx, name)
}

func (s *Store) ListCategories(ctx context.Context) ([]ledger.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().ListCategories(ctx)
}

func (s *Store) DeleteCategory(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().DeleteCategory(ctx, name)
}

// RenameCategory runs the registry update and the movement relabel in one
// transaction even when called outside WithTx.
func (s *Store) RenameCategory(ctx context.Context, oldName, newName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.withTxLocked(ctx, func(ls ledger.Store) error {
		var err error
		n, err = ls.RenameCategory(ctx, oldName, newName)
		return err
	})
	return n, err
}

func (s *Store) InsertClosing(ctx context.Context, c ledger.ClosingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().InsertClosing(ctx, c)
}

func (s *Store) GetClosing(ctx context.Context, id ledger.ClosingID) (ledger.ClosingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().GetClosing(ctx, id)
}

func (s *Store) ListClosings(ctx context.Context, from, to ledger.Date) ([]ledger.ClosingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().ListClosings(ctx, from, to)
}

// =============================================================================
// CONN - ledger.Store bound to *sql.DB or *sql.Tx
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q    queryer
	d    Dialect
	inTx bool
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

const movementColumns = `seq, id, type, amount, category, description, date, time,
	payment_method, client_name, order_id, idempotency_key, registered, version, created_at`

func (c *conn) InsertMovement(ctx context.Context, m ledger.Movement) (ledger.Movement, error) {
	query := `
		INSERT INTO movements
		(id, type, amount, category, description, date, time, payment_method,
		 client_name, order_id, idempotency_key, registered, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.exec(ctx, query,
		string(m.ID),
		string(m.Type),
		m.Amount.String(),
		m.Category,
		m.Description,
		m.Date.String(),
		m.Time.String(),
		string(m.PaymentMethod),
		m.ClientName,
		string(m.OrderID),
		nullString(m.IdempotencyKey),
		m.Registered,
		m.Version,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if c.d.IsUniqueViolation(err) && m.IdempotencyKey != "" {
			return ledger.Movement{}, ledger.ErrDuplicateIdempotencyKey
		}
		return ledger.Movement{}, fmt.Errorf("failed to insert movement: %w", err)
	}
	return c.GetMovement(ctx, m.ID)
}

func (c *conn) GetMovement(ctx context.Context, id ledger.MovementID) (ledger.Movement, error) {
	row := c.queryRow(ctx, "SELECT "+movementColumns+" FROM movements WHERE id = ?", string(id))
	m, err := scanMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Movement{}, &ledger.NotFoundError{Kind: "movement", ID: string(id)}
	}
	return m, err
}

func (c *conn) FindByIdempotencyKey(ctx context.Context, key string) (ledger.Movement, bool, error) {
	row := c.queryRow(ctx, "SELECT "+movementColumns+" FROM movements WHERE idempotency_key = ?", key)
	m, err := scanMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Movement{}, false, nil
	}
	if err != nil {
		return ledger.Movement{}, false, err
	}
	return m, true, nil
}

func (c *conn) UpdateMovement(ctx context.Context, m ledger.Movement) (bool, error) {
	query := `
		UPDATE movements SET
			type = ?, amount = ?, category = ?, description = ?, date = ?, time = ?,
			payment_method = ?, client_name = ?, order_id = ?, version = ?
		WHERE id = ? AND registered = ? AND version = ?
	`
	res, err := c.exec(ctx, query,
		string(m.Type), m.Amount.String(), m.Category, m.Description,
		m.Date.String(), m.Time.String(), string(m.PaymentMethod),
		m.ClientName, string(m.OrderID), m.Version,
		string(m.ID), false, m.Version-1,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update movement: %w", err)
	}
	return affected(res)
}

func (c *conn) DeleteMovement(ctx context.Context, id ledger.MovementID, unregisteredOnly bool) (bool, error) {
	query := "DELETE FROM movements WHERE id = ?"
	args := []any{string(id)}
	if unregisteredOnly {
		query += " AND registered = ?"
		args = append(args, false)
	}
	res, err := c.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete movement: %w", err)
	}
	return affected(res)
}

func (c *conn) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	var (
		where []string
		args  []any
	)
	if f.Date != nil {
		where = append(where, "date = ?")
		args = append(args, f.Date.String())
	}
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if f.To != nil {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}
	if f.Category != nil {
		where = append(where, "category = ?")
		args = append(args, *f.Category)
	}
	if f.Unregistered {
		where = append(where, "registered = ?")
		args = append(args, false)
	}

	query := "SELECT " + movementColumns + " FROM movements"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, time DESC, seq ASC"
	if f.Unregistered && c.inTx && c.d.RowLocks {
		query += " FOR UPDATE"
	}

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	movements := make([]ledger.Movement, 0)
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (c *conn) MarkRegistered(ctx context.Context, ids []ledger.MovementID) (int, error) {
	total := 0
	for start := 0; start < len(ids); start += maxInParams {
		end := min(start+maxInParams, len(ids))
		chunk := ids[start:end]

		args := make([]any, 0, len(chunk)+2)
		args = append(args, true, false)
		for _, id := range chunk {
			args = append(args, string(id))
		}
		query := "UPDATE movements SET registered = ? WHERE registered = ? AND id IN (" +
			placeholders(len(chunk)) + ")"

		res, err := c.exec(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("failed to register movements: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

func (c *conn) PendingDates(ctx context.Context) ([]ledger.Date, error) {
	rows, err := c.query(ctx, "SELECT DISTINCT date FROM movements WHERE registered = ? ORDER BY date DESC", false)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending dates: %w", err)
	}
	defer rows.Close()

	var dates []ledger.Date
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		d, err := ledger.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("corrupt date %q in movements: %w", s, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (c *conn) InsertCategory(ctx context.Context, cat ledger.Category) error {
	_, err := c.exec(ctx, "INSERT INTO categories (name) VALUES (?)", cat.Name)
	if err != nil {
		if c.d.IsUniqueViolation(err) {
			return &ledger.DuplicateError{Kind: "category", Name: cat.Name}
		}
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func (c *conn) CategoryExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := c.queryRow(ctx, "SELECT COUNT(*) FROM categories WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to look up category: %w", err)
	}
	return count > 0, nil
}

func (c *conn) ListCategories(ctx context.Context) ([]ledger.Category, error) {
	rows, err := c.query(ctx, "SELECT name FROM categories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]ledger.Category, 0)
	for rows.Next() {
		var cat ledger.Category
		if err := rows.Scan(&cat.Name); err != nil {
			return nil, err
		}
		categories = append(categories, cat)
	}
	return categories, rows.Err()
}

func (c *conn) DeleteCategory(ctx context.Context, name string) (bool, error) {
	res, err := c.exec(ctx, "DELETE FROM categories WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to delete category: %w", err)
	}
	return affected(res)
}

// RenameCategory issues two bulk statements. Callers outside a transaction
// go through Store.RenameCategory, which wraps them in one.
func (c *conn) RenameCategory(ctx context.Context, oldName, newName string) (int, error) {
	if _, err := c.exec(ctx, "UPDATE categories SET name = ? WHERE name = ?", newName, oldName); err != nil {
		if c.d.IsUniqueViolation(err) {
			return 0, &ledger.DuplicateError{Kind: "category", Name: newName}
		}
		return 0, fmt.Errorf("failed to rename category: %w", err)
	}
	res, err := c.exec(ctx, "UPDATE movements SET category = ? WHERE category = ?", newName, oldName)
	if err != nil {
		return 0, fmt.Errorf("failed to relabel movements: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// CLOSINGS
// =============================================================================

func (c *conn) InsertClosing(ctx context.Context, rec ledger.ClosingRecord) error {
	totalsJSON, err := json.Marshal(rec.MethodTotals)
	if err != nil {
		return fmt.Errorf("failed to encode method totals: %w", err)
	}
	idsJSON, err := json.Marshal(rec.MovementIDs)
	if err != nil {
		return fmt.Errorf("failed to encode movement ids: %w", err)
	}

	query := `
		INSERT INTO closings (id, date, total, method_totals_json, movement_ids_json, closed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = c.exec(ctx, query,
		string(rec.ID), rec.Date.String(), rec.Total.String(),
		string(totalsJSON), string(idsJSON),
		rec.ClosedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert closing: %w", err)
	}
	return nil
}

const closingColumns = "id, date, total, method_totals_json, movement_ids_json, closed_at"

func (c *conn) GetClosing(ctx context.Context, id ledger.ClosingID) (ledger.ClosingRecord, error) {
	row := c.queryRow(ctx, "SELECT "+closingColumns+" FROM closings WHERE id = ?", string(id))
	rec, err := scanClosing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ClosingRecord{}, &ledger.NotFoundError{Kind: "closing", ID: string(id)}
	}
	return rec, err
}

func (c *conn) ListClosings(ctx context.Context, from, to ledger.Date) ([]ledger.ClosingRecord, error) {
	rows, err := c.query(ctx,
		"SELECT "+closingColumns+" FROM closings WHERE date >= ? AND date <= ? ORDER BY date ASC, closed_at ASC",
		from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query closings: %w", err)
	}
	defer rows.Close()

	closings := make([]ledger.ClosingRecord, 0)
	for rows.Next() {
		rec, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		closings = append(closings, rec)
	}
	return closings, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanMovement(row scanner) (ledger.Movement, error) {
	var (
		m              ledger.Movement
		id, typ        string
		amount         string
		date, clock    string
		method         string
		orderID        string
		idempotencyKey sql.NullString
		createdAt      string
	)
	err := row.Scan(
		&m.Seq, &id, &typ, &amount, &m.Category, &m.Description, &date, &clock,
		&method, &m.ClientName, &orderID, &idempotencyKey, &m.Registered, &m.Version, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, err
		}
		return m, fmt.Errorf("failed to scan movement: %w", err)
	}

	m.ID = ledger.MovementID(id)
	m.Type = ledger.MovementType(typ)
	m.PaymentMethod = ledger.PaymentMethod(method)
	m.OrderID = ledger.OrderID(orderID)
	m.IdempotencyKey = idempotencyKey.String

	if m.Amount, err = decimal.NewFromString(amount); err != nil {
		return m, fmt.Errorf("corrupt amount %q on movement %s: %w", amount, id, err)
	}
	if m.Date, err = ledger.ParseDate(date); err != nil {
		return m, fmt.Errorf("corrupt date on movement %s: %w", id, err)
	}
	if m.Time, err = ledger.ParseTimeOfDay(clock); err != nil {
		return m, fmt.Errorf("corrupt time on movement %s: %w", id, err)
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return m, fmt.Errorf("corrupt created_at on movement %s: %w", id, err)
	}
	return m, nil
}

func scanClosing(row scanner) (ledger.ClosingRecord, error) {
	var (
		rec                 ledger.ClosingRecord
		id, date, total     string
		totalsJSON, idsJSON string
		closedAt            string
	)
	if err := row.Scan(&id, &date, &total, &totalsJSON, &idsJSON, &closedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan closing: %w", err)
	}

	var err error
	rec.ID = ledger.ClosingID(id)
	if rec.Date, err = ledger.ParseDate(date); err != nil {
		return rec, fmt.Errorf("corrupt date on closing %s: %w", id, err)
	}
	if rec.Total, err = decimal.NewFromString(total); err != nil {
		return rec, fmt.Errorf("corrupt total on closing %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(totalsJSON), &rec.MethodTotals); err != nil {
		return rec, fmt.Errorf("corrupt method totals on closing %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(idsJSON), &rec.MovementIDs); err != nil {
		return rec, fmt.Errorf("corrupt movement ids on closing %s: %w", id, err)
	}
	if rec.ClosedAt, err = time.Parse(time.RFC3339Nano, closedAt); err != nil {
		return rec, fmt.Errorf("corrupt closed_at on closing %s: %w", id, err)
	}
	return rec, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
