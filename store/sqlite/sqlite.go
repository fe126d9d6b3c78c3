/*
Package sqlite provides a SQLite-backed implementation of billing.TxStore.

PURPOSE:
  Persists clients (with their fee contract), installment payment records
  and the cash-flow ledger. The same schema ports to PostgreSQL with minor
  dialect changes.

KEY TABLES:
  clients:       Client records; the fee contract is stored as JSON in the
                 persisted shape produced by the factory package
  payments:      One row per (client, installment), cumulative value,
                 revision counter for optimistic locking
  transactions:  Ledger entries, incremental values, unique idempotency key

OPTIMISTIC LOCKING:
  UpsertPayment only updates a row whose revision equals the caller's
  expected revision. A first payment is an INSERT guarded by the
  UNIQUE(client_id, installment_number) index. Both failure modes surface as
  billing.ErrConcurrentModification.

ATOMIC PAYMENT + LEDGER WRITE:
  WithTx runs the reconciler's payment upsert and ledger append in one
  database transaction.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of database/sql. ":memory:"
  databases are pinned to a single connection, since every new connection
  would otherwise open a fresh, empty database.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  reconciler := billing.NewReconciler(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/factory"
)

// timestampLayout is fixed width so created_at sorts correctly as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements billing.TxStore using SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	factory *factory.ContractFactory
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, factory: factory.NewContractFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		document TEXT,
		contract_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clients_name ON clients(name);

	-- One cumulative record per installment
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		installment_number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		value TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('partial', 'paid')),
		method TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 1
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_client_installment
		ON payments(client_id, installment_number);

	-- Ledger (incremental amounts)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK (type IN ('in', 'out')),
		title TEXT NOT NULL,
		value TEXT NOT NULL,
		category TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		client_id TEXT,
		installment_number INTEGER,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		created_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(date, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_client_installment
		ON transactions(client_id, installment_number) WHERE client_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CLIENTS
// =============================================================================

// GetClient returns a client with its payments, or nil if absent.
func (s *Store) GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getClient(ctx, s.db, id)
}

func (s *Store) getClient(ctx context.Context, db dbtx, id billing.ClientID) (*billing.Client, error) {
	clients, err := s.queryClients(ctx, db,
		"SELECT id, name, email, document, contract_json, created_at, updated_at FROM clients WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, nil
	}
	return &clients[0], nil
}

// ListClients returns all clients ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]billing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryClients(ctx, s.db,
		"SELECT id, name, email, document, contract_json, created_at, updated_at FROM clients ORDER BY name, id")
}

// ListClientsWithFeeContract returns clients that have a fee contract.
func (s *Store) ListClientsWithFeeContract(ctx context.Context) ([]billing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryClients(ctx, s.db, `
		SELECT id, name, email, document, contract_json, created_at, updated_at
		FROM clients
		WHERE contract_json IS NOT NULL AND contract_json != ''
		ORDER BY name, id`)
}

func (s *Store) queryClients(ctx context.Context, db dbtx, query string, args ...any) ([]billing.Client, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}

	var clients []billing.Client
	for rows.Next() {
		var (
			c                    billing.Client
			email, document      sql.NullString
			contractJSON         sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &email, &document, &contractJSON, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		c.Email = email.String
		c.Document = document.String
		c.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
		c.UpdatedAt, _ = time.Parse(timestampLayout, updatedAt)

		if contractJSON.Valid && contractJSON.String != "" {
			contract, err := s.factory.DecodeStoredContract(contractJSON.String)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("client %s: %w", c.ID, err)
			}
			c.Contract = contract
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Payments are loaded after the client cursor is closed: a ":memory:"
	// database only has one connection to run queries on.
	for i := range clients {
		payments, err := s.loadPayments(ctx, db, clients[i].ID)
		if err != nil {
			return nil, err
		}
		clients[i].Payments = payments
	}
	return clients, nil
}

// SaveClient creates or updates a client and its contract.
// Payment records are left untouched.
func (s *Store) SaveClient(ctx context.Context, c billing.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveClient(ctx, s.db, c)
}

func (s *Store) saveClient(ctx context.Context, db dbtx, c billing.Client) error {
	var contractJSON sql.NullString
	if c.Contract != nil {
		b, err := json.Marshal(s.factory.ContractToJSON(c.Contract))
		if err != nil {
			return fmt.Errorf("failed to encode contract: %w", err)
		}
		contractJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UTC()
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO clients (id, name, email, document, contract_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			document = excluded.document,
			contract_json = excluded.contract_json,
			updated_at = excluded.updated_at
	`,
		c.ID, c.Name, nullString(c.Email), nullString(c.Document), contractJSON,
		createdAt.Format(timestampLayout), now.Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) loadPayments(ctx context.Context, db dbtx, clientID billing.ClientID) ([]billing.PaymentRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_id, installment_number, due_date, paid_at, value, status, method, revision
		FROM payments
		WHERE client_id = ?
		ORDER BY installment_number
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.PaymentRecord
	for rows.Next() {
		var (
			p                     billing.PaymentRecord
			dueDate, paidAt, value string
		)
		if err := rows.Scan(&p.ID, &p.ClientID, &p.InstallmentNumber, &dueDate, &paidAt,
			&value, &p.Status, &p.Method, &p.Revision); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.DueDate, _ = billing.ParseDate(dueDate)
		p.PaidAt, _ = time.Parse(timestampLayout, paidAt)
		p.Value = parseDecimal(value)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// UpsertPayment writes rec guarded by the expected revision.
func (s *Store) UpsertPayment(ctx context.Context, rec billing.PaymentRecord, expectedRevision int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertPayment(ctx, s.db, rec, expectedRevision)
}

func upsertPayment(ctx context.Context, db dbtx, rec billing.PaymentRecord, expectedRevision int) error {
	if expectedRevision == 0 {
		_, err := db.ExecContext(ctx, `
			INSERT INTO payments
			(id, client_id, installment_number, due_date, paid_at, value, status, method, revision)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.ID, rec.ClientID, rec.InstallmentNumber, rec.DueDate.String(),
			rec.PaidAt.UTC().Format(timestampLayout), rec.Value.String(), rec.Status, rec.Method, rec.Revision,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: installment %d already has a payment",
					billing.ErrConcurrentModification, rec.InstallmentNumber)
			}
			if isForeignKeyError(err) {
				return fmt.Errorf("%w: %s", billing.ErrClientNotFound, rec.ClientID)
			}
			return fmt.Errorf("failed to insert payment: %w", err)
		}
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE payments
		SET paid_at = ?, value = ?, status = ?, method = ?, due_date = ?, revision = ?
		WHERE client_id = ? AND installment_number = ? AND revision = ?
	`,
		rec.PaidAt.UTC().Format(timestampLayout), rec.Value.String(), rec.Status, rec.Method,
		rec.DueDate.String(), rec.Revision,
		rec.ClientID, rec.InstallmentNumber, expectedRevision,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: installment %d is no longer at revision %d",
			billing.ErrConcurrentModification, rec.InstallmentNumber, expectedRevision)
	}
	return nil
}

// DeletePayment removes the record for an installment.
func (s *Store) DeletePayment(ctx context.Context, clientID billing.ClientID, installment int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePayment(ctx, s.db, clientID, installment)
}

func deletePayment(ctx context.Context, db dbtx, clientID billing.ClientID, installment int) (bool, error) {
	res, err := db.ExecContext(ctx,
		"DELETE FROM payments WHERE client_id = ? AND installment_number = ?", clientID, installment)
	if err != nil {
		return false, fmt.Errorf("failed to delete payment: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// LEDGER
// =============================================================================

const transactionColumns = `id, type, title, value, category, date, status, client_id,
	installment_number, idempotency_key, created_at, created_by`

// ListTransactions returns the ledger ordered by date, then creation time.
func (s *Store) ListTransactions(ctx context.Context) ([]billing.FinancialTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db)
}

func listTransactions(ctx context.Context, db dbtx) ([]billing.FinancialTransaction, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions ORDER BY date ASC, created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []billing.FinancialTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (billing.FinancialTransaction, error) {
	var (
		tx             billing.FinancialTransaction
		value, date    string
		clientID       sql.NullString
		installment    sql.NullInt64
		idempotencyKey sql.NullString
		createdAt      string
		createdBy      sql.NullString
	)
	err := rows.Scan(&tx.ID, &tx.Type, &tx.Title, &value, &tx.Category, &date, &tx.Status,
		&clientID, &installment, &idempotencyKey, &createdAt, &createdBy)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Value = parseDecimal(value)
	tx.Date, _ = billing.ParseDate(date)
	tx.ClientID = billing.ClientID(clientID.String)
	if installment.Valid {
		n := int(installment.Int64)
		tx.InstallmentNumber = &n
	}
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
	tx.CreatedBy = createdBy.String
	return tx, nil
}

// TransactionByIdempotencyKey returns the entry recorded under key, or nil.
func (s *Store) TransactionByIdempotencyKey(ctx context.Context, key string) (*billing.FinancialTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionByKey(ctx, s.db, key)
}

func transactionByKey(ctx context.Context, db dbtx, key string) (*billing.FinancialTransaction, error) {
	if key == "" {
		return nil, nil
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE idempotency_key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction by key: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	tx, err := scanTransaction(rows)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// AppendTransaction adds a ledger entry.
func (s *Store) AppendTransaction(ctx context.Context, tx billing.FinancialTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, db dbtx, tx billing.FinancialTransaction) error {
	var installment sql.NullInt64
	if tx.InstallmentNumber != nil {
		installment = sql.NullInt64{Int64: int64(*tx.InstallmentNumber), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.Type, tx.Title, tx.Value.String(), tx.Category, tx.Date.String(), tx.Status,
		nullString(string(tx.ClientID)), installment, nullString(tx.IdempotencyKey),
		tx.CreatedAt.UTC().Format(timestampLayout), nullString(tx.CreatedBy),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return billing.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// DeleteTransaction removes a ledger entry.
func (s *Store) DeleteTransaction(ctx context.Context, id billing.TransactionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteTransaction(ctx, s.db, id)
}

func deleteTransaction(ctx context.Context, db dbtx, id billing.TransactionID) (bool, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore runs every call on the open transaction; the parent's lock is
// already held.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	return ts.parent.getClient(ctx, ts.tx, id)
}

func (ts *txStore) ListClients(ctx context.Context) ([]billing.Client, error) {
	return ts.parent.queryClients(ctx, ts.tx,
		"SELECT id, name, email, document, contract_json, created_at, updated_at FROM clients ORDER BY name, id")
}

func (ts *txStore) ListClientsWithFeeContract(ctx context.Context) ([]billing.Client, error) {
	return ts.parent.queryClients(ctx, ts.tx, `
		SELECT id, name, email, document, contract_json, created_at, updated_at
		FROM clients
		WHERE contract_json IS NOT NULL AND contract_json != ''
		ORDER BY name, id`)
}

func (ts *txStore) SaveClient(ctx context.Context, c billing.Client) error {
	return ts.parent.saveClient(ctx, ts.tx, c)
}

func (ts *txStore) UpsertPayment(ctx context.Context, rec billing.PaymentRecord, expectedRevision int) error {
	return upsertPayment(ctx, ts.tx, rec, expectedRevision)
}

func (ts *txStore) DeletePayment(ctx context.Context, clientID billing.ClientID, installment int) (bool, error) {
	return deletePayment(ctx, ts.tx, clientID, installment)
}

func (ts *txStore) ListTransactions(ctx context.Context) ([]billing.FinancialTransaction, error) {
	return listTransactions(ctx, ts.tx)
}

func (ts *txStore) TransactionByIdempotencyKey(ctx context.Context, key string) (*billing.FinancialTransaction, error) {
	return transactionByKey(ctx, ts.tx, key)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx billing.FinancialTransaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) DeleteTransaction(ctx context.Context, id billing.TransactionID) (bool, error) {
	return deleteTransaction(ctx, ts.tx, id)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transactions", "payments", "clients"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ billing.TxStore = (*Store)(nil)
