/*
store.go - Persistence interfaces for clients, payments and the ledger

PURPOSE:
  The engine does not own storage. It is handed a Store that knows how to
  load clients with their payment records and how to read and append ledger
  entries. A TxStore additionally runs several writes as one unit.

WRITE RULES:
  - Payments are written one record at a time with the revision the caller
    read. A mismatch is ErrConcurrentModification, never a silent overwrite.
  - Ledger entries are appended. An entry whose idempotency key already
    exists is rejected with ErrDuplicateIdempotencyKey.
  - SaveClient writes the client and its contract only. Payment records are
    never touched through it.

IMPLEMENTATIONS:
  - billing/store/memory.go: In-memory, snapshot + rollback transactions
  - store/sqlite/sqlite.go: SQLite with real database transactions
*/
package billing

import "context"

// Store handles persistence of clients, payment records and ledger entries.
type Store interface {
	// GetClient returns the client with its contract and payments.
	// Returns (nil, nil) when the client does not exist.
	GetClient(ctx context.Context, id ClientID) (*Client, error)

	// ListClients returns every client, ordered by name.
	ListClients(ctx context.Context) ([]Client, error)

	// ListClientsWithFeeContract returns clients that have a fee contract.
	ListClientsWithFeeContract(ctx context.Context) ([]Client, error)

	// SaveClient creates or updates a client and its contract.
	SaveClient(ctx context.Context, c Client) error

	// UpsertPayment writes rec if the stored revision equals expectedRevision.
	// expectedRevision 0 means the record must not exist yet.
	UpsertPayment(ctx context.Context, rec PaymentRecord, expectedRevision int) error

	// DeletePayment removes the record for an installment.
	// Returns false if there was nothing to delete.
	DeletePayment(ctx context.Context, clientID ClientID, installment int) (bool, error)

	// ListTransactions returns every ledger entry ordered by date, then creation.
	ListTransactions(ctx context.Context) ([]FinancialTransaction, error)

	// TransactionByIdempotencyKey returns the entry recorded under key.
	// Returns (nil, nil) when no entry carries it.
	TransactionByIdempotencyKey(ctx context.Context, key string) (*FinancialTransaction, error)

	// AppendTransaction adds a ledger entry. Fails if the idempotency key exists.
	AppendTransaction(ctx context.Context, tx FinancialTransaction) error

	// DeleteTransaction removes a ledger entry. Returns false if absent.
	DeleteTransaction(ctx context.Context, id TransactionID) (bool, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, every write made through the given Store is
	// rolled back. If fn returns nil, the writes are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
