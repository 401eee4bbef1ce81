package wallet

import (
	"context"
)

// Store is the ledger persistence contract. Implementations must provide
// per-wallet-key serialization inside WithTx: operations on the same key
// behave as if executed one at a time, operations on different keys may run
// concurrently.
//
// Implementations retry transient storage failures with bounded attempts and
// report exhaustion as ErrStorageUnavailable, leaving no partial state.
type Store interface {
	// WithTx runs fn inside a single atomic unit. Every mutation made
	// through the TxStore commits together or not at all. Once fn has been
	// submitted the unit runs to completion even if the caller's context is
	// cancelled; financial mutations are never abandoned mid-flight.
	WithTx(ctx context.Context, fn func(tx TxStore) error) error

	// GetWallet returns the wallet for key, or database.ErrNotFound.
	GetWallet(ctx context.Context, key string) (*Wallet, error)

	// GetTransaction returns a ledger entry by id.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// ListTransactions returns the wallet's ledger entries ordered by
	// creation time ascending.
	ListTransactions(ctx context.Context, key string, limit, offset int) ([]*Transaction, error)
}

// TxStore is the transactional view of the ledger store.
type TxStore interface {
	// GetWalletForUpdate loads the wallet and locks it for the remainder of
	// the unit, serializing concurrent operations on the same key. Returns
	// database.ErrNotFound for unknown keys.
	GetWalletForUpdate(ctx context.Context, key string) (*Wallet, error)

	// CreateWallet inserts a new wallet row.
	CreateWallet(ctx context.Context, w *Wallet) error

	// UpdateBalance sets the wallet balance if the stored version still
	// matches expectedVersion, incrementing the version.
	UpdateBalance(ctx context.Context, key string, newBalanceMinor int64, expectedVersion int64) error

	// AppendTransaction appends an immutable ledger entry.
	AppendTransaction(ctx context.Context, txn *Transaction) error

	// ClaimReference atomically records that an external payment reference
	// has been processed, with outcomeID as the resulting record. Exactly
	// one concurrent claimer observes fresh=true; the rest receive the
	// originally recorded outcome.
	ClaimReference(ctx context.Context, reference, outcomeID string) (fresh bool, priorOutcomeID string, err error)

	// GetTransaction reads a ledger entry inside the unit, used to replay
	// the original outcome of an already-claimed reference.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
}
