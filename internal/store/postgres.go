// Package store provides ledger store implementations. Postgres is the
// production store; Memory is the reference implementation used in tests.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"datashop/internal/common/database"
	"datashop/internal/purchase"
	"datashop/internal/wallet"
)

const maxTxAttempts = 3

// Postgres implements wallet.Store and purchase.Store on pgx.
type Postgres struct {
	db *database.DB
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db}
}

var _ wallet.Store = (*Postgres)(nil)
var _ purchase.Store = (*Postgres)(nil)

// WithTx runs fn in one serializable database transaction, retrying
// serialization failures with bounded attempts. The transaction is detached
// from the caller's cancellation: once submitted, a financial mutation runs
// to completion and the caller re-reads the balance to observe the outcome.
func (s *Postgres) WithTx(ctx context.Context, fn func(tx wallet.TxStore) error) error {
	ctx = context.WithoutCancel(ctx)

	err := database.Retry(ctx, maxTxAttempts, func() error {
		return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
			return fn(&pgTx{tx: tx})
		})
	})
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", wallet.ErrStorageUnavailable, err)
}

// isDomainError distinguishes business outcomes, which are surfaced to the
// caller verbatim, from storage-layer failures.
func isDomainError(err error) bool {
	return errors.Is(err, wallet.ErrInsufficientFunds) ||
		errors.Is(err, wallet.ErrWalletNotFound) ||
		errors.Is(err, wallet.ErrInvalidAmount) ||
		errors.Is(err, wallet.ErrReferenceInUse) ||
		errors.Is(err, purchase.ErrNoPendingPayment) ||
		errors.Is(err, database.ErrNotFound) ||
		errors.Is(err, database.ErrAlreadyExists)
}

// GetWallet retrieves a wallet by key.
func (s *Postgres) GetWallet(ctx context.Context, key string) (*wallet.Wallet, error) {
	row := s.db.QueryRow(ctx, `
		SELECT key, balance, currency, version, created_at, updated_at
		FROM wallets
		WHERE key = $1
	`, key)
	return scanWallet(row)
}

// GetTransaction retrieves a ledger entry by id.
func (s *Postgres) GetTransaction(ctx context.Context, id string) (*wallet.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

// ListTransactions returns a wallet's ledger entries, oldest first.
func (s *Postgres) ListTransactions(ctx context.Context, key string, limit, offset int) ([]*wallet.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, wallet_key, kind, amount, currency, resulting_balance, reference, created_at
		FROM wallet_transactions
		WHERE wallet_key = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, key, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txns []*wallet.Transaction
	for rows.Next() {
		txn, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// pgTx is the transactional view over a single pgx transaction. It also
// implements purchase.TxStore so purchase records commit with their debits.
type pgTx struct {
	tx pgx.Tx
}

var _ wallet.TxStore = (*pgTx)(nil)
var _ purchase.TxStore = (*pgTx)(nil)

func (t *pgTx) GetWalletForUpdate(ctx context.Context, key string) (*wallet.Wallet, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT key, balance, currency, version, created_at, updated_at
		FROM wallets
		WHERE key = $1
		FOR UPDATE
	`, key)
	return scanWallet(row)
}

func (t *pgTx) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	// ON CONFLICT keeps the transaction usable when two first deposits race
	// to create the same wallet; a raised unique violation would abort it.
	// The loser reports ErrAlreadyExists and the caller locks the winner's
	// row instead.
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (key, balance, currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING
	`, w.Key, w.Balance.AmountMinor, w.Balance.Currency, w.Version, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", w.Key, database.ErrAlreadyExists)
	}
	return nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, key string, newBalanceMinor int64, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = now()
		WHERE key = $2 AND version = $3
	`, newBalanceMinor, key, expectedVersion)
	if err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s version %d: %w", key, expectedVersion, database.ErrConflict)
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, txn *wallet.Transaction) error {
	var reference interface{}
	if txn.Reference != "" {
		reference = txn.Reference
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_key, kind, amount, currency, resulting_balance, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, txn.ID, txn.WalletKey, txn.Kind, txn.Amount.AmountMinor, txn.Amount.Currency,
		txn.ResultingBalance.AmountMinor, reference, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending transaction: %w", err)
	}
	return nil
}

func (t *pgTx) ClaimReference(ctx context.Context, reference, outcomeID string) (bool, string, error) {
	return claimReference(ctx, t.tx, reference, outcomeID)
}

func (t *pgTx) GetTransaction(ctx context.Context, id string) (*wallet.Transaction, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *pgTx) InsertPurchase(ctx context.Context, p *purchase.Purchase) error {
	return insertPurchase(ctx, t.tx, p)
}

func (t *pgTx) InsertRegistration(ctx context.Context, reg *purchase.Registration) error {
	return insertRegistration(ctx, t.tx, reg)
}

// claimReference performs the atomic insert-if-absent on the processed
// reference table. Exactly one concurrent claimer gets fresh=true.
func claimReference(ctx context.Context, q database.Querier, reference, outcomeID string) (bool, string, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO processed_references (reference, outcome_id, processed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (reference) DO NOTHING
	`, reference, outcomeID)
	if err != nil {
		return false, "", fmt.Errorf("claiming reference: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, "", nil
	}

	var prior string
	if err := q.QueryRow(ctx, `
		SELECT outcome_id FROM processed_references WHERE reference = $1
	`, reference).Scan(&prior); err != nil {
		return false, "", fmt.Errorf("loading prior claim: %w", err)
	}
	return false, prior, nil
}

func getTransaction(ctx context.Context, q database.Querier, id string) (*wallet.Transaction, error) {
	row := q.QueryRow(ctx, `
		SELECT id, wallet_key, kind, amount, currency, resulting_balance, reference, created_at
		FROM wallet_transactions
		WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func scanWallet(row pgx.Row) (*wallet.Wallet, error) {
	var (
		w        wallet.Wallet
		balance  int64
		currency string
	)
	err := row.Scan(&w.Key, &balance, &currency, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning wallet: %w", err)
	}
	w.Balance = moneyOf(balance, currency)
	return &w, nil
}

func scanTransaction(row pgx.Row) (*wallet.Transaction, error) {
	var (
		txn       wallet.Transaction
		amount    int64
		balance   int64
		currency  string
		reference *string
	)
	err := row.Scan(&txn.ID, &txn.WalletKey, &txn.Kind, &amount, &currency, &balance, &reference, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	txn.Amount = moneyOf(amount, currency)
	txn.ResultingBalance = moneyOf(balance, currency)
	if reference != nil {
		txn.Reference = *reference
	}
	return &txn, nil
}

func scanTransactionRows(rows pgx.Rows) (*wallet.Transaction, error) {
	var (
		txn       wallet.Transaction
		amount    int64
		balance   int64
		currency  string
		reference *string
	)
	err := rows.Scan(&txn.ID, &txn.WalletKey, &txn.Kind, &amount, &currency, &balance, &reference, &txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	txn.Amount = moneyOf(amount, currency)
	txn.ResultingBalance = moneyOf(balance, currency)
	if reference != nil {
		txn.Reference = *reference
	}
	return &txn, nil
}
