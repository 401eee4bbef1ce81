package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"datashop/internal/common/database"
	"datashop/internal/common/events"
	"datashop/internal/common/middleware"
	"datashop/internal/common/money"
)

// Engine exposes atomic credit and debit operations over a ledger store.
type Engine struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
	currency  money.Currency
}

// NewEngine creates a wallet engine.
func NewEngine(store Store, publisher events.Publisher, logger *slog.Logger) *Engine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Engine{
		store:     store,
		publisher: publisher,
		logger:    logger,
		currency:  money.GHS,
	}
}

// Currency returns the currency wallets are denominated in.
func (e *Engine) Currency() money.Currency {
	return e.currency
}

// Credit increases the wallet balance and appends a deposit transaction in
// one atomic unit. The wallet is created on first deposit.
//
// When reference is non-empty the credit is idempotent: a reference that has
// already been processed returns the originally recorded transaction without
// mutating the balance, no matter how many times or how concurrently it is
// confirmed.
func (e *Engine) Credit(ctx context.Context, key string, amount money.Money, reference string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	id := ulid.Make().String()
	var (
		txn    *Transaction
		replay bool
	)

	err := e.store.WithTx(ctx, func(tx TxStore) error {
		if reference != "" {
			fresh, priorID, err := tx.ClaimReference(ctx, reference, id)
			if err != nil {
				return fmt.Errorf("claiming reference: %w", err)
			}
			if !fresh {
				prior, err := tx.GetTransaction(ctx, priorID)
				if database.IsNotFound(err) {
					// The reference was claimed by something other than a
					// deposit, such as a gateway-funded purchase.
					return ErrReferenceInUse
				}
				if err != nil {
					return fmt.Errorf("loading prior transaction: %w", err)
				}
				txn = prior
				replay = true
				return nil
			}
		}

		now := time.Now().UTC()

		w, err := tx.GetWalletForUpdate(ctx, key)
		if database.IsNotFound(err) {
			w = &Wallet{
				Key:       key,
				Balance:   money.Zero(e.currency),
				CreatedAt: now,
				UpdatedAt: now,
			}
			switch err := tx.CreateWallet(ctx, w); {
			case errors.Is(err, database.ErrAlreadyExists):
				// Lost the race to create this wallet to a concurrent first
				// deposit. The winner's row is committed, so lock it and
				// credit on top.
				w, err = tx.GetWalletForUpdate(ctx, key)
				if err != nil {
					return fmt.Errorf("loading wallet: %w", err)
				}
			case err != nil:
				return fmt.Errorf("creating wallet: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("loading wallet: %w", err)
		}

		newBalance, err := w.Balance.Add(amount)
		if err != nil {
			return err
		}

		if err := tx.UpdateBalance(ctx, key, newBalance.AmountMinor, w.Version); err != nil {
			return fmt.Errorf("updating balance: %w", err)
		}

		txn = &Transaction{
			ID:               id,
			WalletKey:        key,
			Kind:             KindDeposit,
			Amount:           amount,
			ResultingBalance: newBalance,
			Reference:        reference,
			CreatedAt:        now,
		}
		return tx.AppendTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	if replay {
		e.logger.Info("duplicate deposit reference ignored",
			"wallet_key", key,
			"reference", reference,
			"transaction_id", txn.ID,
		)
		return txn, nil
	}

	e.publishCredited(ctx, txn)

	e.logger.Info("wallet credited",
		"wallet_key", key,
		"transaction_id", txn.ID,
		"amount", amount.AmountMinor,
		"balance", txn.ResultingBalance.AmountMinor,
	)

	return txn, nil
}

// Debit decreases the wallet balance and appends a debit transaction in one
// atomic unit. Fails with ErrInsufficientFunds when the balance cannot cover
// the amount at the moment of the atomic check-and-update, and with
// ErrWalletNotFound for unknown keys.
func (e *Engine) Debit(ctx context.Context, key string, amount money.Money, kind Kind, reference string) (*Transaction, error) {
	return e.DebitWith(ctx, key, amount, kind, reference, nil)
}

// DebitWith is Debit with an extra step executed inside the same atomic
// unit. The purchase orchestrator uses it so a debit and its purchase record
// commit together: a debit never succeeds without its record, and vice versa.
func (e *Engine) DebitWith(ctx context.Context, key string, amount money.Money, kind Kind, reference string, fn func(tx TxStore, txn *Transaction) error) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !kind.IsDebit() {
		return nil, fmt.Errorf("kind %q is not a debit", kind)
	}

	var txn *Transaction

	err := e.store.WithTx(ctx, func(tx TxStore) error {
		w, err := tx.GetWalletForUpdate(ctx, key)
		if database.IsNotFound(err) {
			return ErrWalletNotFound
		}
		if err != nil {
			return fmt.Errorf("loading wallet: %w", err)
		}

		if w.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		newBalance, err := w.Balance.Sub(amount)
		if err != nil {
			return err
		}

		if err := tx.UpdateBalance(ctx, key, newBalance.AmountMinor, w.Version); err != nil {
			return fmt.Errorf("updating balance: %w", err)
		}

		txn = &Transaction{
			ID:               ulid.Make().String(),
			WalletKey:        key,
			Kind:             kind,
			Amount:           amount.Negate(),
			ResultingBalance: newBalance,
			Reference:        reference,
			CreatedAt:        time.Now().UTC(),
		}
		if err := tx.AppendTransaction(ctx, txn); err != nil {
			return err
		}

		if fn != nil {
			return fn(tx, txn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publishDebited(ctx, txn)

	e.logger.Info("wallet debited",
		"wallet_key", key,
		"transaction_id", txn.ID,
		"kind", kind,
		"amount", amount.AmountMinor,
		"balance", txn.ResultingBalance.AmountMinor,
	)

	return txn, nil
}

// Balance returns the latest committed balance for a wallet.
func (e *Engine) Balance(ctx context.Context, key string) (money.Money, error) {
	w, err := e.store.GetWallet(ctx, key)
	if database.IsNotFound(err) {
		return money.Money{}, ErrWalletNotFound
	}
	if err != nil {
		return money.Money{}, err
	}
	return w.Balance, nil
}

// History returns the wallet's ledger entries in order of creation.
func (e *Engine) History(ctx context.Context, key string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	return e.store.ListTransactions(ctx, key, limit, offset)
}

func (e *Engine) publishCredited(ctx context.Context, txn *Transaction) {
	data := events.WalletCreditedData{
		WalletKey:     txn.WalletKey,
		TransactionID: txn.ID,
		Amount:        txn.Amount.AmountMinor,
		Currency:      string(txn.Amount.Currency),
		Reference:     txn.Reference,
		NewBalance:    txn.ResultingBalance.AmountMinor,
	}
	if event, err := events.NewEvent(events.EventWalletCredited, "wallet", txn.WalletKey, data); err == nil {
		event.WithCorrelation(middleware.GetCorrelationID(ctx))
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.logger.Warn("failed to publish wallet.credited", "error", err)
		}
	}
}

func (e *Engine) publishDebited(ctx context.Context, txn *Transaction) {
	data := events.WalletDebitedData{
		WalletKey:     txn.WalletKey,
		TransactionID: txn.ID,
		Kind:          string(txn.Kind),
		Amount:        txn.Amount.AmountMinor,
		Currency:      string(txn.Amount.Currency),
		NewBalance:    txn.ResultingBalance.AmountMinor,
	}
	if event, err := events.NewEvent(events.EventWalletDebited, "wallet", txn.WalletKey, data); err == nil {
		event.WithCorrelation(middleware.GetCorrelationID(ctx))
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.logger.Warn("failed to publish wallet.debited", "error", err)
		}
	}
}
