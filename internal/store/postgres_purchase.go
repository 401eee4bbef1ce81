package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"datashop/internal/common/database"
	"datashop/internal/common/money"
	"datashop/internal/purchase"
	"datashop/internal/wallet"
)

func moneyOf(amountMinor int64, currency string) money.Money {
	return money.New(amountMinor, money.Currency(currency))
}

// InsertPurchase records a purchase outside any wallet transaction. Used
// for gateway-funded purchases awaiting payment confirmation.
func (s *Postgres) InsertPurchase(ctx context.Context, p *purchase.Purchase) error {
	return insertPurchase(ctx, s.db, p)
}

// InsertRegistration records a membership registration awaiting payment.
func (s *Postgres) InsertRegistration(ctx context.Context, reg *purchase.Registration) error {
	return insertRegistration(ctx, s.db, reg)
}

// GetPurchase retrieves a purchase by id.
func (s *Postgres) GetPurchase(ctx context.Context, id string) (*purchase.Purchase, error) {
	row := s.db.QueryRow(ctx, purchaseSelect+` WHERE id = $1`, id)
	return scanPurchase(row)
}

// GetPurchaseByReference retrieves a purchase by its gateway reference.
func (s *Postgres) GetPurchaseByReference(ctx context.Context, reference string) (*purchase.Purchase, error) {
	row := s.db.QueryRow(ctx, purchaseSelect+` WHERE gateway_reference = $1`, reference)
	return scanPurchase(row)
}

// GetRegistrationByReference retrieves a registration by its gateway reference.
func (s *Postgres) GetRegistrationByReference(ctx context.Context, reference string) (*purchase.Registration, error) {
	row := s.db.QueryRow(ctx, registrationSelect+` WHERE gateway_reference = $1`, reference)
	return scanRegistration(row)
}

// ListPurchases returns a wallet's purchases, newest first.
func (s *Postgres) ListPurchases(ctx context.Context, walletKey string, limit, offset int) ([]*purchase.Purchase, error) {
	return s.listPurchases(ctx, walletKey, `ORDER BY created_at DESC, id DESC`, limit, offset)
}

// ListPurchaseHistory returns a wallet's purchases, oldest first, matching
// the ledger's ordering for merged views.
func (s *Postgres) ListPurchaseHistory(ctx context.Context, walletKey string, limit, offset int) ([]*purchase.Purchase, error) {
	return s.listPurchases(ctx, walletKey, `ORDER BY created_at, id`, limit, offset)
}

func (s *Postgres) listPurchases(ctx context.Context, walletKey, order string, limit, offset int) ([]*purchase.Purchase, error) {
	rows, err := s.db.Query(ctx, purchaseSelect+`
		WHERE wallet_key = $1
		`+order+`
		LIMIT $2 OFFSET $3
	`, walletKey, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*purchase.Purchase
	for rows.Next() {
		p, err := scanPurchaseRows(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// CompletePurchase transitions a pending gateway-funded purchase to
// completed, claiming its payment reference so a redelivered confirmation
// is absorbed without a second transition. fresh reports whether this call
// performed the transition.
func (s *Postgres) CompletePurchase(ctx context.Context, reference string) (*purchase.Purchase, bool, error) {
	ctx = context.WithoutCancel(ctx)

	var (
		result *purchase.Purchase
		fresh  bool
	)
	err := database.Retry(ctx, maxTxAttempts, func() error {
		return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
			row := tx.QueryRow(ctx, purchaseSelect+` WHERE gateway_reference = $1 FOR UPDATE`, reference)
			p, err := scanPurchase(row)
			if err != nil {
				return err
			}

			claimed, _, err := claimReference(ctx, tx, reference, p.ID)
			if err != nil {
				return err
			}
			if !claimed || p.Status == purchase.StatusCompleted {
				result, fresh = p, false
				return nil
			}

			now := time.Now().UTC()
			_, err = tx.Exec(ctx, `
				UPDATE purchases
				SET status = $1, completed_at = $2, updated_at = $2
				WHERE id = $3
			`, purchase.StatusCompleted, now, p.ID)
			if err != nil {
				return fmt.Errorf("completing purchase: %w", err)
			}
			p.Status = purchase.StatusCompleted
			p.CompletedAt = &now
			p.UpdatedAt = now
			result, fresh = p, true
			return nil
		})
	})
	if err != nil {
		if isDomainError(err) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %v", wallet.ErrStorageUnavailable, err)
	}
	return result, fresh, nil
}

// CompleteRegistration transitions a pending registration to completed.
func (s *Postgres) CompleteRegistration(ctx context.Context, reference string) (*purchase.Registration, bool, error) {
	ctx = context.WithoutCancel(ctx)

	var (
		result *purchase.Registration
		fresh  bool
	)
	err := database.Retry(ctx, maxTxAttempts, func() error {
		return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
			row := tx.QueryRow(ctx, registrationSelect+` WHERE gateway_reference = $1 FOR UPDATE`, reference)
			reg, err := scanRegistration(row)
			if err != nil {
				return err
			}

			claimed, _, err := claimReference(ctx, tx, reference, reg.ID)
			if err != nil {
				return err
			}
			if !claimed || reg.Status == purchase.StatusCompleted {
				result, fresh = reg, false
				return nil
			}

			now := time.Now().UTC()
			_, err = tx.Exec(ctx, `
				UPDATE registrations
				SET status = $1, completed_at = $2, updated_at = $2
				WHERE id = $3
			`, purchase.StatusCompleted, now, reg.ID)
			if err != nil {
				return fmt.Errorf("completing registration: %w", err)
			}
			reg.Status = purchase.StatusCompleted
			reg.CompletedAt = &now
			reg.UpdatedAt = now
			result, fresh = reg, true
			return nil
		})
	})
	if err != nil {
		if isDomainError(err) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %v", wallet.ErrStorageUnavailable, err)
	}
	return result, fresh, nil
}

const purchaseSelect = `
	SELECT id, wallet_key, network, bundle, recipient, price, currency,
	       method, status, transaction_id, gateway_reference,
	       created_at, updated_at, completed_at
	FROM purchases`

const registrationSelect = `
	SELECT id, wallet_key, full_name, phone, location, date_of_birth,
	       price, currency, method, status, transaction_id, gateway_reference,
	       created_at, updated_at, completed_at
	FROM registrations`

func insertPurchase(ctx context.Context, q database.Querier, p *purchase.Purchase) error {
	_, err := q.Exec(ctx, `
		INSERT INTO purchases (id, wallet_key, network, bundle, recipient, price, currency,
			method, status, transaction_id, gateway_reference, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, p.ID, p.WalletKey, p.Network, p.Bundle, p.Recipient, p.Price.AmountMinor, p.Price.Currency,
		p.Method, p.Status, nullable(p.TransactionID), nullable(p.GatewayReference),
		p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("purchase %s: %w", p.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting purchase: %w", err)
	}
	return nil
}

func insertRegistration(ctx context.Context, q database.Querier, reg *purchase.Registration) error {
	_, err := q.Exec(ctx, `
		INSERT INTO registrations (id, wallet_key, full_name, phone, location, date_of_birth,
			price, currency, method, status, transaction_id, gateway_reference,
			created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, reg.ID, reg.WalletKey, reg.FullName, reg.Phone, reg.Location, reg.DateOfBirth,
		reg.Price.AmountMinor, reg.Price.Currency, reg.Method, reg.Status,
		nullable(reg.TransactionID), nullable(reg.GatewayReference),
		reg.CreatedAt, reg.UpdatedAt, reg.CompletedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("registration %s: %w", reg.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting registration: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanPurchase(row pgx.Row) (*purchase.Purchase, error) {
	var (
		p        purchase.Purchase
		price    int64
		currency string
		txnID    *string
		ref      *string
	)
	err := row.Scan(&p.ID, &p.WalletKey, &p.Network, &p.Bundle, &p.Recipient, &price, &currency,
		&p.Method, &p.Status, &txnID, &ref, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning purchase: %w", err)
	}
	p.Price = moneyOf(price, currency)
	if txnID != nil {
		p.TransactionID = *txnID
	}
	if ref != nil {
		p.GatewayReference = *ref
	}
	return &p, nil
}

func scanPurchaseRows(rows pgx.Rows) (*purchase.Purchase, error) {
	var (
		p        purchase.Purchase
		price    int64
		currency string
		txnID    *string
		ref      *string
	)
	err := rows.Scan(&p.ID, &p.WalletKey, &p.Network, &p.Bundle, &p.Recipient, &price, &currency,
		&p.Method, &p.Status, &txnID, &ref, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning purchase: %w", err)
	}
	p.Price = moneyOf(price, currency)
	if txnID != nil {
		p.TransactionID = *txnID
	}
	if ref != nil {
		p.GatewayReference = *ref
	}
	return &p, nil
}

func scanRegistration(row pgx.Row) (*purchase.Registration, error) {
	var (
		reg      purchase.Registration
		price    int64
		currency string
		txnID    *string
		ref      *string
	)
	err := row.Scan(&reg.ID, &reg.WalletKey, &reg.FullName, &reg.Phone, &reg.Location, &reg.DateOfBirth,
		&price, &currency, &reg.Method, &reg.Status, &txnID, &ref,
		&reg.CreatedAt, &reg.UpdatedAt, &reg.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning registration: %w", err)
	}
	reg.Price = moneyOf(price, currency)
	if txnID != nil {
		reg.TransactionID = *txnID
	}
	if ref != nil {
		reg.GatewayReference = *ref
	}
	return &reg, nil
}
