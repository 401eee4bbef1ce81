// Package wallet implements the prepaid wallet engine. It is the only
// component allowed to change a wallet's balance.
package wallet

import (
	"errors"
	"time"

	"datashop/internal/common/money"
)

// Kind classifies a ledger transaction.
type Kind string

const (
	KindDeposit      Kind = "deposit"
	KindPurchase     Kind = "debit_purchase"
	KindRegistration Kind = "debit_registration"
	// KindRefund is reserved for future use; no operation produces it yet.
	KindRefund Kind = "refund"
)

// IsDebit reports whether the kind decreases the balance.
func (k Kind) IsDebit() bool {
	return k == KindPurchase || k == KindRegistration
}

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindPurchase, KindRegistration, KindRefund:
		return true
	}
	return false
}

// Wallet is a prepaid balance keyed by a verified account identity (email).
// Balance never goes negative; version backs optimistic concurrency.
type Wallet struct {
	Key       string      `json:"key"`
	Balance   money.Money `json:"balance"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Transaction is an immutable ledger entry. Amount is signed: positive for
// deposits, negative for debits. The running sum of a wallet's transaction
// amounts equals its balance.
type Transaction struct {
	ID               string      `json:"id"`
	WalletKey        string      `json:"wallet_key"`
	Kind             Kind        `json:"kind"`
	Amount           money.Money `json:"amount"`
	ResultingBalance money.Money `json:"resulting_balance"`
	Reference        string      `json:"reference,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Engine errors. These are surfaced to callers verbatim and never retried
// by the engine itself.
var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrReferenceInUse     = errors.New("reference already used by another payment")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
