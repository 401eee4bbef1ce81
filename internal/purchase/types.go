// Package purchase turns catalog selections into funded purchases and
// membership registrations.
package purchase

import (
	"context"
	"time"

	"datashop/internal/common/money"
)

// Status represents the status of a purchase or registration.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Method is how a purchase is paid for. It is decided by an API parameter,
// never by the storefront guessing.
type Method string

const (
	MethodWallet  Method = "wallet"
	MethodGateway Method = "gateway"
)

// Valid reports whether the method is known.
func (m Method) Valid() bool {
	return m == MethodWallet || m == MethodGateway
}

// Purchase is a data bundle order. A completed wallet-funded purchase always
// has a matching debit transaction; a gateway-funded one has the settled
// charge reference.
type Purchase struct {
	ID               string      `json:"id"`
	WalletKey        string      `json:"wallet_key"`
	Network          string      `json:"network"`
	Bundle           string      `json:"bundle"`
	Recipient        string      `json:"recipient"`
	Price            money.Money `json:"price"`
	Method           Method      `json:"method"`
	Status           Status      `json:"status"`
	TransactionID    string      `json:"transaction_id,omitempty"`
	GatewayReference string      `json:"gateway_reference,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// Registration is an AFA membership registration, sold at a fixed price.
type Registration struct {
	ID               string      `json:"id"`
	WalletKey        string      `json:"wallet_key"`
	FullName         string      `json:"full_name"`
	Phone            string      `json:"phone"`
	Location         string      `json:"location"`
	DateOfBirth      string      `json:"date_of_birth"`
	Price            money.Money `json:"price"`
	Method           Method      `json:"method"`
	Status           Status      `json:"status"`
	TransactionID    string      `json:"transaction_id,omitempty"`
	GatewayReference string      `json:"gateway_reference,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// Store persists purchases and registrations.
type Store interface {
	InsertPurchase(ctx context.Context, p *Purchase) error
	InsertRegistration(ctx context.Context, reg *Registration) error
	GetPurchase(ctx context.Context, id string) (*Purchase, error)
	GetPurchaseByReference(ctx context.Context, reference string) (*Purchase, error)
	GetRegistrationByReference(ctx context.Context, reference string) (*Registration, error)
	ListPurchases(ctx context.Context, walletKey string, limit, offset int) ([]*Purchase, error)
	ListPurchaseHistory(ctx context.Context, walletKey string, limit, offset int) ([]*Purchase, error)

	// CompletePurchase marks the pending purchase for reference completed,
	// claiming the reference atomically. fresh is false when the reference
	// was already processed; the stored record is returned either way.
	CompletePurchase(ctx context.Context, reference string) (*Purchase, bool, error)

	// CompleteRegistration is CompletePurchase for registrations.
	CompleteRegistration(ctx context.Context, reference string) (*Registration, bool, error)
}

// TxStore records purchases and registrations inside the wallet store's
// atomic unit, so a debit and its record commit together.
type TxStore interface {
	InsertPurchase(ctx context.Context, p *Purchase) error
	InsertRegistration(ctx context.Context, reg *Registration) error
}
