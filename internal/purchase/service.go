package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"datashop/internal/catalog"
	"datashop/internal/common/database"
	"datashop/internal/common/events"
	"datashop/internal/common/middleware"
	"datashop/internal/common/money"
	"datashop/internal/deposit"
	"datashop/internal/paystack"
	"datashop/internal/wallet"
)

// ErrNoPendingPayment is returned when a confirmed reference matches no
// pending purchase or registration.
var ErrNoPendingPayment = errors.New("no pending payment for reference")

// Service composes catalog lookup, wallet debit and history append into one
// logical purchase operation.
type Service struct {
	engine    *wallet.Engine
	store     Store
	catalog   *catalog.Catalog
	gateway   deposit.Gateway
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService creates a purchase service.
func NewService(engine *wallet.Engine, store Store, cat *catalog.Catalog, gateway deposit.Gateway, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		engine:    engine,
		store:     store,
		catalog:   cat,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}

// PurchaseRequest is a request to buy a data bundle.
type PurchaseRequest struct {
	WalletKey string
	Network   string
	Bundle    string
	Recipient string
	Method    Method
}

// RegistrationRequest is a request to register an AFA membership.
type RegistrationRequest struct {
	WalletKey   string
	FullName    string
	Phone       string
	Location    string
	DateOfBirth string
	Method      Method
}

// Result is the outcome of a purchase or registration request. Payment is
// set only for gateway-funded requests, which stay pending until the charge
// settles.
type Result struct {
	Purchase     *Purchase            `json:"purchase,omitempty"`
	Registration *Registration        `json:"registration,omitempty"`
	Payment      *paystack.ChargeInit `json:"payment,omitempty"`
}

// Purchase resolves the catalog item and funds it. Wallet-funded purchases
// debit and record atomically: a successful debit always leaves exactly one
// completed purchase row, and ErrInsufficientFunds leaves neither.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*Result, error) {
	if !req.Method.Valid() {
		return nil, fmt.Errorf("unknown payment method %q", req.Method)
	}

	price, err := s.catalog.Lookup(req.Network, req.Bundle)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &Purchase{
		ID:        ulid.Make().String(),
		WalletKey: req.WalletKey,
		Network:   req.Network,
		Bundle:    req.Bundle,
		Recipient: req.Recipient,
		Price:     price,
		Method:    req.Method,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Method == MethodGateway {
		return s.initiateGatewayPurchase(ctx, p)
	}

	_, err = s.engine.DebitWith(ctx, req.WalletKey, price, wallet.KindPurchase, "", func(tx wallet.TxStore, txn *wallet.Transaction) error {
		ps, ok := tx.(TxStore)
		if !ok {
			return fmt.Errorf("ledger store cannot record purchases")
		}
		completed := txn.CreatedAt
		p.TransactionID = txn.ID
		p.Status = StatusCompleted
		p.CompletedAt = &completed
		p.UpdatedAt = completed
		return ps.InsertPurchase(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.publishCompleted(ctx, p)

	s.logger.Info("purchase completed",
		"purchase_id", p.ID,
		"wallet_key", p.WalletKey,
		"network", p.Network,
		"bundle", p.Bundle,
		"price", price.AmountMinor,
	)

	return &Result{Purchase: p}, nil
}

func (s *Service) initiateGatewayPurchase(ctx context.Context, p *Purchase) (*Result, error) {
	init, err := s.gateway.InitializeCharge(ctx, p.Price, p.WalletKey)
	if err != nil {
		return nil, fmt.Errorf("initializing charge: %w", err)
	}

	p.GatewayReference = init.Reference
	if err := s.store.InsertPurchase(ctx, p); err != nil {
		return nil, fmt.Errorf("recording pending purchase: %w", err)
	}

	s.publishPending(ctx, p)

	s.logger.Info("purchase awaiting gateway payment",
		"purchase_id", p.ID,
		"reference", init.Reference,
		"price", p.Price.AmountMinor,
	)

	return &Result{Purchase: p, Payment: init}, nil
}

// RegisterMembership sells a membership at the fixed price, following the
// same protocol as Purchase with a registration debit kind.
func (s *Service) RegisterMembership(ctx context.Context, req RegistrationRequest) (*Result, error) {
	if !req.Method.Valid() {
		return nil, fmt.Errorf("unknown payment method %q", req.Method)
	}

	now := time.Now().UTC()
	reg := &Registration{
		ID:          ulid.Make().String(),
		WalletKey:   req.WalletKey,
		FullName:    req.FullName,
		Phone:       req.Phone,
		Location:    req.Location,
		DateOfBirth: req.DateOfBirth,
		Price:       catalog.MembershipPrice,
		Method:      req.Method,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if req.Method == MethodGateway {
		init, err := s.gateway.InitializeCharge(ctx, reg.Price, req.WalletKey)
		if err != nil {
			return nil, fmt.Errorf("initializing charge: %w", err)
		}
		reg.GatewayReference = init.Reference
		if err := s.store.InsertRegistration(ctx, reg); err != nil {
			return nil, fmt.Errorf("recording pending registration: %w", err)
		}
		return &Result{Registration: reg, Payment: init}, nil
	}

	_, err := s.engine.DebitWith(ctx, req.WalletKey, reg.Price, wallet.KindRegistration, "", func(tx wallet.TxStore, txn *wallet.Transaction) error {
		ps, ok := tx.(TxStore)
		if !ok {
			return fmt.Errorf("ledger store cannot record registrations")
		}
		completed := txn.CreatedAt
		reg.TransactionID = txn.ID
		reg.Status = StatusCompleted
		reg.CompletedAt = &completed
		reg.UpdatedAt = completed
		return ps.InsertRegistration(ctx, reg)
	})
	if err != nil {
		return nil, err
	}

	s.publishRegistered(ctx, reg)

	s.logger.Info("membership registered",
		"registration_id", reg.ID,
		"wallet_key", reg.WalletKey,
	)

	return &Result{Registration: reg}, nil
}

// ConfirmPayment verifies a gateway charge and completes the pending
// purchase or registration it was issued for. Idempotent by reference.
func (s *Service) ConfirmPayment(ctx context.Context, reference string) (*Result, error) {
	verification, err := s.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("verifying charge: %w", err)
	}
	if !verification.Succeeded() {
		return nil, fmt.Errorf("charge %s is %s: %w", reference, verification.Status, paystack.ErrVerificationFailed)
	}

	return s.complete(ctx, reference, verification.Amount)
}

// CompleteByReference completes the pending purchase or registration for a
// settled charge. matched is false when the reference belongs to neither,
// which callers treat as a plain wallet top-up.
func (s *Service) CompleteByReference(ctx context.Context, reference string, amount money.Money) (bool, error) {
	_, err := s.complete(ctx, reference, amount)
	if errors.Is(err, ErrNoPendingPayment) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) complete(ctx context.Context, reference string, amount money.Money) (*Result, error) {
	p, err := s.store.GetPurchaseByReference(ctx, reference)
	if err == nil {
		if !p.Price.Equal(amount) {
			s.logger.Warn("amount mismatch for gateway purchase",
				"purchase_id", p.ID,
				"expected", p.Price.AmountMinor,
				"received", amount.AmountMinor,
			)
			return nil, fmt.Errorf("amount mismatch for reference %s", reference)
		}

		completed, fresh, err := s.store.CompletePurchase(ctx, reference)
		if err != nil {
			return nil, err
		}
		if fresh {
			s.publishCompleted(ctx, completed)
		}
		return &Result{Purchase: completed}, nil
	}
	if !database.IsNotFound(err) {
		return nil, err
	}

	reg, err := s.store.GetRegistrationByReference(ctx, reference)
	if err == nil {
		if !reg.Price.Equal(amount) {
			s.logger.Warn("amount mismatch for gateway registration",
				"registration_id", reg.ID,
				"expected", reg.Price.AmountMinor,
				"received", amount.AmountMinor,
			)
			return nil, fmt.Errorf("amount mismatch for reference %s", reference)
		}

		completed, fresh, err := s.store.CompleteRegistration(ctx, reference)
		if err != nil {
			return nil, err
		}
		if fresh {
			s.publishRegistered(ctx, completed)
		}
		return &Result{Registration: completed}, nil
	}
	if !database.IsNotFound(err) {
		return nil, err
	}

	return nil, ErrNoPendingPayment
}

// GetPurchase retrieves a purchase by id.
func (s *Service) GetPurchase(ctx context.Context, id string) (*Purchase, error) {
	return s.store.GetPurchase(ctx, id)
}

// ListPurchases returns a wallet's purchases ordered by creation time.
func (s *Service) ListPurchases(ctx context.Context, walletKey string, limit, offset int) ([]*Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	return s.store.ListPurchases(ctx, walletKey, limit, offset)
}

// ListPurchaseHistory is ListPurchases ordered oldest first, the ordering
// the merged wallet history uses.
func (s *Service) ListPurchaseHistory(ctx context.Context, walletKey string, limit, offset int) ([]*Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	return s.store.ListPurchaseHistory(ctx, walletKey, limit, offset)
}

func (s *Service) publishPending(ctx context.Context, p *Purchase) {
	data := events.PurchaseCompletedData{
		PurchaseID: p.ID,
		WalletKey:  p.WalletKey,
		Network:    p.Network,
		Bundle:     p.Bundle,
		Recipient:  p.Recipient,
		Price:      p.Price.AmountMinor,
		Currency:   string(p.Price.Currency),
	}
	if event, err := events.NewEvent(events.EventPurchasePending, "purchase", p.ID, data); err == nil {
		event.WithCorrelation(middleware.GetCorrelationID(ctx))
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish purchase.pending", "error", err)
		}
	}
}

func (s *Service) publishCompleted(ctx context.Context, p *Purchase) {
	data := events.PurchaseCompletedData{
		PurchaseID:    p.ID,
		WalletKey:     p.WalletKey,
		Network:       p.Network,
		Bundle:        p.Bundle,
		Recipient:     p.Recipient,
		Price:         p.Price.AmountMinor,
		Currency:      string(p.Price.Currency),
		TransactionID: p.TransactionID,
	}
	if event, err := events.NewEvent(events.EventPurchaseCompleted, "purchase", p.ID, data); err == nil {
		event.WithCorrelation(middleware.GetCorrelationID(ctx))
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish purchase.completed", "error", err)
		}
	}
}

func (s *Service) publishRegistered(ctx context.Context, reg *Registration) {
	data := events.RegistrationCompletedData{
		RegistrationID: reg.ID,
		WalletKey:      reg.WalletKey,
		FullName:       reg.FullName,
		Phone:          reg.Phone,
		TransactionID:  reg.TransactionID,
	}
	if event, err := events.NewEvent(events.EventRegistrationComplete, "registration", reg.ID, data); err == nil {
		event.WithCorrelation(middleware.GetCorrelationID(ctx))
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish registration.completed", "error", err)
		}
	}
}
