// Package deposit orchestrates wallet top-ups through the payment gateway.
package deposit

import (
	"context"
	"fmt"
	"log/slog"

	"datashop/internal/common/events"
	"datashop/internal/common/middleware"
	"datashop/internal/common/money"
	"datashop/internal/paystack"
	"datashop/internal/wallet"
)

// Gateway is the slice of the payment gateway the deposit flow needs.
type Gateway interface {
	InitializeCharge(ctx context.Context, amount money.Money, email string) (*paystack.ChargeInit, error)
	VerifyCharge(ctx context.Context, reference string) (*paystack.ChargeVerification, error)
}

// Service turns gateway charges into wallet credits.
type Service struct {
	engine    *wallet.Engine
	gateway   Gateway
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService creates a deposit service.
func NewService(engine *wallet.Engine, gateway Gateway, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		engine:    engine,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}

// Initialize starts a gateway charge for a top-up. Nothing is credited until
// the charge is confirmed.
func (s *Service) Initialize(ctx context.Context, email string, amount money.Money) (*paystack.ChargeInit, error) {
	if !amount.IsPositive() {
		return nil, wallet.ErrInvalidAmount
	}

	init, err := s.gateway.InitializeCharge(ctx, amount, email)
	if err != nil {
		return nil, fmt.Errorf("initializing charge: %w", err)
	}

	data := events.DepositInitializedData{
		WalletKey: email,
		Amount:    amount.AmountMinor,
		Currency:  string(amount.Currency),
		Reference: init.Reference,
	}
	if event, err := events.NewEvent(events.EventDepositInitialized, "wallet", email, data); err == nil {
		event.WithCorrelation(middleware.GetCorrelationID(ctx))
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish deposit.initialized", "error", err)
		}
	}

	s.logger.Info("deposit initialized",
		"wallet_key", email,
		"reference", init.Reference,
		"amount", amount.AmountMinor,
	)

	return init, nil
}

// Confirm verifies a charge with the gateway and credits the wallet. The
// caller supplies only the reference; the amount and payer come from the
// gateway's authoritative verify call, never from the client. Confirming the
// same reference again returns the original transaction unchanged.
func (s *Service) Confirm(ctx context.Context, reference string) (*wallet.Transaction, error) {
	verification, err := s.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("verifying charge: %w", err)
	}
	if !verification.Succeeded() {
		return nil, fmt.Errorf("charge %s is %s: %w", reference, verification.Status, paystack.ErrVerificationFailed)
	}

	return s.engine.Credit(ctx, verification.Email, verification.Amount, reference)
}

// CreditVerified credits a wallet for a charge whose authenticity has
// already been established, e.g. by a signature-checked webhook.
func (s *Service) CreditVerified(ctx context.Context, email string, amount money.Money, reference string) (*wallet.Transaction, error) {
	return s.engine.Credit(ctx, email, amount, reference)
}
