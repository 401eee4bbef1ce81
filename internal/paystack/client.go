// Package paystack is the payment gateway adapter. The gateway is treated as
// an untrusted input source: a charge is only believed settled after a
// verify call or a signature-checked webhook.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"datashop/internal/common/money"
)

// ErrVerificationFailed is returned when the gateway does not confirm a
// charge as successful. No credit may happen on this error.
var ErrVerificationFailed = errors.New("gateway verification failed")

// Config holds gateway configuration.
type Config struct {
	SecretKey   string        `envconfig:"PAYSTACK_SECRET_KEY" required:"true"`
	BaseURL     string        `envconfig:"PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	CallbackURL string        `envconfig:"PAYSTACK_CALLBACK_URL"`
	Timeout     time.Duration `envconfig:"PAYSTACK_TIMEOUT" default:"15s"`
}

// Client calls the Paystack HTTP API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// ChargeInit is the result of initializing a charge. It has no side effect
// on the ledger; the customer completes payment at AuthorizationURL.
type ChargeInit struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
}

// ChargeVerification is the gateway's authoritative account of a charge.
type ChargeVerification struct {
	Reference string
	Status    string
	Amount    money.Money
	Email     string
}

// Succeeded reports whether the gateway settled the charge.
func (v *ChargeVerification) Succeeded() bool {
	return v.Status == "success"
}

type initializeRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"` // minor units
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// InitializeCharge asks the gateway to start a charge for amount, payable by
// the customer identified by email.
func (c *Client) InitializeCharge(ctx context.Context, amount money.Money, email string) (*ChargeInit, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("charge amount must be positive")
	}

	body, err := json.Marshal(initializeRequest{
		Email:       email,
		Amount:      amount.AmountMinor,
		Currency:    string(amount.Currency),
		CallbackURL: c.cfg.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	var resp initializeResponse
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("initialize charge: %s", resp.Message)
	}

	c.logger.Info("charge initialized",
		"reference", resp.Data.Reference,
		"amount", amount.AmountMinor,
		"currency", amount.Currency,
	)

	return &ChargeInit{
		Reference:        resp.Data.Reference,
		AuthorizationURL: resp.Data.AuthorizationURL,
		AccessCode:       resp.Data.AccessCode,
	}, nil
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Customer  struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

// VerifyCharge fetches the authoritative outcome of a charge by reference.
// Safe to call any number of times; the gateway side is idempotent.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*ChargeVerification, error) {
	if reference == "" {
		return nil, fmt.Errorf("reference is required")
	}

	var resp verifyResponse
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("verify charge %s: %s", reference, resp.Message)
	}

	return &ChargeVerification{
		Reference: resp.Data.Reference,
		Status:    resp.Data.Status,
		Amount:    money.New(resp.Data.Amount, money.Currency(resp.Data.Currency)),
		Email:     resp.Data.Customer.Email,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parsing gateway response: %w", err)
	}
	return nil
}
