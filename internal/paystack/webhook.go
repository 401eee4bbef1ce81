package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"datashop/internal/common/money"
	"datashop/internal/wallet"
)

// SignatureHeader carries the HMAC the gateway computes over the raw payload.
const SignatureHeader = "X-Paystack-Signature"

// WalletCreditor credits a wallet for a deposit the gateway has settled.
type WalletCreditor interface {
	CreditVerified(ctx context.Context, email string, amount money.Money, reference string) (*wallet.Transaction, error)
}

// PaymentCompleter completes a pending gateway-funded purchase or
// registration matched by reference. matched is false when the reference
// does not belong to one.
type PaymentCompleter interface {
	CompleteByReference(ctx context.Context, reference string, amount money.Money) (matched bool, err error)
}

// WebhookHandler receives gateway webhooks. Delivery is at-least-once and
// unauthenticated, so the payload is only trusted after its HMAC-SHA512
// signature checks out against the shared secret; duplicate deliveries are
// absorbed downstream by the idempotency guard.
type WebhookHandler struct {
	secret    []byte
	creditor  WalletCreditor
	completer PaymentCompleter
	logger    *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(secretKey string, creditor WalletCreditor, completer PaymentCompleter, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:    []byte(secretKey),
		creditor:  creditor,
		completer: completer,
		logger:    logger,
	}
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Customer  struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

// ServeHTTP handles incoming gateway webhook requests.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !h.validSignature(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("webhook signature mismatch", "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	h.logger.Info("received gateway webhook",
		"event", event.Event,
		"reference", event.Data.Reference,
	)

	switch event.Event {
	case "charge.success":
		// A failed credit or completion must not be acknowledged: the
		// gateway retries non-2xx responses, and redelivery is safe because
		// references are claimed exactly once.
		if err := h.handleChargeSuccess(ctx, event); err != nil {
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
	default:
		h.logger.Debug("ignoring webhook event", "event", event.Event)
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"received":true}`))
}

func (h *WebhookHandler) handleChargeSuccess(ctx context.Context, event webhookEvent) error {
	amount := money.New(event.Data.Amount, money.Currency(event.Data.Currency))
	reference := event.Data.Reference

	// References issued for gateway-funded purchases complete those records;
	// anything else is a wallet top-up.
	matched, err := h.completer.CompleteByReference(ctx, reference, amount)
	if err != nil {
		h.logger.Error("failed to complete gateway payment",
			"reference", reference,
			"error", err,
		)
		return err
	}
	if matched {
		return nil
	}

	txn, err := h.creditor.CreditVerified(ctx, event.Data.Customer.Email, amount, reference)
	if err != nil {
		h.logger.Error("failed to credit wallet from webhook",
			"reference", reference,
			"error", err,
		)
		return err
	}

	h.logger.Info("wallet credited from webhook",
		"reference", reference,
		"transaction_id", txn.ID,
	)
	return nil
}

func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha512.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
