// Package api exposes the storefront HTTP surface.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"datashop/internal/catalog"
	"datashop/internal/common/api"
	"datashop/internal/common/database"
	"datashop/internal/common/money"
	"datashop/internal/deposit"
	"datashop/internal/paystack"
	"datashop/internal/purchase"
	"datashop/internal/wallet"
)

// Handler handles storefront HTTP requests
type Handler struct {
	wallets   *wallet.Engine
	deposits  *deposit.Service
	purchases *purchase.Service
	catalog   *catalog.Catalog
	logger    *slog.Logger
}

// NewHandler creates a new storefront handler
func NewHandler(wallets *wallet.Engine, deposits *deposit.Service, purchases *purchase.Service, cat *catalog.Catalog, logger *slog.Logger) *Handler {
	return &Handler{
		wallets:   wallets,
		deposits:  deposits,
		purchases: purchases,
		catalog:   cat,
		logger:    logger,
	}
}

// Routes returns the storefront routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/wallets/{key}", func(r chi.Router) {
		r.Get("/balance", h.GetBalance)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/purchases", h.ListPurchases)
		r.Get("/history", h.GetHistory)
	})

	r.Post("/deposits", h.InitializeDeposit)
	r.Post("/deposits/confirm", h.ConfirmDeposit)

	r.Post("/purchases", h.CreatePurchase)
	r.Get("/purchases/{id}", h.GetPurchase)
	r.Post("/purchases/confirm", h.ConfirmPurchase)

	r.Post("/registrations", h.CreateRegistration)

	r.Get("/catalog", h.GetCatalog)
	r.Get("/catalog/{network}", h.GetNetworkBundles)

	return r
}

// DepositRequest is the API request for funding a wallet
type DepositRequest struct {
	Email       string `json:"email" validate:"required,email"`
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
}

// InitializeDeposit handles POST /deposits
func (h *Handler) InitializeDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	init, err := h.deposits.Initialize(r.Context(), req.Email, money.New(req.AmountMinor, h.wallets.Currency()))
	if err != nil {
		h.writeServiceError(w, err, "failed to initialize deposit")
		return
	}

	api.WriteData(w, http.StatusCreated, init)
}

// ConfirmRequest is the API request for confirming a gateway charge
type ConfirmRequest struct {
	Reference string `json:"reference" validate:"required"`
}

// ConfirmDeposit handles POST /deposits/confirm
func (h *Handler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	txn, err := h.deposits.Confirm(r.Context(), req.Reference)
	if err != nil {
		h.writeServiceError(w, err, "failed to confirm deposit")
		return
	}

	api.WriteData(w, http.StatusOK, txn)
}

// GetBalance handles GET /wallets/{key}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	balance, err := h.wallets.Balance(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, err, "failed to load balance")
		return
	}

	api.WriteData(w, http.StatusOK, map[string]interface{}{
		"wallet_key": key,
		"balance":    balance,
	})
}

// ListTransactions handles GET /wallets/{key}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	params := api.GetPaginationParams(r, 50, 100)

	txns, err := h.wallets.History(r.Context(), key, params.Limit, params.Offset)
	if err != nil {
		h.writeServiceError(w, err, "failed to load transactions")
		return
	}

	api.WriteData(w, http.StatusOK, txns)
}

// ListPurchases handles GET /wallets/{key}/purchases
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	params := api.GetPaginationParams(r, 50, 100)

	purchases, err := h.purchases.ListPurchases(r.Context(), key, params.Limit, params.Offset)
	if err != nil {
		h.writeServiceError(w, err, "failed to load purchases")
		return
	}

	api.WriteData(w, http.StatusOK, purchases)
}

// HistoryEntry is one item in a wallet's merged activity feed.
type HistoryEntry struct {
	Type        string              `json:"type"`
	OccurredAt  time.Time           `json:"occurred_at"`
	Transaction *wallet.Transaction `json:"transaction,omitempty"`
	Purchase    *purchase.Purchase  `json:"purchase,omitempty"`
}

// GetHistory handles GET /wallets/{key}/history. Ledger entries and
// purchase records are interleaved in time order, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	params := api.GetPaginationParams(r, 50, 100)

	// Pagination applies to the merged feed, so each source contributes its
	// first offset+limit entries and the window is cut after the merge.
	window := params.Offset + params.Limit
	txns, err := h.wallets.History(r.Context(), key, window, 0)
	if err != nil {
		h.writeServiceError(w, err, "failed to load history")
		return
	}
	purchases, err := h.purchases.ListPurchaseHistory(r.Context(), key, window, 0)
	if err != nil {
		h.writeServiceError(w, err, "failed to load history")
		return
	}

	entries := make([]HistoryEntry, 0, len(txns)+len(purchases))
	for _, txn := range txns {
		entries = append(entries, HistoryEntry{Type: "transaction", OccurredAt: txn.CreatedAt, Transaction: txn})
	}
	for _, p := range purchases {
		entries = append(entries, HistoryEntry{Type: "purchase", OccurredAt: p.CreatedAt, Purchase: p})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})
	if params.Offset >= len(entries) {
		entries = entries[:0]
	} else {
		entries = entries[params.Offset:]
	}
	if len(entries) > params.Limit {
		entries = entries[:params.Limit]
	}

	api.WriteData(w, http.StatusOK, entries)
}

// PurchaseRequest is the API request for buying a data bundle
type PurchaseRequest struct {
	WalletKey string `json:"wallet_key" validate:"required,email"`
	Network   string `json:"network" validate:"required"`
	Bundle    string `json:"bundle" validate:"required"`
	Recipient string `json:"recipient" validate:"required"`
	Method    string `json:"method" validate:"required,oneof=wallet gateway"`
}

// CreatePurchase handles POST /purchases
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	result, err := h.purchases.Purchase(r.Context(), purchase.PurchaseRequest{
		WalletKey: req.WalletKey,
		Network:   req.Network,
		Bundle:    req.Bundle,
		Recipient: req.Recipient,
		Method:    purchase.Method(req.Method),
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create purchase")
		return
	}

	api.WriteData(w, http.StatusCreated, result)
}

// GetPurchase handles GET /purchases/{id}
func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.purchases.GetPurchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, "failed to load purchase")
		return
	}

	api.WriteData(w, http.StatusOK, p)
}

// ConfirmPurchase handles POST /purchases/confirm
func (h *Handler) ConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	result, err := h.purchases.ConfirmPayment(r.Context(), req.Reference)
	if err != nil {
		h.writeServiceError(w, err, "failed to confirm payment")
		return
	}

	api.WriteData(w, http.StatusOK, result)
}

// RegistrationRequest is the API request for registering an AFA membership
type RegistrationRequest struct {
	WalletKey   string `json:"wallet_key" validate:"required,email"`
	FullName    string `json:"full_name" validate:"required,max=255"`
	Phone       string `json:"phone" validate:"required"`
	Location    string `json:"location" validate:"required"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
	Method      string `json:"method" validate:"required,oneof=wallet gateway"`
}

// CreateRegistration handles POST /registrations
func (h *Handler) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	result, err := h.purchases.RegisterMembership(r.Context(), purchase.RegistrationRequest{
		WalletKey:   req.WalletKey,
		FullName:    req.FullName,
		Phone:       req.Phone,
		Location:    req.Location,
		DateOfBirth: req.DateOfBirth,
		Method:      purchase.Method(req.Method),
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to register membership")
		return
	}

	api.WriteData(w, http.StatusCreated, result)
}

// NetworkBundles is one network's offering in the catalog response
type NetworkBundles struct {
	Network string           `json:"network"`
	Bundles []catalog.Bundle `json:"bundles"`
}

// GetCatalog handles GET /catalog
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	networks := h.catalog.Networks()
	out := make([]NetworkBundles, 0, len(networks))
	for _, network := range networks {
		bundles, err := h.catalog.Bundles(network)
		if err != nil {
			continue
		}
		out = append(out, NetworkBundles{Network: network, Bundles: bundles})
	}

	api.WriteData(w, http.StatusOK, map[string]interface{}{
		"networks":         out,
		"membership_price": catalog.MembershipPrice,
	})
}

// GetNetworkBundles handles GET /catalog/{network}
func (h *Handler) GetNetworkBundles(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")

	bundles, err := h.catalog.Bundles(network)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrCodeUnknownProduct, "unknown network")
		return
	}

	api.WriteData(w, http.StatusOK, NetworkBundles{Network: network, Bundles: bundles})
}

// writeServiceError maps service errors onto the response envelope.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		api.PaymentRequired(w, "insufficient wallet balance")
	case errors.Is(err, wallet.ErrInvalidAmount):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInvalidAmount, "amount must be positive")
	case errors.Is(err, wallet.ErrWalletNotFound):
		api.NotFound(w, "wallet not found")
	case errors.Is(err, wallet.ErrReferenceInUse):
		api.Conflict(w, "reference already used by another payment")
	case errors.Is(err, catalog.ErrUnknownProduct):
		api.WriteError(w, http.StatusNotFound, api.ErrCodeUnknownProduct, "unknown network or bundle")
	case errors.Is(err, purchase.ErrNoPendingPayment):
		api.NotFound(w, "no pending payment for reference")
	case errors.Is(err, paystack.ErrVerificationFailed):
		api.WriteError(w, http.StatusPaymentRequired, api.ErrCodePaymentFailed, "payment has not settled")
	case errors.Is(err, wallet.ErrStorageUnavailable):
		api.ServiceUnavailable(w, "ledger temporarily unavailable")
	case database.IsNotFound(err):
		api.NotFound(w, "not found")
	case database.IsUniqueViolation(err) || errors.Is(err, database.ErrAlreadyExists):
		api.Conflict(w, "already exists")
	default:
		h.logger.Error(fallback, "error", err)
		api.InternalError(w, fallback)
	}
}
