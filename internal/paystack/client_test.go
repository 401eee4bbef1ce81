package paystack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datashop/internal/common/money"
)

func testClient(baseURL string) *Client {
	return NewClient(Config{
		SecretKey:   "sk_test_secret",
		BaseURL:     baseURL,
		CallbackURL: "https://shop.example.com/callback",
		Timeout:     5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInitializeCharge(t *testing.T) {
	var got struct {
		Email       string `json:"email"`
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		CallbackURL string `json:"callback_url"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": true,
			"message": "Authorization URL created",
			"data": {
				"authorization_url": "https://checkout.paystack.com/abc123",
				"access_code": "abc123",
				"reference": "T123456789"
			}
		}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	init, err := client.InitializeCharge(context.Background(), money.New(5000, money.GHS), "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, "T123456789", init.Reference)
	assert.Equal(t, "https://checkout.paystack.com/abc123", init.AuthorizationURL)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, int64(5000), got.Amount)
	assert.Equal(t, "GHS", got.Currency)
	assert.Equal(t, "https://shop.example.com/callback", got.CallbackURL)
}

func TestInitializeChargeRejectsNonPositiveAmount(t *testing.T) {
	client := testClient("http://localhost:0")
	_, err := client.InitializeCharge(context.Background(), money.New(0, money.GHS), "alice@example.com")
	assert.Error(t, err)
}

func TestInitializeChargeGatewayDecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": false, "message": "Invalid key"}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	_, err := client.InitializeCharge(context.Background(), money.New(5000, money.GHS), "alice@example.com")
	assert.ErrorContains(t, err, "Invalid key")
}

func TestVerifyCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/transaction/verify/T123456789", r.URL.Path)

		w.Write([]byte(`{
			"status": true,
			"message": "Verification successful",
			"data": {
				"reference": "T123456789",
				"status": "success",
				"amount": 5000,
				"currency": "GHS",
				"customer": {"email": "alice@example.com"}
			}
		}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	v, err := client.VerifyCharge(context.Background(), "T123456789")
	require.NoError(t, err)

	assert.True(t, v.Succeeded())
	assert.Equal(t, "T123456789", v.Reference)
	assert.Equal(t, money.New(5000, money.GHS), v.Amount)
	assert.Equal(t, "alice@example.com", v.Email)
}

func TestVerifyChargeNotSettled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": true,
			"message": "Verification successful",
			"data": {"reference": "T1", "status": "abandoned", "amount": 0, "currency": "GHS", "customer": {"email": ""}}
		}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	v, err := client.VerifyCharge(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, v.Succeeded())
}

func TestVerifyChargeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	_, err := client.VerifyCharge(context.Background(), "T1")
	assert.ErrorContains(t, err, "500")
}

func TestVerifyChargeRequiresReference(t *testing.T) {
	client := testClient("http://localhost:0")
	_, err := client.VerifyCharge(context.Background(), "")
	assert.Error(t, err)
}
