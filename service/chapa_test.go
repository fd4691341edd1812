package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
)

func TestChapaInitialize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/transaction/initialize" {
			t.Errorf("Expected /transaction/initialize, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer CHASECK_TEST" {
			t.Error("Expected Authorization header")
		}

		var body chapaInitializeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.TxRef != "order-1" || body.Amount != "200.00" || body.Currency != "ETB" {
			t.Errorf("Unexpected body: %+v", body)
		}
		if body.CallbackURL != "https://api.test/api/payments/webhook" {
			t.Errorf("Expected callback url, got %q", body.CallbackURL)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Hosted Link","status":"success","data":{"checkout_url":"https://checkout.chapa.co/checkout/payment/abc"}}`))
	}))
	defer server.Close()

	client := NewChapaClient(&config.ChapaConfig{
		BaseURL:     server.URL,
		SecretKey:   "CHASECK_TEST",
		CallbackURL: "https://api.test/api/payments/webhook",
	})

	url, err := client.Initialize(context.Background(), CheckoutRequest{
		TxRef:    "order-1",
		Amount:   decimal.NewFromInt(200),
		Currency: "ETB",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if url != "https://checkout.chapa.co/checkout/payment/abc" {
		t.Errorf("Unexpected checkout url %s", url)
	}
}

func TestChapaInitializeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":{"currency":["The currency is invalid"]},"status":"failed","data":null}`))
	}))
	defer server.Close()

	client := NewChapaClient(&config.ChapaConfig{BaseURL: server.URL})
	_, err := client.Initialize(context.Background(), CheckoutRequest{TxRef: "x", Amount: decimal.NewFromInt(1), Currency: "ZZZ"})
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Errorf("Expected upstream error, got %v", err)
	}
}

func TestChapaVerify(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus string
		wantAmount string
		wantErr    bool
	}{
		{
			name:       "success",
			status:     http.StatusOK,
			body:       `{"message":"Payment details","status":"success","data":{"status":"success","reference":"APx1","tx_ref":"order-1","amount":200,"currency":"ETB"}}`,
			wantStatus: "success",
			wantAmount: "200",
		},
		{
			name:       "string amount",
			status:     http.StatusOK,
			body:       `{"status":"success","data":{"status":"pending","amount":"200.00","currency":"ETB"}}`,
			wantStatus: "pending",
			wantAmount: "200",
		},
		{
			name:       "unknown reference",
			status:     http.StatusBadRequest,
			body:       `{"message":"Invalid transaction or Transaction not found","status":"failed","data":null}`,
			wantStatus: "failed",
		},
		{
			name:    "gateway down",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/transaction/verify/order-1" {
					t.Errorf("Expected /transaction/verify/order-1, got %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewChapaClient(&config.ChapaConfig{BaseURL: server.URL, SecretKey: "k"})
			v, err := client.Verify(context.Background(), "order-1")
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrUpstream) {
					t.Fatalf("Expected upstream error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if v.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, v.Status)
			}
			if tt.wantAmount != "" && !v.Amount.Equal(decimal.RequireFromString(tt.wantAmount)) {
				t.Errorf("Expected amount %s, got %s", tt.wantAmount, v.Amount)
			}
		})
	}
}

func TestChapaVerifyWebhook(t *testing.T) {
	client := NewChapaClient(&config.ChapaConfig{WebhookSecret: "whsec"})
	body := []byte(`{"event":"charge.success","tx_ref":"order-1","status":"success"}`)

	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if !client.VerifyWebhook(sig, body) {
		t.Error("Expected valid signature")
	}
	if client.VerifyWebhook(sig, append(body, ' ')) {
		t.Error("Expected tampered body to fail")
	}
	if client.VerifyWebhook("", body) {
		t.Error("Expected empty signature to fail")
	}
	if NewChapaClient(&config.ChapaConfig{}).VerifyWebhook(sig, body) {
		t.Error("Expected verification to fail without a configured secret")
	}
}
