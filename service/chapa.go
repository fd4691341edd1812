package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
)

// ChapaStatusSuccess is the only gateway status that confirms payment.
const ChapaStatusSuccess = "success"

// PaymentGateway is what the payment flow needs from the gateway.
type PaymentGateway interface {
	Initialize(ctx context.Context, req CheckoutRequest) (string, error)
	Verify(ctx context.Context, txRef string) (*ChapaVerification, error)
}

type ChapaClient struct {
	config     *config.ChapaConfig
	httpClient *http.Client
}

type CheckoutRequest struct {
	TxRef     string
	Amount    decimal.Decimal
	Currency  string
	Email     string
	FirstName string
	LastName  string
	Title     string
}

type chapaInitializeRequest struct {
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	Email         string            `json:"email,omitempty"`
	FirstName     string            `json:"first_name,omitempty"`
	LastName      string            `json:"last_name,omitempty"`
	TxRef         string            `json:"tx_ref"`
	CallbackURL   string            `json:"callback_url,omitempty"`
	ReturnURL     string            `json:"return_url,omitempty"`
	Customization map[string]string `json:"customization,omitempty"`
}

type chapaInitializeResponse struct {
	Message json.RawMessage `json:"message"`
	Status  string          `json:"status"`
	Data    struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

// ChapaVerification is the data block of a verify-by-reference response.
type ChapaVerification struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	TxRef     string          `json:"tx_ref"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Email     string          `json:"email"`
}

type chapaVerifyResponse struct {
	Message json.RawMessage    `json:"message"`
	Status  string             `json:"status"`
	Data    *ChapaVerification `json:"data"`
}

// ChapaWebhookPayload is the subset of the webhook body we act on.
type ChapaWebhookPayload struct {
	Event     string `json:"event"`
	TxRef     string `json:"tx_ref"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func NewChapaClient(cfg *config.ChapaConfig) *ChapaClient {
	return &ChapaClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Initialize creates a hosted checkout and returns its URL.
func (c *ChapaClient) Initialize(ctx context.Context, req CheckoutRequest) (string, error) {
	body := chapaInitializeRequest{
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		TxRef:       req.TxRef,
		CallbackURL: c.config.CallbackURL,
		ReturnURL:   c.config.ReturnURL,
	}
	if req.Title != "" {
		body.Customization = map[string]string{"title": req.Title}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/transaction/initialize", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var result chapaInitializeResponse
	status, raw, err := c.do(httpReq, &result)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK || result.Status != ChapaStatusSuccess || result.Data.CheckoutURL == "" {
		return "", fmt.Errorf("%w: chapa initialize: status %d: %s", apperr.ErrUpstream, status, truncate(raw, 300))
	}
	return result.Data.CheckoutURL, nil
}

// Verify looks a transaction up by reference. A non-success payment is not an
// error here; callers inspect the returned Status.
func (c *ChapaClient) Verify(ctx context.Context, txRef string) (*ChapaVerification, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/transaction/verify/"+url.PathEscape(txRef), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result chapaVerifyResponse
	status, raw, err := c.do(httpReq, &result)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK && result.Data != nil:
		return result.Data, nil
	case status == http.StatusNotFound || (status == http.StatusBadRequest && result.Data == nil):
		// Chapa answers unknown or unpaid references with a failed status.
		return &ChapaVerification{Status: "failed", TxRef: txRef}, nil
	default:
		return nil, fmt.Errorf("%w: chapa verify: status %d: %s", apperr.ErrUpstream, status, truncate(raw, 300))
	}
}

func (c *ChapaClient) do(req *http.Request, out any) (int, []byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.config.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to send request: %w", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response: %w", apperr.ErrUpstream, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, body, fmt.Errorf("%w: failed to parse response: %v, body: %s", apperr.ErrUpstream, err, truncate(body, 300))
	}
	return resp.StatusCode, body, nil
}

// VerifyWebhook checks the HMAC-SHA256 of the raw body against the signature
// header sent by Chapa.
func (c *ChapaClient) VerifyWebhook(signature string, body []byte) bool {
	if c.config.WebhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.config.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
