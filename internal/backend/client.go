// Package backend implements the invoice repository against the RWA REST API.
//
// Every endpoint answers with the envelope {code, data, msg}. Codes 0 and 200
// denote success; anything else is surfaced as an *APIError carrying msg.
//
// Endpoints used:
//   - GET    /rwa/invoice/list
//   - GET    /rwa/invoice/detail?invoice_number=
//   - POST   /rwa/invoice/create
//   - POST   /rwa/invoice/verify   {id}
//   - POST   /rwa/invoice/issue    {invoice_ids}
//   - DELETE /rwa/invoice/del?id=&invoice_number=
//   - POST   /rwa/user/challenge   {address}
//   - POST   /rwa/user/login       {requestId, signature}
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"invoicechain/internal/logger"
	"invoicechain/pkg/models"
	"invoicechain/pkg/services"
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	// BaseURL is the backend origin, e.g. "https://api.example.com".
	BaseURL string

	// Token is the bearer token obtained from Login. Optional for the auth endpoints.
	Token string

	// Timeout bounds each HTTP round trip. Default: 30 seconds.
	Timeout time.Duration

	// RPS limits outgoing requests per second. Zero disables limiting.
	RPS float64

	// Transport overrides the base round tripper (tests).
	Transport http.RoundTripper
}

// Client is an InvoiceRepository backed by the REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

var _ services.InvoiceRepository = (*Client)(nil)

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg"`
}

// NewClient creates a REST client for the backend.
func NewClient(cfg ClientConfig) (*Client, error) {
	const op = "NewClient"

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%s: base URL is required", op)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("%s: invalid base URL: %w", op, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
			Base:   transport,
		}
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter:    limiter,
		log:        logger.WithComponent("backend"),
	}, nil
}

// List returns all invoices visible to the caller.
func (c *Client) List(ctx context.Context) ([]models.Invoice, error) {
	var invoices []models.Invoice
	if err := c.do(ctx, "List", http.MethodGet, "/rwa/invoice/list", nil, nil, &invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

// Detail returns the invoices matching invoiceNumber; empty means not found.
func (c *Client) Detail(ctx context.Context, invoiceNumber string) ([]models.Invoice, error) {
	query := url.Values{"invoice_number": {invoiceNumber}}
	var invoices []models.Invoice
	if err := c.do(ctx, "Detail", http.MethodGet, "/rwa/invoice/detail", query, nil, &invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

// Create registers a new invoice.
func (c *Client) Create(ctx context.Context, req models.CreateInvoiceRequest) (*models.Invoice, error) {
	var created *models.Invoice
	if err := c.do(ctx, "Create", http.MethodPost, "/rwa/invoice/create", nil, req, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// Verify asks the backend to confirm the on-chain record and returns its status.
func (c *Client) Verify(ctx context.Context, id string) (string, error) {
	body := map[string]string{"id": id}
	var result services.VerificationResult
	if err := c.do(ctx, "Verify", http.MethodPost, "/rwa/invoice/verify", nil, body, &result); err != nil {
		return "", err
	}
	return result.Verified, nil
}

// Issue moves the given invoices to ISSUED.
func (c *Client) Issue(ctx context.Context, ids []string) error {
	body := map[string][]string{"invoice_ids": ids}
	return c.do(ctx, "Issue", http.MethodPost, "/rwa/invoice/issue", nil, body, nil)
}

// Delete removes an invoice.
func (c *Client) Delete(ctx context.Context, id, invoiceNumber string) error {
	query := url.Values{"id": {id}, "invoice_number": {invoiceNumber}}
	return c.do(ctx, "Delete", http.MethodDelete, "/rwa/invoice/del", query, nil, nil)
}

// Challenge is the nonce a wallet must sign to log in.
type Challenge struct {
	Nonce     string `json:"nonce"`
	RequestID string `json:"requestId"`
}

// Session is the result of a successful login.
type Session struct {
	Token         string `json:"token"`
	WalletAddress string `json:"walletAddress"`
}

// Challenge requests a login nonce for address.
func (c *Client) Challenge(ctx context.Context, address string) (*Challenge, error) {
	var challenge Challenge
	body := map[string]string{"address": address}
	if err := c.do(ctx, "Challenge", http.MethodPost, "/rwa/user/challenge", nil, body, &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// Login exchanges a signed challenge for a session token.
func (c *Client) Login(ctx context.Context, requestID, signature string) (*Session, error) {
	var session Session
	body := map[string]string{"requestId": requestID, "signature": signature}
	if err := c.do(ctx, "Login", http.MethodPost, "/rwa/user/login", nil, body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Str("path", path).Msg("Backend request failed")
		return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w: reading body: %w", op, ErrTransport, err)
	}

	c.log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Backend request completed")

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Op: op, Code: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%s: %w: %w", op, ErrMalformedResponse, err)
	}
	if !IsSuccessCode(env.Code) {
		return &APIError{Op: op, Code: env.Code, Msg: env.Msg}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Op: op, Code: resp.StatusCode, Msg: env.Msg}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrMalformedResponse, err)
	}
	return nil
}
