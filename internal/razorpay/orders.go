package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/portfoliodash/payserver/internal/circuitbreaker"
	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/httputil"
	"github.com/portfoliodash/payserver/internal/metrics"
)

// DefaultAPIBaseURL is Razorpay's public REST endpoint.
const DefaultAPIBaseURL = "https://api.razorpay.com/v1"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// OrderRequest describes an order to create with Razorpay.
// Amount is in the currency's smallest unit (paise for INR).
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is Razorpay's representation of a created order.
type Order struct {
	ID         string            `json:"id"`
	Entity     string            `json:"entity"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	AmountDue  int64             `json:"amount_due"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	Notes      map[string]string `json:"notes"`
	CreatedAt  int64             `json:"created_at"`
}

// APIError is an error body returned by the Razorpay API.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Field       string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("razorpay: %s (%d): %s [field %s]", e.Code, e.StatusCode, e.Description, e.Field)
	}
	return fmt.Sprintf("razorpay: %s (%d): %s", e.Code, e.StatusCode, e.Description)
}

// Client calls the Razorpay REST API with the configured key pair.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBreakers routes API calls through the razorpay_api circuit breaker.
func WithBreakers(m *circuitbreaker.Manager) ClientOption {
	return func(c *Client) {
		c.breakers = m
	}
}

// WithClientMetrics records API call counts and latency.
func WithClientMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient constructs a Razorpay API client.
func NewClient(cfg config.RazorpayConfig, opts ...ClientOption) *Client {
	baseURL := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:    baseURL,
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		httpClient: httputil.NewClient(timeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOrder creates an order that a checkout can later be paid against.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if c.keyID == "" || c.keySecret == "" {
		return Order{}, ErrSecretNotConfigured
	}
	if req.Amount <= 0 {
		return Order{}, errors.New("razorpay: order amount must be positive")
	}
	if req.Currency == "" {
		return Order{}, errors.New("razorpay: order currency required")
	}

	var order Order
	err := c.call(ctx, "create_order", http.MethodPost, "/orders", req, &order)
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// FetchOrder retrieves an order by id.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (Order, error) {
	if orderID == "" {
		return Order{}, errors.New("razorpay: order id required")
	}
	var order Order
	if err := c.call(ctx, "fetch_order", http.MethodGet, "/orders/"+orderID, nil, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// call executes one API request, through the circuit breaker when configured.
func (c *Client) call(ctx context.Context, operation, method, path string, in, out any) error {
	start := time.Now()
	exec := func() (interface{}, error) {
		return nil, c.do(ctx, method, path, in, out)
	}

	var err error
	if c.breakers != nil {
		_, err = c.breakers.Execute(circuitbreaker.ServiceRazorpay, exec)
	} else {
		_, err = exec()
	}

	if c.metrics != nil {
		c.metrics.ObserveRazorpayCall(operation, time.Since(start), err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("razorpay: marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("razorpay: build request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("razorpay: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope struct {
		Error APIError `json:"error"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
		*apiErr = envelope.Error
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}
	apiErr.Code = "UNKNOWN_ERROR"
	apiErr.Description = http.StatusText(resp.StatusCode)
	return apiErr
}
