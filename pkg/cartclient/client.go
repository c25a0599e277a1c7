// Package cartclient talks to the cart and checkout HTTP API and keeps a
// local copy of the cart that converges on the server's.
package cartclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// TokenHeader carries the cart identity token in both directions.
const TokenHeader = "X-Cart-ID"

// RequestIDHeader is the server's id for a request, echoed on every response.
const RequestIDHeader = "X-Request-ID"

// Error codes the API returns that the client acts on.
const (
	CodeStaleCart        = "stale_cart"
	CodeInvalid          = "invalid"
	CodeInvalidReference = "invalid_reference"
	CodeNotFound         = "not_found"
	CodeUnavailable      = "unavailable"
)

// Cart is the full cart aggregate as the server returns it.
type Cart struct {
	ID             string          `json:"id"`
	Items          []Item          `json:"items"`
	Promo          *Promo          `json:"promo_code"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	ItemCount      int             `json:"item_count"`
	Version        int64           `json:"version"`
}

// Item is one cart line.
type Item struct {
	ID            int64           `json:"id"`
	Kind          string          `json:"kind"`
	ProductID     *int64          `json:"product_id,omitempty"`
	DupeID        *int64          `json:"dupe_id,omitempty"`
	AirAmbienceID *int64          `json:"air_ambience_id,omitempty"`
	PerfumeOilID  *int64          `json:"perfume_oil_id,omitempty"`
	ProductName   string          `json:"product_name"`
	Size          string          `json:"size"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

// Promo is the promo attached to a cart.
type Promo struct {
	Code               string           `json:"code"`
	DiscountType       string           `json:"discount_type"`
	DiscountValue      decimal.Decimal  `json:"discount_value"`
	MinimumOrderAmount decimal.Decimal  `json:"minimum_order_amount"`
	MaximumDiscount    *decimal.Decimal `json:"maximum_discount_amount,omitempty"`
}

// Clone returns a deep copy so projections never alias confirmed state.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]Item, len(c.Items))
	copy(out.Items, c.Items)
	if c.Promo != nil {
		p := *c.Promo
		out.Promo = &p
	}
	return &out
}

// AddItem names one product reference. Set exactly one of the four IDs.
type AddItem struct {
	ProductID     int64  `json:"product_id,omitempty"`
	DupeID        int64  `json:"dupe_id,omitempty"`
	AirAmbienceID int64  `json:"air_ambience_id,omitempty"`
	PerfumeOilID  int64  `json:"perfume_oil_id,omitempty"`
	Quantity      int    `json:"quantity,omitempty"`
	Size          string `json:"size,omitempty"`
}

// Checkout is the contact and shipping form sent to initialize payment.
type Checkout struct {
	Email           string          `json:"email"`
	FullName        string          `json:"full_name,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	ShippingAddress string          `json:"shipping_address"`
	Currency        string          `json:"currency,omitempty"`
	CallbackURL     string          `json:"callback_url,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// Payment is where to send the shopper to pay.
type Payment struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

// Verification is the outcome of a verify call.
type Verification struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}

// Order is a settled order.
type Order struct {
	OrderNumber      string          `json:"order_number"`
	PaymentReference string          `json:"payment_reference"`
	Status           string          `json:"status"`
	Email            string          `json:"email"`
	Currency         string          `json:"currency"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	// RequestID is the server's X-Request-ID for the failed call.
	RequestID string
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cartclient: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsStale reports whether err means the client's cart no longer exists on
// the server and local state must be reset.
func IsStale(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeStaleCart
}

// TokenStore persists the cart token between requests.
type TokenStore interface {
	Token() string
	SetToken(token string)
}

// MemoryTokenStore keeps the token in memory.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func (s *MemoryTokenStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *MemoryTokenStore) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://shop.example.com.
	BaseURL string

	// Tokens stores the cart token. Default: a MemoryTokenStore.
	Tokens TokenStore

	// HTTPClient sends requests. Default: a client with a 30s timeout.
	HTTPClient *http.Client
}

// Client calls the cart API. Each call sends the stored token and stores the
// token the server answers with.
type Client struct {
	baseURL string
	tokens  TokenStore
	http    *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Tokens == nil {
		cfg.Tokens = &MemoryTokenStore{}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  cfg.Tokens,
		http:    cfg.HTTPClient,
	}
}

// Token returns the stored cart token.
func (c *Client) Token() string { return c.tokens.Token() }

// ResetToken forgets the stored token. The next call gets a fresh cart.
func (c *Client) ResetToken() { c.tokens.SetToken("") }

func (c *Client) Get(ctx context.Context) (*Cart, error) {
	return c.cart(ctx, http.MethodGet, "/api/cart/", nil)
}

func (c *Client) AddItem(ctx context.Context, item AddItem) (*Cart, error) {
	return c.cart(ctx, http.MethodPost, "/api/cart/items/", item)
}

func (c *Client) UpdateQuantity(ctx context.Context, itemID int64, quantity int) (*Cart, error) {
	return c.cart(ctx, http.MethodPatch, itemPath(itemID), map[string]int{"quantity": quantity})
}

func (c *Client) RemoveItem(ctx context.Context, itemID int64) (*Cart, error) {
	return c.cart(ctx, http.MethodDelete, itemPath(itemID), nil)
}

// Clear empties the cart. The server issues a new token with the empty cart.
func (c *Client) Clear(ctx context.Context) (*Cart, error) {
	return c.cart(ctx, http.MethodDelete, "/api/cart/clear/", nil)
}

func (c *Client) ApplyPromo(ctx context.Context, code string) (*Cart, error) {
	return c.cart(ctx, http.MethodPost, "/api/cart/apply-promo/", map[string]string{"code": code})
}

func (c *Client) RemovePromo(ctx context.Context) (*Cart, error) {
	return c.cart(ctx, http.MethodPost, "/api/cart/remove-promo/", nil)
}

// InitializeCheckout starts payment for the current cart.
func (c *Client) InitializeCheckout(ctx context.Context, form Checkout) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/api/paystack/initialize/", form, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Verify asks the server to settle reference. Safe to call repeatedly.
func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	var v Verification
	if err := c.do(ctx, http.MethodGet, "/api/paystack/verify/"+url.PathEscape(reference)+"/", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) cart(ctx context.Context, method, path string, body any) (*Cart, error) {
	var cart Cart
	if err := c.do(ctx, method, path, body, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set(TokenHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(TokenHeader); token != "" {
		c.tokens.SetToken(token)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get(RequestIDHeader)}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		envelope.Error = apiErr
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || apiErr.Code == "" {
			apiErr.Code = strconv.Itoa(resp.StatusCode)
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

func itemPath(itemID int64) string {
	return "/api/cart/items/" + strconv.FormatInt(itemID, 10) + "/"
}
