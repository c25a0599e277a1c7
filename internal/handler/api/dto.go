package api

import (
	"encoding/json"
	"time"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/pricing"
	"github.com/shopspring/decimal"
)

// CartResponse is the full cart aggregate. Every cart endpoint returns it so
// clients can replace their local copy instead of patching it.
type CartResponse struct {
	ID             string             `json:"id"`
	Items          []CartItemResponse `json:"items"`
	PromoCode      *PromoResponse     `json:"promo_code"`
	Subtotal       string             `json:"subtotal"`
	DiscountAmount string             `json:"discount_amount"`
	Total          string             `json:"total"`
	ItemCount      int                `json:"item_count"`
	Version        int64              `json:"version"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// CartItemResponse is one cart line. Exactly one of the four reference
// fields is set, matching Kind.
type CartItemResponse struct {
	ID            int64  `json:"id"`
	Kind          string `json:"kind"`
	ProductID     *int64 `json:"product_id,omitempty"`
	DupeID        *int64 `json:"dupe_id,omitempty"`
	AirAmbienceID *int64 `json:"air_ambience_id,omitempty"`
	PerfumeOilID  *int64 `json:"perfume_oil_id,omitempty"`
	ProductName   string `json:"product_name"`
	Size          string `json:"size"`
	Quantity      int    `json:"quantity"`
	UnitPrice     string `json:"unit_price"`
	Subtotal      string `json:"subtotal"`
}

// PromoResponse describes the promo attached to a cart.
type PromoResponse struct {
	Code               string  `json:"code"`
	Description        string  `json:"description,omitempty"`
	DiscountType       string  `json:"discount_type"`
	DiscountValue      string  `json:"discount_value"`
	MinimumOrderAmount string  `json:"minimum_order_amount"`
	MaximumDiscount    *string `json:"maximum_discount_amount,omitempty"`
}

// OrderResponse is a settled order.
type OrderResponse struct {
	OrderNumber      string              `json:"order_number"`
	PaymentReference string              `json:"payment_reference"`
	Status           string              `json:"status"`
	Email            string              `json:"email"`
	FullName         string              `json:"full_name,omitempty"`
	Phone            string              `json:"phone,omitempty"`
	ShippingAddress  string              `json:"shipping_address,omitempty"`
	Currency         string              `json:"currency"`
	PromoCode        string              `json:"promo_code,omitempty"`
	TotalAmount      string              `json:"total_amount"`
	Items            []OrderItemResponse `json:"items"`
	CreatedAt        time.Time           `json:"created_at"`
}

// OrderItemResponse is an order line snapshot.
type OrderItemResponse struct {
	Kind         string `json:"kind"`
	ProductID    int64  `json:"product_id"`
	ProductName  string `json:"product_name"`
	ProductPrice string `json:"product_price"`
	Quantity     int    `json:"quantity"`
	Size         string `json:"size"`
	Subtotal     string `json:"subtotal"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(pricing.MinorUnitPlaces)
}

// NewCartResponse converts the aggregate for the wire.
func NewCartResponse(cart *domain.Cart) CartResponse {
	resp := CartResponse{
		ID:             cart.ID.String(),
		Items:          make([]CartItemResponse, 0, len(cart.Items)),
		Subtotal:       money(cart.Subtotal),
		DiscountAmount: money(cart.DiscountAmount),
		Total:          money(cart.Total),
		ItemCount:      cart.ItemCount(),
		Version:        cart.Version,
		CreatedAt:      cart.CreatedAt,
		UpdatedAt:      cart.UpdatedAt,
	}

	for _, item := range cart.Items {
		resp.Items = append(resp.Items, newCartItemResponse(item))
	}

	if p := cart.Promo; p != nil {
		promo := &PromoResponse{
			Code:               p.Code,
			Description:        p.Description,
			DiscountType:       string(p.DiscountType),
			DiscountValue:      p.DiscountValue.String(),
			MinimumOrderAmount: money(p.MinimumOrderAmount),
		}
		if p.MaximumDiscountAmount.Valid {
			maxDiscount := money(p.MaximumDiscountAmount.Decimal)
			promo.MaximumDiscount = &maxDiscount
		}
		resp.PromoCode = promo
	}

	return resp
}

func newCartItemResponse(item domain.LineItem) CartItemResponse {
	id := item.Reference.ID
	out := CartItemResponse{
		ID:          item.ID,
		Kind:        string(item.Reference.Kind),
		ProductName: item.ProductName,
		Size:        item.Size,
		Quantity:    item.Quantity,
		UnitPrice:   money(item.UnitPrice),
		Subtotal:    money(item.Subtotal()),
	}

	switch item.Reference.Kind {
	case domain.KindProduct:
		out.ProductID = &id
	case domain.KindDupe:
		out.DupeID = &id
	case domain.KindAirAmbience:
		out.AirAmbienceID = &id
	case domain.KindPerfumeOil:
		out.PerfumeOilID = &id
	}
	return out
}

// NewOrderResponse converts an order for the wire.
func NewOrderResponse(order *domain.Order) OrderResponse {
	resp := OrderResponse{
		OrderNumber:      order.OrderNumber,
		PaymentReference: order.PaymentReference,
		Status:           string(order.Status),
		Email:            order.Email,
		FullName:         order.FullName,
		Phone:            order.Phone,
		ShippingAddress:  order.ShippingAddress,
		Currency:         order.Currency,
		PromoCode:        order.PromoCode,
		TotalAmount:      money(order.TotalAmount),
		Items:            make([]OrderItemResponse, 0, len(order.Items)),
		CreatedAt:        order.CreatedAt,
	}

	for _, it := range order.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			Kind:         string(it.Reference.Kind),
			ProductID:    it.Reference.ID,
			ProductName:  it.ProductName,
			ProductPrice: money(it.UnitPrice),
			Quantity:     it.Quantity,
			Size:         it.Size,
			Subtotal:     money(it.Subtotal),
		})
	}
	return resp
}

// addItemRequest accepts the four reference fields plus the legacy "id".
type addItemRequest struct {
	ProductID     int64    `json:"product_id"`
	DupeID        int64    `json:"dupe_id"`
	AirAmbienceID int64    `json:"air_ambience_id"`
	PerfumeOilID  int64    `json:"perfume_oil_id"`
	ID            legacyID `json:"id"`
	Quantity      *int     `json:"quantity"`
	Size          string   `json:"size"`
}

func (r addItemRequest) toDomain() domain.AddItemRequest {
	return domain.AddItemRequest{
		ProductID:     r.ProductID,
		DupeID:        r.DupeID,
		AirAmbienceID: r.AirAmbienceID,
		PerfumeOilID:  r.PerfumeOilID,
		LegacyID:      string(r.ID),
		Quantity:      r.Quantity,
		Size:          r.Size,
	}
}

// legacyID is the opaque id older clients send, as either a JSON string or
// a JSON number.
type legacyID string

func (l *legacyID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = legacyID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*l = legacyID(n.String())
	return nil
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

type promoRequest struct {
	Code string `json:"code"`
}

type verifyRequest struct {
	Reference string `json:"reference"`
}

// InitializeResponse tells the client where to send the shopper.
type InitializeResponse struct {
	Status           bool   `json:"status"`
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

// VerifyResponse reports a settlement outcome.
type VerifyResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Order   *OrderResponse `json:"order,omitempty"`
}

func newVerifyResponse(result *domain.VerifyResult) VerifyResponse {
	resp := VerifyResponse{Status: string(result.Status), Message: result.Message}
	if result.Order != nil {
		order := NewOrderResponse(result.Order)
		resp.Order = &order
	}
	return resp
}
