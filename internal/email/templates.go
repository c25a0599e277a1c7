package email

import (
	"time"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/pricing"
)

// EmailTemplate defines the interface for email templates
type EmailTemplate interface {
	Subject() string
	TemplateName() string
}

// OrderConfirmationEmail is sent once an order has been settled.
type OrderConfirmationEmail struct {
	Email           string
	OrderNumber     string
	CustomerName    string
	OrderDate       time.Time
	Items           []OrderLine
	Currency        string
	PromoCode       string
	Total           string
	ShippingAddress string
}

func (e OrderConfirmationEmail) Subject() string {
	return "Order Confirmation - " + e.OrderNumber
}

func (e OrderConfirmationEmail) TemplateName() string {
	return "order_confirmation.html"
}

// OrderLine is one rendered order item. Amounts are pre-formatted.
type OrderLine struct {
	ProductName string
	Size        string
	Quantity    int
	Subtotal    string
}

// NewOrderConfirmation builds the confirmation for a stored order.
func NewOrderConfirmation(order *domain.Order) OrderConfirmationEmail {
	lines := make([]OrderLine, len(order.Items))
	for i, item := range order.Items {
		lines[i] = OrderLine{
			ProductName: item.ProductName,
			Size:        item.Size,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal.StringFixed(pricing.MinorUnitPlaces),
		}
	}

	return OrderConfirmationEmail{
		Email:           order.Email,
		OrderNumber:     order.OrderNumber,
		CustomerName:    order.FullName,
		OrderDate:       order.CreatedAt,
		Items:           lines,
		Currency:        order.Currency,
		PromoCode:       order.PromoCode,
		Total:           order.TotalAmount.StringFixed(pricing.MinorUnitPlaces),
		ShippingAddress: order.ShippingAddress,
	}
}
