package cartclient

import (
	"context"
	"sync"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/pricing"
	"github.com/shopspring/decimal"
)

// CartAPI is the server side of the cart. *Client implements it.
type CartAPI interface {
	Get(ctx context.Context) (*Cart, error)
	AddItem(ctx context.Context, item AddItem) (*Cart, error)
	UpdateQuantity(ctx context.Context, itemID int64, quantity int) (*Cart, error)
	RemoveItem(ctx context.Context, itemID int64) (*Cart, error)
	Clear(ctx context.Context) (*Cart, error)
	ApplyPromo(ctx context.Context, code string) (*Cart, error)
	RemovePromo(ctx context.Context) (*Cart, error)
	ResetToken()
}

var _ CartAPI = (*Client)(nil)

// Reconciler holds the shopper's view of the cart.
//
// A mutation shows an optimistic projection at once, then replaces it with
// whatever the server returns. Server carts are adopted whole and never
// merged. A response older than the cart already held is dropped. A stale
// cart error discards everything and loads a fresh cart. Any other error
// rolls the view back to the last server-confirmed cart.
type Reconciler struct {
	api      CartAPI
	onChange func(*Cart)

	mu        sync.Mutex
	confirmed *Cart
	view      *Cart
	pending   int
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// OnChange registers fn to receive a copy of the view whenever it changes.
// fn is called without the reconciler's lock held.
func OnChange(fn func(*Cart)) ReconcilerOption {
	return func(r *Reconciler) { r.onChange = fn }
}

// NewReconciler creates a Reconciler with an empty view. Call Load to fetch
// the server's cart.
func NewReconciler(api CartAPI, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		api:       api,
		confirmed: emptyCart(),
	}
	r.view = r.confirmed.Clone()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cart returns a copy of what the shopper should see.
func (r *Reconciler) Cart() *Cart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Clone()
}

// Confirmed returns a copy of the last cart the server returned.
func (r *Reconciler) Confirmed() *Cart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confirmed.Clone()
}

// Pending returns the number of mutations awaiting a response.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Load fetches the server's cart and adopts it.
func (r *Reconciler) Load(ctx context.Context) (*Cart, error) {
	return r.mutate(ctx, nil, r.api.Get)
}

func (r *Reconciler) AddItem(ctx context.Context, item AddItem) (*Cart, error) {
	return r.mutate(ctx, func(c *Cart) { projectAdd(c, item) }, func(ctx context.Context) (*Cart, error) {
		return r.api.AddItem(ctx, item)
	})
}

func (r *Reconciler) UpdateQuantity(ctx context.Context, itemID int64, quantity int) (*Cart, error) {
	return r.mutate(ctx, func(c *Cart) {
		for i := range c.Items {
			if c.Items[i].ID == itemID && quantity > 0 {
				c.Items[i].Quantity = quantity
			}
		}
	}, func(ctx context.Context) (*Cart, error) {
		return r.api.UpdateQuantity(ctx, itemID, quantity)
	})
}

func (r *Reconciler) RemoveItem(ctx context.Context, itemID int64) (*Cart, error) {
	return r.mutate(ctx, func(c *Cart) {
		kept := c.Items[:0]
		for _, it := range c.Items {
			if it.ID != itemID {
				kept = append(kept, it)
			}
		}
		c.Items = kept
	}, func(ctx context.Context) (*Cart, error) {
		return r.api.RemoveItem(ctx, itemID)
	})
}

// Clear empties the cart. The server answers with a new cart identity.
func (r *Reconciler) Clear(ctx context.Context) (*Cart, error) {
	return r.mutate(ctx, func(c *Cart) {
		c.Items = nil
		c.Promo = nil
	}, r.api.Clear)
}

// ApplyPromo has no projection; only the server knows whether a code is valid.
func (r *Reconciler) ApplyPromo(ctx context.Context, code string) (*Cart, error) {
	return r.mutate(ctx, nil, func(ctx context.Context) (*Cart, error) {
		return r.api.ApplyPromo(ctx, code)
	})
}

func (r *Reconciler) RemovePromo(ctx context.Context) (*Cart, error) {
	return r.mutate(ctx, func(c *Cart) { c.Promo = nil }, r.api.RemovePromo)
}

// mutate shows project's result, calls send, then settles the view on the
// outcome. A nil project leaves the view as is until the server answers.
func (r *Reconciler) mutate(ctx context.Context, project func(*Cart), send func(context.Context) (*Cart, error)) (*Cart, error) {
	r.mu.Lock()
	r.pending++
	var changed *Cart
	if project != nil {
		next := r.view.Clone()
		project(next)
		reprice(next)
		r.view = next
		changed = next.Clone()
	}
	r.mu.Unlock()
	r.notify(changed)

	cart, err := send(ctx)
	if err != nil && IsStale(err) {
		return r.reset(ctx)
	}

	r.mu.Lock()
	r.pending--
	if err != nil {
		r.view = r.confirmed.Clone()
	} else {
		r.adopt(cart)
	}
	view := r.view.Clone()
	r.mu.Unlock()
	r.notify(view)

	return view, err
}

// reset drops all local state and the token, then adopts a fresh cart.
func (r *Reconciler) reset(ctx context.Context) (*Cart, error) {
	r.api.ResetToken()

	r.mu.Lock()
	r.confirmed = emptyCart()
	r.view = r.confirmed.Clone()
	r.mu.Unlock()

	fresh, err := r.api.Get(ctx)

	r.mu.Lock()
	r.pending--
	if err == nil {
		r.adopt(fresh)
	}
	view := r.view.Clone()
	r.mu.Unlock()
	r.notify(view)

	return view, err
}

// adopt replaces confirmed state with cart unless cart is older than what is
// held. A different cart ID always wins: the server has moved the shopper to
// a new cart. Caller must hold r.mu.
func (r *Reconciler) adopt(cart *Cart) {
	if cart == nil {
		return
	}
	sameCart := r.confirmed.ID != "" && cart.ID == r.confirmed.ID
	if sameCart && cart.Version < r.confirmed.Version {
		if r.pending == 0 {
			r.view = r.confirmed.Clone()
		}
		return
	}
	r.confirmed = cart.Clone()
	r.view = cart.Clone()
}

func (r *Reconciler) notify(cart *Cart) {
	if cart != nil && r.onChange != nil {
		r.onChange(cart)
	}
}

func emptyCart() *Cart {
	return &Cart{
		Items:          []Item{},
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
		Total:          decimal.Zero,
	}
}

// projectAdd bumps a matching line or appends a placeholder. A placeholder
// has no ID and a zero price until the server prices it.
func projectAdd(c *Cart, item AddItem) {
	qty := item.Quantity
	if qty <= 0 {
		qty = 1
	}
	size := item.Size
	if size == "" {
		size = domain.DefaultSize
	}
	for i := range c.Items {
		if sameReference(c.Items[i], item) && c.Items[i].Size == size {
			c.Items[i].Quantity += qty
			return
		}
	}
	c.Items = append(c.Items, Item{
		ProductID:     nonZero(item.ProductID),
		DupeID:        nonZero(item.DupeID),
		AirAmbienceID: nonZero(item.AirAmbienceID),
		PerfumeOilID:  nonZero(item.PerfumeOilID),
		Size:          size,
		Quantity:      qty,
	})
}

// sameReference follows the server's resolution order so the projection
// bumps the line the server will bump.
func sameReference(it Item, item AddItem) bool {
	switch {
	case item.AirAmbienceID > 0:
		return it.AirAmbienceID != nil && *it.AirAmbienceID == item.AirAmbienceID
	case item.PerfumeOilID > 0:
		return it.PerfumeOilID != nil && *it.PerfumeOilID == item.PerfumeOilID
	case item.DupeID > 0:
		return it.DupeID != nil && *it.DupeID == item.DupeID
	case item.ProductID > 0:
		return it.ProductID != nil && *it.ProductID == item.ProductID
	}
	return false
}

func nonZero(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

// reprice recomputes display totals with the server's pricing rules.
func reprice(c *Cart) {
	lines := make([]pricing.Line, 0, len(c.Items))
	count := 0
	for i := range c.Items {
		it := &c.Items[i]
		it.Subtotal = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		lines = append(lines, pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity})
		count += it.Quantity
	}

	var discount *pricing.Discount
	if c.Promo != nil {
		discount = &pricing.Discount{
			Type:  pricing.DiscountType(c.Promo.DiscountType),
			Value: c.Promo.DiscountValue,
		}
		if c.Promo.MaximumDiscount != nil {
			discount.Cap = decimal.NewNullDecimal(*c.Promo.MaximumDiscount)
		}
	}

	totals := pricing.Price(lines, discount)
	c.Subtotal = totals.Subtotal
	c.DiscountAmount = totals.DiscountAmount
	c.Total = totals.Total
	c.ItemCount = count
}
