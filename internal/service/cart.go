package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/aroma/internal/cache"
	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

// CartServiceConfig carries the optional collaborators of the cart service.
// Zero values fall back to no cache, a private metrics registry, the default
// logger and DefaultCartTTL.
type CartServiceConfig struct {
	TTL     time.Duration
	Cache   cache.CartCache
	Metrics *telemetry.BusinessMetrics
	Logger  *slog.Logger
	Now     func() time.Time
}

type cartService struct {
	carts    domain.CartStore
	promos   domain.PromoStore
	items    *LineItemResolver
	identity *IdentityResolver

	metrics *telemetry.BusinessMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewCartService creates the cart aggregate service.
func NewCartService(carts domain.CartStore, promos domain.PromoStore, catalog domain.Catalog, cfg CartServiceConfig) domain.CartService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCartTTL
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewBusinessMetrics("", prometheus.NewRegistry())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &cartService{
		carts:  carts,
		promos: promos,
		items:  NewLineItemResolver(catalog),
		identity: &IdentityResolver{
			carts:   carts,
			cache:   cfg.Cache,
			ttl:     cfg.TTL,
			now:     cfg.Now,
			metrics: cfg.Metrics,
			logger:  cfg.Logger,
		},
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

func (s *cartService) Resolve(ctx context.Context, token string) (*domain.Cart, error) {
	cart, _, err := s.identity.Resolve(ctx, token)
	return cart, err
}

func (s *cartService) AddItem(ctx context.Context, token string, req domain.AddItemRequest) (*domain.Cart, error) {
	line, listing, err := s.items.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, token, "add", true, func(c *domain.Cart) error {
		if err := CheckStock(listing, c.QuantityOf(line.Reference, line.Size)+line.Quantity); err != nil {
			return err
		}
		return c.AddLine(line)
	})
}

func (s *cartService) UpdateQuantity(ctx context.Context, token string, itemID int64, quantity int) (*domain.Cart, error) {
	if quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}

	current, err := s.loadForStaleOp(ctx, token, "update")
	if err != nil {
		return nil, err
	}
	item, ok := current.Item(itemID)
	if !ok {
		s.metrics.CartResets.WithLabelValues("update").Inc()
		return nil, domain.ErrItemNotFound
	}
	listing, err := s.items.Listing(ctx, item.Reference)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, token, "update", false, func(c *domain.Cart) error {
		line, ok := c.Item(itemID)
		if !ok || line.Reference != listing.Reference {
			return domain.ErrItemNotFound
		}
		if err := CheckStock(listing, quantity); err != nil {
			return err
		}
		return c.SetQuantity(itemID, quantity, listing.UnitPrice)
	})
}

func (s *cartService) RemoveItem(ctx context.Context, token string, itemID int64) (*domain.Cart, error) {
	if token == "" {
		s.metrics.CartResets.WithLabelValues("remove").Inc()
		return nil, domain.ErrItemNotFound
	}
	return s.mutate(ctx, token, "remove", false, func(c *domain.Cart) error {
		return c.RemoveLine(itemID)
	})
}

// Clear deletes the cart behind token and returns a fresh one under a new
// token, so a client still holding the old token cannot resurrect it.
func (s *cartService) Clear(ctx context.Context, token string) (*domain.Cart, error) {
	if token != "" {
		if err := s.carts.DeleteCart(ctx, token); err != nil {
			return nil, fmt.Errorf("failed to delete cart: %w", err)
		}
		s.identity.forget(ctx, token)
	}

	cart, err := s.identity.Mint(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.CartCleared.Inc()
	return cart, nil
}

func (s *cartService) ApplyPromo(ctx context.Context, token string, code string) (*domain.Cart, error) {
	code = domain.NormalizePromoCode(code)
	if code == "" {
		return nil, domain.NewValidationError("cart.apply_promo", "code", "Promo code is required")
	}

	promo, err := s.promos.GetPromoByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrPromoNotFound) {
			s.metrics.PromoApplied.WithLabelValues("not_found").Inc()
			return nil, domain.ErrPromoNotFound
		}
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}

	cart, err := s.mutate(ctx, token, "apply_promo", true, func(c *domain.Cart) error {
		return c.ApplyPromo(promo, s.now())
	})
	switch {
	case err == nil:
		s.metrics.PromoApplied.WithLabelValues("applied").Inc()
	case errors.Is(err, domain.ErrPromoNotValid):
		s.metrics.PromoApplied.WithLabelValues("not_valid").Inc()
	case errors.Is(err, domain.ErrPromoBelowMinimum):
		s.metrics.PromoApplied.WithLabelValues("below_minimum").Inc()
	}
	return cart, err
}

func (s *cartService) RemovePromo(ctx context.Context, token string) (*domain.Cart, error) {
	return s.mutate(ctx, token, "remove_promo", true, func(c *domain.Cart) error {
		c.RemovePromo()
		return nil
	})
}

// mutate applies fn to the cart behind token inside the store's per-cart
// critical section. When the token no longer resolves, mintOnMiss decides
// between applying fn to a freshly minted cart and reporting a stale cart.
func (s *cartService) mutate(ctx context.Context, token, action string, mintOnMiss bool, fn func(*domain.Cart) error) (*domain.Cart, error) {
	var (
		cart *domain.Cart
		err  error = domain.ErrCartNotFound
	)

	// Any successful write restarts the idle TTL.
	touch := fn
	fn = func(c *domain.Cart) error {
		if err := touch(c); err != nil {
			return err
		}
		c.ExpiresAt = s.now().Add(s.identity.ttl)
		return nil
	}

	if token != "" {
		cart, err = s.carts.UpdateCart(ctx, token, fn)
	}

	if errors.Is(err, domain.ErrCartNotFound) {
		if !mintOnMiss {
			s.metrics.CartResets.WithLabelValues(action).Inc()
			return nil, domain.ErrItemNotFound
		}
		if token != "" {
			s.metrics.CartResets.WithLabelValues(action).Inc()
		}

		fresh, mintErr := s.identity.Mint(ctx)
		if mintErr != nil {
			return nil, mintErr
		}
		cart, err = s.carts.UpdateCart(ctx, fresh.Token, fn)
	}
	if err != nil {
		var de *domain.Error
		var ve *domain.ValidationError
		if errors.As(err, &de) || errors.As(err, &ve) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update cart: %w", err)
	}

	s.identity.remember(ctx, cart)
	s.metrics.CartUpdated.WithLabelValues(action).Inc()
	s.metrics.CartValue.Observe(cart.Total.InexactFloat64())
	s.logger.DebugContext(ctx, "cart updated",
		"action", action,
		"cart_id", cart.ID,
		"version", cart.Version,
		"items", cart.ItemCount(),
		"total", cart.Total.StringFixed(2),
	)
	return cart, nil
}

// loadForStaleOp loads the cart for an operation on an existing line. A dead
// token means the client's view is stale.
func (s *cartService) loadForStaleOp(ctx context.Context, token, action string) (*domain.Cart, error) {
	if token == "" {
		s.metrics.CartResets.WithLabelValues(action).Inc()
		return nil, domain.ErrItemNotFound
	}
	cart, err := s.identity.Load(ctx, token)
	if errors.Is(err, domain.ErrCartNotFound) {
		s.metrics.CartResets.WithLabelValues(action).Inc()
		return nil, domain.ErrItemNotFound
	}
	return cart, err
}
