// Package memory is an in-process implementation of the storage interfaces
// in internal/domain. It backs unit tests and the storeless dev server.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/google/uuid"
)

// Store holds carts, promos, the catalog, payment sessions, orders and the
// outbox in maps guarded by one mutex. Cart writes additionally take a
// per-token lock so UpdateCart callbacks for one cart never interleave.
type Store struct {
	mu sync.Mutex

	carts     map[string]*domain.Cart
	cartLocks map[string]*sync.Mutex
	nextLine  int64

	promos  map[string]*domain.PromoCode
	catalog map[domain.ProductReference]domain.CatalogListing

	sessions       map[string]*domain.PaymentSession
	orders         map[string]*domain.Order
	orderNumbers   map[string]string
	outbox         []domain.OutboxEvent
	outboxSentByID map[uuid.UUID]time.Time

	now func() time.Time
}

var (
	_ domain.CartStore           = (*Store)(nil)
	_ domain.PromoStore          = (*Store)(nil)
	_ domain.Catalog             = (*Store)(nil)
	_ domain.PaymentSessionStore = (*Store)(nil)
	_ domain.OrderStore          = (*Store)(nil)
	_ domain.OutboxStore         = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		carts:          make(map[string]*domain.Cart),
		cartLocks:      make(map[string]*sync.Mutex),
		promos:         make(map[string]*domain.PromoCode),
		catalog:        make(map[domain.ProductReference]domain.CatalogListing),
		sessions:       make(map[string]*domain.PaymentSession),
		orders:         make(map[string]*domain.Order),
		orderNumbers:   make(map[string]string),
		outboxSentByID: make(map[uuid.UUID]time.Time),
		now:            time.Now,
	}
}

// SetClock replaces the store's clock. Used by tests that exercise expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// =============================================================================
// Carts
// =============================================================================

func (s *Store) CreateCart(ctx context.Context, cart *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.carts[cart.Token]; ok {
		return domain.Conflict("memory.create_cart", "cart token already exists")
	}
	s.carts[cart.Token] = cart.Clone()
	return nil
}

func (s *Store) GetCart(ctx context.Context, token string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.liveCart(token)
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return s.withCurrentPromo(cart), nil
}

// UpdateCart serializes on the cart's token lock, then applies fn to a copy
// and commits it only if fn succeeds.
func (s *Store) UpdateCart(ctx context.Context, token string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	lock := s.cartLock(token)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	current, ok := s.liveCart(token)
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrCartNotFound
	}
	working := s.withCurrentPromo(current)
	s.mu.Unlock()

	if err := fn(working); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range working.Items {
		if working.Items[i].ID == 0 {
			s.nextLine++
			working.Items[i].ID = s.nextLine
		}
	}
	working.Reprice()
	working.Version = current.Version + 1
	working.UpdatedAt = s.now()
	s.carts[token] = working.Clone()
	return working, nil
}

// DeleteCart waits for any in-flight UpdateCart on token, so a delete is
// never overwritten by a write that loaded the cart before it.
func (s *Store) DeleteCart(ctx context.Context, token string) error {
	lock := s.cartLock(token)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, token)
	delete(s.cartLocks, token)
	return nil
}

func (s *Store) DeleteExpiredCarts(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for token, cart := range s.carts {
		if cart.ExpiresAt.Before(before) {
			delete(s.carts, token)
			delete(s.cartLocks, token)
			n++
		}
	}
	return n, nil
}

func (s *Store) liveCart(token string) (*domain.Cart, bool) {
	cart, ok := s.carts[token]
	if !ok || !cart.ExpiresAt.After(s.now()) {
		return nil, false
	}
	return cart, true
}

func (s *Store) cartLock(token string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.cartLocks[token]
	if !ok {
		lock = &sync.Mutex{}
		s.cartLocks[token] = lock
	}
	return lock
}

// withCurrentPromo returns a copy of cart whose promo reflects the stored
// code rather than the copy taken when it was applied. Carts reference
// promos; they never own them.
func (s *Store) withCurrentPromo(cart *domain.Cart) *domain.Cart {
	out := cart.Clone()
	if out.Promo != nil {
		if promo, ok := s.promos[out.Promo.Code]; ok {
			p := *promo
			out.Promo = &p
			out.Reprice()
		}
	}
	return out
}

// =============================================================================
// Promos and catalog
// =============================================================================

// PutPromo stores or replaces a promo code.
func (s *Store) PutPromo(promo domain.PromoCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promo.Code = domain.NormalizePromoCode(promo.Code)
	if promo.ID == uuid.Nil {
		promo.ID = uuid.New()
	}
	s.promos[promo.Code] = &promo
}

func (s *Store) GetPromoByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promo, ok := s.promos[domain.NormalizePromoCode(code)]
	if !ok {
		return nil, domain.ErrPromoNotFound
	}
	p := *promo
	return &p, nil
}

// PutListing stores or replaces a catalog listing.
func (s *Store) PutListing(listing domain.CatalogListing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[listing.Reference] = listing
}

func (s *Store) Lookup(ctx context.Context, ref domain.ProductReference) (*domain.CatalogListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, ok := s.catalog[ref]
	if !ok {
		return nil, domain.ErrInvalidReference
	}
	return &listing, nil
}

// =============================================================================
// Payment sessions
// =============================================================================

func (s *Store) CreatePaymentSession(ctx context.Context, session *domain.PaymentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.Reference]; ok {
		return domain.Conflict("memory.create_payment_session", "payment reference already registered")
	}
	cp := *session
	if cp.State == "" {
		cp.State = domain.SettlementInitiated
	}
	s.sessions[session.Reference] = &cp
	return nil
}

func (s *Store) GetPaymentSession(ctx context.Context, reference string) (*domain.PaymentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[reference]
	if !ok {
		return nil, domain.ErrPaymentSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *Store) UpdateSettlementState(ctx context.Context, reference string, state domain.SettlementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[reference]
	if !ok {
		return domain.ErrPaymentSessionNotFound
	}
	if session.State.Terminal() {
		return nil
	}
	session.State = state
	session.UpdatedAt = s.now()
	return nil
}

// =============================================================================
// Orders and outbox
// =============================================================================

func (s *Store) GetOrderByPaymentReference(ctx context.Context, reference string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[reference]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.orderNumbers[orderNumber]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(s.orders[ref]), nil
}

// CreateOrder is check-and-insert under the store mutex, so concurrent calls
// for one payment reference produce exactly one order.
func (s *Store) CreateOrder(ctx context.Context, order *domain.Order, event *domain.OutboxEvent) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[order.PaymentReference]; ok {
		return copyOrder(existing), false, nil
	}

	stored := copyOrder(order)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.orders[stored.PaymentReference] = stored
	s.orderNumbers[stored.OrderNumber] = stored.PaymentReference

	if session, ok := s.sessions[stored.PaymentReference]; ok {
		session.State = domain.SettlementSettled
		session.UpdatedAt = s.now()
	}
	if stored.PromoCode != "" {
		if promo, ok := s.promos[domain.NormalizePromoCode(stored.PromoCode)]; ok {
			promo.TimesUsed++
		}
	}
	if event != nil {
		ev := *event
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = s.now()
		}
		s.outbox = append(s.outbox, ev)
	}

	return copyOrder(stored), true, nil
}

func (s *Store) FetchPendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []domain.OutboxEvent
	for _, ev := range s.outbox {
		if _, sent := s.outboxSentByID[ev.ID]; sent {
			continue
		}
		pending = append(pending, ev)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) MarkEventSent(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outboxSentByID[id] = s.now()
	return nil
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp
}
