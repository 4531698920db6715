package cartstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"storefront-cart/internal/cartview"
	"storefront-cart/internal/domain"
	"storefront-cart/internal/gateway"
	"storefront-cart/internal/logging"
	"storefront-cart/internal/metrics"
)

// SessionResolver yields the visitor's session token.
type SessionResolver interface {
	ResolveSessionID(ctx context.Context) string
}

// Listener is called with a private copy of the state after every change.
type Listener func(State)

// Option configures a Store.
type Option func(*Store)

// WithSessionResolver sets where Init gets the visitor's session token.
func WithSessionResolver(r SessionResolver) Option {
	return func(s *Store) { s.sessions = r }
}

// WithLogger sets the store logger. nil keeps the discarding default.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records intent outcomes and resync latency on m.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithResyncOnClear makes ClearCart fetch the cart afterwards like every
// other mutation instead of emptying the snapshot locally.
func WithResyncOnClear(enabled bool) Option {
	return func(s *Store) { s.resyncOnClear = enabled }
}

// Store owns one visitor's cart snapshot. Intents are not queued: concurrent
// dispatches run independently and state changes are applied in completion
// order, so the resync that finishes last wins.
type Store struct {
	gw            gateway.Gateway
	sessions      SessionResolver
	logger        *logrus.Entry
	metrics       *metrics.CartMetrics
	resyncOnClear bool
	now           func() time.Time

	mu        sync.Mutex
	state     State
	closed    bool
	listeners map[uint64]Listener
	nextID    uint64

	// notifyMu keeps listener calls in transition order. It is always taken
	// before mu, never while holding it.
	notifyMu sync.Mutex
}

// New returns an idle store backed by gw. Call Init before use.
func New(gw gateway.Gateway, opts ...Option) *Store {
	s := &Store{
		gw:        gw,
		logger:    logging.Discard(),
		now:       time.Now,
		state:     InitialState(),
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init binds the store to the visitor session and loads the cart. A failed
// load leaves the empty cart visible in the error state.
func (s *Store) Init(ctx context.Context) error {
	if s.sessions != nil {
		id := s.sessions.ResolveSessionID(ctx)
		if _, ok := s.apply(SessionResolved{SessionID: id}); !ok {
			return domain.ErrStoreClosed
		}
	}
	return s.Dispatch(ctx, Refresh{})
}

// Dispatch runs one intent to completion. The returned error is also
// reflected in the state as StatusError with a readable message.
func (s *Store) Dispatch(ctx context.Context, in Intent) error {
	current, ok := s.snapshot()
	if !ok {
		return domain.ErrStoreClosed
	}
	log := s.logger.WithField("intent", in.Name())
	log.Debug("dispatch")

	if _, ok := in.(ToggleVisibility); ok {
		if _, ok := s.apply(Toggled{}); !ok {
			return domain.ErrStoreClosed
		}
		s.metrics.ObserveIntent(in.Name(), metrics.OutcomeSuccess)
		return nil
	}

	if err := validate(in); err != nil {
		if _, ok := s.apply(Failed{Message: err.Error()}); !ok {
			return domain.ErrStoreClosed
		}
		s.metrics.ObserveIntent(in.Name(), metrics.OutcomeInvalid)
		log.WithError(err).Debug("intent rejected")
		return err
	}

	if current.SessionID != "" {
		ctx = gateway.WithSession(ctx, current.SessionID)
	}
	if _, ok := s.apply(Started{}); !ok {
		return domain.ErrStoreClosed
	}

	if err := s.mutate(ctx, in, current.Cart.ID); err != nil {
		return s.fail(log, in, err)
	}

	if _, ok := in.(ClearCart); ok && !s.resyncOnClear {
		if _, ok := s.apply(Cleared{}); !ok {
			s.dropped(log, in)
			return nil
		}
		s.metrics.ObserveIntent(in.Name(), metrics.OutcomeSuccess)
		return nil
	}

	started := s.now()
	cart, err := s.gw.FetchCart(ctx)
	s.metrics.ObserveResync(s.now().Sub(started))
	if err != nil {
		return s.fail(log, in, err)
	}
	if _, ok := s.apply(Synced{Cart: cart}); !ok {
		s.dropped(log, in)
		return nil
	}
	s.metrics.ObserveIntent(in.Name(), metrics.OutcomeSuccess)
	return nil
}

func (s *Store) mutate(ctx context.Context, in Intent, cartID domain.ID) error {
	switch i := in.(type) {
	case Refresh:
		return nil
	case AddItem:
		qty := i.Quantity
		if qty == 0 {
			qty = 1
		}
		return s.gw.AddItem(ctx, gateway.AddItemRequest{
			ProductID:          i.ProductID,
			ProductVariantID:   i.VariantID,
			Quantity:           qty,
			SelectedAttributes: i.SelectedAttributes,
		})
	case UpdateItem:
		return s.gw.UpdateItem(ctx, i.LineID, i.Quantity)
	case RemoveItem:
		return s.gw.RemoveItem(ctx, i.LineID)
	case ClearCart:
		return s.gw.ClearCart(ctx)
	case ApplyCoupon:
		return s.gw.ApplyCoupon(ctx, i.Code, cartID)
	case RemoveCoupon:
		return s.gw.RemoveCoupon(ctx, i.CouponID, cartID)
	}
	return nil
}

func (s *Store) fail(log *logrus.Entry, in Intent, err error) error {
	outcome := metrics.OutcomeFailure
	if gateway.IsTransport(err) {
		outcome = metrics.OutcomeTransport
	}
	if _, ok := s.apply(Failed{Message: gateway.Message(err)}); !ok {
		s.dropped(log, in)
		return err
	}
	s.metrics.ObserveIntent(in.Name(), outcome)
	log.WithError(err).Warn("cart intent failed")
	return err
}

func (s *Store) dropped(log *logrus.Entry, in Intent) {
	s.metrics.ObserveIntent(in.Name(), metrics.OutcomeDropped)
	log.Debug("store closed, dropping late completion")
}

// apply runs e through Transition and notifies listeners. It reports false
// once the store is closed.
func (s *Store) apply(e Event) (State, bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return State{}, false
	}
	s.state = Transition(s.state, e)
	next := s.state
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(next.Clone())
	}
	return next, true
}

func (s *Store) snapshot() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, !s.closed
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Cart returns a copy of the current snapshot.
func (s *Store) Cart() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Cart.Clone()
}

// Facade returns the query facade bound to this store.
func (s *Store) Facade() cartview.Facade {
	return cartview.NewFacade(s)
}

// Subscribe registers l for every subsequent state change. Listeners run on
// the dispatching goroutine and may read the store or unsubscribe, but must
// not dispatch synchronously.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Close detaches all listeners. Completions arriving afterwards are dropped
// and further dispatches return domain.ErrStoreClosed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.listeners = nil
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Refresh reloads the cart from the server.
func (s *Store) Refresh(ctx context.Context) error {
	return s.Dispatch(ctx, Refresh{})
}

// AddItem adds quantity units of a product variant. Zero means one.
func (s *Store) AddItem(ctx context.Context, productID, variantID domain.ID, quantity int, attrs map[string]string) error {
	return s.Dispatch(ctx, AddItem{ProductID: productID, VariantID: variantID, Quantity: quantity, SelectedAttributes: attrs})
}

// UpdateItemQuantity sets a line's quantity, which must be at least one.
func (s *Store) UpdateItemQuantity(ctx context.Context, lineID domain.ID, quantity int) error {
	return s.Dispatch(ctx, UpdateItem{LineID: lineID, Quantity: quantity})
}

// RemoveItem deletes a line.
func (s *Store) RemoveItem(ctx context.Context, lineID domain.ID) error {
	return s.Dispatch(ctx, RemoveItem{LineID: lineID})
}

// ClearCart empties the cart.
func (s *Store) ClearCart(ctx context.Context) error {
	return s.Dispatch(ctx, ClearCart{})
}

// ApplyCoupon applies code to the current cart as given.
func (s *Store) ApplyCoupon(ctx context.Context, code string) error {
	return s.Dispatch(ctx, ApplyCoupon{Code: code})
}

// RemoveCoupon removes an applied coupon from the current cart.
func (s *Store) RemoveCoupon(ctx context.Context, couponID domain.ID) error {
	return s.Dispatch(ctx, RemoveCoupon{CouponID: couponID})
}

// ToggleCart flips cart visibility without touching the server.
func (s *Store) ToggleCart(ctx context.Context) error {
	return s.Dispatch(ctx, ToggleVisibility{})
}

// IsValidation reports whether err came from local validation rather than
// the cart service.
func IsValidation(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrInvalidQuantity)
}
