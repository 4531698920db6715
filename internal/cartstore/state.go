// Package cartstore keeps the visitor's cart snapshot in sync with the
// remote cart service. Every mutation runs mutate-then-resync: the gateway
// call is made, then the full cart is fetched and replaces the snapshot.
package cartstore

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"storefront-cart/internal/cartview"
	"storefront-cart/internal/domain"
)

// Status is the phase the store is in.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// State is everything a subscriber sees. Cart is always the last good
// snapshot (or the empty shape) even while loading or in error.
type State struct {
	Status    Status           `json:"status"`
	Cart      domain.Cart      `json:"cart"`
	Summary   cartview.Summary `json:"summary"`
	Error     string           `json:"error,omitempty"`
	IsOpen    bool             `json:"isOpen"`
	Version   uint64           `json:"version"`
	SessionID string           `json:"-"`
}

// InitialState is the idle state with an empty cart.
func InitialState() State {
	cart := domain.EmptyCart()
	return State{
		Status:  StatusIdle,
		Cart:    cart,
		Summary: cartview.Summarize(cart),
	}
}

// Clone returns a copy that shares nothing with s.
func (s State) Clone() State {
	out := s
	out.Cart = s.Cart.Clone()
	out.Summary = s.Summary.Clone()
	return out
}

// Event is a fact the store applies through Transition.
type Event interface {
	isEvent()
}

// Started marks a remote call in flight.
type Started struct{}

// Synced carries a freshly fetched cart that replaces the snapshot.
type Synced struct {
	Cart domain.Cart
}

// Failed records a failed intent. The snapshot is kept.
type Failed struct {
	Message string
}

// Cleared empties the cart locally after a successful clear.
type Cleared struct{}

// Toggled flips cart visibility.
type Toggled struct{}

// SessionResolved binds the store to a visitor session.
type SessionResolved struct {
	SessionID string
}

func (Started) isEvent()         {}
func (Synced) isEvent()          {}
func (Failed) isEvent()          {}
func (Cleared) isEvent()         {}
func (Toggled) isEvent()         {}
func (SessionResolved) isEvent() {}

// Transition applies e to s. It performs no I/O and never mutates s; every
// event bumps Version.
func Transition(s State, e Event) State {
	next := s
	switch ev := e.(type) {
	case Started:
		next.Status = StatusLoading
	case Synced:
		next.Cart = ev.Cart.Normalized()
		next.Summary = cartview.Summarize(next.Cart)
		next.Status = StatusReady
		next.Error = ""
	case Failed:
		next.Status = StatusError
		next.Error = ev.Message
	case Cleared:
		cart := s.Cart.Clone()
		cart.Items = []domain.CartLine{}
		cart.ItemCount = 0
		cart.TotalAmount = decimal.Zero
		next.Cart = cart
		next.Summary = cartview.Summarize(cart)
		next.Status = StatusReady
		next.Error = ""
	case Toggled:
		next.IsOpen = !s.IsOpen
	case SessionResolved:
		next.SessionID = ev.SessionID
	default:
		return s
	}
	next.Version = s.Version + 1
	return next
}
