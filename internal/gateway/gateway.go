// Package gateway describes the remote cart service and provides an HTTP
// client for it plus an in-process reference implementation.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"storefront-cart/internal/domain"
)

// Operation names used in errors, logs and metrics.
const (
	OpFetchCart    = "fetch cart"
	OpAddItem      = "add item"
	OpUpdateItem   = "update item"
	OpRemoveItem   = "remove item"
	OpClearCart    = "clear cart"
	OpApplyCoupon  = "apply coupon"
	OpRemoveCoupon = "remove coupon"
)

// Gateway is the remote cart service. The visitor's session travels in the
// context (see WithSession). Implementations do not retry.
type Gateway interface {
	FetchCart(ctx context.Context) (domain.Cart, error)
	AddItem(ctx context.Context, req AddItemRequest) error
	UpdateItem(ctx context.Context, lineID domain.ID, quantity int) error
	RemoveItem(ctx context.Context, lineID domain.ID) error
	ClearCart(ctx context.Context) error
	ApplyCoupon(ctx context.Context, code string, cartID domain.ID) error
	RemoveCoupon(ctx context.Context, couponID, cartID domain.ID) error
}

// AddItemRequest is the payload of an add-item call.
type AddItemRequest struct {
	ProductID          domain.ID         `json:"productId"`
	ProductVariantID   domain.ID         `json:"productVariantId,omitempty"`
	Quantity           int               `json:"quantity"`
	SelectedAttributes map[string]string `json:"selectedAttributes,omitempty"`
}

// Failure is a logical failure reported by the service (success=false).
type Failure struct {
	Op      string
	Message string
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return f.Op + " failed"
	}
	return f.Message
}

// TransportError wraps network, status and decoding problems.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsFailure reports whether err is a logical failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// Message renders err as the human-readable text shown to visitors.
func Message(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Error()
	}
	var t *TransportError
	if errors.As(err, &t) {
		if errors.Is(t.Err, context.DeadlineExceeded) {
			return "the cart service took too long to respond"
		}
		return "could not reach the cart service"
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

type sessionKey struct{}

// WithSession attaches the visitor's session token to ctx.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFrom returns the session token attached to ctx.
func SessionFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionKey{}).(string)
	return v, ok && v != ""
}
