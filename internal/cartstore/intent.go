package cartstore

import (
	"fmt"

	"storefront-cart/internal/domain"
)

// Intent is a request to change the cart or its visibility.
type Intent interface {
	// Name is the stable label used in logs and metrics.
	Name() string
}

type Refresh struct{}

type AddItem struct {
	ProductID          domain.ID
	VariantID          domain.ID
	Quantity           int // zero means one
	SelectedAttributes map[string]string
}

type UpdateItem struct {
	LineID   domain.ID
	Quantity int
}

type RemoveItem struct {
	LineID domain.ID
}

type ClearCart struct{}

// ApplyCoupon sends Code as given. Callers normalize it first
// (see cartview.NormalizeCouponCode).
type ApplyCoupon struct {
	Code string
}

type RemoveCoupon struct {
	CouponID domain.ID
}

type ToggleVisibility struct{}

func (Refresh) Name() string          { return "refresh" }
func (AddItem) Name() string          { return "add_item" }
func (UpdateItem) Name() string       { return "update_item" }
func (RemoveItem) Name() string       { return "remove_item" }
func (ClearCart) Name() string        { return "clear_cart" }
func (ApplyCoupon) Name() string      { return "apply_coupon" }
func (RemoveCoupon) Name() string     { return "remove_coupon" }
func (ToggleVisibility) Name() string { return "toggle_visibility" }

// validate rejects intents the remote service would reject anyway, before
// any network call is made.
func validate(in Intent) error {
	switch i := in.(type) {
	case AddItem:
		if i.ProductID.IsZero() {
			return fmt.Errorf("%w: product id is required", domain.ErrInvalidInput)
		}
		if i.Quantity < 0 {
			return domain.ErrInvalidQuantity
		}
	case UpdateItem:
		if i.LineID.IsZero() {
			return fmt.Errorf("%w: line id is required", domain.ErrInvalidInput)
		}
		if i.Quantity < 1 {
			return domain.ErrInvalidQuantity
		}
	case RemoveItem:
		if i.LineID.IsZero() {
			return fmt.Errorf("%w: line id is required", domain.ErrInvalidInput)
		}
	case ApplyCoupon:
		if i.Code == "" {
			return fmt.Errorf("%w: coupon code is required", domain.ErrInvalidInput)
		}
	case RemoveCoupon:
		if i.CouponID.IsZero() {
			return fmt.Errorf("%w: coupon id is required", domain.ErrInvalidInput)
		}
	case Refresh, ClearCart, ToggleVisibility:
	default:
		return fmt.Errorf("%w: unknown intent %T", domain.ErrInvalidInput, in)
	}
	return nil
}
