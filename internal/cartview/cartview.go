// Package cartview holds the read-only projections the storefront derives
// from a cart snapshot.
package cartview

import (
	"strings"

	"github.com/shopspring/decimal"
	"storefront-cart/internal/domain"
)

// SummaryItemLimit caps the lines carried by a Summary.
const SummaryItemLimit = 3

// Summary is the compact projection used by badges and previews.
type Summary struct {
	ItemCount   int               `json:"itemCount"`
	TotalAmount decimal.Decimal   `json:"totalAmount"`
	Items       []domain.CartLine `json:"items"`
}

// Clone returns a copy that shares nothing with s.
func (s Summary) Clone() Summary {
	out := s
	out.Items = domain.Cart{Items: s.Items}.Clone().Items
	return out
}

// Summarize projects cart into a Summary with at most SummaryItemLimit lines.
func Summarize(cart domain.Cart) Summary {
	n := len(cart.Items)
	if n > SummaryItemLimit {
		n = SummaryItemLimit
	}
	return Summary{
		ItemCount:   domain.CountItems(cart.Items),
		TotalAmount: cart.TotalAmount,
		Items:       domain.Cart{Items: cart.Items[:n]}.Clone().Items,
	}
}

// Line returns the line matching productID and variantID. An empty
// variantID only matches lines without a variant.
func Line(cart domain.Cart, productID, variantID domain.ID) (domain.CartLine, bool) {
	key := domain.LineKey{ProductID: productID, VariantID: variantID}
	for _, line := range cart.Items {
		if line.Key() == key {
			return line, true
		}
	}
	return domain.CartLine{}, false
}

// IsInCart reports whether a line for the product and variant exists.
func IsInCart(cart domain.Cart, productID, variantID domain.ID) bool {
	_, ok := Line(cart, productID, variantID)
	return ok
}

// ItemQuantity returns the quantity of the matching line, or 0.
func ItemQuantity(cart domain.Cart, productID, variantID domain.ID) int {
	line, ok := Line(cart, productID, variantID)
	if !ok {
		return 0
	}
	return line.Quantity
}

// CartItemID returns the remote line id of the matching line.
func CartItemID(cart domain.Cart, productID, variantID domain.ID) (domain.ID, bool) {
	line, ok := Line(cart, productID, variantID)
	if !ok {
		return "", false
	}
	return line.ID, true
}

// NormalizeCouponCode trims and uppercases a code typed by a visitor.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Decrement is what a "minus" button should do to a line.
type Decrement struct {
	LineID   domain.ID
	Remove   bool
	Quantity int
}

// DecrementIntent decides how to decrement a line currently at quantity:
// a line at one (or below) is removed, anything else is updated to quantity-1.
func DecrementIntent(lineID domain.ID, quantity int) Decrement {
	if quantity <= 1 {
		return Decrement{LineID: lineID, Remove: true}
	}
	return Decrement{LineID: lineID, Quantity: quantity - 1}
}
