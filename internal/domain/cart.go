package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when the remote cart does not report one.
const DefaultCurrency = "INR"

// Cart is the client-side snapshot of the visitor's cart. All totals are
// server-derived; ItemCount is recomputed from Items on every snapshot.
type Cart struct {
	ID             ID              `json:"id"`
	Items          []CartLine      `json:"items"`
	ItemCount      int             `json:"itemCount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Currency       string          `json:"currency"`
	AppliedCoupons []AppliedCoupon `json:"appliedCoupons"`
}

// CartLine is one line item. Presentation fields are projections supplied
// by the server and are never computed locally.
type CartLine struct {
	ID                 ID                `json:"id"`
	ProductID          ID                `json:"productId"`
	ProductVariantID   ID                `json:"productVariantId,omitempty"`
	Quantity           int               `json:"quantity"`
	SelectedAttributes map[string]string `json:"selectedAttributes,omitempty"`
	ProductTitle       string            `json:"productTitle,omitempty"`
	ProductSlug        string            `json:"productSlug,omitempty"`
	ImageURL           string            `json:"imageUrl,omitempty"`
	UnitPrice          decimal.Decimal   `json:"unitPrice"`
	LineTotal          decimal.Decimal   `json:"lineTotal"`
}

// AppliedCoupon is a coupon currently active on the cart.
type AppliedCoupon struct {
	ID             ID              `json:"id"`
	Code           string          `json:"code"`
	Type           string          `json:"type"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

// LineKey identifies a line for membership tests: product plus optional
// variant, independent of the remote line id.
type LineKey struct {
	ProductID ID
	VariantID ID
}

// Key returns the membership key of the line.
func (l CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, VariantID: l.ProductVariantID}
}

// EmptyCart returns the default shape shown before the first sync.
func EmptyCart() Cart {
	return Cart{
		Items:          []CartLine{},
		Currency:       DefaultCurrency,
		AppliedCoupons: []AppliedCoupon{},
	}
}

// CountItems sums line quantities.
func CountItems(lines []CartLine) int {
	total := 0
	for _, line := range lines {
		total += line.Quantity
	}
	return total
}

// Normalized returns a deep copy with ItemCount recomputed from Items and
// empty collections and currency filled with defaults.
func (c Cart) Normalized() Cart {
	out := c.Clone()
	out.ItemCount = CountItems(out.Items)
	if strings.TrimSpace(out.Currency) == "" {
		out.Currency = DefaultCurrency
	}
	return out
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	out := c
	out.Items = make([]CartLine, len(c.Items))
	for i, line := range c.Items {
		out.Items[i] = line.clone()
	}
	out.AppliedCoupons = make([]AppliedCoupon, len(c.AppliedCoupons))
	copy(out.AppliedCoupons, c.AppliedCoupons)
	return out
}

func (l CartLine) clone() CartLine {
	out := l
	if l.SelectedAttributes != nil {
		out.SelectedAttributes = make(map[string]string, len(l.SelectedAttributes))
		for k, v := range l.SelectedAttributes {
			out.SelectedAttributes[k] = v
		}
	}
	return out
}
