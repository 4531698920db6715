package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"storefront-cart/internal/domain"
)

// Coupon types understood by Memory.
const (
	CouponPercentage = "percentage"
	CouponFixed      = "fixed"
)

// CatalogItem is a sellable product known to Memory.
type CatalogItem struct {
	Title    string
	Slug     string
	ImageURL string
	Price    decimal.Decimal
	// VariantPrices overrides Price for specific variants.
	VariantPrices map[domain.ID]decimal.Decimal
}

// CouponRule is a coupon known to Memory.
type CouponRule struct {
	Type  string
	Value decimal.Decimal
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithCatalog replaces the product catalog.
func WithCatalog(items map[domain.ID]CatalogItem) MemoryOption {
	return func(m *Memory) { m.catalog = items }
}

// WithCoupons replaces the coupon table. Codes are matched case-sensitively.
func WithCoupons(rules map[string]CouponRule) MemoryOption {
	return func(m *Memory) { m.coupons = rules }
}

// WithTaxRate sets the tax applied to the discounted subtotal.
func WithTaxRate(rate decimal.Decimal) MemoryOption {
	return func(m *Memory) { m.taxRate = rate }
}

// WithCurrency sets the currency reported on carts.
func WithCurrency(code string) MemoryOption {
	return func(m *Memory) { m.currency = code }
}

// Hook runs before every Memory operation. A non-nil error aborts the
// operation and is returned as is.
type Hook func(ctx context.Context, op string) error

// Memory is an in-process cart service. Carts are keyed by the session in
// the context; totals are computed the way the remote service does it.
type Memory struct {
	mu       sync.Mutex
	carts    map[string]*memoryCart
	catalog  map[domain.ID]CatalogItem
	coupons  map[string]CouponRule
	taxRate  decimal.Decimal
	currency string
	hook     Hook
	calls    map[string]int
	seq      int
}

type memoryCart struct {
	id      domain.ID
	lines   []domain.CartLine
	coupons []domain.AppliedCoupon
}

// NewMemory returns an empty service with the demo catalog.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		carts:    make(map[string]*memoryCart),
		catalog:  DemoCatalog(),
		coupons:  DemoCoupons(),
		taxRate:  decimal.RequireFromString("0.18"),
		currency: domain.DefaultCurrency,
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DemoCatalog is a small refurbished-electronics catalog.
func DemoCatalog() map[domain.ID]CatalogItem {
	return map[domain.ID]CatalogItem{
		"p-iphone-13": {
			Title: "iPhone 13 (Refurbished)", Slug: "iphone-13-refurbished",
			ImageURL: "/images/iphone-13.jpg", Price: decimal.RequireFromString("38999.00"),
			VariantPrices: map[domain.ID]decimal.Decimal{
				"v-128gb": decimal.RequireFromString("38999.00"),
				"v-256gb": decimal.RequireFromString("44999.00"),
			},
		},
		"p-thinkpad-t480": {
			Title: "ThinkPad T480 (Refurbished)", Slug: "thinkpad-t480-refurbished",
			ImageURL: "/images/thinkpad-t480.jpg", Price: decimal.RequireFromString("24500.00"),
		},
		"p-airpods-pro": {
			Title: "AirPods Pro (Refurbished)", Slug: "airpods-pro-refurbished",
			ImageURL: "/images/airpods-pro.jpg", Price: decimal.RequireFromString("11999.00"),
		},
		"p-usb-c-charger": {
			Title: "USB-C 20W Charger", Slug: "usb-c-20w-charger",
			ImageURL: "/images/usb-c-charger.jpg", Price: decimal.RequireFromString("899.00"),
		},
	}
}

// DemoCoupons returns the coupons the demo catalog sells with.
func DemoCoupons() map[string]CouponRule {
	return map[string]CouponRule{
		"SAVE10":   {Type: CouponPercentage, Value: decimal.NewFromInt(10)},
		"FLAT500":  {Type: CouponFixed, Value: decimal.NewFromInt(500)},
		"WELCOME5": {Type: CouponPercentage, Value: decimal.NewFromInt(5)},
	}
}

// SetHook installs h for all subsequent operations. nil removes it.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// Calls reports how many times op was invoked, including failed calls.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter counts the call and runs the hook outside the lock so hooks may block.
func (m *Memory) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	h := m.hook
	m.mu.Unlock()
	if h != nil {
		if err := h(ctx, op); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

func (m *Memory) FetchCart(ctx context.Context) (domain.Cart, error) {
	if err := m.enter(ctx, OpFetchCart); err != nil {
		return domain.Cart{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.render(m.cartFor(ctx)), nil
}

func (m *Memory) AddItem(ctx context.Context, req AddItemRequest) error {
	if err := m.enter(ctx, OpAddItem); err != nil {
		return err
	}
	if req.Quantity < 1 {
		return &Failure{Op: OpAddItem, Message: "quantity must be at least 1"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.catalog[req.ProductID]
	if !ok {
		return &Failure{Op: OpAddItem, Message: "product not found"}
	}
	if !req.ProductVariantID.IsZero() && item.VariantPrices != nil {
		if _, ok := item.VariantPrices[req.ProductVariantID]; !ok {
			return &Failure{Op: OpAddItem, Message: "product variant not found"}
		}
	}

	cart := m.cartFor(ctx)
	key := domain.LineKey{ProductID: req.ProductID, VariantID: req.ProductVariantID}
	for i := range cart.lines {
		if cart.lines[i].Key() == key {
			cart.lines[i].Quantity += req.Quantity
			return nil
		}
	}
	m.seq++
	line := domain.CartLine{
		ID:               domain.ID(fmt.Sprintf("line-%d", m.seq)),
		ProductID:        req.ProductID,
		ProductVariantID: req.ProductVariantID,
		Quantity:         req.Quantity,
		ProductTitle:     item.Title,
		ProductSlug:      item.Slug,
		ImageURL:         item.ImageURL,
		UnitPrice:        priceOf(item, req.ProductVariantID),
	}
	if len(req.SelectedAttributes) > 0 {
		line.SelectedAttributes = make(map[string]string, len(req.SelectedAttributes))
		for k, v := range req.SelectedAttributes {
			line.SelectedAttributes[k] = v
		}
	}
	cart.lines = append(cart.lines, line)
	return nil
}

func (m *Memory) UpdateItem(ctx context.Context, lineID domain.ID, quantity int) error {
	if err := m.enter(ctx, OpUpdateItem); err != nil {
		return err
	}
	if quantity < 1 {
		return &Failure{Op: OpUpdateItem, Message: "quantity must be at least 1"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := m.cartFor(ctx)
	for i := range cart.lines {
		if cart.lines[i].ID == lineID {
			cart.lines[i].Quantity = quantity
			return nil
		}
	}
	return &Failure{Op: OpUpdateItem, Message: "cart item not found"}
}

func (m *Memory) RemoveItem(ctx context.Context, lineID domain.ID) error {
	if err := m.enter(ctx, OpRemoveItem); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := m.cartFor(ctx)
	for i := range cart.lines {
		if cart.lines[i].ID == lineID {
			cart.lines = append(cart.lines[:i], cart.lines[i+1:]...)
			return nil
		}
	}
	return &Failure{Op: OpRemoveItem, Message: "cart item not found"}
}

func (m *Memory) ClearCart(ctx context.Context) error {
	if err := m.enter(ctx, OpClearCart); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := m.cartFor(ctx)
	cart.lines = nil
	cart.coupons = nil
	return nil
}

func (m *Memory) ApplyCoupon(ctx context.Context, code string, cartID domain.ID) error {
	if err := m.enter(ctx, OpApplyCoupon); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := m.cartFor(ctx)
	if !cartID.IsZero() && cartID != cart.id {
		return &Failure{Op: OpApplyCoupon, Message: "cart not found"}
	}
	rule, ok := m.coupons[code]
	if !ok {
		return &Failure{Op: OpApplyCoupon, Message: "invalid coupon code"}
	}
	if len(cart.lines) == 0 {
		return &Failure{Op: OpApplyCoupon, Message: "cannot apply a coupon to an empty cart"}
	}
	for _, c := range cart.coupons {
		if c.Code == code {
			return &Failure{Op: OpApplyCoupon, Message: "coupon already applied"}
		}
	}
	m.seq++
	cart.coupons = append(cart.coupons, domain.AppliedCoupon{
		ID:   domain.ID(fmt.Sprintf("coupon-%d", m.seq)),
		Code: code,
		Type: rule.Type,
	})
	return nil
}

func (m *Memory) RemoveCoupon(ctx context.Context, couponID, cartID domain.ID) error {
	if err := m.enter(ctx, OpRemoveCoupon); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := m.cartFor(ctx)
	if !cartID.IsZero() && cartID != cart.id {
		return &Failure{Op: OpRemoveCoupon, Message: "cart not found"}
	}
	for i, c := range cart.coupons {
		if c.ID == couponID {
			cart.coupons = append(cart.coupons[:i], cart.coupons[i+1:]...)
			return nil
		}
	}
	return &Failure{Op: OpRemoveCoupon, Message: "coupon not applied"}
}

// cartFor returns the session's cart, creating it on first use. m.mu must be held.
func (m *Memory) cartFor(ctx context.Context) *memoryCart {
	sid, _ := SessionFrom(ctx)
	cart, ok := m.carts[sid]
	if !ok {
		m.seq++
		cart = &memoryCart{id: domain.ID(fmt.Sprintf("cart-%d", m.seq))}
		m.carts[sid] = cart
	}
	return cart
}

// render prices the cart. m.mu must be held.
func (m *Memory) render(cart *memoryCart) domain.Cart {
	out := domain.Cart{
		ID:             cart.id,
		Items:          make([]domain.CartLine, 0, len(cart.lines)),
		Currency:       m.currency,
		AppliedCoupons: make([]domain.AppliedCoupon, 0, len(cart.coupons)),
	}
	subtotal := decimal.Zero
	for _, line := range cart.lines {
		l := line
		l.LineTotal = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		subtotal = subtotal.Add(l.LineTotal)
		out.Items = append(out.Items, l)
	}

	discount := decimal.Zero
	for _, c := range cart.coupons {
		rule := m.coupons[c.Code]
		var amount decimal.Decimal
		switch strings.ToLower(rule.Type) {
		case CouponPercentage:
			amount = subtotal.Mul(rule.Value).Div(decimal.NewFromInt(100)).Round(2)
		default:
			amount = rule.Value
		}
		remaining := subtotal.Sub(discount)
		if amount.GreaterThan(remaining) {
			amount = remaining
		}
		discount = discount.Add(amount)
		c.DiscountAmount = amount
		out.AppliedCoupons = append(out.AppliedCoupons, c)
	}

	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(m.taxRate).Round(2)
	out.Subtotal = subtotal
	out.DiscountAmount = discount
	out.TaxAmount = tax
	out.TotalAmount = taxable.Add(tax)
	out.ItemCount = domain.CountItems(out.Items)
	return out.Clone()
}

func priceOf(item CatalogItem, variant domain.ID) decimal.Decimal {
	if p, ok := item.VariantPrices[variant]; ok {
		return p
	}
	return item.Price
}
