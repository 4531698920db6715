package cartview

import "storefront-cart/internal/domain"

// SnapshotSource hands out the current cart snapshot.
type SnapshotSource interface {
	Cart() domain.Cart
}

// Facade answers cart questions against whatever snapshot src holds at the
// time of the call. It keeps no state of its own.
type Facade struct {
	src SnapshotSource
}

func NewFacade(src SnapshotSource) Facade {
	return Facade{src: src}
}

func (f Facade) IsInCart(productID, variantID domain.ID) bool {
	return IsInCart(f.src.Cart(), productID, variantID)
}

func (f Facade) ItemQuantity(productID, variantID domain.ID) int {
	return ItemQuantity(f.src.Cart(), productID, variantID)
}

func (f Facade) CartItemID(productID, variantID domain.ID) (domain.ID, bool) {
	return CartItemID(f.src.Cart(), productID, variantID)
}

func (f Facade) Summary() Summary {
	return Summarize(f.src.Cart())
}
