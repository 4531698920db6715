package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"storefront-cart/internal/cartstore"
	"storefront-cart/internal/cartview"
	"storefront-cart/internal/domain"
	"storefront-cart/internal/gateway"
)

type addItemRequest struct {
	ProductID          domain.ID         `json:"productId"`
	ProductVariantID   domain.ID         `json:"productVariantId"`
	Quantity           int               `json:"quantity"`
	SelectedAttributes map[string]string `json:"selectedAttributes"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

type lookupResponse struct {
	InCart   bool      `json:"inCart"`
	Quantity int       `json:"quantity"`
	LineID   domain.ID `json:"lineId,omitempty"`
}

type errorResponse struct {
	Error string           `json:"error"`
	State *cartstore.State `json:"state,omitempty"`
}

type cartHandler struct {
	stores StoreSource
}

func (h *cartHandler) store(c *gin.Context) *cartstore.Store {
	return h.stores.Get(c.Request.Context(), sessionID(c))
}

// intentContext detaches an intent from the request lifetime: once issued,
// a mutation runs to completion even if the visitor goes away.
func intentContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (h *cartHandler) get(c *gin.Context) {
	c.JSON(http.StatusOK, h.store(c).State())
}

func (h *cartHandler) summary(c *gin.Context) {
	c.JSON(http.StatusOK, h.store(c).State().Summary)
}

func (h *cartHandler) lookup(c *gin.Context) {
	productID := domain.ID(c.Query("productId"))
	if productID.IsZero() {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "productId is required"})
		return
	}
	variantID := domain.ID(c.Query("variantId"))

	// One snapshot so the three answers agree.
	cart := h.store(c).Cart()
	lineID, _ := cartview.CartItemID(cart, productID, variantID)
	c.JSON(http.StatusOK, lookupResponse{
		InCart:   cartview.IsInCart(cart, productID, variantID),
		Quantity: cartview.ItemQuantity(cart, productID, variantID),
		LineID:   lineID,
	})
}

func (h *cartHandler) refresh(c *gin.Context) {
	s := h.store(c)
	respond(c, s, s.Refresh(intentContext(c)))
}

func (h *cartHandler) toggle(c *gin.Context) {
	s := h.store(c)
	respond(c, s, s.ToggleCart(intentContext(c)))
}

func (h *cartHandler) clear(c *gin.Context) {
	s := h.store(c)
	respond(c, s, s.ClearCart(intentContext(c)))
}

func (h *cartHandler) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	s := h.store(c)
	respond(c, s, s.AddItem(intentContext(c), req.ProductID, req.ProductVariantID, req.Quantity, req.SelectedAttributes))
}

func (h *cartHandler) updateItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	s := h.store(c)
	respond(c, s, s.UpdateItemQuantity(intentContext(c), domain.ID(c.Param("lineId")), req.Quantity))
}

func (h *cartHandler) decrementItem(c *gin.Context) {
	s := h.store(c)
	lineID := domain.ID(c.Param("lineId"))

	var current *domain.CartLine
	for _, line := range s.Cart().Items {
		if line.ID == lineID {
			l := line
			current = &l
			break
		}
	}
	if current == nil {
		st := s.State()
		c.JSON(http.StatusNotFound, errorResponse{Error: "cart item not found", State: &st})
		return
	}

	plan := cartview.DecrementIntent(lineID, current.Quantity)
	if plan.Remove {
		respond(c, s, s.RemoveItem(intentContext(c), plan.LineID))
		return
	}
	respond(c, s, s.UpdateItemQuantity(intentContext(c), plan.LineID, plan.Quantity))
}

func (h *cartHandler) removeItem(c *gin.Context) {
	s := h.store(c)
	respond(c, s, s.RemoveItem(intentContext(c), domain.ID(c.Param("lineId"))))
}

func (h *cartHandler) applyCoupon(c *gin.Context) {
	var req applyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	s := h.store(c)
	respond(c, s, s.ApplyCoupon(intentContext(c), cartview.NormalizeCouponCode(req.Code)))
}

func (h *cartHandler) removeCoupon(c *gin.Context) {
	s := h.store(c)
	respond(c, s, s.RemoveCoupon(intentContext(c), domain.ID(c.Param("couponId"))))
}

// respond writes the store state, mapping intent errors to statuses.
func respond(c *gin.Context, s *cartstore.Store, err error) {
	st := s.State()
	if err == nil {
		c.JSON(http.StatusOK, st)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case cartstore.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreClosed):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "cart is being reloaded, retry the request"})
		return
	case gateway.IsFailure(err):
		status = http.StatusUnprocessableEntity
	case gateway.IsTransport(err):
		status = http.StatusBadGateway
	}
	msg := st.Error
	if msg == "" {
		msg = gateway.Message(err)
	}
	c.JSON(status, errorResponse{Error: msg, State: &st})
}
