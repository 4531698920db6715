package httpserver

import (
	"context"
	"errors"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"storefront-cart/internal/cartstore"
	"storefront-cart/internal/metrics"
	"storefront-cart/internal/session"
)

// StoreSource hands out the cart store of a visitor session.
type StoreSource interface {
	Get(ctx context.Context, sessionID string) *cartstore.Store
}

// Deps are the collaborators the router needs.
type Deps struct {
	Stores       StoreSource
	Sessions     *session.Provider
	Ledger       Pinger
	HTTPMetrics  *metrics.HTTPMetrics
	Gatherer     prometheus.Gatherer
	CORSOrigins  []string
	CookieSecure bool
}

// buildRouter wires routes for the API.
func buildRouter(logger *logrus.Logger, deps Deps) (*gin.Engine, error) {
	if deps.Stores == nil {
		return nil, errors.New("httpserver: store source is required")
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewProvider()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestID(), requestLogger(logger), gin.Recovery(), observe(deps.HTTPMetrics))
	if len(deps.CORSOrigins) > 0 {
		router.Use(cors.New(corsConfig(deps.CORSOrigins)))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.Ledger))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}

	h := &cartHandler{stores: deps.Stores}
	cart := router.Group("/cart", withSession(deps.Sessions, deps.CookieSecure))
	{
		cart.GET("", h.get)
		cart.GET("/summary", h.summary)
		cart.GET("/lookup", h.lookup)
		cart.POST("/refresh", h.refresh)
		cart.POST("/toggle", h.toggle)
		cart.DELETE("", h.clear)

		cart.POST("/items", h.addItem)
		cart.PATCH("/items/:lineId", h.updateItem)
		cart.POST("/items/:lineId/decrement", h.decrementItem)
		cart.DELETE("/items/:lineId", h.removeItem)

		cart.POST("/coupons", h.applyCoupon)
		cart.DELETE("/coupons/:couponId", h.removeCoupon)
	}

	return router, nil
}

// corsConfig lets the storefront origins call the API with the session
// cookie. A "*" entry opens the API to any origin without credentials.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
