package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"storefront-cart/internal/domain"
	"storefront-cart/internal/logging"
)

// SessionHeader mirrors the session cookie for clients that strip cookies.
const SessionHeader = "X-Session-Id"

// SessionCookie is the cookie the remote service binds anonymous carts to.
const SessionCookie = "session_id"

// HTTPClient talks to the REST cart service.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	logger  *logrus.Entry
}

// NewHTTPClient builds a client for baseURL (without trailing slash). The
// timeout bounds each request.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *logrus.Entry) *HTTPClient {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPClient{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *HTTPClient) FetchCart(ctx context.Context) (domain.Cart, error) {
	env, err := c.do(ctx, OpFetchCart, http.MethodGet, "/cart", nil)
	if err != nil {
		return domain.Cart{}, err
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return domain.EmptyCart(), nil
	}
	var cart domain.Cart
	if err := json.Unmarshal(env.Data, &cart); err != nil {
		return domain.Cart{}, &TransportError{Op: OpFetchCart, Err: fmt.Errorf("decode cart: %w", err)}
	}
	return cart, nil
}

func (c *HTTPClient) AddItem(ctx context.Context, req AddItemRequest) error {
	_, err := c.do(ctx, OpAddItem, http.MethodPost, "/cart/items", req)
	return err
}

func (c *HTTPClient) UpdateItem(ctx context.Context, lineID domain.ID, quantity int) error {
	body := map[string]int{"quantity": quantity}
	_, err := c.do(ctx, OpUpdateItem, http.MethodPut, "/cart/items/"+url.PathEscape(lineID.String()), body)
	return err
}

func (c *HTTPClient) RemoveItem(ctx context.Context, lineID domain.ID) error {
	_, err := c.do(ctx, OpRemoveItem, http.MethodDelete, "/cart/items/"+url.PathEscape(lineID.String()), nil)
	return err
}

func (c *HTTPClient) ClearCart(ctx context.Context) error {
	_, err := c.do(ctx, OpClearCart, http.MethodDelete, "/cart", nil)
	return err
}

func (c *HTTPClient) ApplyCoupon(ctx context.Context, code string, cartID domain.ID) error {
	body := map[string]string{"code": code, "cartId": cartID.String()}
	_, err := c.do(ctx, OpApplyCoupon, http.MethodPost, "/cart/coupons", body)
	return err
}

func (c *HTTPClient) RemoveCoupon(ctx context.Context, couponID, cartID domain.ID) error {
	path := "/cart/coupons/" + url.PathEscape(couponID.String()) + "?cartId=" + url.QueryEscape(cartID.String())
	_, err := c.do(ctx, OpRemoveCoupon, http.MethodDelete, path, nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body interface{}) (envelope, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return envelope{}, &TransportError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return envelope{}, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sid, ok := SessionFrom(ctx); ok {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sid})
		req.Header.Set(SessionHeader, sid)
	}

	started := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("op", op).Warn("cart service unreachable")
		return envelope{}, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return envelope{}, &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	c.logger.WithFields(logrus.Fields{
		"op":       op,
		"status":   resp.StatusCode,
		"duration": time.Since(started),
	}).Debug("cart service call")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return envelope{}, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", decodeErr)}
		}
		if !env.Success {
			return envelope{}, &Failure{Op: op, Message: env.Message}
		}
		return env, nil
	}
	// Error statuses carrying a service envelope are logical failures.
	if decodeErr == nil && env.Message != "" {
		return envelope{}, &Failure{Op: op, Message: env.Message}
	}
	return envelope{}, &TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
}
