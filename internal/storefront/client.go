// Package storefront talks to the external storefront platform that
// mirrors paid orders for fulfillment. Sync is at-least-once; the
// storefront deduplicates on our order id.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/resilience"
)

// ErrCancelFailed is returned when the storefront refuses or fails an
// order cancellation; the local cancel transition must not commit.
var ErrCancelFailed = errors.New("storefront: could not cancel order")

// OrderSync carries the fields the storefront needs to mirror an order.
type OrderSync struct {
	OrderID     uuid.UUID     `json:"orderId"`
	CustomerID  uuid.UUID     `json:"customerId"`
	Email       string        `json:"email"`
	AmountTotal pricing.Money `json:"amountTotal"`
}

// RefundSync reports a refund amount against a previously synced order.
type RefundSync struct {
	OrderID uuid.UUID     `json:"orderId"`
	Amount  pricing.Money `json:"amount"`
	Partial bool          `json:"partial"`
}

// Client abstracts the storefront operations the order lifecycle needs.
type Client interface {
	SyncOrder(ctx context.Context, sync OrderSync) error
	SyncRefund(ctx context.Context, sync RefundSync) error
	CancelOrder(ctx context.Context, orderID uuid.UUID) error
}

// HTTPClient implements Client against the storefront admin API.
type HTTPClient struct {
	HTTP    *resilience.HTTPClient
	BaseURL string
	Token   string
	Logger  zerolog.Logger
}

// SyncOrder mirrors a paid order.
func (c *HTTPClient) SyncOrder(ctx context.Context, sync OrderSync) error {
	return c.post(ctx, "/orders", sync)
}

// SyncRefund mirrors a full or partial refund.
func (c *HTTPClient) SyncRefund(ctx context.Context, sync RefundSync) error {
	return c.post(ctx, fmt.Sprintf("/orders/%s/refunds", sync.OrderID), sync)
}

// CancelOrder cancels the mirrored order. A failure here aborts the
// local cancellation.
func (c *HTTPClient) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	if err := c.post(ctx, fmt.Sprintf("/orders/%s/cancel", orderID), nil); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelFailed, err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) error {
	if c == nil || c.HTTP == nil {
		return errors.New("storefront: http client not configured")
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("storefront: encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("storefront: http status %d", resp.StatusCode)
	}
	return nil
}
