// Package tax integrates the external tax-calculation service. Quotes
// are computed upstream of pricing and passed into the calculator as a
// plain value; recording happens as a post-payment side effect.
package tax

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/resilience"
)

// QuoteInput describes the taxable order contents and destination.
type QuoteInput struct {
	CustomerID uuid.UUID     `json:"customerId"`
	Subtotal   pricing.Money `json:"subtotal"`
	Shipping   pricing.Money `json:"shipping"`
	Street     string        `json:"street"`
	City       string        `json:"city"`
	State      string        `json:"state"`
	Zip        string        `json:"zip"`
}

// Quote is the tax service's answer.
type Quote struct {
	TotalTax pricing.Money   `json:"totalTax"`
	TaxRate  decimal.Decimal `json:"taxRate"`
}

// Calculator abstracts the tax service operations the core consumes.
type Calculator interface {
	Quote(ctx context.Context, in QuoteInput) (Quote, error)
	RecordPurchase(ctx context.Context, orderID uuid.UUID, amount pricing.Money) error
	RecordRefund(ctx context.Context, orderID uuid.UUID, amount pricing.Money) error
}

// HTTPClient implements Calculator against the tax service API.
type HTTPClient struct {
	HTTP    *resilience.HTTPClient
	BaseURL string
	APIKey  string
	Logger  zerolog.Logger
}

// Quote asks the service for the tax owed on an order.
func (c *HTTPClient) Quote(ctx context.Context, in QuoteInput) (Quote, error) {
	var out Quote
	if err := c.post(ctx, "/quotes", in, &out); err != nil {
		return Quote{}, err
	}
	return out, nil
}

// RecordPurchase commits an order's tax to the service ledger.
func (c *HTTPClient) RecordPurchase(ctx context.Context, orderID uuid.UUID, amount pricing.Money) error {
	payload := map[string]any{"orderId": orderID, "amount": amount}
	return c.post(ctx, "/transactions", payload, nil)
}

// RecordRefund commits a refund's tax reversal.
func (c *HTTPClient) RecordRefund(ctx context.Context, orderID uuid.UUID, amount pricing.Money) error {
	payload := map[string]any{"orderId": orderID, "amount": amount}
	return c.post(ctx, "/refunds", payload, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	if c == nil || c.HTTP == nil {
		return errors.New("tax: http client not configured")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("tax: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tax: http status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("tax: decode response: %w", err)
		}
	}
	return nil
}

// Zero is a Calculator that quotes no tax and records nothing. Used
// where the surrounding system has not wired a tax provider.
type Zero struct{}

func (Zero) Quote(context.Context, QuoteInput) (Quote, error) {
	return Quote{TotalTax: 0, TaxRate: decimal.Zero}, nil
}

func (Zero) RecordPurchase(context.Context, uuid.UUID, pricing.Money) error { return nil }

func (Zero) RecordRefund(context.Context, uuid.UUID, pricing.Money) error { return nil }
