package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/resilience"
)

const stripeBaseURL = "https://api.stripe.com/v1"

// Stripe implements Gateway against the Stripe HTTP API. Charges are
// created as immediately-confirmed payment intents with the method
// saved for off-session reuse.
type Stripe struct {
	HTTP      *resilience.HTTPClient
	SecretKey string
	BaseURL   string
	Logger    zerolog.Logger
}

type stripeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type stripeIntent struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Status         string `json:"status"`
}

type stripeRefund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// Charge creates and confirms a payment intent for the given amount.
func (s *Stripe) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}
	form := url.Values{
		"amount":             {strconv.FormatInt(req.Amount, 10)},
		"currency":           {currency},
		"customer":           {req.CustomerRef},
		"payment_method":     {req.PaymentMethodToken},
		"confirm":            {"true"},
		"setup_future_usage": {"off_session"},
	}
	var intent stripeIntent
	if err := s.post(ctx, "/payment_intents", form, req.IdempotencyKey, &intent); err != nil {
		return ChargeResult{}, err
	}
	return ChargeResult{
		TransactionID:  intent.ID,
		CapturedAmount: pricing.Money(intent.AmountReceived),
		Succeeded:      intent.Status == "succeeded",
	}, nil
}

// Refund returns money against a previously captured payment intent.
func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	reason := req.Reason
	if reason == "" {
		reason = "requested_by_customer"
	}
	form := url.Values{
		"payment_intent": {req.TransactionID},
		"amount":         {strconv.FormatInt(req.Amount, 10)},
		"reason":         {reason},
	}
	var refund stripeRefund
	if err := s.post(ctx, "/refunds", form, "", &refund); err != nil {
		return RefundResult{}, err
	}
	return RefundResult{TransactionID: refund.ID, RefundedAmount: pricing.Money(refund.Amount)}, nil
}

// AttachPaymentMethod binds a tokenized method to the processor-side customer.
func (s *Stripe) AttachPaymentMethod(ctx context.Context, customerRef, paymentMethodToken string) error {
	form := url.Values{"customer": {customerRef}}
	path := "/payment_methods/" + url.PathEscape(paymentMethodToken) + "/attach"
	return s.post(ctx, path, form, "", &struct{}{})
}

func (s *Stripe) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	base := s.BaseURL
	if base == "" {
		base = stripeBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return invalidRequest("build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.SecretKey, "")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	client := s.HTTP
	if client == nil {
		return errors.New("gateway: http client not configured")
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return network("read response", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(body, out); err != nil {
			return network("decode response", err)
		}
		return nil
	}
	return classifyStatus(resp.StatusCode, body)
}

func classifyTransportError(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return timeout("request deadline exceeded", err)
	case errors.Is(err, resilience.ErrOpenCircuit):
		return network("circuit open", err)
	default:
		return network(err.Error(), err)
	}
}

func classifyStatus(status int, body []byte) *Error {
	var parsed stripeErrorBody
	_ = json.Unmarshal(body, &parsed)
	message := parsed.Error.Message
	if message == "" {
		message = fmt.Sprintf("http status %d", status)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return rateLimited(message, nil)
	case status == http.StatusPaymentRequired || parsed.Error.Type == "card_error":
		return declined(message, nil)
	case status >= 500:
		return network(message, nil)
	default:
		return invalidRequest(message, nil)
	}
}
