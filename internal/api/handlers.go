package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mealkit/internal/cart"
	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/customer"
	"github.com/noah-isme/backend-mealkit/internal/discount"
	"github.com/noah-isme/backend-mealkit/internal/gateway"
	"github.com/noah-isme/backend-mealkit/internal/obs"
	"github.com/noah-isme/backend-mealkit/internal/order"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// Handler exposes the billing core over HTTP. It is a thin layer: all
// invariants live in the order and discount services.
type Handler struct {
	Assembler *order.Assembler
	Orders    *order.Service
	Queries   *order.Queries
	Discounts *discount.Service
	Grants    discount.GrantStore
	Customers customer.Store
	Carts     cart.Store
	Validate  *validator.Validate
	Logger    zerolog.Logger
}

type createOrderRequest struct {
	CustomerID uuid.UUID `json:"customerId" validate:"required"`
	ChildID    uuid.UUID `json:"childId" validate:"required"`
	Tags       []string  `json:"tags" validate:"dive,max=64"`
}

type refundRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

type partialRefundRequest struct {
	Amount pricing.Money `json:"amount" validate:"required,gt=0"`
	Reason string        `json:"reason" validate:"max=256"`
}

type evaluateDiscountRequest struct {
	Codename   string    `json:"codename" validate:"required,max=64"`
	CustomerID uuid.UUID `json:"customerId" validate:"required"`
}

// CreateOrder assembles an order from the child's cart.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	o, err := h.Assembler.BuildFromCart(r.Context(), req.CustomerID, req.ChildID, req.Tags)
	if err != nil {
		obs.OrdersAssembledTotal.WithLabelValues("error").Inc()
		h.renderError(w, err)
		return
	}
	obs.OrdersAssembledTotal.WithLabelValues("ok").Inc()
	common.JSON(w, http.StatusCreated, orderBody(o))
}

// ChargeOrder captures payment for a pending order.
func (h *Handler) ChargeOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	err := h.Orders.Charge(r.Context(), id)
	switch {
	case err == nil:
		obs.ChargeTotal.WithLabelValues("paid").Inc()
	case errors.Is(err, order.ErrAlreadyCharged):
		// safe replay
	case gateway.IsRetryable(err):
		obs.ChargeTotal.WithLabelValues("retryable").Inc()
		h.renderError(w, err)
		return
	default:
		obs.ChargeTotal.WithLabelValues("terminal").Inc()
		h.renderError(w, err)
		return
	}
	h.renderOrder(w, r, id)
}

// RefundOrder returns the full remaining captured amount.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Orders.Refund(r.Context(), id, req.Reason); err != nil {
		obs.RefundTotal.WithLabelValues("full", "error").Inc()
		h.renderError(w, err)
		return
	}
	obs.RefundTotal.WithLabelValues("full", "ok").Inc()
	h.renderOrder(w, r, id)
}

// PartialRefundOrder returns part of the captured amount.
func (h *Handler) PartialRefundOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req partialRefundRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Orders.PartiallyRefund(r.Context(), id, req.Amount, req.Reason); err != nil {
		obs.RefundTotal.WithLabelValues("partial", "error").Inc()
		h.renderError(w, err)
		return
	}
	obs.RefundTotal.WithLabelValues("partial", "ok").Inc()
	h.renderOrder(w, r, id)
}

// CancelOrder stops fulfillment via the storefront.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	if err := h.Orders.Cancel(r.Context(), id); err != nil {
		h.renderError(w, err)
		return
	}
	h.renderOrder(w, r, id)
}

// EvaluateDiscount materialises grants for each eligible cart.
func (h *Handler) EvaluateDiscount(w http.ResponseWriter, r *http.Request) {
	var req evaluateDiscountRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	d, err := h.Grants.GetDiscountByCodename(ctx, req.Codename)
	if err != nil {
		h.renderError(w, common.NotFound("discount not found", err))
		return
	}
	cust, err := h.Customers.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		h.renderError(w, common.NotFound("customer not found", err))
		return
	}
	carts, err := h.Carts.ListByCustomer(ctx, req.CustomerID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	grants, err := h.Discounts.Evaluate(ctx, &d, cust, carts)
	if err != nil {
		obs.GrantTotal.WithLabelValues("rejected").Inc()
		h.renderError(w, err)
		return
	}
	obs.GrantTotal.WithLabelValues("granted").Inc()
	body := make([]map[string]any, 0, len(grants))
	for _, g := range grants {
		body = append(body, grantBody(g))
	}
	common.JSON(w, http.StatusCreated, map[string]any{"grants": body})
}

// OrderSummary prices every cart the customer owns, optionally under a
// candidate codename.
func (h *Handler) OrderSummary(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid customer id", nil)
		return
	}
	sum, err := h.Queries.Summary(r.Context(), customerID, r.URL.Query().Get("codename"))
	if err != nil {
		h.renderError(w, err)
		return
	}
	carts := make([]map[string]any, 0, len(sum.Carts))
	for _, cs := range sum.Carts {
		carts = append(carts, map[string]any{
			"cartId":        cs.CartID,
			"childId":       cs.ChildID,
			"eligible":      cs.Eligible,
			"subtotal":      cs.Subtotal,
			"discountTotal": cs.DiscountTotal,
			"shipping":      cs.Shipping,
			"total":         cs.Total,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"carts":    carts,
		"subtotal": sum.Subtotal,
		"discount": sum.Discount,
		"shipping": sum.Shipping,
		"total":    sum.Total,
	})
}

// LatestOrder returns the newest order for one child.
func (h *Handler) LatestOrder(w http.ResponseWriter, r *http.Request) {
	childID, err := uuid.Parse(chi.URLParam(r, "childID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid child id", nil)
		return
	}
	o, err := h.Queries.LatestForChild(r.Context(), childID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, orderBody(o))
}

func (h *Handler) renderOrder(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	o, err := h.Queries.Orders.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, orderBody(o))
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := common.DecodeJSON(r, dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return false
	}
	if err := h.Validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "request validation failed",
			map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func orderBody(o *order.Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"productId": it.ProductID,
			"variantId": it.VariantID,
			"unitPrice": it.UnitPrice,
			"quantity":  it.Quantity,
			"kind":      it.Kind,
		})
	}
	body := map[string]any{
		"id":                o.ID,
		"customerId":        o.CustomerID,
		"childId":           o.ChildID,
		"paymentStatus":     o.PaymentStatus,
		"fulfillmentStatus": o.FulfillmentStatus,
		"subtotal":          o.Subtotal,
		"bulkDiscount":      o.BulkDiscount,
		"couponDiscount":    o.CouponDiscount,
		"discountTotal":     o.DiscountTotal,
		"shipping":          o.Shipping,
		"tax":               o.Tax,
		"total":             o.Total,
		"chargeAttempts":    o.ChargeAttempts,
		"chargedAmount":     o.ChargedAmount,
		"amountRefunded":    o.AmountRefunded,
		"tags":              o.Tags,
		"placedAt":          o.PlacedAt.Format(time.RFC3339),
		"items":             items,
	}
	if o.GrantID != nil {
		body["grantId"] = *o.GrantID
	}
	if o.ChargeFailureMessage != "" {
		body["chargeFailureMessage"] = o.ChargeFailureMessage
	}
	return body
}

func grantBody(g discount.Grant) map[string]any {
	return map[string]any{
		"id":              g.ID,
		"discountId":      g.DiscountID,
		"customerId":      g.CustomerID,
		"childId":         g.ChildID,
		"status":          g.Status,
		"redemptionLimit": g.RedemptionLimit,
		"isActive":        g.IsActive,
	}
}
