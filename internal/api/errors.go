package api

import (
	"errors"
	"net/http"

	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/discount"
	"github.com/noah-isme/backend-mealkit/internal/gateway"
	"github.com/noah-isme/backend-mealkit/internal/order"
)

// renderError maps domain errors onto the canonical error envelope.
// The taxonomy: caller-fixable inputs are 422, state conflicts are 409,
// missing resources 404, declined payments 402, and upstream trouble 502.
func (h *Handler) renderError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.RenderError(w, appErr)
		return
	}

	var illegal *order.ErrIllegalTransition
	var assembly *order.ErrOrderAssembly
	switch {
	case errors.As(err, &illegal):
		common.JSONError(w, http.StatusConflict, "ILLEGAL_TRANSITION", illegal.Error(), nil)
	case errors.As(err, &assembly):
		common.JSONError(w, http.StatusInternalServerError, "ORDER_ASSEMBLY_FAILED", "order assembly failed", nil)
	case errors.Is(err, order.ErrMissingCustomer),
		errors.Is(err, order.ErrNoOrders),
		errors.Is(err, discount.ErrNoGrant):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrMissingPaymentMethod),
		errors.Is(err, order.ErrIncompleteShippingAddress),
		errors.Is(err, discount.ErrInvalidRequest),
		errors.Is(err, discount.ErrOwnReferral),
		errors.Is(err, discount.ErrNoEligibleCarts),
		errors.Is(err, discount.ErrGrantExhausted):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE", err.Error(), nil)
	case gateway.IsTerminal(err):
		common.JSONError(w, http.StatusPaymentRequired, "PAYMENT_DECLINED", err.Error(), nil)
	case gateway.IsRetryable(err):
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "payment gateway unavailable", nil)
	default:
		h.Logger.Error().Err(err).Msg("unhandled api error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
