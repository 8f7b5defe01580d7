package order

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-mealkit/internal/customer"
	"github.com/noah-isme/backend-mealkit/internal/events"
	"github.com/noah-isme/backend-mealkit/internal/gateway"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

type serviceFixture struct {
	orders     *memOrderStore
	customers  *memCustomerStore
	gateway    *fakeGateway
	storefront *fakeStorefront
	eventStore *memEventStore

	orderID    uuid.UUID
	customerID uuid.UUID
	methodID   uuid.UUID
}

func newServiceFixture(t *testing.T, total pricing.Money) (*Service, *serviceFixture) {
	t.Helper()
	f := &serviceFixture{
		orders:     newMemOrderStore(),
		customers:  newMemCustomerStore(),
		gateway:    &fakeGateway{},
		storefront: &fakeStorefront{},
		eventStore: &memEventStore{},
		orderID:    uuid.New(),
		customerID: uuid.New(),
		methodID:   uuid.New(),
	}
	f.customers.customers[f.customerID] = customer.Customer{
		ID: f.customerID, Email: "parent@example.com", GatewayCustomerRef: "cus_123",
	}
	f.customers.methods[f.methodID] = customer.PaymentMethod{
		ID: f.methodID, CustomerID: f.customerID, GatewayToken: "pm_abc",
		IsValid: true, SetupForFutureCharges: true,
	}
	f.orders.orders[f.orderID] = &Order{
		ID:                f.orderID,
		CustomerID:        f.customerID,
		PaymentMethodID:   f.methodID,
		PaymentStatus:     PaymentPending,
		FulfillmentStatus: FulfillmentPending,
		SyncStatus:        SyncPending,
		EmailStatus:       EmailUnsent,
		Total:             total,
	}

	lc := &Lifecycle{
		Gateway:    f.gateway,
		Storefront: f.storefront,
		Logger:     zerolog.Nop(),
	}
	svc := &Service{
		Orders:    f.orders,
		Customers: f.customers,
		Lifecycle: lc,
		Bus:       &events.Bus{Store: f.eventStore, Logger: zerolog.Nop()},
		Locker:    inlineLocker{},
		Logger:    zerolog.Nop(),
	}
	return svc, f
}

func TestChargeSuccess(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)

	require.NoError(t, svc.Charge(context.Background(), f.orderID))

	require.Len(t, f.gateway.charges, 1)
	require.Equal(t, pricing.Money(7187), f.gateway.charges[0].Amount)
	require.Equal(t, "cus_123", f.gateway.charges[0].CustomerRef)

	o, err := f.orders.Get(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, o.PaymentStatus)
	require.Equal(t, 1, o.ChargeAttempts)
	require.Equal(t, pricing.Money(7187), o.ChargedAmount)
	require.NotEmpty(t, o.GatewayChargeRef)
	require.NotNil(t, o.PaidAt)
	require.Contains(t, f.eventStore.topics, events.TopicOrderPaid)
	require.Contains(t, f.eventStore.topics, events.TopicConfirmationEmail)
	require.Contains(t, f.eventStore.topics, events.TopicTaxRecorded)
}

func TestChargeIsIdempotent(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)

	require.NoError(t, svc.Charge(context.Background(), f.orderID))
	err := svc.Charge(context.Background(), f.orderID)
	require.ErrorIs(t, err, ErrAlreadyCharged)
	require.Len(t, f.gateway.charges, 1, "gateway must be hit exactly once")
}

func TestChargeZeroTotalSkipsGateway(t *testing.T) {
	svc, f := newServiceFixture(t, 0)

	require.NoError(t, svc.Charge(context.Background(), f.orderID))

	require.Empty(t, f.gateway.charges)
	o, err := f.orders.Get(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, o.PaymentStatus)
	require.Empty(t, o.GatewayChargeRef)
	require.Zero(t, o.ChargedAmount)
}

func TestChargeFailureStaysPendingAndBurnsAttempt(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	f.gateway.fail = errors.New("connection reset")

	err := svc.Charge(context.Background(), f.orderID)
	require.Error(t, err)

	o, getErr := f.orders.Get(context.Background(), f.orderID)
	require.NoError(t, getErr)
	require.Equal(t, PaymentPending, o.PaymentStatus)
	require.Equal(t, 1, o.ChargeAttempts)
	require.Contains(t, o.ChargeFailureMessage, "connection reset")
	require.Empty(t, f.eventStore.topics)
}

func TestChargeAtCeilingForcesFailedWithoutGateway(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	o := f.orders.orders[f.orderID]
	o.ChargeAttempts = DefaultMaxChargeAttempts

	require.NoError(t, svc.Charge(context.Background(), f.orderID))

	require.Empty(t, f.gateway.charges, "ceiling must short-circuit the gateway")
	got, err := f.orders.Get(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Equal(t, PaymentFailed, got.PaymentStatus)
	require.NotEmpty(t, got.ChargeFailureMessage)
	require.Equal(t, []string{events.TopicPaymentFailed}, f.eventStore.topics)
}

func TestChargeCancelledOrderRefused(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	f.orders.orders[f.orderID].FulfillmentStatus = FulfillmentCancelled

	err := svc.Charge(context.Background(), f.orderID)

	var illegal *ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)
	require.Empty(t, f.gateway.charges)
}

func TestRefundFullFromPaid(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	require.NoError(t, svc.Charge(context.Background(), f.orderID))

	require.NoError(t, svc.Refund(context.Background(), f.orderID, "requested"))

	require.Len(t, f.gateway.refunds, 1)
	require.Equal(t, pricing.Money(7187), f.gateway.refunds[0].Amount)
	o, err := f.orders.Get(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Equal(t, PaymentRefunded, o.PaymentStatus)
	require.Equal(t, pricing.Money(7187), o.AmountRefunded)
	require.Contains(t, f.eventStore.topics, events.TopicOrderRefunded)
	require.Contains(t, f.eventStore.topics, events.TopicTaxRefundRecorded)
}

func TestRefundFromPendingRefused(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)

	err := svc.Refund(context.Background(), f.orderID, "requested")

	var illegal *ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)
	require.Empty(t, f.gateway.refunds)
}

func TestPartialRefundRepeats(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	ctx := context.Background()
	require.NoError(t, svc.Charge(ctx, f.orderID))

	require.NoError(t, svc.PartiallyRefund(ctx, f.orderID, 1000, "late box"))
	require.NoError(t, svc.PartiallyRefund(ctx, f.orderID, 2000, "missing item"))

	o, err := f.orders.Get(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, PaymentPartiallyRefunded, o.PaymentStatus)
	require.Equal(t, pricing.Money(3000), o.AmountRefunded)
	require.Equal(t, pricing.Money(4187), o.Refundable())
}

func TestFullRefundAfterPartialRefused(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	ctx := context.Background()
	require.NoError(t, svc.Charge(ctx, f.orderID))
	require.NoError(t, svc.PartiallyRefund(ctx, f.orderID, 1000, "late box"))

	// A full refund is only reachable from paid; once partial refunds
	// have started the remainder keeps going out in partial steps.
	err := svc.Refund(ctx, f.orderID, "give up")
	var illegal *ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)
	require.Len(t, f.gateway.refunds, 1)

	require.NoError(t, svc.PartiallyRefund(ctx, f.orderID, 6187, "remainder"))
	o, getErr := f.orders.Get(ctx, f.orderID)
	require.NoError(t, getErr)
	require.Equal(t, PaymentPartiallyRefunded, o.PaymentStatus)
	require.Equal(t, pricing.Money(7187), o.AmountRefunded)
	require.Zero(t, o.Refundable())
}

func TestPartialRefundFromPendingOrder(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	ctx := context.Background()

	// A deposit collected outside the charge path can be partially
	// returned while the order is still pending.
	require.NoError(t, svc.PartiallyRefund(ctx, f.orderID, 1000, "goodwill"))

	o, err := f.orders.Get(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, PaymentPartiallyRefunded, o.PaymentStatus)
	require.Equal(t, pricing.Money(1000), o.AmountRefunded)
	require.Len(t, f.gateway.refunds, 1)
	require.Equal(t, pricing.Money(1000), f.gateway.refunds[0].Amount)
}

func TestRefundUsesCapturedAmount(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	ctx := context.Background()
	f.gateway.capture = 7000

	require.NoError(t, svc.Charge(ctx, f.orderID))
	o, err := f.orders.Get(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(7000), o.ChargedAmount)
	require.Equal(t, pricing.Money(7000), o.Refundable())

	require.NoError(t, svc.Refund(ctx, f.orderID, "requested"))
	require.Equal(t, pricing.Money(7000), f.gateway.refunds[0].Amount)
	o, err = f.orders.Get(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(7000), o.AmountRefunded)
	require.Zero(t, o.Refundable())
}

func TestPartialRefundOverRefundableRejected(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	ctx := context.Background()
	require.NoError(t, svc.Charge(ctx, f.orderID))

	err := svc.PartiallyRefund(ctx, f.orderID, 8000, "too much")
	require.Error(t, err)
	require.Len(t, f.gateway.refunds, 0)
}

func TestCancelRollsBackWhenStorefrontFails(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	f.storefront.failCancel = errors.New("storefront 502")

	err := svc.Cancel(context.Background(), f.orderID)
	require.Error(t, err)

	o, getErr := f.orders.Get(context.Background(), f.orderID)
	require.NoError(t, getErr)
	require.Equal(t, FulfillmentPending, o.FulfillmentStatus)
	require.Nil(t, o.CancelledAt)
}

func TestCancelStopsFulfillment(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)

	require.NoError(t, svc.Cancel(context.Background(), f.orderID))

	o, err := f.orders.Get(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Equal(t, FulfillmentCancelled, o.FulfillmentStatus)
	require.NotNil(t, o.CancelledAt)
	require.Contains(t, f.eventStore.topics, events.TopicOrderCancelled)
	require.Equal(t, []uuid.UUID{f.orderID}, f.storefront.cancels)

	// Charging a cancelled order must now be refused.
	err = svc.Charge(context.Background(), f.orderID)
	var illegal *ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)
}

func TestCancelFromPartiallyFulfilled(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	f.orders.orders[f.orderID].FulfillmentStatus = FulfillmentPartiallyFulfilled

	require.NoError(t, svc.Cancel(context.Background(), f.orderID))

	o, err := f.orders.Get(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Equal(t, FulfillmentCancelled, o.FulfillmentStatus)
}

func TestPaidEffectCarriesGrantID(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	grantID := uuid.New()
	f.orders.orders[f.orderID].GrantID = &grantID

	var paid events.Effect
	svc.Bus.Notifiers = []events.Notifier{events.NotifierFunc(func(_ context.Context, e events.Effect) error {
		if e.Topic == events.TopicOrderPaid {
			paid = e
		}
		return nil
	})}

	require.NoError(t, svc.Charge(context.Background(), f.orderID))
	require.Equal(t, grantID.String(), paid.Payload["grantId"])
}

func TestChargeClassifiesTerminalGatewayError(t *testing.T) {
	svc, f := newServiceFixture(t, 7187)
	f.gateway.fail = &gateway.Error{Code: gateway.CodeDeclined, Message: "card was declined"}

	err := svc.Charge(context.Background(), f.orderID)
	require.True(t, gateway.IsTerminal(err))

	o, getErr := f.orders.Get(context.Background(), f.orderID)
	require.NoError(t, getErr)
	require.Equal(t, PaymentPending, o.PaymentStatus)
	require.Contains(t, o.ChargeFailureMessage, "declined")
}
