package worker

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-mealkit/internal/cart"
	"github.com/noah-isme/backend-mealkit/internal/customer"
	"github.com/noah-isme/backend-mealkit/internal/discount"
	"github.com/noah-isme/backend-mealkit/internal/events"
	"github.com/noah-isme/backend-mealkit/internal/gateway"
	"github.com/noah-isme/backend-mealkit/internal/lock"
	"github.com/noah-isme/backend-mealkit/internal/order"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/shipping"
	"github.com/noah-isme/backend-mealkit/internal/storefront"
	"github.com/noah-isme/backend-mealkit/internal/tax"
)

// ---- in-memory stores ------------------------------------------------------

type memWorld struct {
	orders        map[uuid.UUID]*order.Order
	carts         map[uuid.UUID]cart.Cart
	customers     map[uuid.UUID]customer.Customer
	children      map[uuid.UUID]customer.Child
	addresses     map[uuid.UUID]customer.Address
	methods       map[uuid.UUID]customer.PaymentMethod
	subscriptions map[uuid.UUID]customer.Subscription
}

func newMemWorld() *memWorld {
	return &memWorld{
		orders:        make(map[uuid.UUID]*order.Order),
		carts:         make(map[uuid.UUID]cart.Cart),
		customers:     make(map[uuid.UUID]customer.Customer),
		children:      make(map[uuid.UUID]customer.Child),
		addresses:     make(map[uuid.UUID]customer.Address),
		methods:       make(map[uuid.UUID]customer.PaymentMethod),
		subscriptions: make(map[uuid.UUID]customer.Subscription),
	}
}

func (w *memWorld) Create(_ context.Context, o *order.Order) error {
	cp := *o
	w.orders[o.ID] = &cp
	return nil
}

func (w *memWorld) CreateLineItems(_ context.Context, items []order.LineItem) error {
	if len(items) > 0 {
		if o, ok := w.orders[items[0].OrderID]; ok {
			o.Items = append(o.Items, items...)
		}
	}
	return nil
}

func (w *memWorld) Delete(_ context.Context, id uuid.UUID) error {
	delete(w.orders, id)
	return nil
}

func (w *memWorld) Update(_ context.Context, o *order.Order) error {
	cp := *o
	w.orders[o.ID] = &cp
	return nil
}

func (w *memWorld) Get(_ context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := w.orders[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *o
	return &cp, nil
}

func (w *memWorld) LatestForChild(_ context.Context, childID uuid.UUID) (*order.Order, error) {
	var latest *order.Order
	for _, o := range w.orders {
		if o.ChildID == childID && (latest == nil || o.PlacedAt.After(latest.PlacedAt)) {
			latest = o
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (w *memWorld) LatestForCustomer(_ context.Context, customerID uuid.UUID) (*order.Order, error) {
	var latest *order.Order
	for _, o := range w.orders {
		if o.CustomerID == customerID && (latest == nil || o.PlacedAt.After(latest.PlacedAt)) {
			latest = o
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (w *memWorld) CountForChild(_ context.Context, childID uuid.UUID) (int, error) {
	n := 0
	for _, o := range w.orders {
		if o.ChildID == childID {
			n++
		}
	}
	return n, nil
}

func (w *memWorld) ListPendingCharges(_ context.Context, limit int) ([]*order.Order, error) {
	var out []*order.Order
	for _, o := range w.orders {
		if o.PaymentStatus == order.PaymentPending && o.FulfillmentStatus != order.FulfillmentCancelled {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (w *memWorld) ListOverAttemptCeiling(_ context.Context, ceiling int) ([]*order.Order, error) {
	var out []*order.Order
	for _, o := range w.orders {
		if o.PaymentStatus == order.PaymentPending && o.ChargeAttempts >= ceiling {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (w *memWorld) GetByChild(_ context.Context, childID uuid.UUID) (cart.Cart, error) {
	for _, c := range w.carts {
		if c.ChildID == childID {
			return c, nil
		}
	}
	return cart.Cart{}, errors.New("not found")
}

func (w *memWorld) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]cart.Cart, error) {
	var out []cart.Cart
	for _, c := range w.carts {
		if c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (w *memWorld) RemoveOneTimeItems(_ context.Context, cartID uuid.UUID) error {
	c, ok := w.carts[cartID]
	if !ok {
		return errors.New("not found")
	}
	kept := c.Items[:0]
	for _, it := range c.Items {
		if it.Recurring {
			kept = append(kept, it)
		}
	}
	c.Items = kept
	w.carts[cartID] = c
	return nil
}

func (w *memWorld) GetCustomer(_ context.Context, id uuid.UUID) (customer.Customer, error) {
	c, ok := w.customers[id]
	if !ok {
		return customer.Customer{}, errors.New("not found")
	}
	return c, nil
}

func (w *memWorld) GetChild(_ context.Context, id uuid.UUID) (customer.Child, error) {
	c, ok := w.children[id]
	if !ok {
		return customer.Child{}, errors.New("not found")
	}
	return c, nil
}

func (w *memWorld) FirstAddress(_ context.Context, customerID uuid.UUID) (customer.Address, error) {
	for _, a := range w.addresses {
		return a, nil
	}
	return customer.Address{}, errors.New("not found")
}

func (w *memWorld) GetAddress(_ context.Context, id uuid.UUID) (customer.Address, error) {
	a, ok := w.addresses[id]
	if !ok {
		return customer.Address{}, errors.New("not found")
	}
	return a, nil
}

func (w *memWorld) LatestChargeablePaymentMethod(_ context.Context, customerID uuid.UUID) (customer.PaymentMethod, error) {
	for _, pm := range w.methods {
		if pm.CustomerID == customerID && pm.IsValid && pm.SetupForFutureCharges {
			return pm, nil
		}
	}
	return customer.PaymentMethod{}, errors.New("not found")
}

func (w *memWorld) GetPaymentMethod(_ context.Context, id uuid.UUID) (customer.PaymentMethod, error) {
	pm, ok := w.methods[id]
	if !ok {
		return customer.PaymentMethod{}, errors.New("not found")
	}
	return pm, nil
}

func (w *memWorld) GetSubscription(_ context.Context, id uuid.UUID) (customer.Subscription, error) {
	s, ok := w.subscriptions[id]
	if !ok {
		return customer.Subscription{}, errors.New("not found")
	}
	return s, nil
}

func (w *memWorld) ListDueSubscriptions(_ context.Context, day time.Time, limit int) ([]customer.Subscription, error) {
	var out []customer.Subscription
	for _, s := range w.subscriptions {
		if s.IsActive && !s.NextOrderChargeDate.After(day) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextOrderChargeDate.Before(out[j].NextOrderChargeDate)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (w *memWorld) UpdateSubscriptionDates(_ context.Context, sub customer.Subscription) error {
	w.subscriptions[sub.ID] = sub
	return nil
}

func (w *memWorld) ActiveGrantForChild(context.Context, uuid.UUID, uuid.UUID) (discount.Grant, error) {
	return discount.Grant{}, discount.ErrNoGrant
}

func (w *memWorld) GetDiscountByCodename(context.Context, string) (discount.Discount, error) {
	return discount.Discount{}, errors.New("not found")
}

func (w *memWorld) GetDiscount(context.Context, uuid.UUID) (discount.Discount, error) {
	return discount.Discount{}, errors.New("not found")
}

func (w *memWorld) DeleteUnredeemedByCustomer(context.Context, uuid.UUID) error { return nil }
func (w *memWorld) CreateGrant(context.Context, *discount.Grant) error          { return nil }
func (w *memWorld) GetGrant(context.Context, uuid.UUID) (discount.Grant, error) {
	return discount.Grant{}, discount.ErrNoGrant
}
func (w *memWorld) UpdateGrant(context.Context, discount.Grant) error { return nil }

func (w *memWorld) InsertDomainEvent(context.Context, string, uuid.UUID, []byte) error {
	return nil
}

type staticRates struct{ rate shipping.Rate }

func (s staticRates) DefaultRate(context.Context) (shipping.Rate, error)       { return s.rate, nil }
func (s staticRates) GetRate(context.Context, uuid.UUID) (shipping.Rate, error) { return s.rate, nil }

type stubGateway struct {
	fail    error
	charges int
}

func (g *stubGateway) Charge(_ context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	if g.fail != nil {
		return gateway.ChargeResult{}, g.fail
	}
	g.charges++
	return gateway.ChargeResult{TransactionID: "txn_1", CapturedAmount: req.Amount, Succeeded: true}, nil
}

func (g *stubGateway) Refund(_ context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	return gateway.RefundResult{TransactionID: req.TransactionID, RefundedAmount: req.Amount}, nil
}

func (g *stubGateway) AttachPaymentMethod(context.Context, string, string) error { return nil }

type stubStorefront struct{}

func (stubStorefront) SyncOrder(context.Context, storefront.OrderSync) error   { return nil }
func (stubStorefront) SyncRefund(context.Context, storefront.RefundSync) error { return nil }
func (stubStorefront) CancelOrder(context.Context, uuid.UUID) error            { return nil }

// heldLocker runs inline except for keys marked held, which report
// lock.ErrNotAcquired the way a contended redis lock would.
type heldLocker struct {
	held map[string]bool
}

func (l *heldLocker) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) error {
	return fn(ctx)
}

func (l *heldLocker) TryWithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	if l.held[key] {
		return lock.ErrNotAcquired
	}
	return fn(ctx)
}

// ---- fixture ---------------------------------------------------------------

type sweepFixture struct {
	world   *memWorld
	gateway *stubGateway
	locker  *heldLocker
	sweeper *Sweeper

	customerID uuid.UUID
	childID    uuid.UUID
	cartID     uuid.UUID
	methodID   uuid.UUID
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	world := newMemWorld()
	gw := &stubGateway{}
	locker := &heldLocker{held: make(map[string]bool)}
	logger := zerolog.Nop()

	f := &sweepFixture{
		world:      world,
		gateway:    gw,
		locker:     locker,
		customerID: uuid.New(),
		childID:    uuid.New(),
		cartID:     uuid.New(),
		methodID:   uuid.New(),
	}
	addressID := uuid.New()

	world.customers[f.customerID] = customer.Customer{
		ID: f.customerID, Email: "parent@example.com", GatewayCustomerRef: "cus_1",
	}
	world.children[f.childID] = customer.Child{ID: f.childID, ParentID: f.customerID}
	world.addresses[addressID] = customer.Address{
		ID: addressID, Street: "1 Main St", City: "Austin", State: "TX", Zip: "78701",
	}
	world.methods[f.methodID] = customer.PaymentMethod{
		ID: f.methodID, CustomerID: f.customerID, GatewayToken: "pm_1",
		IsValid: true, SetupForFutureCharges: true, CreatedAt: time.Now(),
	}
	world.carts[f.cartID] = cart.Cart{
		ID: f.cartID, CustomerID: f.customerID, ChildID: f.childID,
		Items: []cart.Item{
			{
				ID: uuid.New(), ProductID: uuid.New(), VariantID: uuid.New(),
				UnitPrice: 549, Quantity: 12, Kind: pricing.KindRecipe, Recurring: true,
			},
			{
				ID: uuid.New(), ProductID: uuid.New(), VariantID: uuid.New(),
				UnitPrice: 250, Quantity: 1, Kind: pricing.KindOther, Recurring: false,
			},
		},
	}

	rates := staticRates{rate: shipping.Rate{ID: uuid.New(), Price: 599, IsDefault: true}}
	assembler := &order.Assembler{
		Orders: world, Carts: world, Customers: world, Grants: world,
		Rates: rates, Tax: tax.Zero{}, Logger: logger,
	}
	lifecycle := &order.Lifecycle{Gateway: gw, Storefront: stubStorefront{}, Logger: logger}
	bus := &events.Bus{Store: world, Logger: logger}
	svc := &order.Service{
		Orders: world, Customers: world, Lifecycle: lifecycle,
		Bus: bus, Locker: locker, Logger: logger,
	}
	f.sweeper = &Sweeper{
		Subscriptions: world,
		Assembler:     assembler,
		Orders:        world,
		Service:       svc,
		Locker:        locker,
		Logger:        logger,
	}
	return f
}

func (f *sweepFixture) addSubscription(due time.Time) customer.Subscription {
	sub := customer.Subscription{
		ID: uuid.New(), ChildID: f.childID, IsActive: true,
		NextOrderChargeDate: due, IntervalDays: 7,
	}
	f.world.subscriptions[sub.ID] = sub
	return sub
}

func (f *sweepFixture) addPendingOrder(attempts int) *order.Order {
	o := &order.Order{
		ID:                uuid.New(),
		CustomerID:        f.customerID,
		ChildID:           f.childID,
		PaymentStatus:     order.PaymentPending,
		FulfillmentStatus: order.FulfillmentPending,
		Total:             7187,
		PaymentMethodID:   f.methodID,
		ChargeAttempts:    attempts,
		PlacedAt:          time.Now(),
	}
	f.world.orders[o.ID] = o
	return o
}

// ---- tests -----------------------------------------------------------------

func TestSubscriptionSweepCreatesOrderAndAdvancesDates(t *testing.T) {
	f := newSweepFixture(t)
	sub := f.addSubscription(time.Now().Add(-time.Hour))

	require.NoError(t, f.sweeper.HandleSubscriptionSweep(context.Background(), nil))

	require.Len(t, f.world.orders, 1)
	for _, o := range f.world.orders {
		require.Equal(t, order.PaymentPending, o.PaymentStatus)
		require.Contains(t, o.Tags, "recurring")
	}

	updated := f.world.subscriptions[sub.ID]
	require.True(t, updated.NextOrderChargeDate.After(time.Now()),
		"next charge date must move into the future")

	// one-time item cleared from the cart
	c := f.world.carts[f.cartID]
	require.Len(t, c.Items, 1)
	require.True(t, c.Items[0].Recurring)
}

func TestSubscriptionSweepSkipsHeldLock(t *testing.T) {
	f := newSweepFixture(t)
	sub := f.addSubscription(time.Now().Add(-time.Hour))
	f.locker.held[subscriptionKey(sub)] = true

	require.NoError(t, f.sweeper.HandleSubscriptionSweep(context.Background(), nil))

	require.Empty(t, f.world.orders)
	require.Equal(t, sub.NextOrderChargeDate,
		f.world.subscriptions[sub.ID].NextOrderChargeDate)
}

func TestSubscriptionSweepIgnoresFutureSubscriptions(t *testing.T) {
	f := newSweepFixture(t)
	f.addSubscription(time.Now().Add(48 * time.Hour))

	require.NoError(t, f.sweeper.HandleSubscriptionSweep(context.Background(), nil))
	require.Empty(t, f.world.orders)
}

func TestChargeSweepChargesPendingOrders(t *testing.T) {
	f := newSweepFixture(t)
	o1 := f.addPendingOrder(0)
	o2 := f.addPendingOrder(0)

	require.NoError(t, f.sweeper.HandleChargeSweep(context.Background(), nil))

	require.Equal(t, 2, f.gateway.charges)
	require.Equal(t, order.PaymentPaid, f.world.orders[o1.ID].PaymentStatus)
	require.Equal(t, order.PaymentPaid, f.world.orders[o2.ID].PaymentStatus)
}

func TestChargeSweepSkipsLockedOrder(t *testing.T) {
	f := newSweepFixture(t)
	o1 := f.addPendingOrder(0)
	o2 := f.addPendingOrder(0)
	f.locker.held["order:charge:"+o1.ID.String()] = true

	require.NoError(t, f.sweeper.HandleChargeSweep(context.Background(), nil))

	require.Equal(t, 1, f.gateway.charges)
	require.Equal(t, order.PaymentPending, f.world.orders[o1.ID].PaymentStatus)
	require.Equal(t, order.PaymentPaid, f.world.orders[o2.ID].PaymentStatus)
}

func TestChargeSweepFailureLeavesOrderPending(t *testing.T) {
	f := newSweepFixture(t)
	o := f.addPendingOrder(0)
	f.gateway.fail = &gateway.Error{Code: gateway.CodeNetwork, Message: "connection reset", Retryable: true}

	require.NoError(t, f.sweeper.HandleChargeSweep(context.Background(), nil))

	got := f.world.orders[o.ID]
	require.Equal(t, order.PaymentPending, got.PaymentStatus)
	require.Equal(t, 1, got.ChargeAttempts)
}

func TestCeilingSweepForcesFailed(t *testing.T) {
	f := newSweepFixture(t)
	o := f.addPendingOrder(order.DefaultMaxChargeAttempts)

	require.NoError(t, f.sweeper.HandleCeilingSweep(context.Background(), nil))

	got := f.world.orders[o.ID]
	require.Equal(t, order.PaymentFailed, got.PaymentStatus)
	require.Zero(t, f.gateway.charges, "ceiling transition must not touch the gateway")
	require.NotEmpty(t, got.ChargeFailureMessage)
}

func TestCeilingSweepLeavesFreshOrdersAlone(t *testing.T) {
	f := newSweepFixture(t)
	o := f.addPendingOrder(order.DefaultMaxChargeAttempts - 1)

	require.NoError(t, f.sweeper.HandleCeilingSweep(context.Background(), nil))
	require.Equal(t, order.PaymentPending, f.world.orders[o.ID].PaymentStatus)
}
