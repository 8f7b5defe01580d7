package order

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-mealkit/internal/cart"
	"github.com/noah-isme/backend-mealkit/internal/customer"
	"github.com/noah-isme/backend-mealkit/internal/discount"
	"github.com/noah-isme/backend-mealkit/internal/gateway"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/shipping"
	"github.com/noah-isme/backend-mealkit/internal/storefront"
)

type memOrderStore struct {
	orders       map[uuid.UUID]*Order
	failItems    bool
	failUpdate   bool
	deleted      []uuid.UUID
	updates      int
	createdItems int
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[uuid.UUID]*Order)}
}

func (m *memOrderStore) Create(_ context.Context, o *Order) error {
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrderStore) CreateLineItems(_ context.Context, items []LineItem) error {
	if m.failItems {
		return errors.New("bulk insert failed")
	}
	m.createdItems += len(items)
	if len(items) > 0 {
		if o, ok := m.orders[items[0].OrderID]; ok {
			o.Items = append(o.Items, items...)
		}
	}
	return nil
}

func (m *memOrderStore) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.orders, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memOrderStore) Update(_ context.Context, o *Order) error {
	if m.failUpdate {
		return errors.New("update failed")
	}
	m.updates++
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrderStore) Get(_ context.Context, id uuid.UUID) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderStore) LatestForChild(_ context.Context, childID uuid.UUID) (*Order, error) {
	return m.latest(func(o *Order) bool { return o.ChildID == childID })
}

func (m *memOrderStore) LatestForCustomer(_ context.Context, customerID uuid.UUID) (*Order, error) {
	return m.latest(func(o *Order) bool { return o.CustomerID == customerID })
}

func (m *memOrderStore) latest(match func(*Order) bool) (*Order, error) {
	var candidates []*Order
	for _, o := range m.orders {
		if match(o) {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].PlacedAt.After(candidates[j].PlacedAt)
	})
	cp := *candidates[0]
	return &cp, nil
}

func (m *memOrderStore) CountForChild(_ context.Context, childID uuid.UUID) (int, error) {
	n := 0
	for _, o := range m.orders {
		if o.ChildID == childID {
			n++
		}
	}
	return n, nil
}

func (m *memOrderStore) ListPendingCharges(_ context.Context, limit int) ([]*Order, error) {
	var out []*Order
	for _, o := range m.orders {
		if o.PaymentStatus == PaymentPending && o.FulfillmentStatus != FulfillmentCancelled {
			cp := *o
			out = append(out, &cp)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memOrderStore) ListOverAttemptCeiling(_ context.Context, ceiling int) ([]*Order, error) {
	var out []*Order
	for _, o := range m.orders {
		if o.PaymentStatus == PaymentPending && o.ChargeAttempts >= ceiling {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memCustomerStore struct {
	customers map[uuid.UUID]customer.Customer
	children  map[uuid.UUID]customer.Child
	addresses map[uuid.UUID]customer.Address
	methods   map[uuid.UUID]customer.PaymentMethod
}

func newMemCustomerStore() *memCustomerStore {
	return &memCustomerStore{
		customers: make(map[uuid.UUID]customer.Customer),
		children:  make(map[uuid.UUID]customer.Child),
		addresses: make(map[uuid.UUID]customer.Address),
		methods:   make(map[uuid.UUID]customer.PaymentMethod),
	}
}

func (m *memCustomerStore) GetCustomer(_ context.Context, id uuid.UUID) (customer.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return customer.Customer{}, errors.New("not found")
	}
	return c, nil
}

func (m *memCustomerStore) GetChild(_ context.Context, id uuid.UUID) (customer.Child, error) {
	c, ok := m.children[id]
	if !ok {
		return customer.Child{}, errors.New("not found")
	}
	return c, nil
}

func (m *memCustomerStore) FirstAddress(_ context.Context, customerID uuid.UUID) (customer.Address, error) {
	for _, a := range m.addresses {
		return a, nil
	}
	return customer.Address{}, errors.New("not found")
}

func (m *memCustomerStore) GetAddress(_ context.Context, id uuid.UUID) (customer.Address, error) {
	a, ok := m.addresses[id]
	if !ok {
		return customer.Address{}, errors.New("not found")
	}
	return a, nil
}

func (m *memCustomerStore) LatestChargeablePaymentMethod(_ context.Context, customerID uuid.UUID) (customer.PaymentMethod, error) {
	var best customer.PaymentMethod
	found := false
	for _, pm := range m.methods {
		if pm.CustomerID != customerID || !pm.IsValid || !pm.SetupForFutureCharges {
			continue
		}
		if !found || pm.CreatedAt.After(best.CreatedAt) {
			best = pm
			found = true
		}
	}
	if !found {
		return customer.PaymentMethod{}, errors.New("not found")
	}
	return best, nil
}

func (m *memCustomerStore) GetPaymentMethod(_ context.Context, id uuid.UUID) (customer.PaymentMethod, error) {
	pm, ok := m.methods[id]
	if !ok {
		return customer.PaymentMethod{}, errors.New("not found")
	}
	return pm, nil
}

type memCartStore struct {
	carts          map[uuid.UUID]cart.Cart
	oneTimeCleared []uuid.UUID
}

func newMemCartStore() *memCartStore {
	return &memCartStore{carts: make(map[uuid.UUID]cart.Cart)}
}

func (m *memCartStore) GetByChild(_ context.Context, childID uuid.UUID) (cart.Cart, error) {
	for _, c := range m.carts {
		if c.ChildID == childID {
			return c, nil
		}
	}
	return cart.Cart{}, errors.New("not found")
}

func (m *memCartStore) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]cart.Cart, error) {
	var out []cart.Cart
	for _, c := range m.carts {
		if c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *memCartStore) RemoveOneTimeItems(_ context.Context, cartID uuid.UUID) error {
	c, ok := m.carts[cartID]
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
	m.carts[cartID] = c
	m.oneTimeCleared = append(m.oneTimeCleared, cartID)
	return nil
}

type memDiscountStore struct {
	discounts map[uuid.UUID]discount.Discount
	grants    map[uuid.UUID]discount.Grant
}

func newMemDiscountStore() *memDiscountStore {
	return &memDiscountStore{
		discounts: make(map[uuid.UUID]discount.Discount),
		grants:    make(map[uuid.UUID]discount.Grant),
	}
}

func (m *memDiscountStore) GetDiscountByCodename(_ context.Context, codename string) (discount.Discount, error) {
	for _, d := range m.discounts {
		if d.Codename == codename {
			return d, nil
		}
	}
	return discount.Discount{}, errors.New("not found")
}

func (m *memDiscountStore) GetDiscount(_ context.Context, id uuid.UUID) (discount.Discount, error) {
	d, ok := m.discounts[id]
	if !ok {
		return discount.Discount{}, errors.New("not found")
	}
	return d, nil
}

func (m *memDiscountStore) DeleteUnredeemedByCustomer(_ context.Context, customerID uuid.UUID) error {
	for id, g := range m.grants {
		if g.CustomerID == customerID && g.Status == discount.GrantUnredeemed {
			delete(m.grants, id)
		}
	}
	return nil
}

func (m *memDiscountStore) CreateGrant(_ context.Context, grant *discount.Grant) error {
	m.grants[grant.ID] = *grant
	return nil
}

func (m *memDiscountStore) GetGrant(_ context.Context, id uuid.UUID) (discount.Grant, error) {
	g, ok := m.grants[id]
	if !ok {
		return discount.Grant{}, discount.ErrNoGrant
	}
	return g, nil
}

func (m *memDiscountStore) UpdateGrant(_ context.Context, grant discount.Grant) error {
	m.grants[grant.ID] = grant
	return nil
}

func (m *memDiscountStore) ActiveGrantForChild(_ context.Context, customerID, childID uuid.UUID) (discount.Grant, error) {
	for _, g := range m.grants {
		if g.CustomerID == customerID && g.ChildID == childID &&
			g.Status == discount.GrantUnredeemed && g.IsActive {
			return g, nil
		}
	}
	return discount.Grant{}, discount.ErrNoGrant
}

type fixedRates struct {
	rate shipping.Rate
}

func (f fixedRates) DefaultRate(context.Context) (shipping.Rate, error) { return f.rate, nil }

func (f fixedRates) GetRate(_ context.Context, id uuid.UUID) (shipping.Rate, error) {
	if id != f.rate.ID {
		return shipping.Rate{}, shipping.ErrNoDefaultRate
	}
	return f.rate, nil
}

type fakeGateway struct {
	charges []gateway.ChargeRequest
	refunds []gateway.RefundRequest
	fail    error
	capture pricing.Money // overrides the captured amount when nonzero
}

func (f *fakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	if f.fail != nil {
		return gateway.ChargeResult{}, f.fail
	}
	f.charges = append(f.charges, req)
	captured := req.Amount
	if f.capture != 0 {
		captured = f.capture
	}
	return gateway.ChargeResult{
		TransactionID:  "txn_" + req.IdempotencyKey,
		CapturedAmount: captured,
		Succeeded:      true,
	}, nil
}

func (f *fakeGateway) Refund(_ context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	if f.fail != nil {
		return gateway.RefundResult{}, f.fail
	}
	f.refunds = append(f.refunds, req)
	return gateway.RefundResult{TransactionID: req.TransactionID, RefundedAmount: req.Amount}, nil
}

func (f *fakeGateway) AttachPaymentMethod(context.Context, string, string) error { return nil }

type fakeStorefront struct {
	orders     []storefront.OrderSync
	refunds    []storefront.RefundSync
	cancels    []uuid.UUID
	failCancel error
}

func (f *fakeStorefront) SyncOrder(_ context.Context, s storefront.OrderSync) error {
	f.orders = append(f.orders, s)
	return nil
}

func (f *fakeStorefront) SyncRefund(_ context.Context, s storefront.RefundSync) error {
	f.refunds = append(f.refunds, s)
	return nil
}

func (f *fakeStorefront) CancelOrder(_ context.Context, id uuid.UUID) error {
	if f.failCancel != nil {
		return f.failCancel
	}
	f.cancels = append(f.cancels, id)
	return nil
}

type inlineLocker struct{}

func (inlineLocker) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) error {
	return fn(ctx)
}

func (inlineLocker) TryWithLock(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) error {
	return fn(ctx)
}

type memEventStore struct {
	topics []string
}

func (m *memEventStore) InsertDomainEvent(_ context.Context, topic string, _ uuid.UUID, _ []byte) error {
	m.topics = append(m.topics, topic)
	return nil
}
