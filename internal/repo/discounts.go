package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-mealkit/internal/discount"
)

const discountColumns = `id, codename, kind, amount, is_active, referrer_customer_id`

const getDiscountByCodenameSQL = `SELECT ` + discountColumns + ` FROM discounts
	WHERE lower(codename) = lower($1)`

const getDiscountSQL = `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`

const getRulesSQL = `SELECT id, type, minimum_cart_amount, product_ids, customer_ids,
	nth_time_subscriber, number_of_orders, is_active
	FROM discount_rules WHERE discount_id = $1 ORDER BY id`

const deleteUnredeemedGrantsSQL = `DELETE FROM customer_discounts
	WHERE customer_id = $1 AND status = 'unredeemed'`

const createGrantSQL = `INSERT INTO customer_discounts
	(id, discount_id, customer_id, child_id, status, redemption_count, redemption_limit,
	 is_active, applied_at, redeemed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const grantColumns = `id, discount_id, customer_id, child_id, status,
	redemption_count, redemption_limit, is_active, applied_at, redeemed_at`

const getGrantSQL = `SELECT ` + grantColumns + ` FROM customer_discounts WHERE id = $1`

const updateGrantSQL = `UPDATE customer_discounts SET
	status = $2, redemption_count = $3, is_active = $4, redeemed_at = $5
	WHERE id = $1`

const activeGrantForChildSQL = `SELECT ` + grantColumns + ` FROM customer_discounts
	WHERE customer_id = $1 AND child_id = $2 AND status = 'unredeemed' AND is_active
	ORDER BY applied_at DESC LIMIT 1`

var _ discount.GrantStore = (*DiscountRepository)(nil)

// DiscountRepository implements discount.GrantStore backed by PostgreSQL.
// Codename lookup is case-insensitive.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository using the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

func (r *DiscountRepository) GetDiscountByCodename(ctx context.Context, codename string) (discount.Discount, error) {
	return r.scanDiscount(ctx, getDiscountByCodenameSQL, codename)
}

func (r *DiscountRepository) GetDiscount(ctx context.Context, id uuid.UUID) (discount.Discount, error) {
	return r.scanDiscount(ctx, getDiscountSQL, id)
}

func (r *DiscountRepository) scanDiscount(ctx context.Context, sql string, arg any) (discount.Discount, error) {
	var d discount.Discount
	var kind string
	err := r.pool.QueryRow(ctx, sql, arg).Scan(&d.ID, &d.Codename, &kind,
		&d.Amount, &d.IsActive, &d.ReferrerCustomerID)
	if err != nil {
		return discount.Discount{}, fmt.Errorf("querying discount: %w", err)
	}
	d.Kind = discount.Kind(kind)
	if err := r.loadRules(ctx, &d); err != nil {
		return discount.Discount{}, err
	}
	return d, nil
}

func (r *DiscountRepository) loadRules(ctx context.Context, d *discount.Discount) error {
	rows, err := r.pool.Query(ctx, getRulesSQL, d.ID)
	if err != nil {
		return fmt.Errorf("querying rules for discount %s: %w", d.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rule discount.Rule
		var ruleType string
		if err := rows.Scan(&rule.ID, &ruleType, &rule.MinimumCartAmount,
			&rule.ProductIDs, &rule.CustomerIDs,
			&rule.NthTimeSubscriber, &rule.NumberOfOrders, &rule.IsActive); err != nil {
			return fmt.Errorf("scanning discount rule: %w", err)
		}
		rule.Type = discount.RuleType(ruleType)
		d.Rules = append(d.Rules, rule)
	}
	return rows.Err()
}

// DeleteUnredeemedByCustomer supersedes the customer's existing
// unredeemed grants across all discounts.
func (r *DiscountRepository) DeleteUnredeemedByCustomer(ctx context.Context, customerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, deleteUnredeemedGrantsSQL, customerID)
	if err != nil {
		return fmt.Errorf("deleting unredeemed grants for %s: %w", customerID, err)
	}
	return nil
}

func (r *DiscountRepository) CreateGrant(ctx context.Context, grant *discount.Grant) error {
	_, err := r.pool.Exec(ctx, createGrantSQL,
		grant.ID, grant.DiscountID, grant.CustomerID, grant.ChildID,
		string(grant.Status), grant.RedemptionCount, grant.RedemptionLimit,
		grant.IsActive, grant.AppliedAt, grant.RedeemedAt,
	)
	if err != nil {
		return fmt.Errorf("creating grant %s: %w", grant.ID, err)
	}
	return nil
}

func (r *DiscountRepository) GetGrant(ctx context.Context, id uuid.UUID) (discount.Grant, error) {
	return r.scanGrant(ctx, getGrantSQL, id)
}

func (r *DiscountRepository) UpdateGrant(ctx context.Context, grant discount.Grant) error {
	tag, err := r.pool.Exec(ctx, updateGrantSQL,
		grant.ID, string(grant.Status), grant.RedemptionCount, grant.IsActive, grant.RedeemedAt)
	if err != nil {
		return fmt.Errorf("updating grant %s: %w", grant.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating grant %s: %w", grant.ID, discount.ErrNoGrant)
	}
	return nil
}

func (r *DiscountRepository) ActiveGrantForChild(ctx context.Context, customerID, childID uuid.UUID) (discount.Grant, error) {
	var g discount.Grant
	var status string
	err := r.pool.QueryRow(ctx, activeGrantForChildSQL, customerID, childID).Scan(
		&g.ID, &g.DiscountID, &g.CustomerID, &g.ChildID, &status,
		&g.RedemptionCount, &g.RedemptionLimit, &g.IsActive, &g.AppliedAt, &g.RedeemedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return discount.Grant{}, discount.ErrNoGrant
	}
	if err != nil {
		return discount.Grant{}, fmt.Errorf("querying active grant: %w", err)
	}
	g.Status = discount.GrantStatus(status)
	return g, nil
}

func (r *DiscountRepository) scanGrant(ctx context.Context, sql string, arg any) (discount.Grant, error) {
	var g discount.Grant
	var status string
	err := r.pool.QueryRow(ctx, sql, arg).Scan(
		&g.ID, &g.DiscountID, &g.CustomerID, &g.ChildID, &status,
		&g.RedemptionCount, &g.RedemptionLimit, &g.IsActive, &g.AppliedAt, &g.RedeemedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return discount.Grant{}, discount.ErrNoGrant
	}
	if err != nil {
		return discount.Grant{}, fmt.Errorf("querying grant: %w", err)
	}
	g.Status = discount.GrantStatus(status)
	return g, nil
}
