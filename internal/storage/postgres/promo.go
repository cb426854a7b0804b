package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pixfil/masterclass-orders/internal/domain/promo"
	"github.com/pixfil/masterclass-orders/internal/money"
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

const promoColumns = `id, code, description, discount_type, discount_value,
	minimum_order_amount, maximum_discount_amount,
	applicable_formations, excluded_formations,
	applicable_categories, excluded_categories,
	applicable_users, excluded_users, user_role_restrictions,
	applicable_countries, excluded_countries,
	usage_limit, usage_limit_per_user, valid_from, valid_until,
	first_order_only, auto_apply, stackable, status, current_usage`

// FindByCode resolves a code case-insensitively; the unique index is on
// UPPER(code). Returns promo.ErrCodeNotFound when absent.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+promoColumns+` FROM promo_codes WHERE UPPER(code) = UPPER($1)`, code)
	c, err := scanPromo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrCodeNotFound
		}
		return nil, errors.Wrapf(err, "find code %q", code)
	}
	return c, nil
}

// ListAutoApply returns active codes flagged auto_apply.
func (r *PromoRepository) ListAutoApply(ctx context.Context) ([]*promo.Code, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+promoColumns+` FROM promo_codes WHERE auto_apply AND status = 'active' ORDER BY code`)
	if err != nil {
		return nil, errors.Wrap(err, "list auto-apply codes")
	}
	defer rows.Close()

	var codes []*promo.Code
	for rows.Next() {
		c, err := scanPromo(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan code")
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// RefreshUsageCount recomputes the cached current_usage projection from
// the ledger row count.
func (r *PromoRepository) RefreshUsageCount(ctx context.Context, codeID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE promo_codes
		 SET current_usage = (SELECT COUNT(*) FROM promo_code_usages WHERE code_id = $1)
		 WHERE id = $1`, codeID)
	if err != nil {
		return errors.Wrapf(err, "refresh usage count %s", codeID)
	}
	return nil
}

func scanPromo(row pgx.Row) (*promo.Code, error) {
	var (
		c        promo.Code
		value    decimal.Decimal
		minOrder decimal.Decimal
		maxDisc  *decimal.Decimal
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &c.DiscountType, &value,
		&minOrder, &maxDisc,
		&c.ApplicableFormations, &c.ExcludedFormations,
		&c.ApplicableCategories, &c.ExcludedCategories,
		&c.ApplicableUsers, &c.ExcludedUsers, &c.UserRoleRestrictions,
		&c.ApplicableCountries, &c.ExcludedCountries,
		&c.UsageLimit, &c.UsageLimitPerUser, &c.ValidFrom, &c.ValidUntil,
		&c.FirstOrderOnly, &c.AutoApply, &c.Stackable, &c.Status, &c.CurrentUsage)
	if err != nil {
		return nil, err
	}
	c.DiscountValue = value
	c.MinimumOrderAmount = money.New(minOrder, money.EUR)
	if maxDisc != nil {
		m := money.New(*maxDisc, money.EUR)
		c.MaximumDiscountAmount = &m
	}
	return &c, nil
}
