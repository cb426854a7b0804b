package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixfil/masterclass-orders/internal/domain/promo"
)

var _ promo.Ledger = (*UsageLedger)(nil)

// UsageLedger implements promo.Ledger on the append-only
// promo_code_usages table. Reads back the evaluator's advisory limit
// checks; Commit re-validates both limits atomically with the insert.
type UsageLedger struct {
	pool *pgxpool.Pool
}

// NewUsageLedger returns a UsageLedger using the given pool.
func NewUsageLedger(pool *pgxpool.Pool) *UsageLedger {
	return &UsageLedger{pool: pool}
}

// CountUses returns the ledger row count for a code.
func (l *UsageLedger) CountUses(ctx context.Context, codeID string) (int, error) {
	var n int
	err := l.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM promo_code_usages WHERE code_id = $1`, codeID).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count uses for code %s", codeID)
	}
	return n, nil
}

// CountUserUses returns the ledger row count for a (code, user) pair.
func (l *UsageLedger) CountUserUses(ctx context.Context, codeID, userID string) (int, error) {
	var n int
	err := l.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM promo_code_usages WHERE code_id = $1 AND user_id = $2`,
		codeID, userID).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count user uses for code %s", codeID)
	}
	return n, nil
}

// Commit records one redemption in its own transaction, re-checking limits
// under lock. Settlement uses commitUsageTx inside the settlement
// transaction instead; this standalone path serves manual admin credits.
func (l *UsageLedger) Commit(ctx context.Context, usage promo.Usage) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := commitUsageTx(ctx, tx, usage); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// commitUsageTx inserts one ledger row after re-validating the global and
// per-user limits with the promo row locked. Locking the promo_codes row
// serializes concurrent redemptions of the same code: two checkouts racing
// for the last remaining use cannot both pass the count check.
func commitUsageTx(ctx context.Context, tx pgx.Tx, usage promo.Usage) error {
	var usageLimit, perUserLimit int
	err := tx.QueryRow(ctx,
		`SELECT usage_limit, usage_limit_per_user FROM promo_codes WHERE id = $1 FOR UPDATE`,
		usage.CodeID).Scan(&usageLimit, &perUserLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.ErrCodeNotFound
		}
		return errors.Wrapf(err, "lock code %s", usage.CodeID)
	}

	if usageLimit > 0 {
		var n int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM promo_code_usages WHERE code_id = $1`,
			usage.CodeID).Scan(&n); err != nil {
			return errors.Wrap(err, "recount uses")
		}
		if n >= usageLimit {
			return errors.Wrapf(promo.ErrLimitExceeded, "code %s", usage.CodeID)
		}
	}
	if perUserLimit > 0 {
		var n int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM promo_code_usages WHERE code_id = $1 AND user_id = $2`,
			usage.CodeID, usage.UserID).Scan(&n); err != nil {
			return errors.Wrap(err, "recount user uses")
		}
		if n >= perUserLimit {
			return errors.Wrapf(promo.ErrLimitExceeded, "code %s user %s", usage.CodeID, usage.UserID)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO promo_code_usages (code_id, user_id, order_id, amount_saved, redeemed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		usage.CodeID, usage.UserID, usage.OrderID, usage.AmountSaved.Amount(), usage.RedeemedAt)
	if err != nil {
		return errors.Wrap(err, "insert usage")
	}

	// Keep the cached projection close to the ledger; it is refreshable
	// and never authoritative.
	_, err = tx.Exec(ctx,
		`UPDATE promo_codes
		 SET current_usage = (SELECT COUNT(*) FROM promo_code_usages WHERE code_id = $1)
		 WHERE id = $1`, usage.CodeID)
	if err != nil {
		return errors.Wrap(err, "refresh usage cache")
	}
	return nil
}
