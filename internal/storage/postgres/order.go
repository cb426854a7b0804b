package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pixfil/masterclass-orders/internal/domain/order"
	"github.com/pixfil/masterclass-orders/internal/money"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
// Settle and RecordFailure serialize per-order by locking the order row,
// so concurrent notifications for the same order cannot race.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// appliedCodeRow is the JSONB shape of one applied code snapshot.
type appliedCodeRow struct {
	CodeID   string `json:"code_id"`
	Code     string `json:"code"`
	Discount string `json:"discount"`
}

func marshalAppliedCodes(codes []order.AppliedCode) ([]byte, error) {
	rows := make([]appliedCodeRow, len(codes))
	for i, c := range codes {
		rows[i] = appliedCodeRow{
			CodeID:   c.CodeID,
			Code:     c.Code,
			Discount: c.Discount.Amount().StringFixed(2),
		}
	}
	return json.Marshal(rows)
}

func unmarshalAppliedCodes(raw []byte) ([]order.AppliedCode, error) {
	var rows []appliedCodeRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	codes := make([]order.AppliedCode, 0, len(rows))
	for _, r := range rows {
		amount, err := decimal.NewFromString(r.Discount)
		if err != nil {
			return nil, errors.Wrapf(err, "applied code %s discount", r.Code)
		}
		codes = append(codes, order.AppliedCode{
			CodeID:   r.CodeID,
			Code:     r.Code,
			Discount: money.New(amount, money.EUR),
		})
	}
	return codes, nil
}

// Create persists a new order with its item snapshots in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	appliedJSON, err := marshalAppliedCodes(o.AppliedCodes)
	if err != nil {
		return errors.Wrap(err, "marshal applied codes")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, order_number, user_id, status, payment_status,
		                     subtotal, discount, tax, total, applied_codes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		o.ID, o.Number, o.UserID, o.Status, o.PaymentStatus,
		o.Subtotal.Amount(), o.Discount.Amount(), o.Tax.Amount(), o.Total.Amount(),
		appliedJSON, o.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert order %s", o.Number)
	}

	for _, item := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (id, order_id, session_id, formation_id, category_id, title, unit_price, quantity)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, o.ID, item.SessionID, item.FormationID, item.CategoryID,
			item.Title, item.UnitPrice.Amount(), item.Quantity)
		if err != nil {
			return errors.Wrapf(err, "insert order item %s", item.ID)
		}
	}

	return tx.Commit(ctx)
}

// GetByNumber loads an order and its items by the immutable order number.
// Returns order.ErrOrderNotFound when absent.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	var (
		o           order.Order
		subtotal    decimal.Decimal
		discount    decimal.Decimal
		tax         decimal.Decimal
		total       decimal.Decimal
		appliedJSON []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, order_number, user_id, status, payment_status,
		        subtotal, discount, tax, total, applied_codes,
		        needs_review, review_reason, created_at, updated_at
		 FROM orders WHERE order_number = $1`, number).Scan(
		&o.ID, &o.Number, &o.UserID, &o.Status, &o.PaymentStatus,
		&subtotal, &discount, &tax, &total, &appliedJSON,
		&o.NeedsReview, &o.ReviewReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "get order %s", number)
	}

	o.Subtotal = money.New(subtotal, money.EUR)
	o.Discount = money.New(discount, money.EUR)
	o.Tax = money.New(tax, money.EUR)
	o.Total = money.New(total, money.EUR)

	if o.AppliedCodes, err = unmarshalAppliedCodes(appliedJSON); err != nil {
		return nil, errors.Wrapf(err, "decode applied codes for %s", number)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, formation_id, category_id, title, unit_price, quantity
		 FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "get items for %s", number)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item  order.Item
			price decimal.Decimal
		)
		if err := rows.Scan(&item.ID, &item.SessionID, &item.FormationID,
			&item.CategoryID, &item.Title, &price, &item.Quantity); err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		item.UnitPrice = money.New(price, money.EUR)
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate items")
	}

	return &o, nil
}

// CountPaidOrders returns how many settled orders a customer has, backing
// the first_order_only predicate.
func (r *OrderRepository) CountPaidOrders(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 AND payment_status = 'paid'`,
		userID).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count paid orders for user %s", userID)
	}
	return n, nil
}

// CreatePayment persists a new payment attempt row.
func (r *OrderRepository) CreatePayment(ctx context.Context, p *order.Payment) error {
	var txnID *string
	if p.TransactionID != "" {
		txnID = &p.TransactionID
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payments (id, order_id, transaction_id, amount, currency, status,
		                       three_ds, failure_code, failure_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		p.ID, p.OrderID, txnID, p.Amount.Amount(), string(p.Amount.Currency()),
		p.Status, p.ThreeDS, p.FailureCode, p.FailureReason, p.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert payment %s", p.ID)
	}
	return nil
}

// FindPaymentByTransactionID resolves a payment attempt by the gateway
// transaction reference. Returns order.ErrPaymentNotFound when absent.
func (r *OrderRepository) FindPaymentByTransactionID(ctx context.Context, txnID string) (*order.Payment, error) {
	var (
		p        order.Payment
		amount   decimal.Decimal
		currency string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, order_id, transaction_id, amount, currency, status,
		        three_ds, failure_code, failure_reason, created_at, updated_at
		 FROM payments WHERE transaction_id = $1`, txnID).Scan(
		&p.ID, &p.OrderID, &p.TransactionID, &amount, &currency, &p.Status,
		&p.ThreeDS, &p.FailureCode, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrPaymentNotFound
		}
		return nil, errors.Wrapf(err, "find payment by transaction %s", txnID)
	}
	p.Amount = money.New(amount, money.Currency(currency))
	return &p, nil
}

// Settle applies a success notification atomically: under the order row
// lock it re-checks attempt terminality, marks the attempt and order paid,
// confirms the order, materializes registrations, consumes session seats,
// and commits the promo ledger rows with their write-time limit re-checks.
func (r *OrderRepository) Settle(ctx context.Context, s order.Settlement) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockOrder(ctx, tx, s.OrderID); err != nil {
		return err
	}

	var attemptStatus order.AttemptStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM payments WHERE id = $1 FOR UPDATE`, s.PaymentID).Scan(&attemptStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrPaymentNotFound
		}
		return errors.Wrapf(err, "lock payment %s", s.PaymentID)
	}
	if attemptStatus.Terminal() {
		return order.ErrReplay
	}

	// Ledger first: a lost limit re-check aborts the whole settlement
	// before any money state changes.
	for _, usage := range s.Usages {
		if err := commitUsageTx(ctx, tx, usage); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE payments SET status = 'paid', three_ds = $2, updated_at = now() WHERE id = $1`,
		s.PaymentID, s.ThreeDS)
	if err != nil {
		return errors.Wrap(err, "mark payment paid")
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET payment_status = 'paid', status = 'confirmed', updated_at = now() WHERE id = $1`,
		s.OrderID)
	if err != nil {
		return errors.Wrap(err, "mark order paid")
	}

	for _, reg := range s.Registrations {
		_, err = tx.Exec(ctx,
			`INSERT INTO registrations (id, order_id, order_item_id, session_id, user_id, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			reg.ID, reg.OrderID, reg.OrderItemID, reg.SessionID, reg.UserID, reg.Status, reg.CreatedAt)
		if err != nil {
			return errors.Wrapf(err, "insert registration %s", reg.ID)
		}
		_, err = tx.Exec(ctx,
			`UPDATE training_sessions SET seats_taken = seats_taken + 1 WHERE id = $1`,
			reg.SessionID)
		if err != nil {
			return errors.Wrapf(err, "consume seat for session %s", reg.SessionID)
		}
	}

	return tx.Commit(ctx)
}

// RecordFailure marks an attempt failed and the order payment_status
// failed, leaving the order status untouched so a fresh attempt can run.
func (r *OrderRepository) RecordFailure(ctx context.Context, f order.Failure) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockOrder(ctx, tx, f.OrderID); err != nil {
		return err
	}

	var attemptStatus order.AttemptStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM payments WHERE id = $1 FOR UPDATE`, f.PaymentID).Scan(&attemptStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrPaymentNotFound
		}
		return errors.Wrapf(err, "lock payment %s", f.PaymentID)
	}
	if attemptStatus.Terminal() {
		return order.ErrReplay
	}

	_, err = tx.Exec(ctx,
		`UPDATE payments SET status = 'failed', three_ds = $2, failure_code = $3,
		        failure_reason = $4, updated_at = now()
		 WHERE id = $1`,
		f.PaymentID, f.ThreeDS, f.FailureCode, f.FailureReason)
	if err != nil {
		return errors.Wrap(err, "mark payment failed")
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET payment_status = 'failed', updated_at = now() WHERE id = $1`,
		f.OrderID)
	if err != nil {
		return errors.Wrap(err, "mark order payment failed")
	}

	return tx.Commit(ctx)
}

// MarkReview flags an order for manual follow-up.
func (r *OrderRepository) MarkReview(ctx context.Context, orderID, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET needs_review = TRUE, review_reason = $2, updated_at = now() WHERE id = $1`,
		orderID, reason)
	if err != nil {
		return errors.Wrapf(err, "mark review %s", orderID)
	}
	return nil
}

// UpdateStatus sets the fulfillment status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status order.Status) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, orderID, status)
	if err != nil {
		return errors.Wrapf(err, "update status %s", orderID)
	}
	return nil
}

// UpdatePaymentStatus sets the payment status axis.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, orderID string, status order.PaymentStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`, orderID, status)
	if err != nil {
		return errors.Wrapf(err, "update payment status %s", orderID)
	}
	return nil
}

// ListRegistrations returns the registrations materialized for an order.
func (r *OrderRepository) ListRegistrations(ctx context.Context, orderID string) ([]order.Registration, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, order_item_id, session_id, user_id, status, certificate_issued, created_at
		 FROM registrations WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list registrations %s", orderID)
	}
	defer rows.Close()

	var regs []order.Registration
	for rows.Next() {
		var reg order.Registration
		if err := rows.Scan(&reg.ID, &reg.OrderID, &reg.OrderItemID, &reg.SessionID,
			&reg.UserID, &reg.Status, &reg.CertificateIssued, &reg.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan registration")
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// lockOrder takes the per-order serialization lock.
func lockOrder(ctx context.Context, tx pgx.Tx, orderID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrOrderNotFound
		}
		return errors.Wrapf(err, "lock order %s", orderID)
	}
	return nil
}
