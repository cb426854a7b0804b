package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixfil/masterclass-orders/internal/domain/promo"
)

// statusTransitions is the automatic transition table for the fulfillment
// axis. cancelled is reachable from any non-terminal state, refunded only
// from completed.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusProcessing, StatusCompleted, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCompleted, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusRefunded},
}

// paymentTransitions is the transition table for the payment axis. A failed
// order may still go paid: a fresh attempt can succeed after a failure.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentFailed:  {PaymentPaid, PaymentFailed},
	PaymentPaid:    {PaymentRefunded, PaymentPartial},
}

// terminalStatuses accept no further automatic transitions.
var terminalStatuses = map[Status]bool{
	StatusCancelled: true,
	StatusRefunded:  true,
	StatusCompleted: true,
}

// cancellableStatuses are the states a customer or admin may cancel from.
var cancellableStatuses = map[Status]bool{
	StatusPending:    true,
	StatusConfirmed:  true,
	StatusProcessing: true,
}

// CanTransition reports whether the fulfillment axis allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether the payment axis allows from -> to.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is an enumerated order status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// ValidPaymentStatus reports whether s is an enumerated payment status.
func ValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded, PaymentPartial:
		return true
	}
	return false
}

// PaymentNotice is a gateway notification after signature validation,
// neutral of the wire format. Both the synchronous return and the
// asynchronous webhook produce one; applying either is idempotent.
type PaymentNotice struct {
	OrderNumber   string
	TransactionID string
	Succeeded     bool
	ThreeDS       ThreeDSOutcome
	FailureCode   string
	FailureReason string
}

// Notifier receives fire-and-forget transition events. Implementations
// must not block the caller.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *Order)
	PaymentFailed(ctx context.Context, o *Order, failureCode string)
	OrderCancelled(ctx context.Context, o *Order)
}

// Outcome describes what applying a notice actually did.
type Outcome struct {
	// Replay is true when the attempt was already terminal and nothing
	// changed. Replays are acknowledged, never errors.
	Replay bool
	// Flagged is true when a ledger commit lost its limit re-check and the
	// order was flagged for manual review instead of settling.
	Flagged bool
	Order   *Order
}

// Lifecycle owns all order and registration status transitions. Per-order
// serialization is provided by the repository, which applies settlements
// under a row lock in a single transaction.
type Lifecycle struct {
	orders   Repository
	notifier Notifier
	now      func() time.Time
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(orders Repository, notifier Notifier) *Lifecycle {
	return &Lifecycle{orders: orders, notifier: notifier, now: time.Now}
}

// ApplyNotice consumes a validated gateway notification and mutates order,
// payment and registration state. Applying the same notification twice
// yields exactly one state change; the second application is a replay.
func (l *Lifecycle) ApplyNotice(ctx context.Context, n PaymentNotice) (*Outcome, error) {
	lg := zctx.From(ctx)

	o, err := l.orders.GetByNumber(ctx, n.OrderNumber)
	if err != nil {
		return nil, err
	}

	p, err := l.orders.FindPaymentByTransactionID(ctx, n.TransactionID)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		lg.Info("Replayed payment notification",
			zap.String("order", o.Number),
			zap.String("transaction_id", n.TransactionID))
		return &Outcome{Replay: true, Order: o}, nil
	}

	if !n.Succeeded {
		err := l.orders.RecordFailure(ctx, Failure{
			OrderID:       o.ID,
			PaymentID:     p.ID,
			ThreeDS:       n.ThreeDS,
			FailureCode:   n.FailureCode,
			FailureReason: n.FailureReason,
		})
		if err != nil {
			if errors.Is(err, ErrReplay) {
				return &Outcome{Replay: true, Order: o}, nil
			}
			return nil, errors.Wrap(err, "record failure")
		}
		lg.Info("Payment failed",
			zap.String("order", o.Number),
			zap.String("failure_code", n.FailureCode))
		l.notifier.PaymentFailed(ctx, o, n.FailureCode)
		return &Outcome{Order: o}, nil
	}

	settlement := Settlement{
		OrderID:       o.ID,
		PaymentID:     p.ID,
		TransactionID: n.TransactionID,
		ThreeDS:       n.ThreeDS,
		Registrations: l.materializeRegistrations(o),
		Usages:        l.usages(o),
	}

	if err := l.orders.Settle(ctx, settlement); err != nil {
		switch {
		case errors.Is(err, ErrReplay):
			// A concurrent notification won the row lock first.
			return &Outcome{Replay: true, Order: o}, nil
		case errors.Is(err, promo.ErrLimitExceeded):
			// The read-time limit check passed but the write-time re-check
			// lost to a concurrent redemption. The discount is revoked:
			// reject the paid transition and hand the order to a human
			// rather than silently charging the undiscounted amount.
			lg.Warn("Promo usage limit race lost, flagging order for review",
				zap.String("order", o.Number))
			if mrErr := l.orders.MarkReview(ctx, o.ID, "promo usage limit exceeded at settlement"); mrErr != nil {
				return nil, errors.Wrap(mrErr, "mark review")
			}
			return &Outcome{Flagged: true, Order: o}, nil
		default:
			return nil, errors.Wrap(err, "settle")
		}
	}

	lg.Info("Order settled",
		zap.String("order", o.Number),
		zap.String("transaction_id", n.TransactionID),
		zap.Int("registrations", len(settlement.Registrations)))
	l.notifier.OrderConfirmed(ctx, o)
	return &Outcome{Order: o}, nil
}

// materializeRegistrations builds one active registration per ordered seat.
func (l *Lifecycle) materializeRegistrations(o *Order) []Registration {
	var regs []Registration
	for _, item := range o.Items {
		for seat := 0; seat < item.Quantity; seat++ {
			regs = append(regs, Registration{
				ID:          uuid.New().String(),
				OrderID:     o.ID,
				OrderItemID: item.ID,
				SessionID:   item.SessionID,
				UserID:      o.UserID,
				Status:      RegistrationActive,
				CreatedAt:   l.now(),
			})
		}
	}
	return regs
}

// usages builds one ledger row per applied code.
func (l *Lifecycle) usages(o *Order) []promo.Usage {
	var usages []promo.Usage
	for _, ac := range o.AppliedCodes {
		usages = append(usages, promo.Usage{
			CodeID:      ac.CodeID,
			UserID:      o.UserID,
			OrderID:     o.ID,
			AmountSaved: ac.Discount,
			RedeemedAt:  l.now(),
		})
	}
	return usages
}

// Cancel transitions the order to cancelled. Allowed only while the order
// is pending, confirmed or processing. A paid payment status is left
// untouched; refunding is a separate explicit action.
func (l *Lifecycle) Cancel(ctx context.Context, number string) (*Order, error) {
	o, err := l.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !cancellableStatuses[o.Status] {
		return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, StatusCancelled)
	}
	if err := l.orders.UpdateStatus(ctx, o.ID, StatusCancelled); err != nil {
		return nil, err
	}
	o.Status = StatusCancelled
	l.notifier.OrderCancelled(ctx, o)
	return o, nil
}

// AdminSetStatus applies an administrative fulfillment edit. Fulfillment
// and payment are orthogonal; only enum membership is validated. Moving an
// order out of a terminal state is allowed for admins and logged as an
// explicit override.
func (l *Lifecycle) AdminSetStatus(ctx context.Context, number string, target Status) (*Order, error) {
	if !ValidStatus(target) {
		return nil, errors.Wrapf(ErrInvalidTransition, "unknown status %q", target)
	}
	o, err := l.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if terminalStatuses[o.Status] {
		zctx.From(ctx).Warn("Administrative override of terminal order status",
			zap.String("order", o.Number),
			zap.String("from", string(o.Status)),
			zap.String("to", string(target)))
	}
	if err := l.orders.UpdateStatus(ctx, o.ID, target); err != nil {
		return nil, err
	}
	o.Status = target
	return o, nil
}

// AdminSetPaymentStatus applies an administrative payment-status edit,
// validated against the payment transition table (e.g. a manual refund is
// paid -> refunded).
func (l *Lifecycle) AdminSetPaymentStatus(ctx context.Context, number string, target PaymentStatus) (*Order, error) {
	if !ValidPaymentStatus(target) {
		return nil, errors.Wrapf(ErrInvalidTransition, "unknown payment status %q", target)
	}
	o, err := l.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !CanTransitionPayment(o.PaymentStatus, target) {
		return nil, errors.Wrapf(ErrInvalidTransition, "payment %s -> %s", o.PaymentStatus, target)
	}
	if err := l.orders.UpdatePaymentStatus(ctx, o.ID, target); err != nil {
		return nil, err
	}
	o.PaymentStatus = target
	return o, nil
}
