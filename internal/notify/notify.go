// Package notify delivers fire-and-forget transition notifications to the
// email collaborator. The engine never awaits delivery; a lost
// notification is an operator concern, not an order-state concern.
package notify

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pixfil/masterclass-orders/internal/domain/order"
)

var _ order.Notifier = (*Notifier)(nil)

// Sender delivers one notification to a recipient. Implementations talk
// to the external email service.
type Sender interface {
	Send(ctx context.Context, userID, template string, payload map[string]string) error
}

// Notifier dispatches order transition events in the background, bounded
// by an errgroup so shutdown can drain in-flight sends.
type Notifier struct {
	sender Sender
	group  *errgroup.Group
	ctx    context.Context
}

// New creates a Notifier. The supplied context bounds all background
// sends; cancel it on shutdown and call Wait to drain.
func New(ctx context.Context, sender Sender) *Notifier {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(16)
	return &Notifier{sender: sender, group: group, ctx: gctx}
}

// Wait blocks until all in-flight sends have finished.
func (n *Notifier) Wait() error {
	return n.group.Wait()
}

func (n *Notifier) dispatch(ctx context.Context, userID, template string, payload map[string]string) {
	lg := zctx.From(ctx)
	n.group.Go(func() error {
		if err := n.sender.Send(n.ctx, userID, template, payload); err != nil {
			lg.Warn("Notification delivery failed",
				zap.String("template", template),
				zap.String("user", userID),
				zap.Error(err))
		}
		// Delivery failures never propagate into order state.
		return nil
	})
}

// OrderConfirmed notifies the customer their seats are confirmed.
func (n *Notifier) OrderConfirmed(ctx context.Context, o *order.Order) {
	n.dispatch(ctx, o.UserID, "order_confirmed", map[string]string{
		"order_number": o.Number,
		"total":        o.Total.String(),
	})
}

// PaymentFailed notifies the customer their payment attempt failed.
func (n *Notifier) PaymentFailed(ctx context.Context, o *order.Order, failureCode string) {
	n.dispatch(ctx, o.UserID, "payment_failed", map[string]string{
		"order_number": o.Number,
		"failure_code": failureCode,
	})
}

// OrderCancelled notifies the customer their order was cancelled.
func (n *Notifier) OrderCancelled(ctx context.Context, o *order.Order) {
	n.dispatch(ctx, o.UserID, "order_cancelled", map[string]string{
		"order_number": o.Number,
	})
}

// LogSender is a Sender that only logs, used until the email collaborator
// is wired in deployment.
type LogSender struct{}

// Send logs the would-be notification.
func (LogSender) Send(ctx context.Context, userID, template string, payload map[string]string) error {
	zctx.From(ctx).Info("Notification",
		zap.String("template", template),
		zap.String("user", userID),
		zap.Any("payload", payload))
	return nil
}
