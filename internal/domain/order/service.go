package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixfil/masterclass-orders/internal/domain/cart"
	"github.com/pixfil/masterclass-orders/internal/domain/catalog"
	"github.com/pixfil/masterclass-orders/internal/domain/customer"
)

// Sentinel errors for checkout validation.
var (
	ErrCustomerRequired = errors.New("customer required")
	ErrNoCapacity       = errors.New("not enough seats left")
)

// SessionNotFoundError indicates a cart line references an unknown session.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// PaymentInit is the gateway's answer to an authorization request: where
// to send the customer's browser and the transaction reference the later
// notifications will carry.
type PaymentInit struct {
	RedirectURL   string
	TransactionID string
}

// PaymentInitiator builds and sends the outbound authorization request.
// Implemented by the gateway adapter; the call is network-bound and must
// respect the context deadline.
type PaymentInitiator interface {
	Initiate(ctx context.Context, o *Order) (*PaymentInit, error)
}

// CheckoutRequest is the input for submitting a cart.
type CheckoutRequest struct {
	CustomerID string
	Items      []cart.Item
	PromoCodes []string
}

// CheckoutResult holds the created order and the gateway redirect.
type CheckoutResult struct {
	Order       *Order
	RedirectURL string
}

// Service drives checkout: cart validation against the catalog, pricing,
// order creation in pending/pending, and the first payment attempt.
type Service struct {
	sessions  catalog.Repository
	customers customer.Directory
	pricer    *Pricer
	orders    Repository
	gateway   PaymentInitiator
	now       func() time.Time
}

// NewService creates a checkout Service with the required dependencies.
func NewService(
	sessions catalog.Repository,
	customers customer.Directory,
	pricer *Pricer,
	orders Repository,
	gateway PaymentInitiator,
) *Service {
	return &Service{
		sessions:  sessions,
		customers: customers,
		pricer:    pricer,
		orders:    orders,
		gateway:   gateway,
		now:       time.Now,
	}
}

// Checkout validates the cart, prices it, persists the order snapshot in
// pending/pending, creates the first payment attempt, and asks the gateway
// for a redirect. The order snapshot (prices, applied codes, discounts) is
// what settles later; catalog or promo edits cannot retroactively change it.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.CustomerID == "" {
		return nil, ErrCustomerRequired
	}

	cust, err := s.customers.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve customer")
	}

	c, err := cart.FromItems(req.Items)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, cart.ErrEmptyCart
	}

	// Sessions must exist and still have capacity; prices stay the cart's
	// snapshots, never a live re-fetch.
	ids := make([]string, 0, len(c.Items()))
	for _, line := range c.Items() {
		ids = append(ids, line.SessionID)
	}
	sessions, err := s.sessions.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get sessions")
	}
	byID := make(map[string]catalog.Session, len(sessions))
	for _, sess := range sessions {
		byID[sess.ID] = sess
	}
	for _, line := range c.Items() {
		sess, ok := byID[line.SessionID]
		if !ok {
			return nil, &SessionNotFoundError{SessionID: line.SessionID}
		}
		if sess.SeatsLeft() < line.Quantity {
			return nil, errors.Wrapf(ErrNoCapacity, "session %s", line.SessionID)
		}
	}

	quote, err := s.pricer.Price(ctx, c, cust, req.PromoCodes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:            uuid.New().String(),
		Number:        newOrderNumber(now),
		UserID:        cust.ID,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		Subtotal:      quote.Subtotal,
		Discount:      quote.Discount,
		Tax:           quote.Tax,
		Total:         quote.Total,
		AppliedCodes:  quote.Applied,
		CreatedAt:     now,
	}
	for _, line := range c.Items() {
		o.Items = append(o.Items, Item{
			ID:          uuid.New().String(),
			SessionID:   line.SessionID,
			FormationID: line.FormationID,
			CategoryID:  line.CategoryID,
			Title:       byID[line.SessionID].Title,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
		})
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	redirect, err := s.Authorize(ctx, o)
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{Order: o, RedirectURL: redirect}, nil
}

// Authorize creates a payment attempt and asks the gateway for a redirect.
// It is also used to retry a still-pending order after a failed attempt.
// A gateway timeout marks the attempt failed and leaves the order
// retryable; it is never left pending forever.
func (s *Service) Authorize(ctx context.Context, o *Order) (string, error) {
	p := &Payment{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		Amount:    o.Total,
		Status:    AttemptPending,
		CreatedAt: s.now(),
	}

	init, err := s.gateway.Initiate(ctx, o)
	if err != nil {
		p.Status = AttemptFailed
		p.FailureReason = "gateway unreachable"
		if cpErr := s.orders.CreatePayment(ctx, p); cpErr != nil {
			zctx.From(ctx).Error("Recording failed attempt", zap.Error(cpErr))
		}
		return "", errors.Wrap(err, "initiate payment")
	}

	p.TransactionID = init.TransactionID
	if err := s.orders.CreatePayment(ctx, p); err != nil {
		return "", errors.Wrap(err, "create payment")
	}

	return init.RedirectURL, nil
}

// newOrderNumber builds the immutable human-facing order identity, e.g.
// "ORD-20260829-1A2B3C4D".
func newOrderNumber(t time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("ORD-%s-%X", t.UTC().Format("20060102"), id[:4])
}
