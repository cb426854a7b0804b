// Package order owns the order, payment and registration models, the
// pricing composition, and the status state machine that reconciles
// gateway notifications with locally held state.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/pixfil/masterclass-orders/internal/domain/promo"
	"github.com/pixfil/masterclass-orders/internal/money"
)

// Status is the fulfillment axis of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus is the money axis of an order, observed independently of
// the fulfillment Status.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentPartial  PaymentStatus = "partial"
)

// AttemptStatus is the status of a single payment attempt row.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptPaid    AttemptStatus = "paid"
	AttemptFailed  AttemptStatus = "failed"
)

// Terminal reports whether the attempt accepts no further notifications.
// A notification for a terminal attempt is a replay.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptPaid || s == AttemptFailed
}

// ThreeDSOutcome records how the 3-D Secure challenge concluded.
type ThreeDSOutcome string

const (
	ThreeDSFulfilled   ThreeDSOutcome = "fulfilled"
	ThreeDSAbandoned   ThreeDSOutcome = "abandoned"
	ThreeDSNotRequired ThreeDSOutcome = "not_required"
)

// Item is one snapshotted order line: price and session captured at
// checkout so later catalog edits cannot alter a placed order.
type Item struct {
	ID          string
	SessionID   string
	FormationID string
	CategoryID  string
	Title       string
	UnitPrice   money.Money
	Quantity    int
}

// AppliedCode snapshots a promo code redemption on an order.
type AppliedCode struct {
	CodeID   string
	Code     string
	Discount money.Money
}

// Order is created once at checkout with an immutable Number; Status and
// PaymentStatus are mutated only through Lifecycle transitions. Orders are
// never deleted; cancellation is a status.
type Order struct {
	ID            string
	Number        string
	UserID        string
	Status        Status
	PaymentStatus PaymentStatus

	Subtotal money.Money
	Discount money.Money
	Tax      money.Money
	Total    money.Money

	Items        []Item
	AppliedCodes []AppliedCode

	// NeedsReview flags an order whose discount was revoked by a lost
	// usage-limit race at settlement time; a human decides the outcome.
	NeedsReview  bool
	ReviewReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment is one attempt at settling an order through the gateway. An
// order may accumulate failed attempts; at most one may be paid.
type Payment struct {
	ID            string
	OrderID       string
	TransactionID string // gateway transaction reference
	Amount        money.Money
	Status        AttemptStatus
	ThreeDS       ThreeDSOutcome
	FailureCode   string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Registration is one confirmed seat, materialized per ordered seat once
// payment succeeds and independently trackable afterwards.
type Registration struct {
	ID                string
	OrderID           string
	OrderItemID       string
	SessionID         string
	UserID            string
	Status            RegistrationStatus
	CertificateIssued bool
	CreatedAt         time.Time
}

// RegistrationStatus tracks a confirmed seat.
type RegistrationStatus string

const (
	RegistrationActive    RegistrationStatus = "active"
	RegistrationCancelled RegistrationStatus = "cancelled"
	RegistrationCompleted RegistrationStatus = "completed"
)

// Sentinel errors shared across the package.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrReplay            = errors.New("notification already applied")
)

// Settlement is the atomic unit a success notification produces: the
// payment and order updates, the registrations to materialize, and the
// ledger rows to commit. The repository applies it in one transaction with
// the order row locked, re-checking attempt terminality under the lock.
type Settlement struct {
	OrderID       string
	PaymentID     string
	TransactionID string
	ThreeDS       ThreeDSOutcome
	Registrations []Registration
	Usages        []promo.Usage
}

// Failure records a failed attempt: the payment row goes failed, the order
// payment_status goes failed, and the order status stays put so the
// customer can retry with a fresh attempt.
type Failure struct {
	OrderID       string
	PaymentID     string
	ThreeDS       ThreeDSOutcome
	FailureCode   string
	FailureReason string
}

// Repository defines persistence for orders, payments and registrations.
// Settle and RecordFailure are atomic; see internal/storage/postgres.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByNumber(ctx context.Context, number string) (*Order, error)
	CountPaidOrders(ctx context.Context, userID string) (int, error)

	CreatePayment(ctx context.Context, p *Payment) error
	FindPaymentByTransactionID(ctx context.Context, txnID string) (*Payment, error)

	// Settle applies a success notification in one transaction. Returns
	// ErrReplay when the attempt is already terminal under the lock, and
	// promo.ErrLimitExceeded when a ledger commit loses its limit re-check.
	Settle(ctx context.Context, s Settlement) error
	RecordFailure(ctx context.Context, f Failure) error
	MarkReview(ctx context.Context, orderID, reason string) error

	UpdateStatus(ctx context.Context, orderID string, status Status) error
	UpdatePaymentStatus(ctx context.Context, orderID string, status PaymentStatus) error
	ListRegistrations(ctx context.Context, orderID string) ([]Registration, error)
}
