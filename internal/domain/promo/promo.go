// Package promo implements promotional discount codes: the code model, the
// pure applicability evaluator, and the discount calculation. Evaluation
// never writes; redemption is recorded by the usage ledger at settlement
// time only.
package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/pixfil/masterclass-orders/internal/money"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the eligible subtotal,
	// optionally capped by MaximumDiscountAmount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount subtracts a fixed amount, capped at the eligible subtotal.
	DiscountFixedAmount DiscountType = "fixed_amount"
	// DiscountFreeShipping waives shipping charges. Training sessions ship
	// nothing, so it currently computes a zero discount but must still
	// validate without error.
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Status enumerates the stored lifecycle states of a code. Expiry is always
// derived from the validity window at evaluation time and never read from
// the stored status.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
)

// Code is a reusable discount definition. Codes with usage history are
// soft-disabled via Status, never deleted.
type Code struct {
	ID          string
	Code        string // stored uppercase, matched case-insensitively
	Description string

	DiscountType          DiscountType
	DiscountValue         decimal.Decimal
	MinimumOrderAmount    money.Money
	MaximumDiscountAmount *money.Money

	ApplicableFormations []string
	ExcludedFormations   []string
	ApplicableCategories []string
	ExcludedCategories   []string
	ApplicableUsers      []string
	ExcludedUsers        []string
	UserRoleRestrictions []string
	ApplicableCountries  []string
	ExcludedCountries    []string

	UsageLimit        int // 0 = unlimited
	UsageLimitPerUser int // 0 = unlimited

	ValidFrom  *time.Time
	ValidUntil *time.Time

	FirstOrderOnly bool
	AutoApply      bool
	Stackable      bool

	Status Status

	// CurrentUsage is a cached projection of the ledger row count. It is
	// never the enforcement mechanism; see Ledger.
	CurrentUsage int
}

// ExpiredAt reports whether the code's validity window has closed at t.
// A code with ValidUntil in the past is expired regardless of Status.
func (c *Code) ExpiredAt(t time.Time) bool {
	return c.ValidUntil != nil && c.ValidUntil.Before(t)
}

// StartedAt reports whether the code's validity window has opened at t.
func (c *Code) StartedAt(t time.Time) bool {
	return c.ValidFrom == nil || !c.ValidFrom.After(t)
}

// ErrCodeNotFound indicates no code exists for the given string.
var ErrCodeNotFound = errors.New("promo code not found")

// Repository provides code lookup and cache maintenance.
type Repository interface {
	// FindByCode resolves a code case-insensitively.
	// Returns ErrCodeNotFound when absent or deleted.
	FindByCode(ctx context.Context, code string) (*Code, error)
	// ListAutoApply returns active codes flagged auto_apply.
	ListAutoApply(ctx context.Context) ([]*Code, error)
	// RefreshUsageCount recomputes the cached CurrentUsage projection from
	// the ledger row count.
	RefreshUsageCount(ctx context.Context, codeID string) error
}

// Usage is one append-only redemption ledger row.
type Usage struct {
	CodeID      string
	UserID      string
	OrderID     string
	AmountSaved money.Money
	RedeemedAt  time.Time
}

// ErrLimitExceeded is returned by Ledger.Commit when a write-time limit
// re-check fails, i.e. a concurrent checkout won the last remaining use
// between evaluation and settlement.
var ErrLimitExceeded = errors.New("promo code usage limit exceeded")

// Ledger records redemptions. Commit must re-validate the global and
// per-user limits atomically with the insert; the read methods back the
// evaluator's limit predicates and are advisory only.
type Ledger interface {
	CountUses(ctx context.Context, codeID string) (int, error)
	CountUserUses(ctx context.Context, codeID, userID string) (int, error)
	Commit(ctx context.Context, usage Usage) error
}
