package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/pixfil/masterclass-orders/internal/domain/cart"
	"github.com/pixfil/masterclass-orders/internal/domain/customer"
	"github.com/pixfil/masterclass-orders/internal/money"
)

// Reason identifies which applicability predicate a code failed. Reasons
// are stable identifiers surfaced to the storefront.
type Reason string

const (
	ReasonNotFound        Reason = "code_not_found"
	ReasonInactive        Reason = "code_inactive"
	ReasonExpired         Reason = "code_expired"
	ReasonNotYetValid     Reason = "code_not_yet_valid"
	ReasonMinimumNotMet   Reason = "minimum_not_met"
	ReasonNoEligibleItems Reason = "no_eligible_items"
	ReasonUserExcluded    Reason = "user_not_eligible"
	ReasonRoleExcluded    Reason = "role_not_eligible"
	ReasonCountryExcluded Reason = "country_not_eligible"
	ReasonFirstOrderOnly  Reason = "first_order_only"
	ReasonUsageLimit      Reason = "usage_limit_reached"
	ReasonUserUsageLimit  Reason = "user_usage_limit_reached"
	ReasonNotStackable    Reason = "not_stackable"
)

// NotApplicableError reports a failed applicability predicate with the
// specific reason the storefront renders.
type NotApplicableError struct {
	Code   string
	Reason Reason
}

func (e *NotApplicableError) Error() string {
	return fmt.Sprintf("promo code %s not applicable: %s", e.Code, e.Reason)
}

func notApplicable(code string, reason Reason) error {
	return &NotApplicableError{Code: code, Reason: reason}
}

// PaidOrderCounter reports how many settled orders a customer already has.
// Backed by the order repository.
type PaidOrderCounter interface {
	CountPaidOrders(ctx context.Context, userID string) (int, error)
}

// Evaluation is the outcome of a successful applicability check.
type Evaluation struct {
	Code *Code
	// Discount is the amount this code removes, rounded half-up to the
	// currency minor unit at computation time.
	Discount money.Money
	// EligibleSessions lists the cart lines the discount was computed
	// over, in cart order.
	EligibleSessions []string
}

// Context carries the running checkout state a code is evaluated against:
// the codes already applied and the discounted-so-far amount per cart line
// (stackable codes apply sequentially, each against the remaining value of
// the lines it is eligible for).
type Context struct {
	Applied []*Code
	// RemainingByLine maps session id to the line total minus discounts
	// already taken by earlier codes. Nil means no code applied yet.
	RemainingByLine map[string]money.Money
}

// Evaluator decides code applicability and computes discounts. Evaluation
// is a pure function over its inputs plus ledger counts; it never writes.
type Evaluator struct {
	codes  Repository
	ledger Ledger
	orders PaidOrderCounter
	now    func() time.Time
}

// NewEvaluator creates an Evaluator with the required read-side dependencies.
func NewEvaluator(codes Repository, ledger Ledger, orders PaidOrderCounter) *Evaluator {
	return &Evaluator{codes: codes, ledger: ledger, orders: orders, now: time.Now}
}

// Evaluate runs the applicability predicates in order, short-circuiting on
// the first failure, and computes the discount on success. Failures are
// *NotApplicableError values; any other error is an infrastructure fault.
func (e *Evaluator) Evaluate(ctx context.Context, codeStr string, c *cart.Cart, cust *customer.Customer, ec Context) (*Evaluation, error) {
	code, err := e.codes.FindByCode(ctx, codeStr)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return nil, notApplicable(codeStr, ReasonNotFound)
		}
		return nil, errors.Wrap(err, "find code")
	}

	return e.EvaluateCode(ctx, code, c, cust, ec)
}

// EvaluateCode is Evaluate for an already-loaded code, used for auto-apply
// sweeps where codes are listed rather than looked up.
func (e *Evaluator) EvaluateCode(ctx context.Context, code *Code, c *cart.Cart, cust *customer.Customer, ec Context) (*Evaluation, error) {
	now := e.now()

	// Expiry is derived from the window, never trusted from stored status:
	// an admin can leave Status=active on a code past its ValidUntil.
	if code.ExpiredAt(now) {
		return nil, notApplicable(code.Code, ReasonExpired)
	}
	if code.Status != StatusActive {
		return nil, notApplicable(code.Code, ReasonInactive)
	}
	if !code.StartedAt(now) {
		return nil, notApplicable(code.Code, ReasonNotYetValid)
	}

	if c.Subtotal().LessThan(code.MinimumOrderAmount) {
		return nil, notApplicable(code.Code, ReasonMinimumNotMet)
	}

	eligible := eligibleLines(code, c.Items())
	if len(eligible) == 0 {
		return nil, notApplicable(code.Code, ReasonNoEligibleItems)
	}

	if reason, ok := customerPasses(code, cust); !ok {
		return nil, notApplicable(code.Code, reason)
	}

	if code.FirstOrderOnly {
		paid, err := e.orders.CountPaidOrders(ctx, cust.ID)
		if err != nil {
			return nil, errors.Wrap(err, "count paid orders")
		}
		if paid > 0 {
			return nil, notApplicable(code.Code, ReasonFirstOrderOnly)
		}
	}

	if code.UsageLimit > 0 {
		uses, err := e.ledger.CountUses(ctx, code.ID)
		if err != nil {
			return nil, errors.Wrap(err, "count uses")
		}
		if uses >= code.UsageLimit {
			return nil, notApplicable(code.Code, ReasonUsageLimit)
		}
	}
	if code.UsageLimitPerUser > 0 {
		uses, err := e.ledger.CountUserUses(ctx, code.ID, cust.ID)
		if err != nil {
			return nil, errors.Wrap(err, "count user uses")
		}
		if uses >= code.UsageLimitPerUser {
			return nil, notApplicable(code.Code, ReasonUserUsageLimit)
		}
	}

	for _, applied := range ec.Applied {
		if !applied.Stackable || !code.Stackable {
			return nil, notApplicable(code.Code, ReasonNotStackable)
		}
	}

	discount := computeDiscount(code, eligible, ec.RemainingByLine)

	sessions := make([]string, len(eligible))
	for i, line := range eligible {
		sessions[i] = line.SessionID
	}

	return &Evaluation{Code: code, Discount: discount, EligibleSessions: sessions}, nil
}

// eligibleLines returns the cart lines the code may discount. Inclusion
// lists restrict when non-empty; exclusion always wins when both match.
func eligibleLines(code *Code, items []cart.Item) []cart.Item {
	var out []cart.Item
	for _, it := range items {
		if contains(code.ExcludedFormations, it.FormationID) {
			continue
		}
		if contains(code.ExcludedCategories, it.CategoryID) {
			continue
		}
		if len(code.ApplicableFormations) > 0 && !contains(code.ApplicableFormations, it.FormationID) {
			continue
		}
		if len(code.ApplicableCategories) > 0 && !contains(code.ApplicableCategories, it.CategoryID) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// customerPasses checks the user, role and billing-country filters.
func customerPasses(code *Code, cust *customer.Customer) (Reason, bool) {
	if contains(code.ExcludedUsers, cust.ID) {
		return ReasonUserExcluded, false
	}
	if len(code.ApplicableUsers) > 0 && !contains(code.ApplicableUsers, cust.ID) {
		return ReasonUserExcluded, false
	}
	if len(code.UserRoleRestrictions) > 0 &&
		!contains(code.UserRoleRestrictions, customer.RoleAll) &&
		!contains(code.UserRoleRestrictions, cust.Role) {
		return ReasonRoleExcluded, false
	}
	if contains(code.ExcludedCountries, cust.BillingCountry) {
		return ReasonCountryExcluded, false
	}
	if len(code.ApplicableCountries) > 0 && !contains(code.ApplicableCountries, cust.BillingCountry) {
		return ReasonCountryExcluded, false
	}
	return "", true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
