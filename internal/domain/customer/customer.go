// Package customer holds the minimal identity profile the settlement engine
// needs; the full identity service lives outside this repository.
package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrCustomerNotFound indicates an unknown customer id.
var ErrCustomerNotFound = errors.New("customer not found")

// Role values recognized by promo-code role restrictions. RoleAll always
// passes restriction checks.
const (
	RoleAll     = "all"
	RoleStudent = "student"
	RolePro     = "professional"
	RoleCompany = "company"
)

// Customer is the engine's view of a buyer.
type Customer struct {
	ID             string
	Email          string
	Role           string
	BillingCountry string // ISO 3166-1 alpha-2, e.g. "FR"
}

// Directory resolves customer profiles, backed by the identity collaborator.
type Directory interface {
	GetByID(ctx context.Context, id string) (*Customer, error)
}
