package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixfil/masterclass-orders/internal/domain/customer"
)

var _ customer.Directory = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Directory backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// GetByID resolves a customer profile.
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*customer.Customer, error) {
	var c customer.Customer
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, role, billing_country FROM customers WHERE id = $1`, id).Scan(
		&c.ID, &c.Email, &c.Role, &c.BillingCountry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(customer.ErrCustomerNotFound, "id %s", id)
		}
		return nil, errors.Wrapf(err, "get customer %s", id)
	}
	return &c, nil
}
