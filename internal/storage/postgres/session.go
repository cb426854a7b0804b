package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pixfil/masterclass-orders/internal/domain/catalog"
	"github.com/pixfil/masterclass-orders/internal/money"
)

var _ catalog.Repository = (*SessionRepository)(nil)

// SessionRepository implements catalog.Repository backed by PostgreSQL.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, formation_id, category_id, title, price, capacity, seats_taken, starts_at`

// GetByID resolves one session. Returns catalog.ErrSessionNotFound when absent.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*catalog.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM training_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrSessionNotFound
		}
		return nil, errors.Wrapf(err, "get session %s", id)
	}
	return s, nil
}

// GetByIDs batch-fetches sessions in a single query. Missing ids are
// simply absent from the result; the caller decides whether that is fatal.
func (r *SessionRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM training_sessions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get sessions")
	}
	defer rows.Close()

	var sessions []catalog.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// List returns all sessions ordered by start time.
func (r *SessionRepository) List(ctx context.Context) ([]catalog.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM training_sessions ORDER BY starts_at`)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	var sessions []catalog.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*catalog.Session, error) {
	var (
		s     catalog.Session
		price decimal.Decimal
	)
	err := row.Scan(&s.ID, &s.FormationID, &s.CategoryID, &s.Title,
		&price, &s.Capacity, &s.SeatsTaken, &s.StartsAt)
	if err != nil {
		return nil, err
	}
	s.Price = money.New(price, money.EUR)
	return &s, nil
}
