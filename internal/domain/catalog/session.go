// Package catalog exposes the training-session catalog contract consumed
// by checkout. Prices on a cart are snapshots; the catalog is only
// consulted to verify a session still exists and has capacity.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/pixfil/masterclass-orders/internal/money"
)

// ErrSessionNotFound indicates the requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is one scheduled occurrence of a formation with a seat capacity.
type Session struct {
	ID          string
	FormationID string
	CategoryID  string
	Title       string
	Price       money.Money
	Capacity    int
	SeatsTaken  int
	StartsAt    time.Time
}

// SeatsLeft returns the remaining capacity.
func (s Session) SeatsLeft() int {
	left := s.Capacity - s.SeatsTaken
	if left < 0 {
		return 0
	}
	return left
}

// Repository provides session lookup and listing.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Session, error)
	GetByIDs(ctx context.Context, ids []string) ([]Session, error)
	// List returns all upcoming sessions ordered by start time.
	List(ctx context.Context) ([]Session, error)
}
