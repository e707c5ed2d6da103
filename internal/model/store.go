package model

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store lookups when the requested row does not
// exist.
var ErrNotFound = errors.New("not found")

// Store is the registration-store contract consumed by the admission core.
// Events are read-only here; they are owned by the external
// event-management collaborator.
type Store interface {
	GetEvent(ctx context.Context, id string) (*Event, error)

	// FindRegistration returns the single row for (event, user) regardless
	// of status, or ErrNotFound.
	FindRegistration(ctx context.Context, eventID, userID string) (*Registration, error)

	// CountByStatus counts the event's registrations in any of the given
	// statuses.
	CountByStatus(ctx context.Context, eventID string, statuses ...Status) (int, error)

	// ListByStatus returns the event's registrations in one status, ordered
	// by registration time ascending with the insertion sequence as a
	// deterministic tie-break. A limit <= 0 means no limit.
	ListByStatus(ctx context.Context, eventID string, status Status, limit int) ([]Registration, error)

	// ListByEvent returns all of the event's registrations in the same
	// ordering as ListByStatus.
	ListByEvent(ctx context.Context, eventID string) ([]Registration, error)

	// Insert persists a new registration and fills in its Seq.
	Insert(ctx context.Context, reg *Registration) error

	// Update persists the registration's status, invite code, and
	// registration time by ID.
	Update(ctx context.Context, reg *Registration) error
}

// AdmissionStore is a Store that can additionally serialize
// capacity-affecting work per event.
type AdmissionStore interface {
	Store

	// WithEventLock runs fn inside a transaction that holds an exclusive
	// per-event lock for its whole duration. All store calls made through
	// the supplied Store see the transaction. Returns ErrNotFound when the
	// event does not exist; any error from fn rolls the transaction back
	// and is returned unchanged.
	WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context, tx Store) error) error
}
