// Package repository implements the registration store on PostgreSQL.
// It uses pgx directly (no ORM) for transparency and performance.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventgate/eventgate/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// below works inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries holds the SQL shared by the pool-backed store and its
// transaction-scoped view.
type queries struct {
	q querier
}

// Store is the pool-backed registration store.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// NewStore constructs a Store on the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{q: pool}, pool: pool}
}

// txStore is the transaction-scoped view handed to WithEventLock callbacks.
type txStore struct {
	queries
}

// WithEventLock serializes capacity-affecting work per event.
//
// It opens a transaction and takes a row-level exclusive lock on the event
// with SELECT ... FOR UPDATE before running fn. Any concurrent transaction
// locking the same event blocks until this one commits or rolls back, so
// the read-count-then-write sequences inside fn can never interleave:
// without the lock, two registrations could both observe one free slot and
// both be admitted, or two cancellations could both promote the same
// waitlist entry.
func (s *Store) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context, tx model.Store) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var locked string
	err = tx.QueryRow(ctx,
		`SELECT id FROM events WHERE id = $1 FOR UPDATE`,
		eventID,
	).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrNotFound
		}
		return fmt.Errorf("lock event row: %w", err)
	}

	if err = fn(ctx, &txStore{queries{q: tx}}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetEvent returns a single event or model.ErrNotFound.
func (s *queries) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	err := s.q.QueryRow(ctx,
		`SELECT id, name, description, date, capacity, registration_type, invite_code, created_at
		 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Name, &e.Description, &e.Date, &e.Capacity, &e.RegistrationType, &e.InviteCode, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

const registrationColumns = `id, event_id, user_id, status, invite_code, registered_at, seq`

// FindRegistration returns the row for (event, user) regardless of status,
// or model.ErrNotFound. The unique index on (event_id, user_id) guarantees
// at most one row exists.
func (s *queries) FindRegistration(ctx context.Context, eventID, userID string) (*model.Registration, error) {
	var reg model.Registration
	err := s.q.QueryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND user_id = $2`,
		eventID, userID,
	).Scan(&reg.ID, &reg.EventID, &reg.UserID, &reg.Status, &reg.InviteCode, &reg.RegisteredAt, &reg.Seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return &reg, nil
}

// CountByStatus counts the event's registrations in any of the given
// statuses.
func (s *queries) CountByStatus(ctx context.Context, eventID string, statuses ...model.Status) (int, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	var count int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = ANY($2)`,
		eventID, names,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return count, nil
}

// ListByStatus returns the event's registrations in one status, oldest
// first with the insertion sequence as tie-break.
func (s *queries) ListByStatus(ctx context.Context, eventID string, status model.Status, limit int) ([]model.Registration, error) {
	sql := `SELECT ` + registrationColumns + `
		 FROM registrations
		 WHERE event_id = $1 AND status = $2
		 ORDER BY registered_at ASC, seq ASC`
	args := []any{eventID, status}
	if limit > 0 {
		sql += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations by status: %w", err)
	}
	defer rows.Close()

	return scanRegistrations(rows)
}

// ListByEvent returns all of the event's registrations, oldest first.
func (s *queries) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY registered_at ASC, seq ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	return scanRegistrations(rows)
}

// Insert persists a new registration and fills in the store-assigned Seq.
func (s *queries) Insert(ctx context.Context, reg *model.Registration) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO registrations (id, event_id, user_id, status, invite_code, registered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING seq`,
		reg.ID, reg.EventID, reg.UserID, reg.Status, reg.InviteCode, reg.RegisteredAt,
	).Scan(&reg.Seq)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// Update persists status, invite code, and registration time by ID.
func (s *queries) Update(ctx context.Context, reg *model.Registration) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE registrations
		 SET status = $2, invite_code = $3, registered_at = $4
		 WHERE id = $1`,
		reg.ID, reg.Status, reg.InviteCode, reg.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func scanRegistrations(rows pgx.Rows) ([]model.Registration, error) {
	var regs []model.Registration
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(&reg.ID, &reg.EventID, &reg.UserID, &reg.Status, &reg.InviteCode, &reg.RegisteredAt, &reg.Seq); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}
