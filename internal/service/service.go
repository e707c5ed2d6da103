// Package service implements the admission core: deciding whether a
// registration is admitted, waitlisted, or rejected, promoting waitlisted
// entries when capacity frees up, and handling organizer-issued
// invitations.
//
// Every public operation returns a model.Result. Business rejections
// (already registered, bad invite code, event closed or past, not
// registered) are non-success results, never Go errors; only store-level
// failures populate Result.Error, and those never escape as panics or
// returned errors either. Callers may safely retry a whole operation after
// a failure because admission always begins with an existing-row lookup.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/eventgate/eventgate/internal/model"
)

const (
	// eventCacheTTL bounds staleness of the read-side event cache. The
	// admission path never reads through this cache: it fetches the event
	// inside the per-event lock.
	eventCacheTTL     = 15 * time.Second
	eventCacheCleanup = 5 * time.Minute
)

// AdmissionService orchestrates registration, cancellation, promotion, and
// invitations against the registration store.
type AdmissionService struct {
	store  model.AdmissionStore
	events *gocache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewAdmissionService constructs an AdmissionService.
func NewAdmissionService(store model.AdmissionStore, logger *zap.Logger) *AdmissionService {
	return &AdmissionService{
		store:  store,
		events: gocache.New(eventCacheTTL, eventCacheCleanup),
		logger: logger,
		now:    time.Now,
	}
}

// Register decides the admission outcome for (event, user) and persists it.
//
// Gating order: existing registration, invite code, closure, event date,
// capacity. The capacity read and the write happen inside the store's
// per-event lock, so two racing requests can never both take the last
// slot. A previously cancelled registration is revived in place, keeping a
// single row per (event, user); its refreshed timestamp puts a returning
// user at the back of the waitlist.
func (s *AdmissionService) Register(ctx context.Context, eventID, userID, inviteCode string) model.Result {
	userID = strings.TrimSpace(userID)
	inviteCode = strings.TrimSpace(inviteCode)

	var res model.Result
	err := s.store.WithEventLock(ctx, eventID, func(ctx context.Context, tx model.Store) error {
		event, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}

		existing, err := tx.FindRegistration(ctx, eventID, userID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if existing != nil && existing.Status != model.StatusCancelled {
			res = rejection(model.KindAlreadyRegistered, "already registered for this event")
			res.Registration = existing
			return nil
		}

		switch event.RegistrationType {
		case model.TypeInviteOnly:
			if inviteCode == "" {
				res = rejection(model.KindInviteRequired, "invite code required")
				return nil
			}
			if !event.InviteCodeMatches(inviteCode) {
				res = rejection(model.KindInvalidInviteCode, "invalid invite code")
				return nil
			}
		case model.TypeClosed:
			// Closure is unconditional: a valid invite code does not
			// reopen a closed event.
			res = rejection(model.KindRegistrationClosed, "registration is closed for this event")
			return nil
		}

		if event.EndsBefore(s.now()) {
			res = rejection(model.KindEventInPast, "event is in the past")
			return nil
		}

		full, err := s.atCapacity(ctx, tx, event)
		if err != nil {
			return err
		}

		status := model.StatusRegistered
		kind := model.KindAdmitted
		message := "registered for event"
		if full {
			status = model.StatusWaitlist
			kind = model.KindWaitlisted
			message = "event is at capacity, added to waitlist"
		}

		var code *string
		if inviteCode != "" {
			code = &inviteCode
		}

		reg := existing
		if reg != nil {
			reg.Status = status
			reg.InviteCode = code
			reg.RegisteredAt = s.now().UTC()
			if err := tx.Update(ctx, reg); err != nil {
				return err
			}
		} else {
			reg = &model.Registration{
				ID:           uuid.New().String(),
				EventID:      eventID,
				UserID:       userID,
				Status:       status,
				InviteCode:   code,
				RegisteredAt: s.now().UTC(),
			}
			if err := tx.Insert(ctx, reg); err != nil {
				return err
			}
		}

		res = model.Result{Success: true, Kind: kind, Message: message, Registration: reg}
		return nil
	})
	if err != nil {
		return s.failure("register", eventID, userID, err)
	}

	s.logger.Info("registration decided",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
		zap.String("kind", string(res.Kind)),
	)
	return res
}

// Cancel withdraws the user's registration. Cancelling an admitted entry
// frees a slot and promotes the earliest waitlisted entry inside the same
// transaction; cancelling a waitlisted or invited entry frees nothing and
// promotes nobody.
func (s *AdmissionService) Cancel(ctx context.Context, eventID, userID string) model.Result {
	userID = strings.TrimSpace(userID)

	var res model.Result
	err := s.store.WithEventLock(ctx, eventID, func(ctx context.Context, tx model.Store) error {
		existing, err := tx.FindRegistration(ctx, eventID, userID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				res = rejection(model.KindNotRegistered, "not registered for this event")
				return nil
			}
			return err
		}
		if existing.Status == model.StatusCancelled {
			res = rejection(model.KindNotRegistered, "not registered for this event")
			return nil
		}

		prior := existing.Status
		existing.Status = model.StatusCancelled
		if err := tx.Update(ctx, existing); err != nil {
			return err
		}

		res = model.Result{
			Success:      true,
			Kind:         model.KindCancelled,
			Message:      "registration cancelled",
			Registration: existing,
		}

		if prior.Admitted() {
			promoted, err := s.promoteNext(ctx, tx, eventID)
			if err != nil {
				return err
			}
			res.Promoted = promoted
		}
		return nil
	})
	if err != nil {
		return s.failure("cancel", eventID, userID, err)
	}

	if res.Promoted != nil {
		s.logger.Info("waitlist entry promoted",
			zap.String("event_id", eventID),
			zap.String("promoted_user_id", res.Promoted.UserID),
		)
	}
	return res
}

// Invite records an organizer-issued invitation: guaranteed admission
// outside capacity accounting. Authorization of the organizer happens
// upstream, in the identity collaborator; by the time this runs the caller
// is trusted.
func (s *AdmissionService) Invite(ctx context.Context, eventID, userID string) model.Result {
	userID = strings.TrimSpace(userID)

	var res model.Result
	err := s.store.WithEventLock(ctx, eventID, func(ctx context.Context, tx model.Store) error {
		existing, err := tx.FindRegistration(ctx, eventID, userID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if existing != nil && existing.Status != model.StatusCancelled {
			res = rejection(model.KindAlreadyRegistered, "already registered for this event")
			res.Registration = existing
			return nil
		}

		reg := existing
		if reg != nil {
			reg.Status = model.StatusInvited
			reg.InviteCode = nil
			reg.RegisteredAt = s.now().UTC()
			if err := tx.Update(ctx, reg); err != nil {
				return err
			}
		} else {
			reg = &model.Registration{
				ID:           uuid.New().String(),
				EventID:      eventID,
				UserID:       userID,
				Status:       model.StatusInvited,
				RegisteredAt: s.now().UTC(),
			}
			if err := tx.Insert(ctx, reg); err != nil {
				return err
			}
		}

		res = model.Result{Success: true, Kind: model.KindInvited, Message: "invitation recorded", Registration: reg}
		return nil
	})
	if err != nil {
		return s.failure("invite", eventID, userID, err)
	}

	s.logger.Info("invitation issued",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
	)
	return res
}

// GetEvent is the read-side event lookup, cached briefly. Admission never
// uses this path.
func (s *AdmissionService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if v, ok := s.events.Get(id); ok {
		if e, ok := v.(*model.Event); ok {
			return e, nil
		}
	}

	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.SetDefault(id, event)
	return event, nil
}

// ListRegistrations returns the event's registrations, optionally filtered
// to one status. Waitlist listings come back in promotion order.
func (s *AdmissionService) ListRegistrations(ctx context.Context, eventID string, status model.Status) ([]model.Registration, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	if status != "" {
		return s.store.ListByStatus(ctx, eventID, status, 0)
	}
	return s.store.ListByEvent(ctx, eventID)
}

// atCapacity reports whether the event's admitted count has reached its
// capacity. An absent capacity means unlimited. Callers must hold the
// per-event lock so the count cannot go stale before the write.
func (s *AdmissionService) atCapacity(ctx context.Context, store model.Store, event *model.Event) (bool, error) {
	if event.Capacity == nil {
		return false, nil
	}
	count, err := store.CountByStatus(ctx, event.ID, model.AdmittedStatuses...)
	if err != nil {
		return false, err
	}
	return count >= *event.Capacity, nil
}

// promoteNext admits the earliest waitlisted entry, if any. Runs inside
// the caller's per-event lock so a concurrent registration cannot grab the
// transiently freed slot.
func (s *AdmissionService) promoteNext(ctx context.Context, tx model.Store, eventID string) (*model.Registration, error) {
	queue, err := tx.ListByStatus(ctx, eventID, model.StatusWaitlist, 1)
	if err != nil {
		return nil, err
	}
	if len(queue) == 0 {
		return nil, nil
	}

	next := queue[0]
	next.Status = model.StatusRegistered
	if err := tx.Update(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func rejection(kind model.ResultKind, message string) model.Result {
	return model.Result{Kind: kind, Message: message}
}

// failure folds store-level errors into the result envelope so they never
// cross the component boundary as Go errors.
func (s *AdmissionService) failure(op, eventID, userID string, err error) model.Result {
	if errors.Is(err, model.ErrNotFound) {
		return rejection(model.KindEventNotFound, "event not found")
	}

	s.logger.Error("store failure",
		zap.String("op", op),
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
		zap.Error(err),
	)
	return model.Result{
		Kind:    model.KindStoreFailure,
		Message: "store failure",
		Error:   err.Error(),
	}
}
