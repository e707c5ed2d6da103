// Package model defines the core domain types for event admission:
// events, registrations, their statuses, and the uniform result envelope
// returned by every admission operation.
package model

import (
	"strings"
	"time"
)

// RegistrationType controls who may register for an event.
type RegistrationType string

const (
	// TypeOpen accepts anyone until capacity is reached.
	TypeOpen RegistrationType = "open"
	// TypeInviteOnly requires the event's invite code at registration time.
	TypeInviteOnly RegistrationType = "invite_only"
	// TypeClosed accepts nobody, invite codes included.
	TypeClosed RegistrationType = "closed"
)

// Status is the lifecycle state of a registration.
type Status string

const (
	// StatusRegistered is an admitted registration holding a capacity slot.
	StatusRegistered Status = "registered"
	// StatusWaitlist is queued behind capacity, promoted in FIFO order.
	StatusWaitlist Status = "waitlist"
	// StatusCancelled is a withdrawn registration. The row is kept so the
	// user can re-register under the same ID.
	StatusCancelled Status = "cancelled"
	// StatusAttended is an admitted registration that checked in. It holds
	// a capacity slot exactly like StatusRegistered.
	StatusAttended Status = "attended"
	// StatusInvited is an organizer-issued registration. It bypasses
	// capacity entirely and never sits on the waitlist.
	StatusInvited Status = "invited"
)

// Admitted reports whether the status counts toward event capacity.
func (s Status) Admitted() bool {
	return s == StatusRegistered || s == StatusAttended
}

// AdmittedStatuses are the statuses counted by the capacity evaluator.
var AdmittedStatuses = []Status{StatusRegistered, StatusAttended}

// Event represents a bookable event owned by the external event-management
// collaborator. This core only reads events.
type Event struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// Date is the event's calendar day; time-of-day is not tracked.
	Date time.Time `json:"date"`
	// Capacity is the maximum number of admitted registrations.
	// Nil means unlimited.
	Capacity         *int             `json:"capacity,omitempty"`
	RegistrationType RegistrationType `json:"registration_type"`
	InviteCode       *string          `json:"-"`
	CreatedAt        time.Time        `json:"created_at"`
}

// InviteCodeMatches compares a supplied code against the event's code,
// case-insensitively. False when the event has no code configured.
func (e *Event) InviteCodeMatches(code string) bool {
	return e.InviteCode != nil && strings.EqualFold(*e.InviteCode, code)
}

// EndsBefore reports whether the event day has fully elapsed at instant t,
// interpreting the date as end-of-day in its own location.
func (e *Event) EndsBefore(t time.Time) bool {
	y, m, d := e.Date.Date()
	nextMidnight := time.Date(y, m, d, 0, 0, 0, 0, e.Date.Location()).AddDate(0, 0, 1)
	return !t.Before(nextMidnight)
}

// Registration represents a user's registration for an event. At most one
// row exists per (event, user) pair; cancellation keeps the row.
type Registration struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Status  Status `json:"status"`
	// InviteCode is the code the user supplied when registering, if any.
	InviteCode   *string   `json:"invite_code,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	// Seq is the store-assigned insertion sequence. It breaks waitlist
	// ordering ties between identical timestamps.
	Seq int64 `json:"-"`
}

// ResultKind discriminates admission outcomes for programmatic callers.
type ResultKind string

const (
	KindAdmitted           ResultKind = "admitted"
	KindWaitlisted         ResultKind = "waitlisted"
	KindCancelled          ResultKind = "cancelled"
	KindInvited            ResultKind = "invited"
	KindAlreadyRegistered  ResultKind = "already_registered"
	KindInviteRequired     ResultKind = "invite_required"
	KindInvalidInviteCode  ResultKind = "invalid_invite_code"
	KindRegistrationClosed ResultKind = "registration_closed"
	KindEventInPast        ResultKind = "event_in_past"
	KindNotRegistered      ResultKind = "not_registered"
	KindEventNotFound      ResultKind = "event_not_found"
	KindStoreFailure       ResultKind = "store_failure"
)

// Result is the uniform outcome envelope of register, cancel, and invite.
// Business rejections are not errors: Success is false and Kind says why.
// Only store-level failures populate Error.
type Result struct {
	Success      bool          `json:"success"`
	Kind         ResultKind    `json:"kind"`
	Message      string        `json:"message"`
	Registration *Registration `json:"registration,omitempty"`
	// Promoted is the waitlist entry admitted as a side effect of a
	// cancellation, when one existed.
	Promoted *Registration `json:"promoted,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// RegisterRequest is the payload for registering for an event.
type RegisterRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	InviteCode string `json:"invite_code"`
}

// CancelRequest is the payload for cancelling a registration.
type CancelRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// InviteRequest is the payload for an organizer-issued invitation.
type InviteRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
