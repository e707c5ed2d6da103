package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventgate/eventgate/internal/model"
	"github.com/eventgate/eventgate/internal/testutil"
)

var baseTime = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store *testutil.MemStore) *AdmissionService {
	t.Helper()
	svc := NewAdmissionService(store, zap.NewNop())
	svc.now = func() time.Time { return baseTime }
	return svc
}

func intp(n int) *int       { return &n }
func strp(s string) *string { return &s }

// openEvent builds an open event dated tomorrow relative to baseTime.
func openEvent(id string, capacity *int) model.Event {
	return model.Event{
		ID:               id,
		Name:             "Test Event",
		Date:             testutil.Day(baseTime.AddDate(0, 0, 1)),
		Capacity:         capacity,
		RegistrationType: model.TypeOpen,
	}
}

func TestRegister_Admitted(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(10)))
	svc := newTestService(t, store)

	res := svc.Register(context.Background(), "ev1", "u1", "")
	require.True(t, res.Success)
	require.Equal(t, model.KindAdmitted, res.Kind)
	require.NotNil(t, res.Registration)
	require.Equal(t, model.StatusRegistered, res.Registration.Status)
	require.Equal(t, "u1", res.Registration.UserID)

	regs := store.Registrations()
	require.Len(t, regs, 1)
	require.Equal(t, res.Registration.ID, regs[0].ID)
}

func TestRegister_AlreadyRegistered(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(10)))
	svc := newTestService(t, store)

	first := svc.Register(context.Background(), "ev1", "u1", "")
	require.True(t, first.Success)

	second := svc.Register(context.Background(), "ev1", "u1", "")
	require.False(t, second.Success)
	require.Equal(t, model.KindAlreadyRegistered, second.Kind)
	require.NotNil(t, second.Registration)
	require.Equal(t, first.Registration.ID, second.Registration.ID)
	require.Len(t, store.Registrations(), 1)
}

func TestRegister_UnlimitedCapacityNeverWaitlists(t *testing.T) {
	store := testutil.NewMemStore()
	event := openEvent("ev1", nil)
	event.RegistrationType = model.TypeInviteOnly
	event.InviteCode = strp("SPRING24")
	store.AddEvent(event)
	svc := newTestService(t, store)

	noCode := svc.Register(context.Background(), "ev1", "u0", "")
	require.False(t, noCode.Success)
	require.Equal(t, model.KindInviteRequired, noCode.Kind)

	for i := 1; i <= 50; i++ {
		res := svc.Register(context.Background(), "ev1", fmt.Sprintf("u%d", i), "spring24")
		require.True(t, res.Success)
		require.Equal(t, model.KindAdmitted, res.Kind)
	}
}

func TestRegister_InviteGating(t *testing.T) {
	store := testutil.NewMemStore()
	event := openEvent("ev1", intp(10))
	event.RegistrationType = model.TypeInviteOnly
	event.InviteCode = strp("SPRING24")
	store.AddEvent(event)
	svc := newTestService(t, store)

	missing := svc.Register(context.Background(), "ev1", "u1", "")
	require.False(t, missing.Success)
	require.Equal(t, model.KindInviteRequired, missing.Kind)

	wrong := svc.Register(context.Background(), "ev1", "u1", "wrong")
	require.False(t, wrong.Success)
	require.Equal(t, model.KindInvalidInviteCode, wrong.Kind)

	// Case-insensitive match.
	ok := svc.Register(context.Background(), "ev1", "u1", "spring24")
	require.True(t, ok.Success)
	require.Equal(t, model.KindAdmitted, ok.Kind)
	require.NotNil(t, ok.Registration.InviteCode)
	require.Equal(t, "spring24", *ok.Registration.InviteCode)
}

func TestRegister_ClosedOverridesInviteCode(t *testing.T) {
	store := testutil.NewMemStore()
	event := openEvent("ev1", intp(10))
	event.RegistrationType = model.TypeClosed
	event.InviteCode = strp("SPRING24")
	store.AddEvent(event)
	svc := newTestService(t, store)

	res := svc.Register(context.Background(), "ev1", "u1", "SPRING24")
	require.False(t, res.Success)
	require.Equal(t, model.KindRegistrationClosed, res.Kind)
	require.Empty(t, store.Registrations())
}

func TestRegister_PastEvent(t *testing.T) {
	store := testutil.NewMemStore()
	event := openEvent("ev1", intp(100))
	event.Date = testutil.Day(baseTime.AddDate(0, 0, -1))
	store.AddEvent(event)
	svc := newTestService(t, store)

	res := svc.Register(context.Background(), "ev1", "u1", "")
	require.False(t, res.Success)
	require.Equal(t, model.KindEventInPast, res.Kind)
}

func TestRegister_SameDayEventNotPast(t *testing.T) {
	store := testutil.NewMemStore()
	event := openEvent("ev1", intp(100))
	event.Date = testutil.Day(baseTime)
	store.AddEvent(event)
	svc := newTestService(t, store)

	res := svc.Register(context.Background(), "ev1", "u1", "")
	require.True(t, res.Success)
	require.Equal(t, model.KindAdmitted, res.Kind)
}

func TestRegister_EventNotFound(t *testing.T) {
	store := testutil.NewMemStore()
	svc := newTestService(t, store)

	res := svc.Register(context.Background(), "missing", "u1", "")
	require.False(t, res.Success)
	require.Equal(t, model.KindEventNotFound, res.Kind)
	require.Empty(t, res.Error)
}

func TestRegister_StoreFailure(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(10)))
	svc := newTestService(t, store)

	store.FailWith = errors.New("connection reset")
	res := svc.Register(context.Background(), "ev1", "u1", "")
	require.False(t, res.Success)
	require.Equal(t, model.KindStoreFailure, res.Kind)
	require.Contains(t, res.Error, "connection reset")

	// Retrying after the failure clears is safe and succeeds.
	store.FailWith = nil
	retry := svc.Register(context.Background(), "ev1", "u1", "")
	require.True(t, retry.Success)
}

func TestRegister_CapacityScenario(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(2)))
	svc := newTestService(t, store)
	ctx := context.Background()

	u1 := svc.Register(ctx, "ev1", "u1", "")
	require.Equal(t, model.KindAdmitted, u1.Kind)
	u2 := svc.Register(ctx, "ev1", "u2", "")
	require.Equal(t, model.KindAdmitted, u2.Kind)
	u3 := svc.Register(ctx, "ev1", "u3", "")
	require.True(t, u3.Success)
	require.Equal(t, model.KindWaitlisted, u3.Kind)
	require.Equal(t, model.StatusWaitlist, u3.Registration.Status)

	cancel := svc.Cancel(ctx, "ev1", "u1")
	require.True(t, cancel.Success)
	require.NotNil(t, cancel.Promoted)
	require.Equal(t, "u3", cancel.Promoted.UserID)
	require.Equal(t, model.StatusRegistered, cancel.Promoted.Status)

	n, err := store.CountByStatus(ctx, "ev1", model.AdmittedStatuses...)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestCancel_NotRegistered(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(2)))
	svc := newTestService(t, store)
	ctx := context.Background()

	res := svc.Cancel(ctx, "ev1", "ghost")
	require.False(t, res.Success)
	require.Equal(t, model.KindNotRegistered, res.Kind)

	// A cancelled registration counts as not registered too.
	svc.Register(ctx, "ev1", "u1", "")
	svc.Cancel(ctx, "ev1", "u1")
	again := svc.Cancel(ctx, "ev1", "u1")
	require.False(t, again.Success)
	require.Equal(t, model.KindNotRegistered, again.Kind)
}

func TestCancel_WaitlistedEntryDoesNotPromote(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(1)))
	svc := newTestService(t, store)
	ctx := context.Background()

	svc.Register(ctx, "ev1", "u1", "")
	w1 := svc.Register(ctx, "ev1", "u2", "")
	require.Equal(t, model.KindWaitlisted, w1.Kind)
	w2 := svc.Register(ctx, "ev1", "u3", "")
	require.Equal(t, model.KindWaitlisted, w2.Kind)

	res := svc.Cancel(ctx, "ev1", "u2")
	require.True(t, res.Success)
	require.Nil(t, res.Promoted)

	remaining, err := store.ListByStatus(ctx, "ev1", model.StatusWaitlist, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "u3", remaining[0].UserID)
}

func TestPromotion_FIFOByTimestamp(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(1)))
	svc := newTestService(t, store)
	ctx := context.Background()

	// Advance the clock per registration so ordering is by timestamp.
	clock := baseTime
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	svc.Register(ctx, "ev1", "holder", "")
	for _, u := range []string{"a", "b", "c"} {
		res := svc.Register(ctx, "ev1", u, "")
		require.Equal(t, model.KindWaitlisted, res.Kind)
	}

	for _, want := range []string{"a", "b", "c"} {
		admitted, err := store.ListByStatus(ctx, "ev1", model.StatusRegistered, 0)
		require.NoError(t, err)
		require.Len(t, admitted, 1)

		res := svc.Cancel(ctx, "ev1", admitted[0].UserID)
		require.True(t, res.Success)
		require.NotNil(t, res.Promoted)
		require.Equal(t, want, res.Promoted.UserID)
	}

	// Waitlist drained: the last cancellation promotes nobody.
	res := svc.Cancel(ctx, "ev1", "c")
	require.True(t, res.Success)
	require.Nil(t, res.Promoted)
}

func TestPromotion_TieBreakBySequence(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(1)))
	svc := newTestService(t, store)
	ctx := context.Background()

	// Fixed clock: all waitlist entries share one timestamp, so promotion
	// order must fall back to the insertion sequence.
	svc.Register(ctx, "ev1", "holder", "")
	for _, u := range []string{"a", "b", "c"} {
		svc.Register(ctx, "ev1", u, "")
	}

	res := svc.Cancel(ctx, "ev1", "holder")
	require.NotNil(t, res.Promoted)
	require.Equal(t, "a", res.Promoted.UserID)
}

func TestReRegistration_ReusesRow(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(10)))
	svc := newTestService(t, store)
	ctx := context.Background()

	first := svc.Register(ctx, "ev1", "u1", "")
	require.True(t, first.Success)

	cancel := svc.Cancel(ctx, "ev1", "u1")
	require.True(t, cancel.Success)

	second := svc.Register(ctx, "ev1", "u1", "")
	require.True(t, second.Success)
	require.Equal(t, model.KindAdmitted, second.Kind)
	require.Equal(t, first.Registration.ID, second.Registration.ID)
	require.Len(t, store.Registrations(), 1)
}

func TestInvite(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(1)))
	svc := newTestService(t, store)
	ctx := context.Background()

	res := svc.Invite(ctx, "ev1", "vip")
	require.True(t, res.Success)
	require.Equal(t, model.KindInvited, res.Kind)
	require.Equal(t, model.StatusInvited, res.Registration.Status)

	// Invited entries do not consume capacity: the single slot is still
	// available.
	reg := svc.Register(ctx, "ev1", "u1", "")
	require.Equal(t, model.KindAdmitted, reg.Kind)

	// An active row blocks a second invitation.
	dup := svc.Invite(ctx, "ev1", "vip")
	require.False(t, dup.Success)
	require.Equal(t, model.KindAlreadyRegistered, dup.Kind)
}

func TestInvite_ReusesCancelledRow(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(10)))
	svc := newTestService(t, store)
	ctx := context.Background()

	first := svc.Register(ctx, "ev1", "u1", "")
	svc.Cancel(ctx, "ev1", "u1")

	res := svc.Invite(ctx, "ev1", "u1")
	require.True(t, res.Success)
	require.Equal(t, first.Registration.ID, res.Registration.ID)
	require.Equal(t, model.StatusInvited, res.Registration.Status)
	require.Len(t, store.Registrations(), 1)
}

func TestCancel_InvitedEntryDoesNotPromote(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(1)))
	svc := newTestService(t, store)
	ctx := context.Background()

	svc.Invite(ctx, "ev1", "vip")
	svc.Register(ctx, "ev1", "u1", "")
	waitlisted := svc.Register(ctx, "ev1", "u2", "")
	require.Equal(t, model.KindWaitlisted, waitlisted.Kind)

	// The invited entry never held a capacity slot, so nothing frees up.
	res := svc.Cancel(ctx, "ev1", "vip")
	require.True(t, res.Success)
	require.Nil(t, res.Promoted)

	still, err := store.FindRegistration(ctx, "ev1", "u2")
	require.NoError(t, err)
	require.Equal(t, model.StatusWaitlist, still.Status)
}

func TestConcurrentRegistrationsRespectCapacity(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(5)))
	svc := newTestService(t, store)

	const users = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []model.Result
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res := svc.Register(context.Background(), "ev1", fmt.Sprintf("u%d", n), "")
			if !res.Success {
				mu.Lock()
				failures = append(failures, res)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Empty(t, failures)

	ctx := context.Background()
	admitted, err := store.CountByStatus(ctx, "ev1", model.AdmittedStatuses...)
	require.NoError(t, err)
	require.Equal(t, 5, admitted)

	waitlisted, err := store.CountByStatus(ctx, "ev1", model.StatusWaitlist)
	require.NoError(t, err)
	require.Equal(t, users-5, waitlisted)
}

func TestGetEvent_CachesReads(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(10)))
	svc := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.GetEvent(ctx, "ev1")
	require.NoError(t, err)
	require.Equal(t, "Test Event", first.Name)

	// A store-side rename is invisible until the cache entry expires.
	renamed := openEvent("ev1", intp(10))
	renamed.Name = "Renamed"
	store.AddEvent(renamed)

	cached, err := svc.GetEvent(ctx, "ev1")
	require.NoError(t, err)
	require.Equal(t, "Test Event", cached.Name)
}

func TestListRegistrations(t *testing.T) {
	store := testutil.NewMemStore()
	store.AddEvent(openEvent("ev1", intp(1)))
	svc := newTestService(t, store)
	ctx := context.Background()

	svc.Register(ctx, "ev1", "u1", "")
	svc.Register(ctx, "ev1", "u2", "")
	svc.Register(ctx, "ev1", "u3", "")

	all, err := svc.ListRegistrations(ctx, "ev1", "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	waitlist, err := svc.ListRegistrations(ctx, "ev1", model.StatusWaitlist)
	require.NoError(t, err)
	require.Len(t, waitlist, 2)
	require.Equal(t, "u2", waitlist[0].UserID)
	require.Equal(t, "u3", waitlist[1].UserID)

	_, err = svc.ListRegistrations(ctx, "missing", "")
	require.ErrorIs(t, err, model.ErrNotFound)
}
