package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/database"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/notify"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/repository"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/solver"
)

var admin = model.User{ID: 100, DisplayName: "admin"}

const testYear = 2025

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []notify.Notification
	failFor map[model.UserID]bool
}

func (f *fakeNotifier) Notify(_ context.Context, n notify.Notification) error {
	if f.failFor[n.Recipient] {
		return errors.New("delivery failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "gift-exchange.db"))
	require.NoError(t, err)
	require.NoError(t, database.MigrateSQLite(ctx, db))

	s := repository.NewSQLiteStore(db)
	t.Cleanup(s.Close)
	return s
}

func newTestService(t *testing.T, store repository.Store, notifier notify.Notifier) *EventService {
	t.Helper()

	svc := NewEventService(store, notifier, Config{
		AdminID:           admin.ID,
		Location:          time.UTC,
		Solver:            solver.DefaultConfig(),
		DrawTimeout:       10 * time.Second,
		NotifyConcurrency: 4,
	})
	svc.now = func() time.Time { return time.Date(testYear, time.December, 1, 12, 0, 0, 0, time.UTC) }

	var seed uint64
	var mu sync.Mutex
	svc.drawer.newRand = func() *rand.Rand {
		mu.Lock()
		defer mu.Unlock()
		seed++
		return rand.New(rand.NewPCG(seed, 42))
	}
	return svc
}

// joinAll toggles each id into the current event.
func joinAll(t *testing.T, svc *EventService, ids ...model.UserID) {
	t.Helper()
	for _, id := range ids {
		change, err := svc.ToggleMembership(context.Background(), id, "user")
		require.NoError(t, err)
		require.Equal(t, model.Joined, change.Transition)
	}
}

func TestOpenEvent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t), &fakeNotifier{})

	_, err := svc.OpenEvent(ctx, model.User{ID: 1, DisplayName: "not admin"})
	require.ErrorIs(t, err, ErrForbidden)

	res, err := svc.OpenEvent(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, model.EventOpenResult{EventID: testYear, TotalParticipants: 1}, res)

	_, err = svc.OpenEvent(ctx, admin)
	require.ErrorIs(t, err, repository.ErrEventExists)
}

func TestCurrentYearUsesLocation(t *testing.T) {
	svc := newTestService(t, newTestStore(t), &fakeNotifier{})
	svc.now = func() time.Time { return time.Date(2025, time.December, 31, 23, 30, 0, 0, time.UTC) }

	assert.Equal(t, 2025, svc.CurrentYear())

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("timezone database unavailable")
	}
	svc.cfg.Location = tokyo
	assert.Equal(t, 2026, svc.CurrentYear())
}

func TestDrawNames(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	svc := newTestService(t, newTestStore(t), notifier)

	_, err := svc.OpenEvent(ctx, admin)
	require.NoError(t, err)
	joinAll(t, svc, 1, 2, 3, 4)

	_, err = svc.DrawNames(ctx, model.User{ID: 1})
	require.ErrorIs(t, err, ErrForbidden)

	res, err := svc.DrawNames(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, testYear, res.EventID)
	assert.NotEmpty(t, res.DrawID)
	assert.Empty(t, res.NotificationFailures)
	require.Len(t, res.Assignments, 5)
	assert.Len(t, notifier.sent, 5)

	for _, p := range res.Assignments {
		assert.NotEqual(t, p.Participant, p.Giftee)

		year, giftee, ok, err := svc.LookupMyGiftee(ctx, p.Participant)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, testYear, year)
		assert.Equal(t, p.Giftee, giftee)
	}

	_, err = svc.DrawNames(ctx, admin)
	require.ErrorIs(t, err, repository.ErrEventClosed)
}

func TestDrawNamesNotificationFailureKeepsAssignments(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{failFor: map[model.UserID]bool{2: true}}
	svc := newTestService(t, newTestStore(t), notifier)

	_, err := svc.OpenEvent(ctx, admin)
	require.NoError(t, err)
	joinAll(t, svc, 1, 2)

	res, err := svc.DrawNames(ctx, admin)
	require.NoError(t, err)
	require.Len(t, res.NotificationFailures, 1)
	assert.Equal(t, model.UserID(2), res.NotificationFailures[0].Recipient)
	assert.Len(t, notifier.sent, 2)

	_, _, ok, err := svc.LookupMyGiftee(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok, "assignment stays persisted when delivery fails")
}

func TestLookupMyGiftee(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t), &fakeNotifier{})

	_, _, ok, err := svc.LookupMyGiftee(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "no events yet")

	_, err = svc.OpenEvent(ctx, admin)
	require.NoError(t, err)
	joinAll(t, svc, 1)

	year, _, ok, err := svc.LookupMyGiftee(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, testYear, year)
	assert.False(t, ok, "names not drawn yet")
}

func TestToggleMembershipRequiresUser(t *testing.T) {
	svc := newTestService(t, newTestStore(t), &fakeNotifier{})
	_, err := svc.ToggleMembership(context.Background(), 0, "nobody")
	require.Error(t, err)
}

func TestNormalizeUser(t *testing.T) {
	assert.Equal(t, "alice", normalizeUser(model.User{ID: 1, DisplayName: "  alice "}).DisplayName)
	assert.Equal(t, "user-7", normalizeUser(model.User{ID: 7}).DisplayName)
}
