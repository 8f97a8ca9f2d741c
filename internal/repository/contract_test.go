package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
)

// runStoreContract exercises behaviour every Store backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()
	admin := model.User{ID: 100, DisplayName: "admin"}

	t.Run("create event enrolls admin", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateEvent(ctx, 2024, admin))

		isOpen, err := s.IsOpen(ctx, 2024)
		require.NoError(t, err)
		assert.True(t, isOpen)

		roster, err := s.Roster(ctx, 2024)
		require.NoError(t, err)
		assert.Equal(t, []model.UserID{admin.ID}, roster)

		year, ok, err := s.LatestEventYear(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2024, year)
	})

	t.Run("duplicate event", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateEvent(ctx, 2024, admin))

		err := s.CreateEvent(ctx, 2024, admin)
		require.ErrorIs(t, err, ErrEventExists)

		count, err := s.ParticipantCount(ctx, 2024)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("missing event", func(t *testing.T) {
		s := open(t)

		_, err := s.IsOpen(ctx, 1999)
		require.ErrorIs(t, err, ErrEventNotFound)

		err = s.WithEventLock(ctx, 1999, func(EventTx) error { return nil })
		require.ErrorIs(t, err, ErrEventNotFound)

		_, ok, err := s.LatestEventYear(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("roster mutations", func(t *testing.T) {
		s := open(t)
		seedEvent(t, s, 2024, admin, 3, 1, 2)

		roster, err := s.Roster(ctx, 2024)
		require.NoError(t, err)
		assert.Equal(t, []model.UserID{admin.ID, 3, 1, 2}, roster, "roster keeps insertion order")

		member, err := s.IsParticipant(ctx, 2024, 1)
		require.NoError(t, err)
		assert.True(t, member)

		require.NoError(t, s.RemoveParticipant(ctx, 2024, 1))
		member, err = s.IsParticipant(ctx, 2024, 1)
		require.NoError(t, err)
		assert.False(t, member)

		count, err := s.ParticipantCount(ctx, 2024)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		err = s.RemoveParticipant(ctx, 2024, 1)
		require.ErrorIs(t, err, ErrNotParticipant)

		err = s.AddParticipant(ctx, 2024, 2)
		require.ErrorIs(t, err, ErrQueryFailed, "a user joins an event at most once")

		var storeErr *StoreError
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, "add participant", storeErr.Op)
	})

	t.Run("record assignments closes event", func(t *testing.T) {
		s := open(t)
		seedEvent(t, s, 2024, admin, 1, 2)

		pairs := []model.Assignment{
			{Participant: admin.ID, Giftee: 1},
			{Participant: 1, Giftee: 2},
			{Participant: 2, Giftee: admin.ID},
		}
		require.NoError(t, s.RecordAssignments(ctx, 2024, pairs))

		isOpen, err := s.IsOpen(ctx, 2024)
		require.NoError(t, err)
		assert.False(t, isOpen)

		for _, p := range pairs {
			giftee, ok, err := s.Giftee(ctx, 2024, p.Participant)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, p.Giftee, giftee)
		}

		err = s.RecordAssignments(ctx, 2024, pairs)
		require.ErrorIs(t, err, ErrQueryFailed, "assignments are written once")
	})

	t.Run("record assignments rejects incomplete pairs", func(t *testing.T) {
		s := open(t)
		seedEvent(t, s, 2024, admin, 1, 2)

		tests := [][]model.Assignment{
			{{Participant: admin.ID, Giftee: 1}, {Participant: 1, Giftee: admin.ID}},
			{{Participant: admin.ID, Giftee: 1}, {Participant: 1, Giftee: 2}, {Participant: 2, Giftee: 2}},
			{{Participant: admin.ID, Giftee: 1}, {Participant: 1, Giftee: 2}, {Participant: 2, Giftee: 99}},
			{{Participant: admin.ID, Giftee: 1}, {Participant: 1, Giftee: 1}, {Participant: 2, Giftee: admin.ID}},
		}
		for _, pairs := range tests {
			err := s.RecordAssignments(ctx, 2024, pairs)
			require.ErrorIs(t, err, ErrQueryFailed)
		}

		assertNoGiftees(t, s, 2024, admin.ID, 1, 2)
	})

	t.Run("lock rolls back on error", func(t *testing.T) {
		s := open(t)
		seedEvent(t, s, 2024, admin)

		boom := errors.New("boom")
		err := s.WithEventLock(ctx, 2024, func(tx EventTx) error {
			require.NoError(t, tx.UpsertUser(ctx, model.User{ID: 5, DisplayName: "five"}))
			require.NoError(t, tx.AddParticipant(ctx, 2024, 5))
			return boom
		})
		require.ErrorIs(t, err, boom)

		count, err := s.ParticipantCount(ctx, 2024)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("historical giftee links", func(t *testing.T) {
		s := open(t)
		for _, year := range []int{2021, 2022, 2023} {
			seedEvent(t, s, year, admin, 1, 2)
		}
		require.NoError(t, s.RecordAssignments(ctx, 2021, cycle(admin.ID, 1, 2)))
		require.NoError(t, s.RecordAssignments(ctx, 2022, cycle(admin.ID, 2, 1)))
		require.NoError(t, s.RecordAssignments(ctx, 2023, cycle(admin.ID, 1, 2)))
		seedEvent(t, s, 2024, admin, 1)
		seedEvent(t, s, 2025, admin, 1, 2)
		require.NoError(t, s.RecordAssignments(ctx, 2025, cycle(admin.ID, 2, 1)))

		links, err := s.HistoricalGifteeLinks(ctx, 2024, 2)
		require.NoError(t, err)
		require.Len(t, links, 6)
		for _, l := range links {
			switch l.Recency {
			case 0:
				assert.Equal(t, 2023, l.EventID)
			case 1:
				assert.Equal(t, 2022, l.EventID)
			default:
				t.Fatalf("unexpected recency %d", l.Recency)
			}
		}
		assert.Contains(t, links, model.HistoryLink{EventID: 2023, Recency: 0, UserID: admin.ID, GifteeID: 1})
		assert.Contains(t, links, model.HistoryLink{EventID: 2022, Recency: 1, UserID: admin.ID, GifteeID: 2})

		links, err = s.HistoricalGifteeLinks(ctx, 2024, 0)
		require.NoError(t, err)
		assert.Empty(t, links)

		links, err = s.HistoricalGifteeLinks(ctx, 2021, 3)
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("undrawn prior events still occupy the window", func(t *testing.T) {
		s := open(t)
		seedEvent(t, s, 2022, admin, 1)
		require.NoError(t, s.RecordAssignments(ctx, 2022, cycle(admin.ID, 1)))
		seedEvent(t, s, 2023, admin, 1)
		seedEvent(t, s, 2024, admin, 1)

		links, err := s.HistoricalGifteeLinks(ctx, 2024, 2)
		require.NoError(t, err)
		require.Len(t, links, 2)
		for _, l := range links {
			assert.Equal(t, 1, l.Recency)
		}
	})

	t.Run("giftee lookup", func(t *testing.T) {
		s := open(t)
		seedEvent(t, s, 2024, admin, 1)

		_, ok, err := s.Giftee(ctx, 2024, 1)
		require.NoError(t, err)
		assert.False(t, ok, "no giftee before the draw")

		_, ok, err = s.Giftee(ctx, 2024, 42)
		require.NoError(t, err)
		assert.False(t, ok, "no giftee for non-participants")
	})
}

// seedEvent creates the year's event with admin and adds the given users.
func seedEvent(t *testing.T, s Store, year int, admin model.User, ids ...model.UserID) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.CreateEvent(ctx, year, admin))
	for _, id := range ids {
		require.NoError(t, s.UpsertUser(ctx, model.User{ID: id, DisplayName: "user"}))
		require.NoError(t, s.AddParticipant(ctx, year, id))
	}
}

// cycle assigns each id to the next one, wrapping around.
func cycle(ids ...model.UserID) []model.Assignment {
	pairs := make([]model.Assignment, len(ids))
	for i, id := range ids {
		pairs[i] = model.Assignment{Participant: id, Giftee: ids[(i+1)%len(ids)]}
	}
	return pairs
}

func assertNoGiftees(t *testing.T, s Store, year int, ids ...model.UserID) {
	t.Helper()
	for _, id := range ids {
		_, ok, err := s.Giftee(context.Background(), year, id)
		require.NoError(t, err)
		assert.False(t, ok, "user %d has a giftee", id)
	}

	isOpen, err := s.IsOpen(context.Background(), year)
	require.NoError(t, err)
	assert.True(t, isOpen)
}
