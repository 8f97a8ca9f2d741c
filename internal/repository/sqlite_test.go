package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/database"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "gift-exchange.db"))
	require.NoError(t, err)
	require.NoError(t, database.MigrateSQLite(ctx, db))

	s := NewSQLiteStore(db)
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newSQLiteStore(t) })
}

func TestSQLiteUpsertUserKeepsName(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.UpsertUser(ctx, model.User{ID: 1, DisplayName: "first"}))
	require.NoError(t, s.UpsertUser(ctx, model.User{ID: 1, DisplayName: "second"}))

	var name string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT display_name FROM users WHERE id = 1`).Scan(&name))
	assert.Equal(t, "first", name)
}

func TestSQLiteRecordAssignmentsMidWriteFailure(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	admin := model.User{ID: 100, DisplayName: "admin"}
	seedEvent(t, s, 2024, admin, 1, 2)

	// Abort the second update after the first has already been applied.
	_, err := s.db.ExecContext(ctx, `
		CREATE TRIGGER fail_second_write BEFORE UPDATE OF giftee_id ON participation
		WHEN NEW.user_id = 1
		BEGIN
			SELECT RAISE(ABORT, 'injected failure');
		END;
	`)
	require.NoError(t, err)

	pairs := []model.Assignment{
		{Participant: admin.ID, Giftee: 1},
		{Participant: 1, Giftee: 2},
		{Participant: 2, Giftee: admin.ID},
	}
	err = s.RecordAssignments(ctx, 2024, pairs)
	require.ErrorIs(t, err, ErrQueryFailed)
	assert.ErrorContains(t, err, "injected failure")

	assertNoGiftees(t, s, 2024, admin.ID, 1, 2)
}

func TestSQLiteConcurrentLockedWrites(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	seedEvent(t, s, 2024, model.User{ID: 100, DisplayName: "admin"})

	const users = 25
	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 1; i <= users; i++ {
		wg.Add(1)
		go func(id model.UserID) {
			defer wg.Done()
			errs <- s.WithEventLock(ctx, 2024, func(tx EventTx) error {
				if err := tx.UpsertUser(ctx, model.User{ID: id, DisplayName: fmt.Sprint("user-", id)}); err != nil {
					return err
				}
				return tx.AddParticipant(ctx, 2024, id)
			})
		}(model.UserID(i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	count, err := s.ParticipantCount(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, users+1, count)
}

func TestSQLiteClassifiesClosedHandle(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.db.Close())

	_, err := s.ParticipantCount(context.Background(), 2024)
	require.Error(t, err)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "count participants", storeErr.Op)
}
