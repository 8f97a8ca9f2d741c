package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
)

// sqlDBTX is satisfied by both *sql.DB and *sql.Tx.
type sqlDBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the embedded-database Store. The database handle is expected
// to come from database.OpenSQLite, which limits it to one connection, so
// every transaction holds the database's single write lock.
type SQLiteStore struct {
	sqliteQueries
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore constructs a SQLiteStore over an open handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{sqliteQueries: sqliteQueries{db: db}, db: db}
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite("begin transaction", err)
	}
	// Rollback is a no-op once the transaction has committed.
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifySQLite("commit transaction", err)
	}
	return nil
}

// WithEventLock runs fn inside an immediate transaction after checking that
// the event exists.
func (s *SQLiteStore) WithEventLock(ctx context.Context, year int, fn func(tx EventTx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var id int
		err := tx.QueryRowContext(ctx, `SELECT id FROM events WHERE id = ?1`, year).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("lock event %d: %w", year, ErrEventNotFound)
			}
			return classifySQLite("lock event", err)
		}
		return fn(sqliteQueries{db: tx})
	})
}

// CreateEvent inserts the event and its first participant atomically.
func (s *SQLiteStore) CreateEvent(ctx context.Context, year int, admin model.User) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO events (id) VALUES (?1)`, year); err != nil {
			if isSQLiteUnique(err) {
				return fmt.Errorf("create event %d: %w", year, ErrEventExists)
			}
			return classifySQLite("insert event", err)
		}

		q := sqliteQueries{db: tx}
		if err := q.UpsertUser(ctx, admin); err != nil {
			return err
		}
		return q.AddParticipant(ctx, year, admin.ID)
	})
}

// RecordAssignments writes every giftee in one transaction.
func (s *SQLiteStore) RecordAssignments(ctx context.Context, year int, pairs []model.Assignment) error {
	return s.WithEventLock(ctx, year, func(tx EventTx) error {
		return tx.RecordAssignments(ctx, year, pairs)
	})
}

// Giftee returns the user's giftee for the year.
func (s *SQLiteStore) Giftee(ctx context.Context, year int, userID model.UserID) (model.UserID, bool, error) {
	var giftee sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT giftee_id FROM participation WHERE event_id = ?1 AND user_id = ?2`,
		year, int64(userID),
	).Scan(&giftee)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, classifySQLite("get giftee", err)
	}
	if !giftee.Valid {
		return 0, false, nil
	}
	return model.UserID(giftee.Int64), true, nil
}

// LatestEventYear returns the most recent event year.
func (s *SQLiteStore) LatestEventYear(ctx context.Context) (int, bool, error) {
	var year sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&year); err != nil {
		return 0, false, classifySQLite("latest event", err)
	}
	if !year.Valid {
		return 0, false, nil
	}
	return int(year.Int64), true, nil
}

// sqliteQueries implements EventTx over either the handle or a transaction.
type sqliteQueries struct {
	db sqlDBTX
}

func (q sqliteQueries) IsOpen(ctx context.Context, year int) (bool, error) {
	var id int
	var open bool
	err := q.db.QueryRowContext(ctx,
		`SELECT e.id, NOT EXISTS (
		     SELECT 1 FROM participation p
		     WHERE p.event_id = e.id AND p.giftee_id IS NOT NULL
		 )
		 FROM events e WHERE e.id = ?1`,
		year,
	).Scan(&id, &open)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("event %d: %w", year, ErrEventNotFound)
		}
		return false, classifySQLite("check event open", err)
	}
	return open, nil
}

func (q sqliteQueries) UpsertUser(ctx context.Context, user model.User) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name) VALUES (?1, ?2)
		 ON CONFLICT (id) DO NOTHING`,
		int64(user.ID), user.DisplayName,
	)
	if err != nil {
		return classifySQLite("upsert user", err)
	}
	return nil
}

func (q sqliteQueries) IsParticipant(ctx context.Context, year int, userID model.UserID) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM participation WHERE event_id = ?1 AND user_id = ?2)`,
		year, int64(userID),
	).Scan(&exists)
	if err != nil {
		return false, classifySQLite("check participant", err)
	}
	return exists, nil
}

func (q sqliteQueries) AddParticipant(ctx context.Context, year int, userID model.UserID) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO participation (event_id, user_id) VALUES (?1, ?2)`,
		year, int64(userID),
	)
	if err != nil {
		return classifySQLite("add participant", err)
	}
	return nil
}

func (q sqliteQueries) RemoveParticipant(ctx context.Context, year int, userID model.UserID) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM participation WHERE event_id = ?1 AND user_id = ?2`,
		year, int64(userID),
	)
	if err != nil {
		return classifySQLite("remove participant", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifySQLite("remove participant", err)
	}
	if n == 0 {
		return fmt.Errorf("remove user %d from event %d: %w", userID, year, ErrNotParticipant)
	}
	return nil
}

func (q sqliteQueries) ParticipantCount(ctx context.Context, year int) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participation WHERE event_id = ?1`,
		year,
	).Scan(&count)
	if err != nil {
		return 0, classifySQLite("count participants", err)
	}
	return count, nil
}

func (q sqliteQueries) Roster(ctx context.Context, year int) ([]model.UserID, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT user_id FROM participation WHERE event_id = ?1 ORDER BY rowid ASC`,
		year,
	)
	if err != nil {
		return nil, classifySQLite("list roster", err)
	}
	defer rows.Close()

	var roster []model.UserID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classifySQLite("scan roster", err)
		}
		roster = append(roster, model.UserID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite("list roster", err)
	}
	return roster, nil
}

func (q sqliteQueries) HistoricalGifteeLinks(ctx context.Context, year, window int) ([]model.HistoryLink, error) {
	if window <= 0 {
		return nil, nil
	}

	rows, err := q.db.QueryContext(ctx,
		`WITH prior AS (
		     SELECT id, ROW_NUMBER() OVER (ORDER BY id DESC) - 1 AS recency
		     FROM events
		     WHERE id < ?1
		     ORDER BY id DESC
		     LIMIT ?2
		 )
		 SELECT prior.id, prior.recency, p.user_id, p.giftee_id
		 FROM participation p
		 JOIN prior ON prior.id = p.event_id
		 WHERE p.giftee_id IS NOT NULL
		 ORDER BY prior.recency ASC, p.user_id ASC`,
		year, window,
	)
	if err != nil {
		return nil, classifySQLite("list giftee history", err)
	}
	defer rows.Close()

	var links []model.HistoryLink
	for rows.Next() {
		var l model.HistoryLink
		var user, giftee int64
		if err := rows.Scan(&l.EventID, &l.Recency, &user, &giftee); err != nil {
			return nil, classifySQLite("scan giftee history", err)
		}
		l.UserID, l.GifteeID = model.UserID(user), model.UserID(giftee)
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite("list giftee history", err)
	}
	return links, nil
}

// RecordAssignments expects to run inside a transaction; the first failing
// update aborts it.
func (q sqliteQueries) RecordAssignments(ctx context.Context, year int, pairs []model.Assignment) error {
	roster, err := q.Roster(ctx, year)
	if err != nil {
		return err
	}
	if err := validateAssignments(roster, pairs); err != nil {
		return queryFailed("validate assignments", err)
	}

	for _, p := range pairs {
		res, err := q.db.ExecContext(ctx,
			`UPDATE participation SET giftee_id = ?1
			 WHERE event_id = ?2 AND user_id = ?3 AND giftee_id IS NULL`,
			int64(p.Giftee), year, int64(p.Participant),
		)
		if err != nil {
			return classifySQLite("record assignment", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classifySQLite("record assignment", err)
		}
		if n != 1 {
			return queryFailed("record assignment",
				fmt.Errorf("user %d already has a giftee in event %d", p.Participant, year))
		}
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// classifySQLite maps a driver failure onto the store's error kinds.
func classifySQLite(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN,
			sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL, sqlite3.SQLITE_NOMEM:
			return unavailable(op, err)
		}
		return queryFailed(op, err)
	}

	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, driver.ErrBadConn):
		return unavailable(op, err)
	}
	return queryFailed(op, err)
}
