package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
)

// pgUniqueViolation is the SQLSTATE for a duplicate key.
const pgUniqueViolation = "23505"

// pgDBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgDBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pgQueries
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a PostgresStore over an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{db: pool}, pool: pool}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// WithEventLock takes a row-level lock on the event with SELECT … FOR UPDATE.
// Concurrent toggles and draws on the same event queue behind it until this
// transaction commits or rolls back.
func (s *PostgresStore) WithEventLock(ctx context.Context, year int, fn func(tx EventTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyPg("begin transaction", err)
	}
	// Rollback is a no-op once the transaction has committed.
	defer func() { _ = tx.Rollback(ctx) }()

	var id int
	err = tx.QueryRow(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, year).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock event %d: %w", year, ErrEventNotFound)
		}
		return classifyPg("lock event", err)
	}

	if err := fn(pgQueries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPg("commit transaction", err)
	}
	return nil
}

// CreateEvent inserts the event and its first participant atomically.
func (s *PostgresStore) CreateEvent(ctx context.Context, year int, admin model.User) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyPg("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO events (id) VALUES ($1)`, year); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("create event %d: %w", year, ErrEventExists)
		}
		return classifyPg("insert event", err)
	}

	q := pgQueries{db: tx}
	if err := q.UpsertUser(ctx, admin); err != nil {
		return err
	}
	if err := q.AddParticipant(ctx, year, admin.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPg("commit transaction", err)
	}
	return nil
}

// RecordAssignments writes every giftee in one transaction under the event lock.
func (s *PostgresStore) RecordAssignments(ctx context.Context, year int, pairs []model.Assignment) error {
	return s.WithEventLock(ctx, year, func(tx EventTx) error {
		return tx.RecordAssignments(ctx, year, pairs)
	})
}

// Giftee returns the user's giftee for the year.
func (s *PostgresStore) Giftee(ctx context.Context, year int, userID model.UserID) (model.UserID, bool, error) {
	var giftee *model.UserID
	err := s.pool.QueryRow(ctx,
		`SELECT giftee_id FROM participation WHERE event_id = $1 AND user_id = $2`,
		year, userID,
	).Scan(&giftee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, classifyPg("get giftee", err)
	}
	if giftee == nil {
		return 0, false, nil
	}
	return *giftee, true, nil
}

// LatestEventYear returns the most recent event year.
func (s *PostgresStore) LatestEventYear(ctx context.Context) (int, bool, error) {
	var year *int
	if err := s.pool.QueryRow(ctx, `SELECT MAX(id) FROM events`).Scan(&year); err != nil {
		return 0, false, classifyPg("latest event", err)
	}
	if year == nil {
		return 0, false, nil
	}
	return *year, true, nil
}

// pgQueries implements EventTx over either the pool or a transaction.
type pgQueries struct {
	db pgDBTX
}

func (q pgQueries) IsOpen(ctx context.Context, year int) (bool, error) {
	var id int
	var open bool
	err := q.db.QueryRow(ctx,
		`SELECT e.id, NOT EXISTS (
		     SELECT 1 FROM participation p
		     WHERE p.event_id = e.id AND p.giftee_id IS NOT NULL
		 )
		 FROM events e WHERE e.id = $1`,
		year,
	).Scan(&id, &open)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("event %d: %w", year, ErrEventNotFound)
		}
		return false, classifyPg("check event open", err)
	}
	return open, nil
}

func (q pgQueries) UpsertUser(ctx context.Context, user model.User) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO users (id, display_name) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		user.ID, user.DisplayName,
	)
	if err != nil {
		return classifyPg("upsert user", err)
	}
	return nil
}

func (q pgQueries) IsParticipant(ctx context.Context, year int, userID model.UserID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM participation WHERE event_id = $1 AND user_id = $2)`,
		year, userID,
	).Scan(&exists)
	if err != nil {
		return false, classifyPg("check participant", err)
	}
	return exists, nil
}

func (q pgQueries) AddParticipant(ctx context.Context, year int, userID model.UserID) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO participation (event_id, user_id) VALUES ($1, $2)`,
		year, userID,
	)
	if err != nil {
		return classifyPg("add participant", err)
	}
	return nil
}

func (q pgQueries) RemoveParticipant(ctx context.Context, year int, userID model.UserID) error {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM participation WHERE event_id = $1 AND user_id = $2`,
		year, userID,
	)
	if err != nil {
		return classifyPg("remove participant", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remove user %d from event %d: %w", userID, year, ErrNotParticipant)
	}
	return nil
}

func (q pgQueries) ParticipantCount(ctx context.Context, year int) (int, error) {
	var count int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM participation WHERE event_id = $1`,
		year,
	).Scan(&count)
	if err != nil {
		return 0, classifyPg("count participants", err)
	}
	return count, nil
}

func (q pgQueries) Roster(ctx context.Context, year int) ([]model.UserID, error) {
	rows, err := q.db.Query(ctx,
		`SELECT user_id FROM participation WHERE event_id = $1 ORDER BY seq ASC`,
		year,
	)
	if err != nil {
		return nil, classifyPg("list roster", err)
	}
	roster, err := pgx.CollectRows(rows, pgx.RowTo[model.UserID])
	if err != nil {
		return nil, classifyPg("scan roster", err)
	}
	return roster, nil
}

func (q pgQueries) HistoricalGifteeLinks(ctx context.Context, year, window int) ([]model.HistoryLink, error) {
	if window <= 0 {
		return nil, nil
	}

	rows, err := q.db.Query(ctx,
		`WITH prior AS (
		     SELECT id, ROW_NUMBER() OVER (ORDER BY id DESC) - 1 AS recency
		     FROM events
		     WHERE id < $1
		     ORDER BY id DESC
		     LIMIT $2
		 )
		 SELECT prior.id, prior.recency, p.user_id, p.giftee_id
		 FROM participation p
		 JOIN prior ON prior.id = p.event_id
		 WHERE p.giftee_id IS NOT NULL
		 ORDER BY prior.recency ASC, p.user_id ASC`,
		year, window,
	)
	if err != nil {
		return nil, classifyPg("list giftee history", err)
	}
	defer rows.Close()

	var links []model.HistoryLink
	for rows.Next() {
		var l model.HistoryLink
		if err := rows.Scan(&l.EventID, &l.Recency, &l.UserID, &l.GifteeID); err != nil {
			return nil, classifyPg("scan giftee history", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPg("list giftee history", err)
	}
	return links, nil
}

// RecordAssignments expects to run inside a transaction; the first failing
// update aborts it.
func (q pgQueries) RecordAssignments(ctx context.Context, year int, pairs []model.Assignment) error {
	roster, err := q.Roster(ctx, year)
	if err != nil {
		return err
	}
	if err := validateAssignments(roster, pairs); err != nil {
		return queryFailed("validate assignments", err)
	}

	for _, p := range pairs {
		tag, err := q.db.Exec(ctx,
			`UPDATE participation SET giftee_id = $1
			 WHERE event_id = $2 AND user_id = $3 AND giftee_id IS NULL`,
			p.Giftee, year, p.Participant,
		)
		if err != nil {
			return classifyPg("record assignment", err)
		}
		if tag.RowsAffected() != 1 {
			return queryFailed("record assignment",
				fmt.Errorf("user %d already has a giftee in event %d", p.Participant, year))
		}
	}
	return nil
}

// classifyPg maps a pgx failure onto the store's error kinds.
func classifyPg(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		// connection exception, insufficient resources, operator intervention
		case "08", "53", "57":
			return unavailable(op, err)
		}
		return queryFailed(op, err)
	}

	var netErr net.Error
	var connectErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		pgconn.Timeout(err),
		errors.As(err, &connectErr),
		errors.As(err, &netErr):
		return unavailable(op, err)
	}
	return queryFailed(op, err)
}
