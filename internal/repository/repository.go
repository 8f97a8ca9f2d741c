// Package repository implements durable, transactional access to users,
// events and participation rows. PostgresStore uses pgx directly; SQLiteStore
// backs single-binary deployments with an embedded database.
package repository

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
)

// EventTx is the set of primitives available inside a transaction that holds
// the exclusive lock on one event.
type EventTx interface {
	IsOpen(ctx context.Context, year int) (bool, error)
	UpsertUser(ctx context.Context, user model.User) error
	IsParticipant(ctx context.Context, year int, userID model.UserID) (bool, error)
	AddParticipant(ctx context.Context, year int, userID model.UserID) error
	RemoveParticipant(ctx context.Context, year int, userID model.UserID) error
	ParticipantCount(ctx context.Context, year int) (int, error)
	Roster(ctx context.Context, year int) ([]model.UserID, error)
	HistoricalGifteeLinks(ctx context.Context, year, window int) ([]model.HistoryLink, error)
	RecordAssignments(ctx context.Context, year int, pairs []model.Assignment) error
}

// Store is the event store. Every method outside WithEventLock runs as its
// own short transaction or single statement. Nothing is retried.
type Store interface {
	EventTx

	// CreateEvent inserts the year's event and enrolls admin as its first
	// participant. A second call for the same year fails with ErrEventExists.
	CreateEvent(ctx context.Context, year int, admin model.User) error

	// Giftee returns the user's assigned giftee for the year, if any.
	Giftee(ctx context.Context, year int, userID model.UserID) (model.UserID, bool, error)

	// LatestEventYear returns the most recent event, if any exists.
	LatestEventYear(ctx context.Context) (int, bool, error)

	// WithEventLock runs fn in a transaction holding an exclusive lock on the
	// year's event. The transaction commits when fn returns nil and rolls back
	// otherwise. A missing event fails with ErrEventNotFound.
	WithEventLock(ctx context.Context, year int, fn func(tx EventTx) error) error

	Close()
}

// validateAssignments checks that pairs cover the roster exactly once on both
// sides and contain no self-assignment.
func validateAssignments(roster []model.UserID, pairs []model.Assignment) error {
	if len(pairs) != len(roster) {
		return fmt.Errorf("%d assignments for %d participants", len(pairs), len(roster))
	}

	members := make(map[model.UserID]bool, len(roster))
	for _, id := range roster {
		members[id] = true
	}

	givers := make(map[model.UserID]bool, len(pairs))
	receivers := make(map[model.UserID]bool, len(pairs))
	for _, p := range pairs {
		switch {
		case p.Participant == p.Giftee:
			return fmt.Errorf("user %d assigned to themselves", p.Participant)
		case !members[p.Participant]:
			return fmt.Errorf("user %d is not a participant", p.Participant)
		case !members[p.Giftee]:
			return fmt.Errorf("giftee %d is not a participant", p.Giftee)
		case givers[p.Participant]:
			return fmt.Errorf("user %d assigned twice", p.Participant)
		case receivers[p.Giftee]:
			return fmt.Errorf("giftee %d assigned twice", p.Giftee)
		}
		givers[p.Participant] = true
		receivers[p.Giftee] = true
	}
	return nil
}
