package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/log"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/metrics"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/repository"
)

// ParticipationManager toggles users in and out of an open event. It is the
// only write path for participation rows before a draw.
type ParticipationManager struct {
	store repository.Store
}

// NewParticipationManager constructs a ParticipationManager.
func NewParticipationManager(store repository.Store) *ParticipationManager {
	return &ParticipationManager{store: store}
}

// Toggle adds the user to the year's event, or removes them if they already
// joined. The open check, the membership change and the returned count all
// happen under the event lock, so concurrent toggles see a consistent state.
func (m *ParticipationManager) Toggle(ctx context.Context, year int, user model.User) (model.ParticipationChange, error) {
	change := model.ParticipationChange{UserID: user.ID, EventID: year}

	err := m.store.WithEventLock(ctx, year, func(tx repository.EventTx) error {
		open, err := tx.IsOpen(ctx, year)
		if err != nil {
			return err
		}
		if !open {
			return repository.ErrEventClosed
		}

		if err := tx.UpsertUser(ctx, user); err != nil {
			return err
		}

		member, err := tx.IsParticipant(ctx, year, user.ID)
		if err != nil {
			return err
		}
		if member {
			change.Transition = model.Left
			err = tx.RemoveParticipant(ctx, year, user.ID)
		} else {
			change.Transition = model.Joined
			err = tx.AddParticipant(ctx, year, user.ID)
		}
		if err != nil {
			return err
		}

		change.TotalParticipants, err = tx.ParticipantCount(ctx, year)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrEventClosed) {
			metrics.TogglesTotal.WithLabelValues("rejected").Inc()
		}
		return model.ParticipationChange{}, fmt.Errorf("toggle participation: %w", err)
	}

	metrics.TogglesTotal.WithLabelValues(string(change.Transition)).Inc()
	logger := log.WithEvent("participation", year)
	logger.Info().
		Int64("user_id", int64(user.ID)).
		Str("transition", string(change.Transition)).
		Int("total_participants", change.TotalParticipants).
		Msg("participation toggled")
	return change, nil
}
