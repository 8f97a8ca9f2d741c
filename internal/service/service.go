// Package service implements the gift-exchange operations behind the command
// layer: opening the year's event, toggling membership, looking up a giftee
// and drawing names.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/log"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/notify"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/repository"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/solver"
)

// ErrForbidden is returned when a non-administrator invokes an
// administrator action.
var ErrForbidden = errors.New("only the event administrator can do that")

// Config holds the tunables the service needs.
type Config struct {
	AdminID           model.UserID
	Location          *time.Location
	Solver            solver.Config
	DrawTimeout       time.Duration
	NotifyConcurrency int
}

// EventService orchestrates the gift-exchange operations.
type EventService struct {
	store         repository.Store
	participation *ParticipationManager
	drawer        *Drawer
	notifier      notify.Notifier
	cfg           Config
	now           func() time.Time
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(store repository.Store, notifier notify.Notifier, cfg Config) *EventService {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &EventService{
		store:         store,
		participation: NewParticipationManager(store),
		drawer:        NewDrawer(store, cfg.Solver, cfg.DrawTimeout),
		notifier:      notifier,
		cfg:           cfg,
		now:           time.Now,
	}
}

// CurrentYear is the event year as of now in the configured location.
func (s *EventService) CurrentYear() int {
	return s.now().In(s.cfg.Location).Year()
}

func (s *EventService) requireAdmin(actor model.User) error {
	if actor.ID != s.cfg.AdminID {
		return ErrForbidden
	}
	return nil
}

// OpenEvent creates the current year's event with the administrator as its
// first participant.
func (s *EventService) OpenEvent(ctx context.Context, actor model.User) (model.EventOpenResult, error) {
	if err := s.requireAdmin(actor); err != nil {
		return model.EventOpenResult{}, err
	}

	year := s.CurrentYear()
	if err := s.store.CreateEvent(ctx, year, normalizeUser(actor)); err != nil {
		return model.EventOpenResult{}, fmt.Errorf("open event: %w", err)
	}

	count, err := s.store.ParticipantCount(ctx, year)
	if err != nil {
		return model.EventOpenResult{}, fmt.Errorf("open event: %w", err)
	}

	logger := log.WithEvent("service", year)
	logger.Info().Msg("event opened")
	return model.EventOpenResult{EventID: year, TotalParticipants: count}, nil
}

// ToggleMembership joins or leaves the current year's event.
func (s *EventService) ToggleMembership(ctx context.Context, userID model.UserID, displayName string) (model.ParticipationChange, error) {
	user := normalizeUser(model.User{ID: userID, DisplayName: displayName})
	if user.ID == 0 {
		return model.ParticipationChange{}, fmt.Errorf("user id is required")
	}
	return s.participation.Toggle(ctx, s.CurrentYear(), user)
}

// LookupMyGiftee returns the user's giftee in the most recent event. ok is
// false when the user did not take part or names have not been drawn.
func (s *EventService) LookupMyGiftee(ctx context.Context, userID model.UserID) (year int, giftee model.UserID, ok bool, err error) {
	year, exists, err := s.store.LatestEventYear(ctx)
	if err != nil {
		return 0, 0, false, fmt.Errorf("lookup giftee: %w", err)
	}
	if !exists {
		return 0, 0, false, nil
	}

	giftee, ok, err = s.store.Giftee(ctx, year, userID)
	if err != nil {
		return 0, 0, false, fmt.Errorf("lookup giftee: %w", err)
	}
	return year, giftee, ok, nil
}

// DrawNames assigns giftees for the current year's event and notifies every
// participant. Notification failures are reported in the result; they never
// undo the draw.
func (s *EventService) DrawNames(ctx context.Context, actor model.User) (model.DrawResult, error) {
	if err := s.requireAdmin(actor); err != nil {
		return model.DrawResult{}, err
	}

	year := s.CurrentYear()
	drawID := uuid.NewString()

	pairs, err := s.drawer.Draw(ctx, year)
	if err != nil {
		return model.DrawResult{}, err
	}

	logger := log.WithEvent("service", year)
	logger.Info().Str("draw_id", drawID).Int("pairs", len(pairs)).Msg("notifying participants")

	// The assignment is already persisted; a disconnecting caller must not
	// stop the notifications.
	notifyErr := notify.Dispatch(context.WithoutCancel(ctx), s.notifier, year, pairs, s.cfg.NotifyConcurrency)
	if notifyErr != nil {
		logger.Warn().Err(notifyErr).Str("draw_id", drawID).Msg("some participants were not notified")
	}

	return model.DrawResult{
		DrawID:               drawID,
		EventID:              year,
		Assignments:          pairs,
		NotificationFailures: notify.AsFailures(notifyErr),
	}, nil
}

func normalizeUser(u model.User) model.User {
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	if u.DisplayName == "" {
		u.DisplayName = fmt.Sprintf("user-%d", u.ID)
	}
	return u
}
