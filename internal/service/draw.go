package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/log"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/metrics"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/repository"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/solver"
)

// ErrDrawInProgress is returned when a draw for the same event is already
// running in this process.
var ErrDrawInProgress = errors.New("a draw for this event is already in progress")

// Drawer assigns giftees for an event and persists the result.
type Drawer struct {
	store   repository.Store
	cfg     solver.Config
	timeout time.Duration
	newRand func() *rand.Rand

	// inflight holds the years currently being drawn.
	inflight *xsync.Map[int, struct{}]
}

// NewDrawer constructs a Drawer. A zero timeout leaves the caller's deadline
// in charge.
func NewDrawer(store repository.Store, cfg solver.Config, timeout time.Duration) *Drawer {
	return &Drawer{
		store:   store,
		cfg:     cfg,
		timeout: timeout,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
		inflight: xsync.NewMap[int, struct{}](),
	}
}

// Draw locks the year's event, reads the roster and history, solves, and
// records every assignment in the same transaction. On any failure nothing
// is written. A draw on an event that was already drawn fails with
// repository.ErrEventClosed.
func (d *Drawer) Draw(ctx context.Context, year int) ([]model.Assignment, error) {
	if _, running := d.inflight.LoadOrStore(year, struct{}{}); running {
		metrics.DrawsTotal.WithLabelValues("in_progress").Inc()
		return nil, fmt.Errorf("draw event %d: %w", year, ErrDrawInProgress)
	}
	defer d.inflight.Delete(year)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	logger := log.WithEvent("drawer", year)
	timer := metrics.NewTimer()

	var (
		pairs []model.Assignment
		stats solver.Stats
	)
	err := d.store.WithEventLock(ctx, year, func(tx repository.EventTx) error {
		open, err := tx.IsOpen(ctx, year)
		if err != nil {
			return err
		}
		if !open {
			return repository.ErrEventClosed
		}

		roster, err := tx.Roster(ctx, year)
		if err != nil {
			return err
		}
		links, err := tx.HistoricalGifteeLinks(ctx, year, d.cfg.Window())
		if err != nil {
			return err
		}

		var perm []int
		perm, stats, err = solver.Solve(ctx, len(roster), buildRestrictions(roster, links, d.cfg.Window()), d.cfg, d.newRand())
		if err != nil {
			return err
		}

		pairs = make([]model.Assignment, len(roster))
		for i, j := range perm {
			pairs[i] = model.Assignment{Participant: roster[i], Giftee: roster[j]}
		}
		return tx.RecordAssignments(ctx, year, pairs)
	})
	timer.ObserveDuration(metrics.DrawDuration)

	if err != nil {
		metrics.DrawsTotal.WithLabelValues(drawOutcome(err)).Inc()
		logger.Warn().Err(err).Int("attempts", stats.Attempts).Msg("draw failed")
		return nil, fmt.Errorf("draw event %d: %w", year, err)
	}

	metrics.DrawsTotal.WithLabelValues("success").Inc()
	metrics.SamplerAttempts.WithLabelValues(string(stats.Method)).Observe(float64(stats.Attempts))
	logger.Info().
		Int("participants", len(pairs)).
		Int("attempts", stats.Attempts).
		Str("method", string(stats.Method)).
		Dur("elapsed", timer.Duration()).
		Msg("names drawn")
	return pairs, nil
}

// buildRestrictions turns history links into the solver's index matrix.
// Links involving users outside the current roster are ignored.
func buildRestrictions(roster []model.UserID, links []model.HistoryLink, window int) [][]int {
	index := make(map[model.UserID]int, len(roster))
	for i, id := range roster {
		index[id] = i
	}

	r := solver.NewRestrictions(len(roster), window)
	for _, l := range links {
		if l.Recency < 0 || l.Recency >= window {
			continue
		}
		i, ok := index[l.UserID]
		if !ok {
			continue
		}
		j, ok := index[l.GifteeID]
		if !ok {
			continue
		}
		r[i][l.Recency] = j
	}
	return r
}

func drawOutcome(err error) string {
	switch {
	case errors.Is(err, repository.ErrEventClosed):
		return "closed"
	case errors.Is(err, solver.ErrNoValidAssignment):
		return "infeasible"
	case errors.Is(err, repository.ErrEventNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
