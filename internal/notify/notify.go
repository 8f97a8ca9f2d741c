// Package notify delivers drawn assignments to participants. Delivery is
// best effort: a failure for one recipient is reported but never undoes the
// persisted draw.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/log"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/metrics"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/model"
)

// DefaultSubject prefixes the per-recipient NATS subject.
const DefaultSubject = "giftex.assignments"

// flushTimeout bounds the wait for the broker to acknowledge a publish when
// the caller supplies no deadline.
const flushTimeout = 5 * time.Second

// Notification is one private message for one participant.
type Notification struct {
	Recipient model.UserID `json:"recipient"`
	Giftee    model.UserID `json:"giftee"`
	EventID   int          `json:"event_id"`
	Content   string       `json:"content"`
}

// NewNotification renders the message for a drawn pair.
func NewNotification(year int, pair model.Assignment) Notification {
	return Notification{
		Recipient: pair.Participant,
		Giftee:    pair.Giftee,
		EventID:   year,
		Content:   fmt.Sprintf("Your gift-exchange assignment for the %d event is <@%d>!", year, pair.Giftee),
	}
}

// Notifier delivers a notification to its recipient.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NATSNotifier publishes notifications as JSON on "<subject>.<recipient>"
// for the chat gateway to deliver.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATSNotifier constructs a NATSNotifier.
func NewNATSNotifier(conn *nats.Conn, subject string) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSNotifier{conn: conn, subject: subject}
}

// Notify publishes n and waits for the broker to receive it.
func (p *NATSNotifier) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	msg := nats.NewMsg(p.subject + "." + strconv.FormatInt(int64(n.Recipient), 10))
	msg.Data = data
	msg.Header.Set("Giftex-Event", strconv.Itoa(n.EventID))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush notification: %w", err)
	}
	return nil
}

// LogNotifier writes notifications to the service log. Used when no broker
// is configured.
type LogNotifier struct{}

// Notify logs n.
func (LogNotifier) Notify(_ context.Context, n Notification) error {
	logger := log.WithEvent("notify", n.EventID)
	logger.Info().
		Int64("recipient", int64(n.Recipient)).
		Str("content", n.Content).
		Msg("assignment notification")
	return nil
}

// Failure is a notification that could not be delivered.
type Failure struct {
	Recipient model.UserID
	Err       error
}

// PartialNotificationError lists recipients whose notification failed. The
// draw itself succeeded.
type PartialNotificationError struct {
	EventID  int
	Failures []Failure
}

func (e *PartialNotificationError) Error() string {
	return fmt.Sprintf("%d assignment notification(s) for event %d could not be delivered", len(e.Failures), e.EventID)
}

func (e *PartialNotificationError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Dispatch notifies every participant of their giftee, at most limit at a
// time. It returns a *PartialNotificationError when any delivery failed.
func Dispatch(ctx context.Context, n Notifier, year int, pairs []model.Assignment, limit int) error {
	logger := log.WithEvent("notify", year)

	var (
		mu       sync.Mutex
		failures []Failure
	)

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, pair := range pairs {
		g.Go(func() error {
			err := n.Notify(ctx, NewNotification(year, pair))
			if err == nil {
				metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
				return nil
			}

			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			logger.Warn().Err(err).Int64("recipient", int64(pair.Participant)).Msg("could not deliver assignment")

			mu.Lock()
			failures = append(failures, Failure{Recipient: pair.Participant, Err: err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return nil
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Recipient < failures[j].Recipient })
	return &PartialNotificationError{EventID: year, Failures: failures}
}

// AsFailures converts a Dispatch error into per-recipient failures for the
// API response. Any other error is reported as a failure with no recipient.
func AsFailures(err error) []model.NotificationFailure {
	if err == nil {
		return nil
	}
	var partial *PartialNotificationError
	if !errors.As(err, &partial) {
		return []model.NotificationFailure{{Error: err.Error()}}
	}
	out := make([]model.NotificationFailure, len(partial.Failures))
	for i, f := range partial.Failures {
		out[i] = model.NotificationFailure{Recipient: f.Recipient, Error: f.Err.Error()}
	}
	return out
}
