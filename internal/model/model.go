// Package model defines the core domain types for the gift-exchange service.
package model

import "fmt"

// UserID is the opaque numeric identity of a community member.
type UserID int64

// User is a community member known to the service.
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name"`
}

// Event is one year's instance of the gift exchange. Its ID is the year.
type Event struct {
	ID   int  `json:"id"`
	Open bool `json:"open"`
}

// Participation is one participant's row in one event. GifteeID is nil until
// names have been drawn.
type Participation struct {
	EventID  int     `json:"event_id"`
	UserID   UserID  `json:"user_id"`
	GifteeID *UserID `json:"giftee_id,omitempty"`
}

// Assignment pairs a participant with the person they give a gift to.
type Assignment struct {
	Participant UserID `json:"participant"`
	Giftee      UserID `json:"giftee"`
}

// HistoryLink is a pairing recorded in a prior event. Recency 0 is the most
// recent prior event.
type HistoryLink struct {
	EventID  int    `json:"event_id"`
	Recency  int    `json:"recency"`
	UserID   UserID `json:"user_id"`
	GifteeID UserID `json:"giftee_id"`
}

// Transition describes which way a membership toggle went.
type Transition string

const (
	Joined Transition = "joined"
	Left   Transition = "left"
)

// ParticipationChange summarises the outcome of a single toggle.
type ParticipationChange struct {
	UserID            UserID     `json:"user_id"`
	EventID           int        `json:"event_id"`
	Transition        Transition `json:"transition"`
	TotalParticipants int        `json:"total_participants"`
}

// String renders the change the way the command layer announces it.
func (c ParticipationChange) String() string {
	verb := "joined"
	if c.Transition == Left {
		verb = "left"
	}
	return fmt.Sprintf("<@%d> has %s the %d event! It now has %d participants",
		c.UserID, verb, c.EventID, c.TotalParticipants)
}

// EventOpenResult is returned when the administrator opens a new event.
type EventOpenResult struct {
	EventID           int `json:"event_id"`
	TotalParticipants int `json:"total_participants"`
}

// NotificationFailure records a participant whose assignment could not be
// delivered.
type NotificationFailure struct {
	Recipient UserID `json:"recipient"`
	Error     string `json:"error"`
}

// DrawResult is the outcome of a successful draw.
type DrawResult struct {
	DrawID               string                `json:"draw_id"`
	EventID              int                   `json:"event_id"`
	Assignments          []Assignment          `json:"assignments"`
	NotificationFailures []NotificationFailure `json:"notification_failures,omitempty"`
}

// ToggleRequest is the payload for joining or leaving the current event.
type ToggleRequest struct {
	DisplayName string `json:"display_name"`
}

// GifteeResponse is returned by the giftee lookup.
type GifteeResponse struct {
	EventID  int     `json:"event_id,omitempty"`
	GifteeID *UserID `json:"giftee_id"`
	Message  string  `json:"message"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EventOpenResponse is returned by the open-event endpoint.
type EventOpenResponse struct {
	EventOpenResult
	Message string `json:"message"`
}

// ToggleResponse is returned by the toggle endpoint.
type ToggleResponse struct {
	ParticipationChange
	Message string `json:"message"`
}
