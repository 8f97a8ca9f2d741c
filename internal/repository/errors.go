package repository

import (
	"errors"
	"fmt"
)

// Error kinds carried by StoreError.
var (
	// ErrStorageUnavailable covers pool exhaustion, connection failures,
	// busy databases and cancelled contexts.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrQueryFailed covers constraint violations and malformed queries.
	ErrQueryFailed = errors.New("query failed")
)

// Domain conditions.
var (
	// ErrEventExists is returned when the year's event was already opened.
	ErrEventExists = errors.New("event already exists")

	// ErrEventNotFound is returned when no event exists for the year.
	ErrEventNotFound = errors.New("event not found")

	// ErrEventClosed is returned when names have already been drawn.
	ErrEventClosed = errors.New("names have already been drawn for this event")

	// ErrNotParticipant is returned when removing a user who never joined.
	ErrNotParticipant = errors.New("user is not a participant")
)

// StoreError is a classified storage failure. It matches its Kind and the
// underlying driver error with errors.Is and errors.As.
type StoreError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func unavailable(op string, err error) error {
	return &StoreError{Op: op, Kind: ErrStorageUnavailable, Err: err}
}

func queryFailed(op string, err error) error {
	return &StoreError{Op: op, Kind: ErrQueryFailed, Err: err}
}
