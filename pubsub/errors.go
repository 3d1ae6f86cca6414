package pubsub

import (
	"errors"
	"fmt"
	"time"
)

// ErrRelayClosed is returned by every call made after Close.
var ErrRelayClosed = errors.New("pubsub: relay closed")

// ErrInvalidChannel is returned when a channel cannot be carried by a transport.
var ErrInvalidChannel = errors.New("pubsub: invalid channel")

// TimeoutError means the publication did not complete within its timeout.
// The transport call may still be running; its outcome is discarded.
type TimeoutError struct {
	PublicationID string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pubsub: publication %s timed out after %s", e.PublicationID, e.Timeout)
}

// RetriesExhaustedError means every delivery attempt failed.
type RetriesExhaustedError struct {
	Publication *Publication
	Attempts    int
	Err         error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("pubsub: publication %s failed after %d attempts: %v", e.Publication.ID, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// MalformedMessageError describes an incoming message that was dropped.
type MalformedMessageError struct {
	Channel string
	Reason  string
	Err     error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pubsub: malformed message on %s: %s: %v", e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("pubsub: malformed message on %s: %s", e.Channel, e.Reason)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }
