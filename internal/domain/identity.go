// Package domain contains identifiers and enums without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxIdentityLen = 64

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
)

// Identity names a participant (host or attendee) as supplied by the caller.
type Identity string

type (
	MeetingID  string
	AttendeeID = Identity
	ProducerID string
	ConsumerID string
	WorkerID   string
)

func NewMeetingID() MeetingID {
	return MeetingID(uuid.NewString())
}

// ParseIdentity avoids ad-hoc string conversions in adapters.
func ParseIdentity(raw string) (Identity, error) {
	if len(raw) == 0 {
		return "", ErrIdentityEmpty
	}
	if len(raw) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	return Identity(raw), nil
}
