package core

import "github.com/dkeye/Conference/internal/domain"

type MeetingState int32

const (
	MeetingActive MeetingState = iota
	MeetingEnded
)

func (s MeetingState) String() string {
	if s == MeetingEnded {
		return "ended"
	}
	return "active"
}

type AttendeeState int32

const (
	AttendeeReserved AttendeeState = iota
	AttendeeActive
	AttendeeClosed
)

func (s AttendeeState) String() string {
	switch s {
	case AttendeeActive:
		return "active"
	case AttendeeClosed:
		return "closed"
	default:
		return "reserved"
	}
}

// CloseReason tells why an attendee left its meeting.
type CloseReason string

const (
	ReasonRemoved         CloseReason = "removed"
	ReasonTransportFailed CloseReason = "transport_failed"
	ReasonMeetingEnded    CloseReason = "meeting_ended"
)

// AttendeeDTO is a read-only view of one attendee slot.
type AttendeeDTO struct {
	ID          domain.AttendeeID   `json:"attendeeId"`
	State       string              `json:"state"`
	ProducerIDs []domain.ProducerID `json:"producerIds"`
}
