package notify

import (
	"encoding/json"

	"github.com/dkeye/Conference/internal/domain"
)

// Event is one of the closed set of payloads below.
type Event interface {
	Name() string
	Meeting() domain.MeetingID
}

type MeetingEnded struct {
	MeetingID domain.MeetingID `json:"meetingId"`
}

type AttendeeLeft struct {
	MeetingID  domain.MeetingID  `json:"meetingId"`
	AttendeeID domain.AttendeeID `json:"attendeeId"`
	Reason     string            `json:"reason"`
}

type ProducerCreated struct {
	MeetingID    domain.MeetingID    `json:"meetingId"`
	AttendeeID   domain.AttendeeID   `json:"attendeeId"`
	ProducerType domain.ProducerKind `json:"producerType"`
	ProducerID   domain.ProducerID   `json:"producerId"`
}

// ProducerChanged is shared by the close/pause/resume notifications.
type ProducerChanged struct {
	MeetingID    domain.MeetingID    `json:"meetingId"`
	AttendeeID   domain.AttendeeID   `json:"attendeeId"`
	ProducerType domain.ProducerKind `json:"producerType"`
	ProducerID   domain.ProducerID   `json:"producerId"`
}

type (
	ProducerClosed  ProducerChanged
	ProducerPaused  ProducerChanged
	ProducerResumed ProducerChanged
)

type ConsumerChanged struct {
	MeetingID  domain.MeetingID  `json:"meetingId"`
	AttendeeID domain.AttendeeID `json:"attendeeId"`
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type (
	ConsumerClosed  ConsumerChanged
	ConsumerPaused  ConsumerChanged
	ConsumerResumed ConsumerChanged
)

func (MeetingEnded) Name() string    { return "meetingEnded" }
func (AttendeeLeft) Name() string    { return "attendeeLeft" }
func (ProducerCreated) Name() string { return "producerCreated" }
func (ProducerClosed) Name() string  { return "producerClosed" }
func (ProducerPaused) Name() string  { return "producerPaused" }
func (ProducerResumed) Name() string { return "producerResumed" }
func (ConsumerClosed) Name() string  { return "consumerClosed" }
func (ConsumerPaused) Name() string  { return "consumerPaused" }
func (ConsumerResumed) Name() string { return "consumerResumed" }

func (e MeetingEnded) Meeting() domain.MeetingID    { return e.MeetingID }
func (e AttendeeLeft) Meeting() domain.MeetingID    { return e.MeetingID }
func (e ProducerCreated) Meeting() domain.MeetingID { return e.MeetingID }
func (e ProducerClosed) Meeting() domain.MeetingID  { return e.MeetingID }
func (e ProducerPaused) Meeting() domain.MeetingID  { return e.MeetingID }
func (e ProducerResumed) Meeting() domain.MeetingID { return e.MeetingID }
func (e ConsumerClosed) Meeting() domain.MeetingID  { return e.MeetingID }
func (e ConsumerPaused) Meeting() domain.MeetingID  { return e.MeetingID }
func (e ConsumerResumed) Meeting() domain.MeetingID { return e.MeetingID }

// Message is the wire envelope every sink delivers.
type Message struct {
	Event   string `json:"event"`
	Payload Event  `json:"payload"`
}

func NewMessage(ev Event) Message {
	return Message{Event: ev.Name(), Payload: ev}
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
