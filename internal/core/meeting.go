package core

import (
	"context"
	"sync"

	"github.com/dkeye/Conference/internal/apperr"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// TransportConfig is applied to every transport a meeting creates.
type TransportConfig struct {
	Options            media.TransportOptions
	MaxIncomingBitrate uint32
}

// JoinInfo is what a joining attendee relays to its remote peer.
type JoinInfo struct {
	RouterRTPCapabilities media.RTPCapabilities     `json:"routerRtpCapabilities"`
	SendTransport         media.TransportDescriptor `json:"sendTransport"`
	ReceiveTransport      media.TransportDescriptor `json:"receiveTransport"`
}

// Meeting owns one router and the attendees joined to it. A nil attendee
// entry is a reserved slot whose transports are still being created.
type Meeting struct {
	id        domain.MeetingID
	hostID    domain.Identity
	router    media.Router
	transport TransportConfig

	mu        sync.RWMutex
	state     MeetingState
	attendees map[domain.AttendeeID]*Attendee
	onEnded   []func()
	onLeft    []func(domain.AttendeeID, CloseReason)
}

func NewMeeting(id domain.MeetingID, hostID domain.Identity, router media.Router, tc TransportConfig) *Meeting {
	m := &Meeting{
		id:        id,
		hostID:    hostID,
		router:    router,
		transport: tc,
		attendees: make(map[domain.AttendeeID]*Attendee),
	}
	router.OnWorkerClose(func() {
		log.Warn().Str("module", "core.meeting").Str("meeting_id", string(id)).Msg("worker closed, ending meeting")
		m.End()
	})
	return m
}

func (m *Meeting) ID() domain.MeetingID    { return m.id }
func (m *Meeting) HostID() domain.Identity { return m.hostID }
func (m *Meeting) RouterRTPCapabilities() media.RTPCapabilities {
	return m.router.RTPCapabilities()
}

func (m *Meeting) State() MeetingState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnEnded registers a listener fired once after the meeting ends. On an
// ended meeting it fires right away.
func (m *Meeting) OnEnded(fn func()) {
	m.mu.Lock()
	if m.state != MeetingEnded {
		m.onEnded = append(m.onEnded, fn)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	fn()
}

// OnAttendeeLeft fires for explicit removal and transport failure alike.
// Attendees closed by the end of the meeting are not reported.
func (m *Meeting) OnAttendeeLeft(fn func(domain.AttendeeID, CloseReason)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLeft = append(m.onLeft, fn)
}

func (m *Meeting) AddAttendee(ctx context.Context, id domain.AttendeeID) (*JoinInfo, error) {
	m.mu.Lock()
	if m.state == MeetingEnded {
		m.mu.Unlock()
		return nil, apperr.Conflict("meeting %s has ended", m.id)
	}
	if _, ok := m.attendees[id]; ok {
		m.mu.Unlock()
		return nil, apperr.Conflict("attendee %s has already joined meeting %s", id, m.id)
	}
	m.attendees[id] = nil
	m.mu.Unlock()

	send, err := m.createTransport(ctx)
	if err != nil {
		m.releaseSlot(id)
		return nil, err
	}
	recv, err := m.createTransport(ctx)
	if err != nil {
		send.Close()
		m.releaseSlot(id)
		return nil, err
	}

	a := newAttendee(m.id, id, send, recv)
	m.mu.Lock()
	if m.state == MeetingEnded {
		m.mu.Unlock()
		a.Close(ReasonMeetingEnded)
		return nil, apperr.Conflict("meeting %s has ended", m.id)
	}
	m.attendees[id] = a
	m.mu.Unlock()
	a.OnClosed(func(reason CloseReason) { m.attendeeClosed(a, reason) })

	log.Info().Str("module", "core.meeting").
		Str("meeting_id", string(m.id)).
		Str("attendee_id", string(id)).
		Msg("attendee joined")
	return &JoinInfo{
		RouterRTPCapabilities: m.router.RTPCapabilities(),
		SendTransport:         media.Describe(send),
		ReceiveTransport:      media.Describe(recv),
	}, nil
}

func (m *Meeting) createTransport(ctx context.Context) (media.Transport, error) {
	t, err := m.router.CreateWebRTCTransport(ctx, m.transport.Options)
	if err != nil {
		return nil, apperr.Upstream(err, "create transport")
	}
	if m.transport.MaxIncomingBitrate > 0 {
		if err := t.SetMaxIncomingBitrate(ctx, m.transport.MaxIncomingBitrate); err != nil {
			log.Warn().Err(err).Str("module", "core.meeting").
				Str("meeting_id", string(m.id)).
				Str("transport_id", t.ID()).
				Msg("set max incoming bitrate failed")
		}
	}
	return t, nil
}

func (m *Meeting) releaseSlot(id domain.AttendeeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attendees[id]; ok && a == nil {
		delete(m.attendees, id)
	}
}

func (m *Meeting) attendeeClosed(a *Attendee, reason CloseReason) {
	m.mu.Lock()
	if m.attendees[a.ID()] == a {
		delete(m.attendees, a.ID())
	}
	listeners := append([]func(domain.AttendeeID, CloseReason){}, m.onLeft...)
	m.mu.Unlock()

	if reason == ReasonMeetingEnded {
		return
	}
	for _, fn := range listeners {
		fn(a.ID(), reason)
	}
}

func (m *Meeting) RemoveAttendee(id domain.AttendeeID) error {
	m.mu.Lock()
	if m.state == MeetingEnded {
		m.mu.Unlock()
		return apperr.Conflict("meeting %s has ended", m.id)
	}
	a := m.attendees[id]
	if a == nil {
		m.mu.Unlock()
		return apperr.NotFound("attendee %s is not in meeting %s", id, m.id)
	}
	delete(m.attendees, id)
	m.mu.Unlock()

	a.Close(ReasonRemoved)
	return nil
}

func (m *Meeting) attendee(id domain.AttendeeID) (*Attendee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == MeetingEnded {
		return nil, apperr.Conflict("meeting %s has ended", m.id)
	}
	a := m.attendees[id]
	if a == nil {
		return nil, apperr.NotFound("attendee %s is not in meeting %s", id, m.id)
	}
	return a, nil
}

// Attendee resolves a joined attendee.
func (m *Meeting) Attendee(id domain.AttendeeID) (*Attendee, error) { return m.attendee(id) }

func (m *Meeting) ConnectTransport(ctx context.Context, id domain.AttendeeID, dir domain.TransportDirection, dtls webrtc.DTLSParameters) error {
	a, err := m.attendee(id)
	if err != nil {
		return err
	}
	return a.ConnectTransport(ctx, dir, dtls)
}

func (m *Meeting) ProduceMedia(ctx context.Context, id domain.AttendeeID, kind domain.ProducerKind, params media.RTPParameters) (media.Producer, error) {
	a, err := m.attendee(id)
	if err != nil {
		return nil, err
	}
	return a.ProduceMedia(ctx, kind, params)
}

func (m *Meeting) CloseProducer(id domain.AttendeeID, kind domain.ProducerKind) error {
	a, err := m.attendee(id)
	if err != nil {
		return err
	}
	return a.CloseProducer(kind)
}

func (m *Meeting) PauseProducer(ctx context.Context, id domain.AttendeeID, kind domain.ProducerKind) error {
	a, err := m.attendee(id)
	if err != nil {
		return err
	}
	return a.PauseProducer(ctx, kind)
}

func (m *Meeting) ResumeProducer(ctx context.Context, id domain.AttendeeID, kind domain.ProducerKind) error {
	a, err := m.attendee(id)
	if err != nil {
		return err
	}
	return a.ResumeProducer(ctx, kind)
}

func (m *Meeting) ConsumeMedia(ctx context.Context, id domain.AttendeeID, producerID domain.ProducerID, caps media.RTPCapabilities) (media.Consumer, error) {
	a, err := m.attendee(id)
	if err != nil {
		return nil, err
	}
	return a.ConsumeMedia(ctx, producerID, caps)
}

func (m *Meeting) CloseConsumer(id domain.AttendeeID, consumerID domain.ConsumerID) error {
	a, err := m.attendee(id)
	if err != nil {
		return err
	}
	return a.CloseConsumer(consumerID)
}

func (m *Meeting) PauseConsumer(ctx context.Context, id domain.AttendeeID, consumerID domain.ConsumerID) error {
	a, err := m.attendee(id)
	if err != nil {
		return err
	}
	return a.PauseConsumer(ctx, consumerID)
}

func (m *Meeting) ResumeConsumer(ctx context.Context, id domain.AttendeeID, consumerID domain.ConsumerID) error {
	a, err := m.attendee(id)
	if err != nil {
		return err
	}
	return a.ResumeConsumer(ctx, consumerID)
}

// End is idempotent. Attendees are closed without a per-attendee leave
// notification, then the router is released and OnEnded listeners fire.
// Removing the meeting from the registry is the listener's job.
func (m *Meeting) End() {
	m.mu.Lock()
	if m.state == MeetingEnded {
		m.mu.Unlock()
		return
	}
	m.state = MeetingEnded
	attendees := make([]*Attendee, 0, len(m.attendees))
	for _, a := range m.attendees {
		if a != nil {
			attendees = append(attendees, a)
		}
	}
	m.attendees = make(map[domain.AttendeeID]*Attendee)
	listeners := m.onEnded
	m.onEnded = nil
	m.mu.Unlock()

	for _, a := range attendees {
		a.Close(ReasonMeetingEnded)
	}
	m.router.Close()

	log.Info().Str("module", "core.meeting").
		Str("meeting_id", string(m.id)).
		Int("attendees", len(attendees)).
		Msg("meeting ended")
	for _, fn := range listeners {
		fn()
	}
}

// Attendees snapshots every slot, reserved ones included.
func (m *Meeting) Attendees() []AttendeeDTO {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AttendeeDTO, 0, len(m.attendees))
	for id, a := range m.attendees {
		dto := AttendeeDTO{ID: id, State: AttendeeReserved.String(), ProducerIDs: []domain.ProducerID{}}
		if a != nil {
			dto.State = a.State().String()
			dto.ProducerIDs = a.ProducerIDs()
		}
		out = append(out, dto)
	}
	return out
}
