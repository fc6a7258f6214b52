package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/notify"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	meetingID domain.MeetingID
	identity  domain.Identity
	conn      *websocket.Conn
	send      chan []byte

	mu     sync.RWMutex
	closed bool
}

func (s *subscriber) TrySend(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("connection closed")
	}
	select {
	case s.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close stops accepting frames; the write pump flushes what is queued and
// hangs up.
func (s *subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// EventHub is a notify.Sink that fans events out to the websocket clients
// watching the meeting they belong to.
type EventHub struct {
	mu   sync.RWMutex
	subs map[domain.MeetingID]map[*subscriber]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[domain.MeetingID]map[*subscriber]struct{})}
}

var _ notify.Sink = (*EventHub)(nil)

func (h *EventHub) Deliver(_ context.Context, _ string, msg notify.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	id := msg.Payload.Meeting()

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs[id]))
	for s := range h.subs[id] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if err := s.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").
				Str("meeting_id", string(id)).
				Str("identity", string(s.identity)).
				Str("event", msg.Event).
				Msg("event dropped for subscriber")
		}
	}

	if _, ended := msg.Payload.(notify.MeetingEnded); ended {
		h.CloseMeeting(id)
	}
	return nil
}

// CloseMeeting hangs up every client watching meetingID.
func (h *EventHub) CloseMeeting(meetingID domain.MeetingID) {
	h.mu.Lock()
	subs := h.subs[meetingID]
	delete(h.subs, meetingID)
	h.mu.Unlock()
	for s := range subs {
		s.Close()
	}
}

// Serve registers an upgraded connection and runs its pumps.
func (h *EventHub) Serve(meetingID domain.MeetingID, id domain.Identity, conn *websocket.Conn) {
	s := &subscriber{meetingID: meetingID, identity: id, conn: conn, send: make(chan []byte, 32)}

	h.mu.Lock()
	if h.subs[meetingID] == nil {
		h.subs[meetingID] = make(map[*subscriber]struct{})
	}
	h.subs[meetingID][s] = struct{}{}
	h.mu.Unlock()

	log.Info().Str("module", "adapters.http").
		Str("meeting_id", string(meetingID)).
		Str("identity", string(id)).
		Msg("event subscriber connected")
	go h.writePump(s)
	go h.readPump(s)
}

func (h *EventHub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[s.meetingID]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.subs, s.meetingID)
	}
}

func (h *EventHub) subscriberCount(meetingID domain.MeetingID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[meetingID])
}

func (h *EventHub) Close() {
	h.mu.Lock()
	all := h.subs
	h.subs = make(map[domain.MeetingID]map[*subscriber]struct{})
	h.mu.Unlock()
	for _, subs := range all {
		for s := range subs {
			s.Close()
		}
	}
}

func (h *EventHub) writePump(s *subscriber) {
	defer s.conn.Close()
	for data := range s.send {
		if err := s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("writePump set deadline")
			return
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("writePump write error")
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// readPump only watches for the client going away; clients send nothing.
func (h *EventHub) readPump(s *subscriber) {
	defer func() {
		h.unsubscribe(s)
		s.Close()
		log.Info().Str("module", "adapters.http").
			Str("meeting_id", string(s.meetingID)).
			Str("identity", string(s.identity)).
			Msg("event subscriber gone")
	}()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
