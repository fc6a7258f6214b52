package core

import (
	"context"
	"sync"

	"github.com/dkeye/Conference/internal/apperr"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

type transportEvent struct {
	direction domain.TransportDirection
	cause     string
}

type producerEntry struct {
	producer media.Producer
	paused   bool
}

// Attendee owns the send and receive transports of one participant and the
// producers and consumers created on them. A nil producer entry is a
// reserved slot whose producer is still being created.
type Attendee struct {
	id        domain.AttendeeID
	meetingID domain.MeetingID
	send      media.Transport
	recv      media.Transport

	state  atomic.Int32
	events chan transportEvent
	done   chan struct{}

	mu        sync.Mutex
	reason    CloseReason
	producers map[domain.ProducerKind]*producerEntry
	consumers map[domain.ConsumerID]media.Consumer
	onClosed  []func(CloseReason)
}

func newAttendee(meetingID domain.MeetingID, id domain.AttendeeID, send, recv media.Transport) *Attendee {
	a := &Attendee{
		id:        id,
		meetingID: meetingID,
		send:      send,
		recv:      recv,
		events:    make(chan transportEvent, 8),
		done:      make(chan struct{}),
		producers: make(map[domain.ProducerKind]*producerEntry),
		consumers: make(map[domain.ConsumerID]media.Consumer),
	}
	a.state.Store(int32(AttendeeActive))
	a.watch(domain.TransportSend, send)
	a.watch(domain.TransportReceive, recv)
	go a.run()
	return a
}

func (a *Attendee) ID() domain.AttendeeID { return a.id }

func (a *Attendee) State() AttendeeState { return AttendeeState(a.state.Load()) }

// OnClosed registers a listener fired once when the attendee closes.
func (a *Attendee) OnClosed(fn func(CloseReason)) {
	a.mu.Lock()
	if a.State() != AttendeeClosed {
		a.onClosed = append(a.onClosed, fn)
		a.mu.Unlock()
		return
	}
	reason := a.reason
	a.mu.Unlock()
	fn(reason)
}

func (a *Attendee) watch(dir domain.TransportDirection, t media.Transport) {
	t.OnDTLSStateChange(func(s webrtc.DTLSTransportState) {
		if s == webrtc.DTLSTransportStateFailed || s == webrtc.DTLSTransportStateClosed {
			a.notify(transportEvent{direction: dir, cause: "dtls " + s.String()})
		}
	})
	t.OnICEStateChange(func(s webrtc.ICETransportState) {
		if s == webrtc.ICETransportStateDisconnected || s == webrtc.ICETransportStateClosed {
			a.notify(transportEvent{direction: dir, cause: "ice " + s.String()})
		}
	})
	t.OnRouterClose(func() {
		a.notify(transportEvent{direction: dir, cause: "router closed"})
	})
}

func (a *Attendee) notify(ev transportEvent) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

// run is the attendee control loop. The first transport failure closes it.
func (a *Attendee) run() {
	select {
	case ev := <-a.events:
		log.Warn().Str("module", "core.attendee").
			Str("meeting_id", string(a.meetingID)).
			Str("attendee_id", string(a.id)).
			Str("transport", string(ev.direction)).
			Str("cause", ev.cause).
			Msg("transport failed")
		a.Close(ReasonTransportFailed)
	case <-a.done:
	}
}

// Close is idempotent. It closes both transports, which takes every
// producer and consumer down with them.
func (a *Attendee) Close(reason CloseReason) {
	a.mu.Lock()
	if !a.state.CompareAndSwap(int32(AttendeeActive), int32(AttendeeClosed)) {
		a.mu.Unlock()
		return
	}
	a.reason = reason
	listeners := a.onClosed
	a.onClosed = nil
	close(a.done)
	a.mu.Unlock()

	a.send.Close()
	a.recv.Close()

	log.Info().Str("module", "core.attendee").
		Str("meeting_id", string(a.meetingID)).
		Str("attendee_id", string(a.id)).
		Str("reason", string(reason)).
		Msg("attendee closed")
	for _, fn := range listeners {
		fn(reason)
	}
}

func (a *Attendee) transport(dir domain.TransportDirection) media.Transport {
	if dir == domain.TransportSend {
		return a.send
	}
	return a.recv
}

func (a *Attendee) ConnectTransport(ctx context.Context, dir domain.TransportDirection, dtls webrtc.DTLSParameters) error {
	if a.State() == AttendeeClosed {
		return apperr.Conflict("attendee %s has left", a.id)
	}
	if err := a.transport(dir).Connect(ctx, dtls); err != nil {
		return apperr.Upstream(err, "connect %s transport", dir)
	}
	return nil
}

func (a *Attendee) ProduceMedia(ctx context.Context, kind domain.ProducerKind, params media.RTPParameters) (media.Producer, error) {
	a.mu.Lock()
	if a.State() == AttendeeClosed {
		a.mu.Unlock()
		return nil, apperr.Conflict("attendee %s has left", a.id)
	}
	if _, ok := a.producers[kind]; ok {
		a.mu.Unlock()
		return nil, apperr.Conflict("producer of kind %s already exists", kind)
	}
	a.producers[kind] = nil
	a.mu.Unlock()

	p, err := a.send.Produce(ctx, media.ProduceOptions{
		Kind:          kind.MediaKind(),
		RTPParameters: params,
		AppData:       map[string]string{"producerType": string(kind)},
	})
	if err != nil {
		a.releaseProducerSlot(kind)
		return nil, apperr.Upstream(err, "produce %s", kind)
	}

	a.mu.Lock()
	if a.State() == AttendeeClosed {
		a.mu.Unlock()
		p.Close()
		return nil, apperr.Conflict("attendee %s has left", a.id)
	}
	entry := &producerEntry{producer: p}
	a.producers[kind] = entry
	a.mu.Unlock()

	p.Observer().OnClose(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.State() != AttendeeClosed && a.producers[kind] == entry {
			delete(a.producers, kind)
		}
	})

	log.Info().Str("module", "core.attendee").
		Str("attendee_id", string(a.id)).
		Str("kind", string(kind)).
		Str("producer_id", string(p.ID())).
		Msg("producer created")
	return p, nil
}

func (a *Attendee) releaseProducerSlot(kind domain.ProducerKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entry, ok := a.producers[kind]; ok && entry == nil {
		delete(a.producers, kind)
	}
}

// producer returns the installed producer entry of kind; the caller holds mu.
func (a *Attendee) producer(kind domain.ProducerKind) (*producerEntry, error) {
	entry := a.producers[kind]
	if entry == nil {
		return nil, apperr.NotFound("no producer of kind %s", kind)
	}
	return entry, nil
}

func (a *Attendee) CloseProducer(kind domain.ProducerKind) error {
	a.mu.Lock()
	entry, err := a.producer(kind)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	delete(a.producers, kind)
	a.mu.Unlock()

	entry.producer.Close()
	return nil
}

// PauseProducer fails with Conflict if the producer is already paused.
func (a *Attendee) PauseProducer(ctx context.Context, kind domain.ProducerKind) error {
	return a.setProducerPaused(ctx, kind, true)
}

// ResumeProducer fails with Conflict unless the producer is paused.
func (a *Attendee) ResumeProducer(ctx context.Context, kind domain.ProducerKind) error {
	return a.setProducerPaused(ctx, kind, false)
}

func (a *Attendee) setProducerPaused(ctx context.Context, kind domain.ProducerKind, paused bool) error {
	a.mu.Lock()
	entry, err := a.producer(kind)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if entry.paused == paused {
		a.mu.Unlock()
		if paused {
			return apperr.Conflict("producer of kind %s is already paused", kind)
		}
		return apperr.Conflict("producer of kind %s is not paused", kind)
	}
	entry.paused = paused
	a.mu.Unlock()

	if paused {
		err = entry.producer.Pause(ctx)
	} else {
		err = entry.producer.Resume(ctx)
	}
	if err != nil {
		a.mu.Lock()
		entry.paused = !paused
		a.mu.Unlock()
		return apperr.Upstream(err, "set producer %s paused=%t", kind, paused)
	}
	return nil
}

func (a *Attendee) ConsumeMedia(ctx context.Context, producerID domain.ProducerID, caps media.RTPCapabilities) (media.Consumer, error) {
	if a.State() == AttendeeClosed {
		return nil, apperr.Conflict("attendee %s has left", a.id)
	}
	c, err := a.recv.Consume(ctx, media.ConsumeOptions{
		ProducerID:      producerID,
		RTPCapabilities: caps,
	})
	if err != nil {
		return nil, apperr.Upstream(err, "consume producer %s", producerID)
	}

	if c.Type().Layered() {
		layers, err := media.PreferredLayers(c.RTPParameters())
		if err == nil {
			err = c.SetPreferredLayers(ctx, layers)
		}
		if err != nil {
			c.Close()
			return nil, apperr.Upstream(err, "set preferred layers of consumer %s", c.ID())
		}
	}

	a.mu.Lock()
	if a.State() == AttendeeClosed {
		a.mu.Unlock()
		c.Close()
		return nil, apperr.Conflict("attendee %s has left", a.id)
	}
	a.consumers[c.ID()] = c
	a.mu.Unlock()

	c.Observer().OnClose(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.State() == AttendeeClosed {
			return
		}
		delete(a.consumers, c.ID())
	})
	return c, nil
}

func (a *Attendee) consumer(id domain.ConsumerID) (media.Consumer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.consumers[id]
	if !ok {
		return nil, apperr.NotFound("no consumer with id %s", id)
	}
	return c, nil
}

func (a *Attendee) CloseConsumer(id domain.ConsumerID) error {
	c, err := a.consumer(id)
	if err != nil {
		return err
	}
	c.Close()
	return nil
}

func (a *Attendee) PauseConsumer(ctx context.Context, id domain.ConsumerID) error {
	c, err := a.consumer(id)
	if err != nil {
		return err
	}
	return apperr.Upstream(c.Pause(ctx), "pause consumer %s", id)
}

func (a *Attendee) ResumeConsumer(ctx context.Context, id domain.ConsumerID) error {
	c, err := a.consumer(id)
	if err != nil {
		return err
	}
	return apperr.Upstream(c.Resume(ctx), "resume consumer %s", id)
}

// ProducerIDs lists installed producers, skipping reserved slots.
func (a *Attendee) ProducerIDs() []domain.ProducerID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.ProducerID, 0, len(a.producers))
	for _, kind := range domain.ProducerKinds {
		if entry := a.producers[kind]; entry != nil {
			out = append(out, entry.producer.ID())
		}
	}
	return out
}

func (a *Attendee) ConsumerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.consumers)
}
