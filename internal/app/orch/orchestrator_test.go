package orch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/apperr"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/media/mediatest"
	"github.com/dkeye/Conference/internal/notify"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	topics []string
	events []notify.Event
}

func (r *recorder) Publish(topic string, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.events = append(r.events, ev)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name())
	}
	return out
}

func newTestOrchestrator(t *testing.T) (*mediatest.Engine, *recorder, *Orchestrator) {
	t.Helper()
	engine := mediatest.NewEngine()
	pool, err := app.NewWorkerPool(context.Background(), engine, 2, media.WorkerOptions{}, nil)
	require.NoError(t, err)
	reg := app.NewRegistry(pool, media.RouterOptions{MediaCodecs: []webrtc.RTPCodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	}}, core.TransportConfig{})
	rec := &recorder{}
	return engine, rec, New(reg, rec, "guggle-weed-sfu")
}

func TestMeetingScenario(t *testing.T) {
	_, rec, o := newTestOrchestrator(t)
	ctx := context.Background()

	created := o.CreateMeeting(ctx, "alice")
	require.True(t, created.Ok(), created.Message)
	mid := created.Data.MeetingID

	joined := o.Join(ctx, mid, "bob")
	require.True(t, joined.Ok(), joined.Message)
	assert.NotEmpty(t, joined.Data.RouterRTPCapabilities.Codecs)
	assert.NotEmpty(t, joined.Data.SendTransport.ID)
	assert.NotEmpty(t, joined.Data.ReceiveTransport.ID)

	produced := o.ProduceMedia(ctx, mid, "bob", domain.ProducerAudio, media.RTPParameters{})
	require.True(t, produced.Ok(), produced.Message)
	require.NotEmpty(t, produced.Data.ProducerID)

	carol := o.Join(ctx, mid, "carol")
	require.True(t, carol.Ok(), carol.Message)
	consumed := o.ConsumeMedia(ctx, mid, "carol", produced.Data.ProducerID, carol.Data.RouterRTPCapabilities)
	require.True(t, consumed.Ok(), consumed.Message)
	assert.NotEmpty(t, consumed.Data.ID)
	assert.Equal(t, "audio", consumed.Data.Kind)
	assert.Equal(t, media.ConsumerSimple, consumed.Data.Type)

	denied := o.EndMeeting(mid, "bob")
	assert.Equal(t, apperr.KindPermissionDenied, denied.Kind)
	info := o.MeetingInfo(mid)
	require.True(t, info.Ok())
	assert.Equal(t, "active", info.Data.State)
	assert.Len(t, info.Data.Attendees, 2)

	ended := o.EndMeeting(mid, "alice")
	require.True(t, ended.Ok(), ended.Message)
	assert.Equal(t, apperr.KindNotFound, o.MeetingInfo(mid).Kind)
	assert.Equal(t, apperr.KindNotFound, o.EndMeeting(mid, "alice").Kind)

	names := rec.names()
	assert.Contains(t, names, "producerCreated")
	assert.Contains(t, names, "producerClosed")
	assert.Contains(t, names, "consumerClosed")
	assert.Equal(t, "meetingEnded", names[len(names)-1])
	assert.NotContains(t, names, "attendeeLeft")
	for _, topic := range rec.topics {
		assert.Equal(t, "guggle-weed-sfu", topic)
	}
}

func TestProducerEventsCarryIdentity(t *testing.T) {
	_, rec, o := newTestOrchestrator(t)
	ctx := context.Background()
	mid := o.CreateMeeting(ctx, "alice").Data.MeetingID
	require.True(t, o.Join(ctx, mid, "bob").Ok())

	pid := o.ProduceMedia(ctx, mid, "bob", domain.ProducerVideo, media.RTPParameters{}).Data.ProducerID
	require.True(t, o.PauseProducer(ctx, mid, "bob", domain.ProducerVideo).Ok())
	assert.Equal(t, apperr.KindConflict, o.PauseProducer(ctx, mid, "bob", domain.ProducerVideo).Kind)
	require.True(t, o.ResumeProducer(ctx, mid, "bob", domain.ProducerVideo).Ok())
	require.True(t, o.CloseProducer(mid, "bob", domain.ProducerVideo).Ok())

	want := notify.ProducerChanged{MeetingID: mid, AttendeeID: "bob", ProducerType: domain.ProducerVideo, ProducerID: pid}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []notify.Event{
		notify.ProducerCreated(want),
		notify.ProducerPaused(want),
		notify.ProducerResumed(want),
		notify.ProducerClosed(want),
	}, rec.events)
}

func TestConsumerOperations(t *testing.T) {
	_, rec, o := newTestOrchestrator(t)
	ctx := context.Background()
	mid := o.CreateMeeting(ctx, "alice").Data.MeetingID
	require.True(t, o.Join(ctx, mid, "bob").Ok())
	caps := o.Join(ctx, mid, "carol").Data.RouterRTPCapabilities
	pid := o.ProduceMedia(ctx, mid, "bob", domain.ProducerVideo, media.RTPParameters{}).Data.ProducerID
	cid := o.ConsumeMedia(ctx, mid, "carol", pid, caps).Data.ID

	require.True(t, o.PauseConsumer(ctx, mid, "carol", cid).Ok())
	require.True(t, o.ResumeConsumer(ctx, mid, "carol", cid).Ok())
	require.True(t, o.CloseConsumer(mid, "carol", cid).Ok())
	assert.Equal(t, apperr.KindNotFound, o.CloseConsumer(mid, "carol", cid).Kind)

	assert.Equal(t, []string{"producerCreated", "consumerPaused", "consumerResumed", "consumerClosed"}, rec.names())
}

func TestLeaveAndTransportFailurePublishAttendeeLeft(t *testing.T) {
	engine, rec, o := newTestOrchestrator(t)
	ctx := context.Background()
	mid := o.CreateMeeting(ctx, "alice").Data.MeetingID
	require.True(t, o.Join(ctx, mid, "bob").Ok())
	carol := o.Join(ctx, mid, "carol")
	require.True(t, carol.Ok())

	require.True(t, o.Leave(mid, "bob").Ok())
	assert.Equal(t, apperr.KindNotFound, o.Leave(mid, "bob").Kind)

	engine.Transport(carol.Data.SendTransport.ID).SetDTLSState(webrtc.DTLSTransportStateClosed)
	require.Eventually(t, func() bool { return len(rec.names()) == 2 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, notify.AttendeeLeft{MeetingID: mid, AttendeeID: "bob", Reason: "removed"}, rec.events[0])
	assert.Equal(t, notify.AttendeeLeft{MeetingID: mid, AttendeeID: "carol", Reason: "transport_failed"}, rec.events[1])
}

func TestWorkerDeathRemovesMeeting(t *testing.T) {
	engine, rec, o := newTestOrchestrator(t)
	ctx := context.Background()
	mid := o.CreateMeeting(ctx, "alice").Data.MeetingID

	for _, w := range engine.Workers() {
		w.Kill(assert.AnError)
	}
	assert.Equal(t, apperr.KindNotFound, o.MeetingInfo(mid).Kind)
	assert.Equal(t, []string{"meetingEnded"}, rec.names())
}

func TestFailuresAreResults(t *testing.T) {
	engine, _, o := newTestOrchestrator(t)
	ctx := context.Background()

	assert.Equal(t, apperr.KindInvalid, o.CreateMeeting(ctx, "").Kind)
	assert.Equal(t, apperr.KindInvalid, o.Join(ctx, "", "bob").Kind)
	assert.Equal(t, apperr.KindNotFound, o.Join(ctx, "missing", "bob").Kind)

	mid := o.CreateMeeting(ctx, "alice").Data.MeetingID
	assert.Equal(t, apperr.KindNotFound, o.ProduceMedia(ctx, mid, "ghost", domain.ProducerAudio, media.RTPParameters{}).Kind)

	engine.Configure(func(e *mediatest.Engine) { e.FailTransportN = 1 })
	res := o.Join(ctx, mid, "bob")
	assert.Equal(t, apperr.KindUpstream, res.Kind)
	assert.NotEmpty(t, res.Message)
}

func TestListMeetings(t *testing.T) {
	_, _, o := newTestOrchestrator(t)
	ctx := context.Background()
	require.True(t, o.CreateMeeting(ctx, "alice").Ok())
	require.True(t, o.CreateMeeting(ctx, "bob").Ok())

	list := o.ListMeetings()
	require.True(t, list.Ok())
	assert.Len(t, list.Data, 2)
}
