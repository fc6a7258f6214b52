package mediatest

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Engine, *Worker, *Router) {
	t.Helper()
	ctx := context.Background()
	e := NewEngine()
	w, err := e.CreateWorker(ctx, media.WorkerOptions{})
	require.NoError(t, err)
	r, err := w.CreateRouter(ctx, media.RouterOptions{MediaCodecs: []webrtc.RTPCodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	}})
	require.NoError(t, err)
	return e, w.(*Worker), r.(*Router)
}

func TestRouterCloseCascades(t *testing.T) {
	e, _, r := setup(t)
	ctx := context.Background()

	tr, err := r.CreateWebRTCTransport(ctx, media.TransportOptions{})
	require.NoError(t, err)
	routerClosed := false
	tr.OnRouterClose(func() { routerClosed = true })

	p, err := tr.Produce(ctx, media.ProduceOptions{Kind: webrtc.RTPCodecTypeAudio})
	require.NoError(t, err)
	c, err := tr.Consume(ctx, media.ConsumeOptions{ProducerID: p.ID(), RTPCapabilities: r.RTPCapabilities()})
	require.NoError(t, err)

	var closed []string
	p.Observer().OnClose(func() { closed = append(closed, "producer") })
	c.Observer().OnClose(func() { closed = append(closed, "consumer") })

	r.Close()
	assert.True(t, routerClosed)
	assert.True(t, e.Transport(tr.ID()).Closed())
	assert.ElementsMatch(t, []string{"producer", "consumer"}, closed)
	assert.Nil(t, e.Producer(p.ID()))
}

func TestConsumeNeedsMatchingCodec(t *testing.T) {
	_, _, r := setup(t)
	ctx := context.Background()
	tr, err := r.CreateWebRTCTransport(ctx, media.TransportOptions{})
	require.NoError(t, err)

	p, err := tr.Produce(ctx, media.ProduceOptions{Kind: webrtc.RTPCodecTypeVideo})
	require.NoError(t, err)

	_, err = tr.Consume(ctx, media.ConsumeOptions{ProducerID: p.ID(), RTPCapabilities: r.RTPCapabilities()})
	assert.ErrorIs(t, err, ErrCannotConsume)
	_, err = tr.Consume(ctx, media.ConsumeOptions{ProducerID: "missing"})
	assert.ErrorIs(t, err, ErrProducerNotFound)
}

func TestWorkerKillNotifiesRouters(t *testing.T) {
	_, w, r := setup(t)

	var died error
	w.OnDied(func(err error) { died = err })
	workerClosed := false
	r.OnWorkerClose(func() { workerClosed = true })

	w.Kill(errors.New("segfault"))
	assert.EqualError(t, died, "segfault")
	assert.True(t, workerClosed)
	assert.True(t, r.Closed())

	_, err := w.CreateRouter(context.Background(), media.RouterOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestProducerPauseFiresOnce(t *testing.T) {
	_, _, r := setup(t)
	ctx := context.Background()
	tr, err := r.CreateWebRTCTransport(ctx, media.TransportOptions{})
	require.NoError(t, err)
	p, err := tr.Produce(ctx, media.ProduceOptions{Kind: webrtc.RTPCodecTypeAudio})
	require.NoError(t, err)

	pauses := 0
	p.Observer().OnPause(func() { pauses++ })
	require.NoError(t, p.Pause(ctx))
	require.NoError(t, p.Pause(ctx))
	assert.Equal(t, 1, pauses)
}
