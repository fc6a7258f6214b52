package app

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/Conference/internal/apperr"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/media/mediatest"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*mediatest.Engine, *WorkerPool, *Registry) {
	t.Helper()
	engine := mediatest.NewEngine()
	pool, err := NewWorkerPool(context.Background(), engine, 2, media.WorkerOptions{}, nil)
	require.NoError(t, err)
	reg := NewRegistry(pool, media.RouterOptions{MediaCodecs: []webrtc.RTPCodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	}}, core.TransportConfig{})
	return engine, pool, reg
}

func TestRegistryLifecycle(t *testing.T) {
	_, _, reg := newTestRegistry(t)

	_, err := reg.Get("nope")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	m, err := reg.Create(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("alice"), m.HostID())
	assert.NotEmpty(t, m.RouterRTPCapabilities().Codecs)

	got, err := reg.Get(m.ID())
	require.NoError(t, err)
	assert.Same(t, m, got)

	reg.Delete(m.ID())
	reg.Delete(m.ID())
	_, err = reg.Get(m.ID())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRegistrySpreadsMeetingsOverWorkers(t *testing.T) {
	engine, _, reg := newTestRegistry(t)

	for i := 0; i < 4; i++ {
		_, err := reg.Create(context.Background(), "alice")
		require.NoError(t, err)
	}
	for _, w := range engine.Workers() {
		assert.Len(t, w.Routers(), 2)
	}
	assert.Len(t, reg.List(), 4)
}

func TestRegistryCreateValidation(t *testing.T) {
	engine, _, reg := newTestRegistry(t)

	_, err := reg.Create(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	engine.Configure(func(e *mediatest.Engine) { e.FailCreateRouter = errors.New("no memory") })
	_, err = reg.Create(context.Background(), "alice")
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Empty(t, reg.List())
}

func TestRegistryListDescribesMeetings(t *testing.T) {
	_, _, reg := newTestRegistry(t)
	m, err := reg.Create(context.Background(), "alice")
	require.NoError(t, err)
	_, err = m.AddAttendee(context.Background(), "bob")
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, MeetingInfo{ID: m.ID(), HostID: "alice", State: "active", AttendeeCount: 1}, list[0])

	reg.EndAll()
	assert.Equal(t, core.MeetingEnded, m.State())
}
