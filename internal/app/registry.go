package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Conference/internal/apperr"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/rs/zerolog/log"
)

// Assigner picks the worker a new meeting's router lives on.
type Assigner interface {
	Assign() media.Worker
}

// MeetingInfo is a read-only view for listings.
type MeetingInfo struct {
	ID            domain.MeetingID `json:"meetingId"`
	HostID        domain.Identity  `json:"hostId"`
	State         string           `json:"state"`
	AttendeeCount int              `json:"attendeeCount"`
}

// Registry is the process wide meeting directory. It is the only place a
// meeting is created or forgotten.
type Registry struct {
	workers   Assigner
	router    media.RouterOptions
	transport core.TransportConfig

	mu       sync.RWMutex
	meetings map[domain.MeetingID]*core.Meeting
}

func NewRegistry(workers Assigner, router media.RouterOptions, transport core.TransportConfig) *Registry {
	return &Registry{
		workers:   workers,
		router:    router,
		transport: transport,
		meetings:  make(map[domain.MeetingID]*core.Meeting),
	}
}

func (r *Registry) Create(ctx context.Context, hostID domain.Identity) (*core.Meeting, error) {
	if hostID == "" {
		return nil, apperr.Invalid("host id is required")
	}
	id := domain.NewMeetingID()
	w := r.workers.Assign()
	router, err := w.CreateRouter(ctx, r.router)
	if err != nil {
		return nil, apperr.Upstream(err, "create router")
	}
	m := core.NewMeeting(id, hostID, router, r.transport)

	r.mu.Lock()
	r.meetings[id] = m
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").
		Str("meeting_id", string(id)).
		Str("host_id", string(hostID)).
		Str("worker_id", string(w.ID())).
		Msg("meeting created")
	return m, nil
}

func (r *Registry) Get(id domain.MeetingID) (*core.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meetings[id]
	if !ok {
		return nil, apperr.NotFound("meeting %s not found", id)
	}
	return m, nil
}

// Delete is a no-op for unknown ids.
func (r *Registry) Delete(id domain.MeetingID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.meetings[id]; !ok {
		return
	}
	delete(r.meetings, id)
	log.Info().Str("module", "app.registry").Str("meeting_id", string(id)).Msg("meeting deleted")
}

func (r *Registry) List() []MeetingInfo {
	r.mu.RLock()
	meetings := make([]*core.Meeting, 0, len(r.meetings))
	for _, m := range r.meetings {
		meetings = append(meetings, m)
	}
	r.mu.RUnlock()

	out := make([]MeetingInfo, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, Describe(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func Describe(m *core.Meeting) MeetingInfo {
	return MeetingInfo{
		ID:            m.ID(),
		HostID:        m.HostID(),
		State:         m.State().String(),
		AttendeeCount: len(m.Attendees()),
	}
}

// EndAll ends every meeting; used on shutdown.
func (r *Registry) EndAll() {
	r.mu.RLock()
	meetings := make([]*core.Meeting, 0, len(r.meetings))
	for _, m := range r.meetings {
		meetings = append(meetings, m)
	}
	r.mu.RUnlock()
	for _, m := range meetings {
		m.End()
	}
}
