// Package orch is the request-facing surface of the control plane. Every
// operation resolves a meeting from the registry, delegates to it and
// returns a result.Result; domain events go to the notifier on the side.
package orch

import (
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/apperr"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/notify"
	"github.com/dkeye/Conference/internal/result"
)

// Publisher is the fire-and-forget side channel for domain events.
type Publisher interface {
	Publish(topic string, ev notify.Event)
}

type Orchestrator struct {
	Registry *app.Registry
	Events   Publisher
	Topic    string
}

func New(reg *app.Registry, events Publisher, topic string) *Orchestrator {
	return &Orchestrator{Registry: reg, Events: events, Topic: topic}
}

func (o *Orchestrator) publish(ev notify.Event) {
	if o.Events != nil {
		o.Events.Publish(o.Topic, ev)
	}
}

func (o *Orchestrator) meeting(id domain.MeetingID) (*core.Meeting, error) {
	if id == "" {
		return nil, apperr.Invalid("meeting id is required")
	}
	return o.Registry.Get(id)
}

// MeetingDetails is the full view of one meeting.
type MeetingDetails struct {
	app.MeetingInfo
	Attendees []core.AttendeeDTO `json:"attendees"`
}

func (o *Orchestrator) MeetingInfo(id domain.MeetingID) result.Result[MeetingDetails] {
	return result.Wrap(func() (MeetingDetails, error) {
		m, err := o.meeting(id)
		if err != nil {
			return MeetingDetails{}, err
		}
		return MeetingDetails{MeetingInfo: app.Describe(m), Attendees: m.Attendees()}, nil
	})
}

func (o *Orchestrator) ListMeetings() result.Result[[]app.MeetingInfo] {
	return result.Wrap(func() ([]app.MeetingInfo, error) {
		return o.Registry.List(), nil
	})
}
