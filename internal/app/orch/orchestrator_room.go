package orch

import (
	"context"

	"github.com/dkeye/Conference/internal/apperr"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/notify"
	"github.com/dkeye/Conference/internal/result"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type CreatedMeeting struct {
	MeetingID domain.MeetingID `json:"meetingId"`
}

func (o *Orchestrator) CreateMeeting(ctx context.Context, hostID domain.Identity) result.Result[CreatedMeeting] {
	return result.Wrap(func() (CreatedMeeting, error) {
		m, err := o.Registry.Create(ctx, hostID)
		if err != nil {
			return CreatedMeeting{}, err
		}
		id := m.ID()
		m.OnAttendeeLeft(func(attendee domain.AttendeeID, reason core.CloseReason) {
			o.publish(notify.AttendeeLeft{MeetingID: id, AttendeeID: attendee, Reason: string(reason)})
		})
		m.OnEnded(func() {
			o.Registry.Delete(id)
			o.publish(notify.MeetingEnded{MeetingID: id})
		})
		return CreatedMeeting{MeetingID: id}, nil
	})
}

// EndMeeting is host only. Ending twice reports NotFound since the first
// end removes the meeting from the registry.
func (o *Orchestrator) EndMeeting(meetingID domain.MeetingID, actor domain.Identity) result.Result[result.Empty] {
	return result.WrapVoid(func() error {
		m, err := o.meeting(meetingID)
		if err != nil {
			return err
		}
		if m.HostID() != actor {
			log.Warn().Str("module", "app.orch").
				Str("meeting_id", string(meetingID)).
				Str("actor", string(actor)).
				Msg("end meeting denied")
			return apperr.PermissionDenied("only the host can end meeting %s", meetingID)
		}
		m.End()
		return nil
	})
}

func (o *Orchestrator) Join(ctx context.Context, meetingID domain.MeetingID, attendeeID domain.AttendeeID) result.Result[*core.JoinInfo] {
	return result.Wrap(func() (*core.JoinInfo, error) {
		m, err := o.meeting(meetingID)
		if err != nil {
			return nil, err
		}
		return m.AddAttendee(ctx, attendeeID)
	})
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, meetingID domain.MeetingID, attendeeID domain.AttendeeID, dir domain.TransportDirection, dtls webrtc.DTLSParameters) result.Result[result.Empty] {
	return result.WrapVoid(func() error {
		m, err := o.meeting(meetingID)
		if err != nil {
			return err
		}
		return m.ConnectTransport(ctx, attendeeID, dir, dtls)
	})
}

func (o *Orchestrator) Leave(meetingID domain.MeetingID, attendeeID domain.AttendeeID) result.Result[result.Empty] {
	return result.WrapVoid(func() error {
		m, err := o.meeting(meetingID)
		if err != nil {
			return err
		}
		return m.RemoveAttendee(attendeeID)
	})
}
