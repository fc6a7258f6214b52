package orch

import (
	"context"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/notify"
	"github.com/dkeye/Conference/internal/result"
)

type ProducerInfo struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ConsumerInfo struct {
	ID            domain.ConsumerID   `json:"id"`
	ProducerID    domain.ProducerID   `json:"producerId"`
	Kind          string              `json:"kind"`
	Type          media.ConsumerType  `json:"type"`
	RTPParameters media.RTPParameters `json:"rtpParameters"`
}

func (o *Orchestrator) ProduceMedia(ctx context.Context, meetingID domain.MeetingID, attendeeID domain.AttendeeID, kind domain.ProducerKind, params media.RTPParameters) result.Result[ProducerInfo] {
	return result.Wrap(func() (ProducerInfo, error) {
		m, err := o.meeting(meetingID)
		if err != nil {
			return ProducerInfo{}, err
		}
		p, err := m.ProduceMedia(ctx, attendeeID, kind, params)
		if err != nil {
			return ProducerInfo{}, err
		}

		changed := notify.ProducerChanged{MeetingID: meetingID, AttendeeID: attendeeID, ProducerType: kind, ProducerID: p.ID()}
		obs := p.Observer()
		obs.OnClose(func() { o.publish(notify.ProducerClosed(changed)) })
		obs.OnPause(func() { o.publish(notify.ProducerPaused(changed)) })
		obs.OnResume(func() { o.publish(notify.ProducerResumed(changed)) })
		o.publish(notify.ProducerCreated(changed))
		return ProducerInfo{ProducerID: p.ID()}, nil
	})
}

func (o *Orchestrator) CloseProducer(meetingID domain.MeetingID, attendeeID domain.AttendeeID, kind domain.ProducerKind) result.Result[result.Empty] {
	return result.WrapVoid(func() error {
		m, err := o.meeting(meetingID)
		if err != nil {
			return err
		}
		return m.CloseProducer(attendeeID, kind)
	})
}

func (o *Orchestrator) PauseProducer(ctx context.Context, meetingID domain.MeetingID, attendeeID domain.AttendeeID, kind domain.ProducerKind) result.Result[result.Empty] {
	return result.WrapVoid(func() error {
		m, err := o.meeting(meetingID)
		if err != nil {
			return err
		}
		return m.PauseProducer(ctx, attendeeID, kind)
	})
}

func (o *Orchestrator) ResumeProducer(ctx context.Context, meetingID domain.MeetingID, attendeeID domain.AttendeeID, kind domain.ProducerKind) result.Result[result.Empty] {
	return result.WrapVoid(func() error {
		m, err := o.meeting(meetingID)
		if err != nil {
			return err
		}
		return m.ResumeProducer(ctx, attendeeID, kind)
	})
}

func (o *Orchestrator) ConsumeMedia(ctx context.Context, meetingID domain.MeetingID, attendeeID domain.AttendeeID, producerID domain.ProducerID, caps media.RTPCapabilities) result.Result[ConsumerInfo] {
	return result.Wrap(func() (ConsumerInfo, error) {
		m, err := o.meeting(meetingID)
		if err != nil {
			return ConsumerInfo{}, err
		}
		c, err := m.ConsumeMedia(ctx, attendeeID, producerID, caps)
		if err != nil {
			return ConsumerInfo{}, err
		}

		changed := notify.ConsumerChanged{MeetingID: meetingID, AttendeeID: attendeeID, ConsumerID: c.ID()}
		obs := c.Observer()
		obs.OnClose(func() { o.publish(notify.ConsumerClosed(changed)) })
		obs.OnPause(func() { o.publish(notify.ConsumerPaused(changed)) })
		obs.OnResume(func() { o.publish(notify.ConsumerResumed(changed)) })
		return ConsumerInfo{
			ID:            c.ID(),
			ProducerID:    c.ProducerID(),
			Kind:          c.Kind().String(),
			Type:          c.Type(),
			RTPParameters: c.RTPParameters(),
		}, nil
	})
}

func (o *Orchestrator) CloseConsumer(meetingID domain.MeetingID, attendeeID domain.AttendeeID, consumerID domain.ConsumerID) result.Result[result.Empty] {
	return result.WrapVoid(func() error {
		m, err := o.meeting(meetingID)
		if err != nil {
			return err
		}
		return m.CloseConsumer(attendeeID, consumerID)
	})
}

func (o *Orchestrator) PauseConsumer(ctx context.Context, meetingID domain.MeetingID, attendeeID domain.AttendeeID, consumerID domain.ConsumerID) result.Result[result.Empty] {
	return result.WrapVoid(func() error {
		m, err := o.meeting(meetingID)
		if err != nil {
			return err
		}
		return m.PauseConsumer(ctx, attendeeID, consumerID)
	})
}

func (o *Orchestrator) ResumeConsumer(ctx context.Context, meetingID domain.MeetingID, attendeeID domain.AttendeeID, consumerID domain.ConsumerID) result.Result[result.Empty] {
	return result.WrapVoid(func() error {
		m, err := o.meeting(meetingID)
		if err != nil {
			return err
		}
		return m.ResumeConsumer(ctx, attendeeID, consumerID)
	})
}
