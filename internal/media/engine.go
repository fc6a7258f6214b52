// Package media describes the external media engine the control plane brokers.
// The engine owns packet forwarding; this side only creates, connects and
// closes its objects and listens to their notifications.
package media

import (
	"context"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Engine spawns worker processes.
type Engine interface {
	CreateWorker(ctx context.Context, opts WorkerOptions) (Worker, error)
}

// Worker is one media engine process. Its death is reported once through OnDied.
type Worker interface {
	ID() domain.WorkerID
	CreateRouter(ctx context.Context, opts RouterOptions) (Router, error)
	OnDied(func(err error))
	Close()
}

// Router forwards RTP between the producers and consumers of one meeting.
type Router interface {
	ID() string
	RTPCapabilities() RTPCapabilities
	CreateWebRTCTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	// OnWorkerClose fires when the owning worker goes away.
	OnWorkerClose(func())
	Close()
	Closed() bool
}

// Transport is one negotiated ICE/DTLS channel of a participant.
type Transport interface {
	ID() string
	ICEParameters() webrtc.ICEParameters
	ICECandidates() []webrtc.ICECandidate
	DTLSParameters() webrtc.DTLSParameters

	Connect(ctx context.Context, dtls webrtc.DTLSParameters) error
	SetMaxIncomingBitrate(ctx context.Context, bitrate uint32) error
	Produce(ctx context.Context, opts ProduceOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)

	OnDTLSStateChange(func(webrtc.DTLSTransportState))
	OnICEStateChange(func(webrtc.ICETransportState))
	OnRouterClose(func())
	Close()
}

// Observer receives lifecycle notifications of a producer or consumer.
// Handlers are appended, never replaced.
type Observer interface {
	OnClose(func())
	OnPause(func())
	OnResume(func())
}

type Producer interface {
	ID() domain.ProducerID
	Kind() webrtc.RTPCodecType
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close()
	Observer() Observer
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() webrtc.RTPCodecType
	Type() ConsumerType
	RTPParameters() RTPParameters
	SetPreferredLayers(ctx context.Context, layers Layers) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close()
	Observer() Observer
}
