package domain

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ProducerKind is the slot an attendee publishes into; one producer per kind.
type ProducerKind string

const (
	ProducerVideo       ProducerKind = "video"
	ProducerAudio       ProducerKind = "audio"
	ProducerScreenVideo ProducerKind = "screen-video"
	ProducerScreenAudio ProducerKind = "screen-audio"
)

var ProducerKinds = []ProducerKind{
	ProducerVideo,
	ProducerAudio,
	ProducerScreenVideo,
	ProducerScreenAudio,
}

func ParseProducerKind(raw string) (ProducerKind, error) {
	for _, k := range ProducerKinds {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown producer kind %q", raw)
}

// MediaKind maps a producer slot onto the RTP media kind sent to the engine.
func (k ProducerKind) MediaKind() webrtc.RTPCodecType {
	switch k {
	case ProducerAudio, ProducerScreenAudio:
		return webrtc.RTPCodecTypeAudio
	default:
		return webrtc.RTPCodecTypeVideo
	}
}

// TransportDirection selects one of the two transports an attendee owns.
type TransportDirection string

const (
	TransportSend    TransportDirection = "send"
	TransportReceive TransportDirection = "receive"
)

func ParseTransportDirection(raw string) (TransportDirection, error) {
	switch TransportDirection(raw) {
	case TransportSend, TransportReceive:
		return TransportDirection(raw), nil
	}
	return "", fmt.Errorf("unknown transport direction %q", raw)
}
