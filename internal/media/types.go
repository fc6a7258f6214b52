package media

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/pion/webrtc/v4"
)

type WorkerOptions struct {
	LogLevel   string   `json:"logLevel,omitempty"`
	LogTags    []string `json:"logTags,omitempty"`
	RTCMinPort uint16   `json:"rtcMinPort,omitempty"`
	RTCMaxPort uint16   `json:"rtcMaxPort,omitempty"`
}

type RouterOptions struct {
	MediaCodecs []webrtc.RTPCodecCapability `json:"mediaCodecs"`
}

type ListenIP struct {
	IP          string `json:"ip"`
	AnnouncedIP string `json:"announcedIp,omitempty"`
}

type TransportOptions struct {
	ListenIPs                       []ListenIP `json:"listenIps"`
	EnableUDP                       bool       `json:"enableUdp"`
	EnableTCP                       bool       `json:"enableTcp"`
	PreferUDP                       bool       `json:"preferUdp"`
	ICEConsentTimeout               int        `json:"iceConsentTimeout,omitempty"`
	InitialAvailableOutgoingBitrate uint32     `json:"initialAvailableOutgoingBitrate,omitempty"`
}

type ProduceOptions struct {
	Kind          webrtc.RTPCodecType `json:"kind"`
	RTPParameters RTPParameters       `json:"rtpParameters"`
	AppData       map[string]string   `json:"appData,omitempty"`
}

type ConsumeOptions struct {
	ProducerID      domain.ProducerID `json:"producerId"`
	RTPCapabilities RTPCapabilities   `json:"rtpCapabilities"`
	Paused          bool              `json:"paused"`
}

type ConsumerType string

const (
	ConsumerSimple    ConsumerType = "simple"
	ConsumerSimulcast ConsumerType = "simulcast"
	ConsumerSVC       ConsumerType = "svc"
	ConsumerPipe      ConsumerType = "pipe"
)

// Layered reports whether the consumer carries spatial/temporal layers.
func (t ConsumerType) Layered() bool {
	return t == ConsumerSimulcast || t == ConsumerSVC
}

type Layers struct {
	Spatial  uint8 `json:"spatialLayer"`
	Temporal uint8 `json:"temporalLayer"`
}

type RTPCapabilities struct {
	Codecs           []webrtc.RTPCodecParameters           `json:"codecs"`
	HeaderExtensions []webrtc.RTPHeaderExtensionCapability `json:"headerExtensions,omitempty"`
}

type RTPEncoding struct {
	SSRC            uint32 `json:"ssrc,omitempty"`
	RID             string `json:"rid,omitempty"`
	MaxBitrate      uint32 `json:"maxBitrate,omitempty"`
	ScalabilityMode string `json:"scalabilityMode,omitempty"`
}

type RTPParameters struct {
	MID              string                               `json:"mid,omitempty"`
	Codecs           []webrtc.RTPCodecParameters          `json:"codecs"`
	HeaderExtensions []webrtc.RTPHeaderExtensionParameter `json:"headerExtensions,omitempty"`
	Encodings        []RTPEncoding                        `json:"encodings,omitempty"`
}

// TransportDescriptor is what a remote peer needs to reach one transport.
type TransportDescriptor struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

func Describe(t Transport) TransportDescriptor {
	return TransportDescriptor{
		ID:             t.ID(),
		ICEParameters:  t.ICEParameters(),
		ICECandidates:  t.ICECandidates(),
		DTLSParameters: t.DTLSParameters(),
	}
}

var scalabilityModeRe = regexp.MustCompile(`^[LS](\d+)T(\d+)`)

// ParseScalabilityMode reads the spatial and temporal layer counts of a mode
// such as "L1T3" or "S3T3_KEY".
func ParseScalabilityMode(mode string) (Layers, error) {
	m := scalabilityModeRe.FindStringSubmatch(mode)
	if m == nil {
		return Layers{}, fmt.Errorf("invalid scalability mode %q", mode)
	}
	spatial, err := strconv.ParseUint(m[1], 10, 8)
	if err != nil {
		return Layers{}, fmt.Errorf("invalid spatial layer in %q: %w", mode, err)
	}
	temporal, err := strconv.ParseUint(m[2], 10, 8)
	if err != nil {
		return Layers{}, fmt.Errorf("invalid temporal layer in %q: %w", mode, err)
	}
	return Layers{Spatial: uint8(spatial), Temporal: uint8(temporal)}, nil
}

// PreferredLayers extracts the layers to request from the first encoding.
func PreferredLayers(params RTPParameters) (Layers, error) {
	if len(params.Encodings) == 0 {
		return Layers{}, fmt.Errorf("consumer has no encodings")
	}
	return ParseScalabilityMode(params.Encodings[0].ScalabilityMode)
}

// CodecMediaKind derives the media kind from a codec mime type ("audio/opus").
func CodecMediaKind(mimeType string) webrtc.RTPCodecType {
	kind, _, _ := strings.Cut(mimeType, "/")
	return webrtc.NewRTPCodecType(kind)
}
