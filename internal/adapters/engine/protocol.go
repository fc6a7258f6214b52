package engine

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// frame is either a response (ID set) or a notification (Method set).
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("engine error %d: %s", e.Code, e.Message) }

// notification params: an event emitted by one engine object.
type notification struct {
	TargetID string          `json:"targetId"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
}

const notifyMethod = "notify"

type workerCreated struct {
	WorkerID domain.WorkerID `json:"workerId"`
}

type routerCreate struct {
	WorkerID    domain.WorkerID             `json:"workerId"`
	MediaCodecs []webrtc.RTPCodecCapability `json:"mediaCodecs"`
}

type routerCreated struct {
	RouterID        string                `json:"routerId"`
	RTPCapabilities media.RTPCapabilities `json:"rtpCapabilities"`
}

type transportCreate struct {
	RouterID string `json:"routerId"`
	media.TransportOptions
}

type transportCreated struct {
	TransportID    string                `json:"transportId"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type transportConnect struct {
	TransportID    string                `json:"transportId"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type transportBitrate struct {
	TransportID string `json:"transportId"`
	Bitrate     uint32 `json:"bitrate"`
}

type transportProduce struct {
	TransportID string `json:"transportId"`
	media.ProduceOptions
}

type producerCreated struct {
	ProducerID domain.ProducerID `json:"producerId"`
	Paused     bool              `json:"paused"`
}

type transportConsume struct {
	TransportID string `json:"transportId"`
	media.ConsumeOptions
}

type consumerCreated struct {
	ConsumerID    domain.ConsumerID   `json:"consumerId"`
	ProducerID    domain.ProducerID   `json:"producerId"`
	Kind          webrtc.RTPCodecType `json:"kind"`
	Type          media.ConsumerType  `json:"type"`
	RTPParameters media.RTPParameters `json:"rtpParameters"`
	Paused        bool                `json:"paused"`
}

type consumerLayers struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
	media.Layers
}

type stateChange struct {
	State string `json:"state"`
}

type diedEvent struct {
	Error string `json:"error"`
}

var dtlsStates = map[string]webrtc.DTLSTransportState{
	"new":        webrtc.DTLSTransportStateNew,
	"connecting": webrtc.DTLSTransportStateConnecting,
	"connected":  webrtc.DTLSTransportStateConnected,
	"closed":     webrtc.DTLSTransportStateClosed,
	"failed":     webrtc.DTLSTransportStateFailed,
}

var iceStates = map[string]webrtc.ICETransportState{
	"new":          webrtc.ICETransportStateNew,
	"checking":     webrtc.ICETransportStateChecking,
	"connected":    webrtc.ICETransportStateConnected,
	"completed":    webrtc.ICETransportStateCompleted,
	"disconnected": webrtc.ICETransportStateDisconnected,
	"failed":       webrtc.ICETransportStateFailed,
	"closed":       webrtc.ICETransportStateClosed,
}
