package mediatest

import (
	"context"
	"sync"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
)

type Transport struct {
	engine  *Engine
	router  *Router
	id      string
	Options media.TransportOptions

	mu            sync.Mutex
	closed        bool
	connected     *webrtc.DTLSParameters
	maxBitrate    uint32
	onDTLS        []func(webrtc.DTLSTransportState)
	onICE         []func(webrtc.ICETransportState)
	onRouterClose []func()
	producers     []*Producer
	consumers     []*Consumer
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) ICEParameters() webrtc.ICEParameters {
	return webrtc.ICEParameters{UsernameFragment: "ufrag-" + t.id, Password: "pwd-" + t.id, ICELite: true}
}

func (t *Transport) ICECandidates() []webrtc.ICECandidate {
	return []webrtc.ICECandidate{{
		Foundation: "udpcandidate",
		Priority:   1076302079,
		Address:    "127.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       10000,
		Typ:        webrtc.ICECandidateTypeHost,
	}}
}

func (t *Transport) DTLSParameters() webrtc.DTLSParameters {
	return webrtc.DTLSParameters{
		Role: webrtc.DTLSRoleAuto,
		Fingerprints: []webrtc.DTLSFingerprint{{
			Algorithm: "sha-256",
			Value:     "AA:BB:CC",
		}},
	}
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Connected returns the DTLS parameters passed to Connect, nil before.
func (t *Transport) Connected() *webrtc.DTLSParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) MaxIncomingBitrate() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxBitrate
}

func (t *Transport) Connect(_ context.Context, dtls webrtc.DTLSParameters) error {
	t.engine.mu.Lock()
	fail := t.engine.FailConnect
	t.engine.mu.Unlock()
	if fail != nil {
		return fail
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.connected = &dtls
	return nil
}

func (t *Transport) SetMaxIncomingBitrate(_ context.Context, bitrate uint32) error {
	t.engine.mu.Lock()
	fail := t.engine.FailMaxBitrate
	t.engine.mu.Unlock()
	if fail != nil {
		return fail
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxBitrate = bitrate
	return nil
}

func (t *Transport) Produce(_ context.Context, opts media.ProduceOptions) (media.Producer, error) {
	e := t.engine
	e.mu.Lock()
	fail := e.FailProduce
	e.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	p := &Producer{
		engine:  e,
		id:      domain.ProducerID(e.nextID("producer")),
		kind:    opts.Kind,
		params:  opts.RTPParameters,
		AppData: opts.AppData,
	}
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	e.mu.Lock()
	e.producers[p.id] = p
	e.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(_ context.Context, opts media.ConsumeOptions) (media.Consumer, error) {
	e := t.engine
	e.mu.Lock()
	fail := e.FailConsume
	producer := e.producers[opts.ProducerID]
	typ := e.ConsumerType
	mode := e.ScalabilityMode
	e.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if producer == nil {
		return nil, ErrProducerNotFound
	}
	if !canConsume(producer.kind, opts.RTPCapabilities) {
		return nil, ErrCannotConsume
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	params := producer.params
	if mode != "" {
		params.Encodings = []media.RTPEncoding{{ScalabilityMode: mode}}
	}
	c := &Consumer{
		engine:     e,
		id:         domain.ConsumerID(e.nextID("consumer")),
		producerID: producer.id,
		kind:       producer.kind,
		typ:        typ,
		params:     params,
		paused:     opts.Paused,
	}
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	producer.addConsumer(c)
	return c, nil
}

func canConsume(kind webrtc.RTPCodecType, caps media.RTPCapabilities) bool {
	for _, c := range caps.Codecs {
		if media.CodecMediaKind(c.MimeType) == kind {
			return true
		}
	}
	return false
}

func (t *Transport) OnDTLSStateChange(fn func(webrtc.DTLSTransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDTLS = append(t.onDTLS, fn)
}

func (t *Transport) OnICEStateChange(fn func(webrtc.ICETransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onICE = append(t.onICE, fn)
}

func (t *Transport) OnRouterClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRouterClose = append(t.onRouterClose, fn)
}

// SetDTLSState fires a DTLS state notification.
func (t *Transport) SetDTLSState(s webrtc.DTLSTransportState) {
	t.mu.Lock()
	handlers := append([]func(webrtc.DTLSTransportState){}, t.onDTLS...)
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(s)
	}
}

// SetICEState fires an ICE state notification.
func (t *Transport) SetICEState(s webrtc.ICETransportState) {
	t.mu.Lock()
	handlers := append([]func(webrtc.ICETransportState){}, t.onICE...)
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(s)
	}
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := t.producers
	consumers := t.consumers
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
}

func (t *Transport) routerClosed() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	handlers := append([]func(){}, t.onRouterClose...)
	t.mu.Unlock()

	t.Close()
	for _, fn := range handlers {
		fn()
	}
}
