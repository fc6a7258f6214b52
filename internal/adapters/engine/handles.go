package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// object mirrors one engine object on this side of the connection.
type object struct {
	c      *Client
	id     string
	closed atomic.Bool

	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
}

func (o *object) on(event string, fn func(json.RawMessage)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.handlers == nil {
		o.handlers = make(map[string][]func(json.RawMessage))
	}
	o.handlers[event] = append(o.handlers[event], fn)
}

func (o *object) emit(event string, data json.RawMessage) {
	o.mu.Lock()
	handlers := append([]func(json.RawMessage){}, o.handlers[event]...)
	o.mu.Unlock()
	for _, fn := range handlers {
		fn(data)
	}
}

// markClosed reports whether this call performed the transition.
func (o *object) markClosed() bool {
	if !o.closed.CompareAndSwap(false, true) {
		return false
	}
	o.c.unregister(o.id)
	return true
}

type observer struct{ o *object }

func (ob observer) OnClose(fn func())  { ob.o.on("close", func(json.RawMessage) { fn() }) }
func (ob observer) OnPause(fn func())  { ob.o.on("pause", func(json.RawMessage) { fn() }) }
func (ob observer) OnResume(fn func()) { ob.o.on("resume", func(json.RawMessage) { fn() }) }

type worker struct {
	object

	routersMu sync.Mutex
	routers   []*router
}

func (w *worker) ID() domain.WorkerID { return domain.WorkerID(w.id) }

func (w *worker) CreateRouter(ctx context.Context, opts media.RouterOptions) (media.Router, error) {
	if w.closed.Load() {
		return nil, ErrClosed
	}
	var res routerCreated
	err := w.c.Call(ctx, "router.create", routerCreate{WorkerID: w.ID(), MediaCodecs: opts.MediaCodecs}, &res)
	if err != nil {
		return nil, err
	}
	r := &router{object: object{c: w.c, id: res.RouterID}, caps: res.RTPCapabilities}
	w.c.register(r.id, r.handle)
	w.routersMu.Lock()
	w.routers = append(w.routers, r)
	w.routersMu.Unlock()
	return r, nil
}

func (w *worker) OnDied(fn func(error)) {
	w.on("died", func(data json.RawMessage) {
		var ev diedEvent
		_ = json.Unmarshal(data, &ev)
		fn(errors.New(ev.Error))
	})
}

func (w *worker) handle(event string, data json.RawMessage) {
	if event != "died" || !w.markClosed() {
		return
	}
	w.emit("died", data)
	w.closeRouters()
}

// Close shuts the worker down without reporting a death.
func (w *worker) Close() {
	if !w.markClosed() {
		return
	}
	w.c.callQuiet("worker.close", map[string]string{"workerId": w.id})
	w.closeRouters()
}

func (w *worker) closeRouters() {
	w.routersMu.Lock()
	routers := w.routers
	w.routers = nil
	w.routersMu.Unlock()
	for _, r := range routers {
		r.workerClosed()
	}
}

type router struct {
	object
	caps media.RTPCapabilities

	transportsMu sync.Mutex
	transports   []*transport
}

func (r *router) ID() string                             { return r.id }
func (r *router) RTPCapabilities() media.RTPCapabilities { return r.caps }
func (r *router) Closed() bool                           { return r.closed.Load() }

func (r *router) CreateWebRTCTransport(ctx context.Context, opts media.TransportOptions) (media.Transport, error) {
	if r.Closed() {
		return nil, ErrClosed
	}
	var res transportCreated
	if err := r.c.Call(ctx, "transport.create", transportCreate{RouterID: r.id, TransportOptions: opts}, &res); err != nil {
		return nil, err
	}
	t := &transport{
		object:   object{c: r.c, id: res.TransportID},
		ice:      res.ICEParameters,
		cands:    res.ICECandidates,
		dtls:     res.DTLSParameters,
		children: make(map[string]func()),
	}
	r.c.register(t.id, t.handle)
	r.transportsMu.Lock()
	r.transports = append(r.transports, t)
	r.transportsMu.Unlock()
	return t, nil
}

func (r *router) OnWorkerClose(fn func()) { r.on("workerclose", func(json.RawMessage) { fn() }) }

func (r *router) handle(event string, data json.RawMessage) {
	if event == "workerclose" {
		r.workerClosed()
	}
}

// workerClosed tears the router down locally before listeners run, so a
// listener closing the router or its transports sends nothing to the engine.
func (r *router) workerClosed() {
	if !r.markClosed() {
		return
	}
	r.closeTransports()
	r.emit("workerclose", nil)
}

func (r *router) Close() {
	if !r.markClosed() {
		return
	}
	r.c.callQuiet("router.close", map[string]string{"routerId": r.id})
	r.closeTransports()
}

func (r *router) closeTransports() {
	r.transportsMu.Lock()
	transports := r.transports
	r.transports = nil
	r.transportsMu.Unlock()
	for _, t := range transports {
		t.routerClosed()
	}
}

type transport struct {
	object
	ice   webrtc.ICEParameters
	cands []webrtc.ICECandidate
	dtls  webrtc.DTLSParameters

	childrenMu sync.Mutex
	children   map[string]func()
}

func (t *transport) ID() string                            { return t.id }
func (t *transport) ICEParameters() webrtc.ICEParameters   { return t.ice }
func (t *transport) ICECandidates() []webrtc.ICECandidate  { return t.cands }
func (t *transport) DTLSParameters() webrtc.DTLSParameters { return t.dtls }

func (t *transport) Connect(ctx context.Context, dtls webrtc.DTLSParameters) error {
	return t.c.Call(ctx, "transport.connect", transportConnect{TransportID: t.id, DTLSParameters: dtls}, nil)
}

func (t *transport) SetMaxIncomingBitrate(ctx context.Context, bitrate uint32) error {
	return t.c.Call(ctx, "transport.setMaxIncomingBitrate", transportBitrate{TransportID: t.id, Bitrate: bitrate}, nil)
}

func (t *transport) Produce(ctx context.Context, opts media.ProduceOptions) (media.Producer, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	var res producerCreated
	if err := t.c.Call(ctx, "transport.produce", transportProduce{TransportID: t.id, ProduceOptions: opts}, &res); err != nil {
		return nil, err
	}
	p := &producer{object: object{c: t.c, id: string(res.ProducerID)}, kind: opts.Kind}
	p.paused.Store(res.Paused)
	t.adopt(p.id, p.closeLocal)
	t.c.register(p.id, p.handle)
	return p, nil
}

func (t *transport) Consume(ctx context.Context, opts media.ConsumeOptions) (media.Consumer, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	var res consumerCreated
	if err := t.c.Call(ctx, "transport.consume", transportConsume{TransportID: t.id, ConsumeOptions: opts}, &res); err != nil {
		return nil, err
	}
	c := &consumer{object: object{c: t.c, id: string(res.ConsumerID)}, res: res}
	t.adopt(c.id, c.closeLocal)
	t.c.register(c.id, c.handle)
	return c, nil
}

func (t *transport) adopt(id string, closeLocal func()) {
	t.childrenMu.Lock()
	defer t.childrenMu.Unlock()
	t.children[id] = closeLocal
}

func (t *transport) OnDTLSStateChange(fn func(webrtc.DTLSTransportState)) {
	t.on("dtlsstatechange", func(data json.RawMessage) {
		var ev stateChange
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if s, ok := dtlsStates[ev.State]; ok {
			fn(s)
		}
	})
}

func (t *transport) OnICEStateChange(fn func(webrtc.ICETransportState)) {
	t.on("icestatechange", func(data json.RawMessage) {
		var ev stateChange
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if s, ok := iceStates[ev.State]; ok {
			fn(s)
		}
	})
}

func (t *transport) OnRouterClose(fn func()) { t.on("routerclose", func(json.RawMessage) { fn() }) }

func (t *transport) handle(event string, data json.RawMessage) {
	switch event {
	case "dtlsstatechange", "icestatechange":
		t.emit(event, data)
	case "routerclose":
		t.routerClosed()
	default:
		log.Debug().Str("module", "adapters.engine").Str("transport_id", t.id).Str("event", event).Msg("ignored transport event")
	}
}

func (t *transport) routerClosed() {
	if !t.markClosed() {
		return
	}
	t.closeChildren()
	t.emit("routerclose", nil)
}

func (t *transport) Close() {
	if !t.markClosed() {
		return
	}
	t.c.callQuiet("transport.close", map[string]string{"transportId": t.id})
	t.closeChildren()
}

func (t *transport) closeChildren() {
	t.childrenMu.Lock()
	children := t.children
	t.children = make(map[string]func())
	t.childrenMu.Unlock()
	for _, closeLocal := range children {
		closeLocal()
	}
}

type producer struct {
	object
	kind   webrtc.RTPCodecType
	paused atomic.Bool
}

func (p *producer) ID() domain.ProducerID     { return domain.ProducerID(p.id) }
func (p *producer) Kind() webrtc.RTPCodecType { return p.kind }
func (p *producer) Paused() bool              { return p.paused.Load() }
func (p *producer) Observer() media.Observer  { return observer{&p.object} }

func (p *producer) Pause(ctx context.Context) error {
	if err := p.c.Call(ctx, "producer.pause", map[string]string{"producerId": p.id}, nil); err != nil {
		return err
	}
	if p.paused.CompareAndSwap(false, true) {
		p.emit("pause", nil)
	}
	return nil
}

func (p *producer) Resume(ctx context.Context) error {
	if err := p.c.Call(ctx, "producer.resume", map[string]string{"producerId": p.id}, nil); err != nil {
		return err
	}
	if p.paused.CompareAndSwap(true, false) {
		p.emit("resume", nil)
	}
	return nil
}

func (p *producer) handle(event string, _ json.RawMessage) {
	if event == "close" {
		p.closeLocal()
	}
}

func (p *producer) closeLocal() {
	if p.markClosed() {
		p.emit("close", nil)
	}
}

func (p *producer) Close() {
	if !p.markClosed() {
		return
	}
	p.c.callQuiet("producer.close", map[string]string{"producerId": p.id})
	p.emit("close", nil)
}

type consumer struct {
	object
	res consumerCreated
}

func (c *consumer) ID() domain.ConsumerID              { return domain.ConsumerID(c.id) }
func (c *consumer) ProducerID() domain.ProducerID      { return c.res.ProducerID }
func (c *consumer) Kind() webrtc.RTPCodecType          { return c.res.Kind }
func (c *consumer) Type() media.ConsumerType           { return c.res.Type }
func (c *consumer) RTPParameters() media.RTPParameters { return c.res.RTPParameters }
func (c *consumer) Observer() media.Observer           { return observer{&c.object} }

func (c *consumer) SetPreferredLayers(ctx context.Context, layers media.Layers) error {
	return c.c.Call(ctx, "consumer.setPreferredLayers", consumerLayers{ConsumerID: c.ID(), Layers: layers}, nil)
}

func (c *consumer) Pause(ctx context.Context) error {
	if err := c.c.Call(ctx, "consumer.pause", map[string]string{"consumerId": c.id}, nil); err != nil {
		return err
	}
	c.emit("pause", nil)
	return nil
}

func (c *consumer) Resume(ctx context.Context) error {
	if err := c.c.Call(ctx, "consumer.resume", map[string]string{"consumerId": c.id}, nil); err != nil {
		return err
	}
	c.emit("resume", nil)
	return nil
}

// handle covers engine-side closes, including the producer going away.
func (c *consumer) handle(event string, _ json.RawMessage) {
	switch event {
	case "close", "producerclose", "transportclose":
		c.closeLocal()
	}
}

func (c *consumer) closeLocal() {
	if c.markClosed() {
		c.emit("close", nil)
	}
}

func (c *consumer) Close() {
	if !c.markClosed() {
		return
	}
	c.c.callQuiet("consumer.close", map[string]string{"consumerId": c.id})
	c.emit("close", nil)
}
