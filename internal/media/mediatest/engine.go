// Package mediatest is an in-memory media engine for tests. It keeps the
// ownership rules of a real engine (closing a transport closes its producers
// and consumers, closing a router closes its transports) and lets tests
// inject failures and fire state notifications.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"
)

var (
	ErrClosed           = errors.New("mediatest: object closed")
	ErrProducerNotFound = errors.New("mediatest: producer not found")
	ErrCannotConsume    = errors.New("mediatest: cannot consume with given capabilities")
)

type Engine struct {
	mu sync.Mutex

	// Failure injection; read under mu at call time.
	FailCreateWorker  error
	FailCreateRouter  error
	FailTransportN    int // the n-th transport creation (1-based) fails
	FailConnect       error
	FailMaxBitrate    error
	FailProduce       error
	FailConsume       error
	FailSetLayers     error
	ConsumerType      media.ConsumerType
	ScalabilityMode   string
	TransportGate     chan struct{} // transport creation waits on it when set
	transportsCreated int

	seq        atomic.Uint64
	workers    []*Worker
	transports map[string]*Transport
	producers  map[domain.ProducerID]*Producer
}

func NewEngine() *Engine {
	return &Engine{
		ConsumerType: media.ConsumerSimple,
		transports:   make(map[string]*Transport),
		producers:    make(map[domain.ProducerID]*Producer),
	}
}

func (e *Engine) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Inc())
}

func (e *Engine) CreateWorker(_ context.Context, opts media.WorkerOptions) (media.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailCreateWorker != nil {
		return nil, e.FailCreateWorker
	}
	w := &Worker{engine: e, id: domain.WorkerID(e.nextID("worker")), Options: opts}
	e.workers = append(e.workers, w)
	return w, nil
}

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

// Transport looks up a transport by id, nil when unknown.
func (e *Engine) Transport(id string) *Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transports[id]
}

func (e *Engine) Producer(id domain.ProducerID) *Producer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.producers[id]
}

// TransportsCreated counts successful and failed creation attempts.
func (e *Engine) TransportsCreated() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transportsCreated
}

// Configure mutates failure injection fields under the engine lock.
func (e *Engine) Configure(fn func(e *Engine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

type Worker struct {
	engine  *Engine
	id      domain.WorkerID
	Options media.WorkerOptions

	mu      sync.Mutex
	dead    bool
	onDied  []func(error)
	routers []*Router
}

func (w *Worker) ID() domain.WorkerID { return w.id }

func (w *Worker) CreateRouter(_ context.Context, opts media.RouterOptions) (media.Router, error) {
	w.engine.mu.Lock()
	fail := w.engine.FailCreateRouter
	w.engine.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return nil, ErrClosed
	}
	caps := media.RTPCapabilities{}
	for i, c := range opts.MediaCodecs {
		caps.Codecs = append(caps.Codecs, webrtc.RTPCodecParameters{
			RTPCodecCapability: c,
			PayloadType:        webrtc.PayloadType(100 + i),
		})
	}
	r := &Router{engine: w.engine, worker: w, id: w.engine.nextID("router"), caps: caps}
	w.routers = append(w.routers, r)
	return r, nil
}

func (w *Worker) OnDied(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDied = append(w.onDied, fn)
}

func (w *Worker) Close() { w.Kill(nil) }

// Kill simulates the worker process dying.
func (w *Worker) Kill(err error) {
	w.mu.Lock()
	if w.dead {
		w.mu.Unlock()
		return
	}
	w.dead = true
	routers := w.routers
	handlers := append([]func(error){}, w.onDied...)
	w.mu.Unlock()

	for _, r := range routers {
		r.workerClosed()
	}
	if err != nil {
		for _, fn := range handlers {
			fn(err)
		}
	}
}

func (w *Worker) Routers() []*Router {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Router(nil), w.routers...)
}

type Router struct {
	engine *Engine
	worker *Worker
	id     string
	caps   media.RTPCapabilities

	mu            sync.Mutex
	closed        bool
	onWorkerClose []func()
	transports    []*Transport
}

func (r *Router) ID() string                             { return r.id }
func (r *Router) RTPCapabilities() media.RTPCapabilities { return r.caps }
func (r *Router) Worker() *Worker                        { return r.worker }

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) OnWorkerClose(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onWorkerClose = append(r.onWorkerClose, fn)
}

func (r *Router) CreateWebRTCTransport(ctx context.Context, opts media.TransportOptions) (media.Transport, error) {
	e := r.engine
	e.mu.Lock()
	gate := e.TransportGate
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	e.transportsCreated++
	fail := e.FailTransportN != 0 && e.FailTransportN == e.transportsCreated
	e.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("mediatest: transport %d refused", e.FailTransportN)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	t := &Transport{
		engine:  e,
		router:  r,
		id:      e.nextID("transport"),
		Options: opts,
	}
	r.transports = append(r.transports, t)
	r.mu.Unlock()

	e.mu.Lock()
	e.transports[t.id] = t
	e.mu.Unlock()
	return t, nil
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := r.transports
	r.mu.Unlock()

	for _, t := range transports {
		t.routerClosed()
	}
}

func (r *Router) workerClosed() {
	r.mu.Lock()
	handlers := append([]func(){}, r.onWorkerClose...)
	r.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
	r.Close()
}

func (r *Router) Transports() []*Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Transport(nil), r.transports...)
}
