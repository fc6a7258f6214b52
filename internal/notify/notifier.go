// Package notify publishes meeting events to external sinks. Delivery is
// best effort: Publish never blocks and never fails, a failed delivery is
// retried a bounded number of times and then dropped.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// Sink delivers one message to one topic. Retries of earlier messages may
// run concurrently with new deliveries.
type Sink interface {
	Deliver(ctx context.Context, topic string, msg Message) error
}

type Options struct {
	MaxAttempts int
	RetryStep   time.Duration
	QueueSize   int
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryStep <= 0 {
		o.RetryStep = time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	return o
}

// lane is the queue of one sink. A sink that is down does not delay the
// others, and a message it already accepted is never sent to it again.
type lane struct {
	sink  Sink
	queue chan job
	done  chan struct{}
}

type job struct {
	lane    *lane
	topic   string
	msg     Message
	attempt int
}

type Notifier struct {
	opts  Options
	lanes []*lane

	mu     sync.RWMutex
	closed bool

	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}
	retries sync.WaitGroup

	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Int64
}

// New starts one delivery lane per sink; a Fanout is split into its members.
func New(sink Sink, opts Options) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	opts = opts.withDefaults()
	n := &Notifier{
		opts:   opts,
		timers: make(map[*time.Timer]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	sinks := []Sink{sink}
	if f, ok := sink.(Fanout); ok {
		sinks = f
	}
	for _, s := range sinks {
		l := &lane{sink: s, queue: make(chan job, opts.QueueSize), done: make(chan struct{})}
		n.lanes = append(n.lanes, l)
		go n.loop(l)
	}
	return n
}

// Publish enqueues ev on every lane and returns immediately. A full lane
// drops its copy.
func (n *Notifier) Publish(topic string, ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.dropped.Add(int64(len(n.lanes)))
		return
	}
	msg := NewMessage(ev)
	for _, l := range n.lanes {
		select {
		case l.queue <- job{lane: l, topic: topic, msg: msg}:
		default:
			n.dropped.Inc()
			log.Warn().Str("module", "notify").Str("event", ev.Name()).Msg("queue full, event dropped")
		}
	}
}

// Dropped counts deliveries that were never made, one per sink.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

func (n *Notifier) loop(l *lane) {
	defer close(l.done)
	for j := range l.queue {
		n.attempt(j)
	}
}

func (n *Notifier) attempt(j job) {
	j.attempt++
	err := j.lane.sink.Deliver(n.ctx, j.topic, j.msg)
	if err == nil {
		return
	}
	if j.attempt >= n.opts.MaxAttempts || n.ctx.Err() != nil {
		n.drop(j, err)
		return
	}
	log.Debug().Err(err).Str("module", "notify").
		Str("event", j.msg.Event).
		Int("attempt", j.attempt).
		Msg("delivery failed, retrying")
	n.retryLater(j)
}

// retryLater waits attempt*RetryStep off the lane, so later events keep flowing.
func (n *Notifier) retryLater(j job) {
	n.timerMu.Lock()
	defer n.timerMu.Unlock()
	if err := n.ctx.Err(); err != nil {
		n.drop(j, err)
		return
	}
	n.retries.Add(1)
	var t *time.Timer
	t = time.AfterFunc(time.Duration(j.attempt)*n.opts.RetryStep, func() {
		n.timerMu.Lock()
		_, pending := n.timers[t]
		delete(n.timers, t)
		n.timerMu.Unlock()
		if !pending {
			return
		}
		n.attempt(j)
		n.retries.Done()
	})
	n.timers[t] = struct{}{}
}

func (n *Notifier) drop(j job, err error) {
	n.dropped.Inc()
	log.Error().Err(err).Str("module", "notify").
		Str("topic", j.topic).
		Str("event", j.msg.Event).
		Int("attempts", j.attempt).
		Msg("event dropped")
}

// abandonRetries drops every retry still waiting on its timer.
func (n *Notifier) abandonRetries() {
	n.timerMu.Lock()
	defer n.timerMu.Unlock()
	for t := range n.timers {
		t.Stop()
		delete(n.timers, t)
		n.dropped.Inc()
		n.retries.Done()
	}
}

// Close stops accepting events and drains the lanes and pending retries
// until ctx expires; whatever is still waiting then is abandoned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	for _, l := range n.lanes {
		close(l.queue)
	}
	n.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		for _, l := range n.lanes {
			<-l.done
		}
		n.retries.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		n.abandonRetries()
		<-drained
		return ctx.Err()
	}
}
