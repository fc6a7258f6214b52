package mediatest

import (
	"context"
	"sync"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
)

type observer struct {
	mu       sync.Mutex
	onClose  []func()
	onPause  []func()
	onResume []func()
}

func (o *observer) OnClose(fn func())  { o.add(&o.onClose, fn) }
func (o *observer) OnPause(fn func())  { o.add(&o.onPause, fn) }
func (o *observer) OnResume(fn func()) { o.add(&o.onResume, fn) }

func (o *observer) add(list *[]func(), fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*list = append(*list, fn)
}

func (o *observer) fire(list *[]func()) {
	o.mu.Lock()
	handlers := append([]func(){}, *list...)
	o.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

type Producer struct {
	engine  *Engine
	id      domain.ProducerID
	kind    webrtc.RTPCodecType
	params  media.RTPParameters
	AppData map[string]string

	obs observer

	mu        sync.Mutex
	paused    bool
	closed    bool
	consumers []*Consumer
}

func (p *Producer) ID() domain.ProducerID              { return p.id }
func (p *Producer) Kind() webrtc.RTPCodecType          { return p.kind }
func (p *Producer) RTPParameters() media.RTPParameters { return p.params }
func (p *Producer) Observer() media.Observer           { return &p.obs }

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) Pause(context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	changed := !p.paused
	p.paused = true
	p.mu.Unlock()
	if changed {
		p.obs.fire(&p.obs.onPause)
	}
	return nil
}

func (p *Producer) Resume(context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	changed := p.paused
	p.paused = false
	p.mu.Unlock()
	if changed {
		p.obs.fire(&p.obs.onResume)
	}
	return nil
}

// Close closes the producer and every consumer fed by it.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := p.consumers
	p.mu.Unlock()

	p.engine.mu.Lock()
	delete(p.engine.producers, p.id)
	p.engine.mu.Unlock()

	p.obs.fire(&p.obs.onClose)
	for _, c := range consumers {
		c.Close()
	}
}

func (p *Producer) Consumers() []*Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Consumer(nil), p.consumers...)
}

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	closed := p.closed
	if !closed {
		p.consumers = append(p.consumers, c)
	}
	p.mu.Unlock()
	if closed {
		c.Close()
	}
}

type Consumer struct {
	engine     *Engine
	id         domain.ConsumerID
	producerID domain.ProducerID
	kind       webrtc.RTPCodecType
	typ        media.ConsumerType
	params     media.RTPParameters

	obs observer

	mu     sync.Mutex
	paused bool
	closed bool
	layers *media.Layers
}

func (c *Consumer) ID() domain.ConsumerID              { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID      { return c.producerID }
func (c *Consumer) Kind() webrtc.RTPCodecType          { return c.kind }
func (c *Consumer) Type() media.ConsumerType           { return c.typ }
func (c *Consumer) RTPParameters() media.RTPParameters { return c.params }
func (c *Consumer) Observer() media.Observer           { return &c.obs }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// PreferredLayers returns the last layers set, nil if never set.
func (c *Consumer) PreferredLayers() *media.Layers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layers
}

func (c *Consumer) SetPreferredLayers(_ context.Context, layers media.Layers) error {
	c.engine.mu.Lock()
	fail := c.engine.FailSetLayers
	c.engine.mu.Unlock()
	if fail != nil {
		return fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.layers = &layers
	return nil
}

func (c *Consumer) Pause(context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.paused = true
	c.mu.Unlock()
	c.obs.fire(&c.obs.onPause)
	return nil
}

func (c *Consumer) Resume(context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.paused = false
	c.mu.Unlock()
	c.obs.fire(&c.obs.onResume)
	return nil
}

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.obs.fire(&c.obs.onClose)
}
