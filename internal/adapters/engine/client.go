// Package engine talks to the external media engine over a JSON-RPC 2.0
// websocket. Requests are matched to responses by id; engine notifications
// are routed to the object they name and dispatched off the read loop.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Conference/internal/media"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

var ErrClosed = errors.New("engine connection closed")

type Client struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex
	seq     atomic.Uint64
	closing atomic.Bool

	mu      sync.Mutex
	pending map[uint64]chan frame
	targets map[string]func(event string, data json.RawMessage)
	workers []*worker

	events chan notification
	done   chan struct{}
}

var _ media.Engine = (*Client)(nil)

// Dial connects to the engine. timeout bounds every call whose context has
// no deadline of its own.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:    conn,
		timeout: timeout,
		pending: make(map[uint64]chan frame),
		targets: make(map[string]func(string, json.RawMessage)),
		events:  make(chan notification, 256),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatch()
	log.Info().Str("module", "adapters.engine").Str("url", url).Msg("connected to media engine")
	return c, nil
}

func (c *Client) readLoop() {
	defer func() {
		close(c.done)
		if !c.closing.Load() {
			c.mu.Lock()
			workers := c.workers
			c.mu.Unlock()
			data, _ := json.Marshal(diedEvent{Error: ErrClosed.Error()})
			for _, w := range workers {
				c.events <- notification{TargetID: w.id, Event: "died", Data: data}
			}
		}
		close(c.events)
	}()

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				log.Warn().Err(err).Str("module", "adapters.engine").Msg("malformed frame")
				continue
			}
			if !c.closing.Load() {
				log.Error().Err(err).Str("module", "adapters.engine").Msg("engine connection lost")
			}
			return
		}

		switch {
		case f.ID != 0:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case f.Method == notifyMethod:
			var n notification
			if err := json.Unmarshal(f.Params, &n); err != nil {
				log.Warn().Err(err).Str("module", "adapters.engine").Msg("bad notification")
				continue
			}
			c.events <- n
		default:
			log.Debug().Str("module", "adapters.engine").Str("method", f.Method).Msg("unhandled frame")
		}
	}
}

func (c *Client) dispatch() {
	for n := range c.events {
		c.mu.Lock()
		fn := c.targets[n.TargetID]
		c.mu.Unlock()
		if fn == nil {
			continue
		}
		fn(n.Event, n.Data)
	}
}

func (c *Client) register(id string, fn func(string, json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[id] = fn
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.targets, id)
}

// Call sends one request and decodes the result into out when non-nil.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := c.seq.Inc()
	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	select {
	case f := <-ch:
		if f.Error != nil {
			return f.Error
		}
		if out != nil && len(f.Result) > 0 {
			return json.Unmarshal(f.Result, out)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// callQuiet is used by Close methods, which cannot report errors.
func (c *Client) callQuiet(method string, params any) {
	if err := c.Call(context.Background(), method, params, nil); err != nil && !errors.Is(err, ErrClosed) {
		log.Warn().Err(err).Str("module", "adapters.engine").Str("method", method).Msg("close request failed")
	}
}

func (c *Client) CreateWorker(ctx context.Context, opts media.WorkerOptions) (media.Worker, error) {
	var res workerCreated
	if err := c.Call(ctx, "worker.create", opts, &res); err != nil {
		return nil, err
	}
	w := &worker{object: object{c: c, id: string(res.WorkerID)}}
	c.register(w.id, w.handle)
	c.mu.Lock()
	c.workers = append(c.workers, w)
	c.mu.Unlock()
	return w, nil
}

// Close drops the connection without reporting worker deaths.
func (c *Client) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}
