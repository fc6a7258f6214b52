package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Conference/internal/media"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	srv *httptest.Server

	mu     sync.Mutex
	conn   *websocket.Conn
	calls  []string
	seq    int
	fail   map[string]*RPCError
	silent map[string]bool
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	fe := &fakeEngine{fail: map[string]*RPCError{}, silent: map[string]bool{}}
	upgrader := websocket.Upgrader{}
	fe.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fe.mu.Lock()
		fe.conn = conn
		fe.mu.Unlock()
		fe.serve(conn)
	}))
	t.Cleanup(fe.srv.Close)
	return fe
}

func (fe *fakeEngine) url() string { return "ws" + strings.TrimPrefix(fe.srv.URL, "http") }

func (fe *fakeEngine) serve(conn *websocket.Conn) {
	for {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		fe.mu.Lock()
		fe.calls = append(fe.calls, req.Method)
		fe.seq++
		n := fe.seq
		rpcErr := fe.fail[req.Method]
		silent := fe.silent[req.Method]
		fe.mu.Unlock()
		if silent {
			continue
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = fe.result(req.Method, req.Params, n)
		}
		fe.write(resp)
	}
}

func (fe *fakeEngine) result(method string, params json.RawMessage, n int) any {
	switch method {
	case "worker.create":
		return map[string]any{"workerId": fmt.Sprintf("w-%d", n)}
	case "router.create":
		return map[string]any{"routerId": fmt.Sprintf("r-%d", n), "rtpCapabilities": map[string]any{"codecs": []any{}}}
	case "transport.create":
		return map[string]any{
			"transportId":    fmt.Sprintf("t-%d", n),
			"iceParameters":  map[string]any{"usernameFragment": "ufrag", "password": "pwd"},
			"iceCandidates":  []any{},
			"dtlsParameters": map[string]any{"fingerprints": []any{}},
		}
	case "transport.produce":
		return map[string]any{"producerId": fmt.Sprintf("p-%d", n)}
	case "transport.consume":
		var p struct {
			ProducerID string `json:"producerId"`
		}
		_ = json.Unmarshal(params, &p)
		return map[string]any{
			"consumerId": fmt.Sprintf("c-%d", n),
			"producerId": p.ProducerID,
			"kind":       int(webrtc.RTPCodecTypeAudio),
			"type":       "simple",
		}
	}
	return map[string]any{}
}

func (fe *fakeEngine) write(v any) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	_ = fe.conn.WriteJSON(v)
}

func (fe *fakeEngine) notify(target, event string, data any) {
	fe.write(map[string]any{
		"jsonrpc": "2.0",
		"method":  notifyMethod,
		"params":  map[string]any{"targetId": target, "event": event, "data": data},
	})
}

func (fe *fakeEngine) dropConnection() {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	_ = fe.conn.Close()
}

func (fe *fakeEngine) called(method string) bool {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	for _, c := range fe.calls {
		if c == method {
			return true
		}
	}
	return false
}

func dial(t *testing.T, fe *fakeEngine) *Client {
	t.Helper()
	c, err := Dial(context.Background(), fe.url(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func setup(t *testing.T) (*fakeEngine, *Client, media.Worker, media.Router, media.Transport) {
	t.Helper()
	ctx := context.Background()
	fe := newFakeEngine(t)
	c := dial(t, fe)
	w, err := c.CreateWorker(ctx, media.WorkerOptions{LogLevel: "warn"})
	require.NoError(t, err)
	r, err := w.CreateRouter(ctx, media.RouterOptions{})
	require.NoError(t, err)
	tr, err := r.CreateWebRTCTransport(ctx, media.TransportOptions{EnableUDP: true})
	require.NoError(t, err)
	return fe, c, w, r, tr
}

func TestCreateObjects(t *testing.T) {
	_, _, w, r, tr := setup(t)
	ctx := context.Background()

	assert.Equal(t, "w-1", string(w.ID()))
	assert.Equal(t, "r-2", r.ID())
	assert.Equal(t, "t-3", tr.ID())
	assert.Equal(t, "ufrag", tr.ICEParameters().UsernameFragment)

	p, err := tr.Produce(ctx, media.ProduceOptions{Kind: webrtc.RTPCodecTypeAudio})
	require.NoError(t, err)
	assert.Equal(t, "p-4", string(p.ID()))
	assert.Equal(t, webrtc.RTPCodecTypeAudio, p.Kind())

	c, err := tr.Consume(ctx, media.ConsumeOptions{ProducerID: p.ID()})
	require.NoError(t, err)
	assert.Equal(t, p.ID(), c.ProducerID())
	assert.Equal(t, media.ConsumerSimple, c.Type())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, c.Kind())
}

func TestRPCErrorIsReturned(t *testing.T) {
	fe, _, _, _, tr := setup(t)
	fe.mu.Lock()
	fe.fail["transport.connect"] = &RPCError{Code: 400, Message: "bad fingerprint"}
	fe.mu.Unlock()

	err := tr.Connect(context.Background(), webrtc.DTLSParameters{})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "bad fingerprint", rpcErr.Message)
}

func TestCallTimesOut(t *testing.T) {
	fe, _, _, _, tr := setup(t)
	fe.mu.Lock()
	fe.silent["transport.setMaxIncomingBitrate"] = true
	fe.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tr.SetMaxIncomingBitrate(ctx, 1000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransportStateNotifications(t *testing.T) {
	fe, _, _, _, tr := setup(t)

	states := make(chan webrtc.DTLSTransportState, 1)
	tr.OnDTLSStateChange(func(s webrtc.DTLSTransportState) { states <- s })
	ice := make(chan webrtc.ICETransportState, 1)
	tr.OnICEStateChange(func(s webrtc.ICETransportState) { ice <- s })

	fe.notify(tr.ID(), "dtlsstatechange", map[string]string{"state": "failed"})
	fe.notify(tr.ID(), "icestatechange", map[string]string{"state": "disconnected"})

	select {
	case s := <-states:
		assert.Equal(t, webrtc.DTLSTransportStateFailed, s)
	case <-time.After(time.Second):
		t.Fatal("dtls state not delivered")
	}
	select {
	case s := <-ice:
		assert.Equal(t, webrtc.ICETransportStateDisconnected, s)
	case <-time.After(time.Second):
		t.Fatal("ice state not delivered")
	}
}

func TestProducerCloseFromEngineReachesConsumerObserver(t *testing.T) {
	fe, _, _, _, tr := setup(t)
	ctx := context.Background()
	p, err := tr.Produce(ctx, media.ProduceOptions{Kind: webrtc.RTPCodecTypeAudio})
	require.NoError(t, err)
	c, err := tr.Consume(ctx, media.ConsumeOptions{ProducerID: p.ID()})
	require.NoError(t, err)

	closed := make(chan struct{})
	c.Observer().OnClose(func() { close(closed) })
	fe.notify(string(c.ID()), "producerclose", nil)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("consumer close not delivered")
	}
}

func TestProducerPauseFiresObserverOnce(t *testing.T) {
	fe, _, _, _, tr := setup(t)
	ctx := context.Background()
	p, err := tr.Produce(ctx, media.ProduceOptions{Kind: webrtc.RTPCodecTypeVideo})
	require.NoError(t, err)

	pauses := 0
	p.Observer().OnPause(func() { pauses++ })
	require.NoError(t, p.Pause(ctx))
	require.NoError(t, p.Pause(ctx))
	assert.True(t, p.Paused())
	assert.Equal(t, 1, pauses)
	assert.True(t, fe.called("producer.pause"))
}

func TestRouterCloseCascadesLocally(t *testing.T) {
	fe, _, _, r, tr := setup(t)
	p, err := tr.Produce(context.Background(), media.ProduceOptions{Kind: webrtc.RTPCodecTypeAudio})
	require.NoError(t, err)

	var events []string
	tr.OnRouterClose(func() { events = append(events, "transport") })
	p.Observer().OnClose(func() { events = append(events, "producer") })

	r.Close()
	r.Close()
	assert.True(t, r.Closed())
	assert.Equal(t, []string{"producer", "transport"}, events)
	assert.True(t, fe.called("router.close"))

	_, err = r.CreateWebRTCTransport(context.Background(), media.TransportOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConnectionLossKillsWorkers(t *testing.T) {
	fe, _, w, r, _ := setup(t)

	died := make(chan error, 1)
	w.OnDied(func(err error) { died <- err })
	workerClosed := make(chan struct{})
	r.OnWorkerClose(func() { close(workerClosed) })

	fe.dropConnection()

	select {
	case err := <-died:
		assert.EqualError(t, err, ErrClosed.Error())
	case <-time.After(time.Second):
		t.Fatal("worker death not reported")
	}
	select {
	case <-workerClosed:
	case <-time.After(time.Second):
		t.Fatal("router not told about worker close")
	}
	assert.True(t, r.Closed())
}

func TestWorkerDeathClosesRouterWithoutRequests(t *testing.T) {
	fe, _, w, r, tr := setup(t)

	handled := make(chan bool, 1)
	r.OnWorkerClose(func() {
		closedFirst := r.Closed()
		r.Close()
		tr.Close()
		handled <- closedFirst
	})

	fe.notify(string(w.ID()), "died", map[string]string{"error": "worker crashed"})

	select {
	case closedFirst := <-handled:
		assert.True(t, closedFirst)
	case <-time.After(time.Second):
		t.Fatal("router not told about worker close")
	}
	assert.False(t, fe.called("router.close"))
	assert.False(t, fe.called("transport.close"))
}

func TestCloseDoesNotReportDeath(t *testing.T) {
	fe := newFakeEngine(t)
	c, err := Dial(context.Background(), fe.url(), time.Second)
	require.NoError(t, err)
	w, err := c.CreateWorker(context.Background(), media.WorkerOptions{})
	require.NoError(t, err)

	died := false
	w.OnDied(func(error) { died = true })
	require.NoError(t, c.Close())
	assert.False(t, died)

	_, err = w.CreateRouter(context.Background(), media.RouterOptions{})
	assert.Error(t, err)
}
