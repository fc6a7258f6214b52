package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncoding(t *testing.T) {
	b, err := NewMessage(ProducerPaused{
		MeetingID:    "m1",
		AttendeeID:   "bob",
		ProducerType: "video",
		ProducerID:   "p1",
	}).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"producerPaused","payload":{"meetingId":"m1","attendeeId":"bob","producerType":"video","producerId":"p1"}}`, string(b))
}

func TestCentrifugoSink(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/publish", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	sink := NewCentrifugoSink(srv.URL, "secret")
	require.NoError(t, sink.Deliver(context.Background(), "meetings", NewMessage(MeetingEnded{MeetingID: "m1"})))
	assert.JSONEq(t, `"meetings"`, string(raw["channel"]))
	assert.JSONEq(t, `{"event":"meetingEnded","payload":{"meetingId":"m1"}}`, string(raw["data"]))
}

func TestCentrifugoSinkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"error":{"code":102,"message":"unknown channel"}}`))
	}))
	defer srv.Close()

	msg := NewMessage(MeetingEnded{MeetingID: "m1"})
	err := NewCentrifugoSink(srv.URL, "wrong").Deliver(context.Background(), "x", msg)
	assert.ErrorContains(t, err, "401")
	err = NewCentrifugoSink(srv.URL, "secret").Deliver(context.Background(), "x", msg)
	assert.ErrorContains(t, err, "unknown channel")
}

func TestRedisSinkUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	err := RedisSink{Client: client}.Deliver(context.Background(), "topic", NewMessage(MeetingEnded{MeetingID: "m1"}))
	assert.Error(t, err)
}

func TestMQTTSinkNotConnected(t *testing.T) {
	client := mqtt.NewClient(mqtt.NewClientOptions().AddBroker("tcp://127.0.0.1:1"))
	err := MQTTSink{Client: client}.Deliver(context.Background(), "topic", NewMessage(MeetingEnded{MeetingID: "m1"}))
	assert.Error(t, err)
}

func TestFanoutJoinsFailures(t *testing.T) {
	ok := &countingSink{}
	bad := &countingSink{err: errors.New("down")}

	err := Fanout{ok, bad}.Deliver(context.Background(), "topic", NewMessage(MeetingEnded{MeetingID: "m1"}))
	assert.EqualError(t, err, "down")
	assert.Len(t, ok.delivered(), 1)
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.Deliver(context.Background(), "topic", NewMessage(MeetingEnded{MeetingID: "m1"})))
}
