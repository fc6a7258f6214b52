package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// LogSink writes events to the process log. It never fails.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, topic string, msg Message) error {
	log.Info().Str("module", "notify").
		Str("topic", topic).
		Str("event", msg.Event).
		Str("meeting_id", string(msg.Payload.Meeting())).
		Interface("payload", msg.Payload).
		Msg("event")
	return nil
}

// RedisSink publishes the JSON envelope on a redis pub/sub channel.
type RedisSink struct {
	Client redis.UniversalClient
}

func (s RedisSink) Deliver(ctx context.Context, topic string, msg Message) error {
	b, err := msg.Encode()
	if err != nil {
		return err
	}
	return s.Client.Publish(ctx, topic, b).Err()
}

// MQTTSink publishes the JSON envelope on an MQTT topic.
type MQTTSink struct {
	Client  mqtt.Client
	QoS     byte
	Timeout time.Duration
}

var ErrMQTTTimeout = errors.New("mqtt publish timeout")

func (s MQTTSink) Deliver(_ context.Context, topic string, msg Message) error {
	if !s.Client.IsConnectionOpen() {
		return errors.New("mqtt not connected")
	}
	b, err := msg.Encode()
	if err != nil {
		return err
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	token := s.Client.Publish(topic, s.QoS, false, b)
	if !token.WaitTimeout(timeout) {
		return ErrMQTTTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// CentrifugoSink publishes through the Centrifugo server HTTP API.
type CentrifugoSink struct {
	HTTP   *http.Client
	APIURL string
	APIKey string
}

type centrifugoResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewCentrifugoSink(apiURL, apiKey string) *CentrifugoSink {
	return &CentrifugoSink{
		HTTP:   &http.Client{Timeout: 5 * time.Second},
		APIURL: apiURL,
		APIKey: apiKey,
	}
}

func (s *CentrifugoSink) Deliver(ctx context.Context, topic string, msg Message) error {
	body, err := json.Marshal(map[string]any{"channel": topic, "data": msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL+"/api/publish", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("centrifugo: %s", resp.Status)
	}
	var out centrifugoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("centrifugo: decode response: %w", err)
	}
	if out.Error != nil {
		return fmt.Errorf("centrifugo: code %d: %s", out.Error.Code, out.Error.Message)
	}
	return nil
}

// Fanout groups sinks. Handed to New, each member gets its own lane and
// retries; delivered directly it tries every member and joins the failures.
type Fanout []Sink

func (f Fanout) Deliver(ctx context.Context, topic string, msg Message) error {
	var errs []error
	for _, s := range f {
		if err := s.Deliver(ctx, topic, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
