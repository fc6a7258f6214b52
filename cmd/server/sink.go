package main

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	router "github.com/dkeye/Conference/internal/adapters/http"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/notify"
)

// newSink builds the configured external sink. The websocket hub always
// receives events next to it.
func newSink(lc fx.Lifecycle, cfg *config.Config, hub *router.EventHub) (notify.Sink, error) {
	var external notify.Sink
	switch cfg.Events.Sink {
	case "", "log":
		external = notify.LogSink{}
	case "websocket":
		return hub, nil
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lc.Append(fx.StopHook(client.Close))
		external = notify.RedisSink{Client: client}
	case "mqtt":
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTT.Broker).
			SetClientID(cfg.MQTT.ClientID).
			SetAutoReconnect(true).
			SetConnectRetry(true).
			SetConnectionLostHandler(func(_ mqtt.Client, err error) {
				log.Warn().Err(err).Str("module", "notify").Msg("mqtt connection lost")
			})
		client := mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			log.Warn().Err(token.Error()).Str("module", "notify").Str("broker", cfg.MQTT.Broker).Msg("mqtt not connected yet, retrying in background")
		}
		lc.Append(fx.StopHook(func() { client.Disconnect(250) }))
		external = notify.MQTTSink{Client: client, QoS: cfg.MQTT.QoS}
	case "centrifugo":
		external = notify.NewCentrifugoSink(cfg.Centri.APIURL, cfg.Centri.APIKey)
	default:
		return nil, fmt.Errorf("unknown events.sink %q", cfg.Events.Sink)
	}
	log.Info().Str("module", "notify").Str("sink", cfg.Events.Sink).Msg("event sink configured")
	return notify.Fanout{external, hub}, nil
}
