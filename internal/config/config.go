package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string          `mapstructure:"mode"`
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Router    RouterConfig    `mapstructure:"router"`
	Transport TransportConfig `mapstructure:"transport"`
	Events    EventsConfig    `mapstructure:"events"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Centri    CentriConfig    `mapstructure:"centrifugo"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type EngineConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type WorkersConfig struct {
	Count      int           `mapstructure:"count"`
	LogLevel   string        `mapstructure:"log_level"`
	RTCMinPort uint16        `mapstructure:"rtc_min_port"`
	RTCMaxPort uint16        `mapstructure:"rtc_max_port"`
	DeathGrace time.Duration `mapstructure:"death_grace"`
}

type CodecConfig struct {
	Kind       string `mapstructure:"kind"`
	MimeType   string `mapstructure:"mime_type"`
	ClockRate  uint32 `mapstructure:"clock_rate"`
	Channels   uint16 `mapstructure:"channels"`
	Parameters string `mapstructure:"parameters"`
}

type RouterConfig struct {
	MediaCodecs []CodecConfig `mapstructure:"media_codecs"`
}

type ListenIPConfig struct {
	IP          string `mapstructure:"ip"`
	AnnouncedIP string `mapstructure:"announced_ip"`
}

type TransportConfig struct {
	ListenIPs                       []ListenIPConfig `mapstructure:"listen_ips"`
	MaxIncomingBitrate              uint32           `mapstructure:"max_incoming_bitrate"`
	InitialAvailableOutgoingBitrate uint32           `mapstructure:"initial_available_outgoing_bitrate"`
}

type EventsConfig struct {
	Topic       string        `mapstructure:"topic"`
	Sink        string        `mapstructure:"sink"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryStep   time.Duration `mapstructure:"retry_step"`
	QueueSize   int           `mapstructure:"queue_size"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	QoS      byte   `mapstructure:"qos"`
}

type CentriConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
}

type RateLimitConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8200)
	v.SetDefault("log_level", "info")

	v.SetDefault("engine.url", "ws://127.0.0.1:4443")
	v.SetDefault("engine.request_timeout", "10s")

	v.SetDefault("workers.count", 0)
	v.SetDefault("workers.log_level", "warn")
	v.SetDefault("workers.rtc_min_port", 10000)
	v.SetDefault("workers.rtc_max_port", 10100)
	v.SetDefault("workers.death_grace", "2s")

	v.SetDefault("router.media_codecs", []map[string]any{
		{"kind": "audio", "mime_type": webrtc.MimeTypeOpus, "clock_rate": 48000, "channels": 2},
		{"kind": "video", "mime_type": webrtc.MimeTypeVP8, "clock_rate": 90000, "parameters": "x-google-start-bitrate=1000"},
	})

	v.SetDefault("transport.listen_ips", []map[string]any{{"ip": "0.0.0.0"}})
	v.SetDefault("transport.max_incoming_bitrate", 1_500_000)
	v.SetDefault("transport.initial_available_outgoing_bitrate", 1_000_000)

	v.SetDefault("events.topic", "guggle-weed-sfu")
	v.SetDefault("events.sink", "log")
	v.SetDefault("events.max_attempts", 5)
	v.SetDefault("events.retry_step", "1s")
	v.SetDefault("events.queue_size", 256)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("mqtt.broker", "tcp://127.0.0.1:1883")
	v.SetDefault("mqtt.client_id", "meeting-control")
	v.SetDefault("centrifugo.api_url", "http://127.0.0.1:8000")

	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.interval", "10s")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MEETING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Workers.RTCMinPort > cfg.Workers.RTCMaxPort {
		return nil, fmt.Errorf("workers.rtc_min_port %d above rtc_max_port %d", cfg.Workers.RTCMinPort, cfg.Workers.RTCMaxPort)
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("engine", cfg.Engine.URL).
		Str("sink", cfg.Events.Sink).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) WorkerOptions() media.WorkerOptions {
	return media.WorkerOptions{
		LogLevel:   c.Workers.LogLevel,
		LogTags:    []string{"info", "ice", "dtls", "rtp", "srtp", "rtcp"},
		RTCMinPort: c.Workers.RTCMinPort,
		RTCMaxPort: c.Workers.RTCMaxPort,
	}
}

func (c *Config) RouterOptions() media.RouterOptions {
	codecs := make([]webrtc.RTPCodecCapability, 0, len(c.Router.MediaCodecs))
	for _, mc := range c.Router.MediaCodecs {
		codecs = append(codecs, webrtc.RTPCodecCapability{
			MimeType:    mc.MimeType,
			ClockRate:   mc.ClockRate,
			Channels:    mc.Channels,
			SDPFmtpLine: mc.Parameters,
		})
	}
	return media.RouterOptions{MediaCodecs: codecs}
}

func (c *Config) TransportConfig() core.TransportConfig {
	ips := make([]media.ListenIP, 0, len(c.Transport.ListenIPs))
	for _, l := range c.Transport.ListenIPs {
		announced := l.AnnouncedIP
		if announced == "" {
			announced = LocalIPv4()
		}
		ips = append(ips, media.ListenIP{IP: l.IP, AnnouncedIP: announced})
	}
	return core.TransportConfig{
		Options: media.TransportOptions{
			ListenIPs:                       ips,
			EnableUDP:                       true,
			EnableTCP:                       true,
			PreferUDP:                       true,
			ICEConsentTimeout:               20,
			InitialAvailableOutgoingBitrate: c.Transport.InitialAvailableOutgoingBitrate,
		},
		MaxIncomingBitrate: c.Transport.MaxIncomingBitrate,
	}
}

// LocalIPv4 returns the first non-loopback IPv4 address, or "127.0.0.1".
func LocalIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() {
			if ip4 := ipn.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}
