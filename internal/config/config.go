package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
	"github.com/maximxlss/stupid-audio-stream/internal/protocol"
)

// EnvPrefix prefixes every environment override, e.g.
// AUDIOSTREAM_STREAM_SOURCE or AUDIOSTREAM_NETWORK_DATAGRAM_SIZE
const EnvPrefix = "AUDIOSTREAM"

// Overflow policies
const (
	PolicyRestart = "restart"
	PolicyTrim    = "trim"
)

// Config represents the complete service configuration
type Config struct {
	Stream  StreamConfig  `yaml:"stream" envconfig:"STREAM"`
	Audio   AudioConfig   `yaml:"audio" envconfig:"AUDIO"`
	Network NetworkConfig `yaml:"network" envconfig:"NETWORK"`
	HTTP    HTTPConfig    `yaml:"http" envconfig:"HTTP"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// StreamConfig names the two endpoints and the buffer between them
type StreamConfig struct {
	Source                string `yaml:"source" envconfig:"SOURCE"`
	Sink                  string `yaml:"sink" envconfig:"SINK"`
	BufferLimit           int    `yaml:"buffer_limit" envconfig:"BUFFER_LIMIT"` // bytes
	RestartOnBufferFilled bool   `yaml:"restart_on_buffer_filled" envconfig:"RESTART_ON_BUFFER_FILLED"`
	Alignment             int    `yaml:"alignment" envconfig:"ALIGNMENT"`                 // bytes, 0 = one audio frame
	ReadinessTimeout      int    `yaml:"readiness_timeout" envconfig:"READINESS_TIMEOUT"` // milliseconds
}

// AudioConfig contains the device audio format
type AudioConfig struct {
	BitsPerSample int  `yaml:"bits_per_sample" envconfig:"BITS_PER_SAMPLE"`
	SampleRate    int  `yaml:"sample_rate" envconfig:"SAMPLE_RATE"`
	Channels      int  `yaml:"channels" envconfig:"CHANNELS"`
	UseFloat      bool `yaml:"use_float" envconfig:"USE_FLOAT"`
}

// NetworkConfig contains socket transport parameters
type NetworkConfig struct {
	DatagramSize int  `yaml:"datagram_size" envconfig:"DATAGRAM_SIZE"` // bytes
	CountedUDP   bool `yaml:"counted_udp" envconfig:"COUNTED_UDP"`
	PollInterval int  `yaml:"poll_interval" envconfig:"POLL_INTERVAL"` // milliseconds
}

// HTTPConfig contains HTTP monitoring server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" envconfig:"PORT"`
	Address string `yaml:"address" envconfig:"ADDRESS"`
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
	Output string `yaml:"output" envconfig:"OUTPUT"`
}

// Default returns the configuration used when a value is set nowhere else
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			BufferLimit:      96000,
			ReadinessTimeout: 2000,
		},
		Audio: AudioConfig{
			BitsPerSample: audio.DefaultFormat.BitsPerSample,
			SampleRate:    audio.DefaultFormat.SampleRate,
			Channels:      audio.DefaultFormat.Channels,
		},
		Network: NetworkConfig{
			DatagramSize: 1400,
			PollInterval: 5,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the configuration file at path over the defaults and applies
// environment overrides. An empty path skips the file. The result is not
// validated so that callers can apply flag overrides first.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overrides fields with the AUDIOSTREAM_* variables that are set
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Stream.Validate(c.Alignment()); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Alignment returns the overflow trim unit in bytes: the configured value,
// or one audio frame of the configured format
func (c *Config) Alignment() int {
	if c.Stream.Alignment > 0 {
		return c.Stream.Alignment
	}
	return c.Audio.Format().BlockAlign()
}

// Policy returns the overflow policy name
func (s *StreamConfig) Policy() string {
	if s.RestartOnBufferFilled {
		return PolicyRestart
	}
	return PolicyTrim
}

// Validate validates stream configuration against the alignment unit
func (s *StreamConfig) Validate(alignment int) error {
	if s.Source == "" {
		return fmt.Errorf("source cannot be empty")
	}

	if s.Sink == "" {
		return fmt.Errorf("sink cannot be empty")
	}

	if s.Alignment < 0 {
		return fmt.Errorf("alignment cannot be negative, got %d", s.Alignment)
	}

	if alignment < 1 {
		return fmt.Errorf("alignment must be at least 1 byte, got %d", alignment)
	}

	if s.BufferLimit < 2*alignment {
		return fmt.Errorf("buffer_limit must be at least %d bytes (twice the alignment), got %d", 2*alignment, s.BufferLimit)
	}

	if s.ReadinessTimeout < 1 {
		return fmt.Errorf("readiness_timeout must be at least 1 ms, got %d", s.ReadinessTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bits_per_sample must be one of [8, 16, 24, 32], got %d", a.BitsPerSample)
	}

	if a.UseFloat && a.BitsPerSample != 32 {
		return fmt.Errorf("use_float requires 32 bits per sample, got %d", a.BitsPerSample)
	}

	if a.SampleRate < 1 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if a.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", a.Channels)
	}

	return nil
}

// Format returns the audio format described by the configuration
func (a *AudioConfig) Format() audio.Format {
	f := audio.Format{
		BitsPerSample: a.BitsPerSample,
		SampleRate:    a.SampleRate,
		Channels:      a.Channels,
		SampleType:    audio.SampleInt,
	}
	if a.UseFloat {
		f.SampleType = audio.SampleFloat
	}
	return f
}

// Validate validates network configuration
func (n *NetworkConfig) Validate() error {
	if n.DatagramSize <= protocol.HeaderSize || n.DatagramSize > protocol.MaxDatagramSize {
		return fmt.Errorf("datagram_size must be between %d and %d bytes, got %d",
			protocol.HeaderSize+1, protocol.MaxDatagramSize, n.DatagramSize)
	}

	if n.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 ms, got %d", n.PollInterval)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetReadinessTimeoutDuration returns the readiness timeout as a time.Duration
func (s *StreamConfig) GetReadinessTimeoutDuration() time.Duration {
	return time.Duration(s.ReadinessTimeout) * time.Millisecond
}

// GetPollIntervalDuration returns the socket poll interval as a time.Duration
func (n *NetworkConfig) GetPollIntervalDuration() time.Duration {
	return time.Duration(n.PollInterval) * time.Millisecond
}
