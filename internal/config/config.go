// Package config provides the configuration schema, loader, and file watcher
// for the Traduvox measurement harness.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the Traduvox server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the corresponding [slog.Level]. Unrecognised values map
// to [slog.LevelInfo].
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// InputLive is the sentinel value for Test.Input that selects microphone
// capture instead of a WAV file.
const InputLive = "live"

// Config is the root configuration structure for Traduvox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Audio   AudioConfig   `yaml:"audio"`
	Test    TestConfig    `yaml:"test"`
	Export  ExportConfig  `yaml:"export"`
}

// ServerConfig holds network and logging settings for the debug server.
type ServerConfig struct {
	// ListenAddr is the TCP address the debug server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the debug server. When nil, the server runs
	// plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// GatewayConfig describes the translation gateway connection.
type GatewayConfig struct {
	// URL is the gateway base address (e.g., "ws://localhost:9000").
	// http/https schemes are accepted and normalised to ws/wss.
	URL string `yaml:"url"`

	// TargetLanguage is the BCP 47 code translated audio is requested in
	// (e.g., "es-US").
	TargetLanguage string `yaml:"target_language"`

	// PingInterval is the keepalive cadence on the WebSocket. Zero disables
	// keepalive pings.
	PingInterval time.Duration `yaml:"ping_interval"`

	// Reconnect tunes the backoff applied after an unexpected disconnect.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig tunes the exponential backoff between reconnect attempts.
type ReconnectConfig struct {
	// InitialDelay is the wait before the first reconnect attempt.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Factor multiplies the delay after each failed attempt. 1.0 yields a
	// fixed delay.
	Factor float64 `yaml:"factor"`

	// MaxAttempts bounds the number of reconnect attempts per disconnect.
	// Zero retries indefinitely.
	MaxAttempts int `yaml:"max_attempts"`
}

// AudioConfig holds the frame geometry shared by capture and playback.
type AudioConfig struct {
	// SampleRate in Hz. The gateway protocol assumes 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMS is the duration of one streamed frame in milliseconds. The
	// gateway protocol assumes 300.
	FrameMS int `yaml:"frame_ms"`

	// FlushPartialOnStop emits a zero-padded final frame when live capture
	// is stopped mid-frame, so the tail of speech is not lost.
	FlushPartialOnStop bool `yaml:"flush_partial_on_stop"`
}

// FrameDuration returns FrameMS as a [time.Duration].
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMS) * time.Millisecond
}

// TestConfig describes a single measurement run.
type TestConfig struct {
	// Input is the path to a 16 kHz mono WAV file, or [InputLive] to stream
	// from the capture device.
	Input string `yaml:"input"`

	// MaxDuration truncates the source to its first MaxDuration of audio.
	// Zero streams the whole source.
	MaxDuration time.Duration `yaml:"max_duration"`

	// SilenceTimeout ends the run when no translated audio has arrived for
	// this long.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// DrainMaxWait caps how long the run waits for trailing translated
	// audio after the source is exhausted.
	DrainMaxWait time.Duration `yaml:"drain_max_wait"`

	// Muted schedules translated audio without feeding the output device.
	// Positions and drift are tracked as if it were audible.
	Muted bool `yaml:"muted"`
}

// ExportConfig controls where run results are written.
type ExportConfig struct {
	// Dir is the directory CSV exports are written into.
	Dir string `yaml:"dir"`

	// StorePath is the SQLite database runs are persisted to. Empty disables
	// persistence.
	StorePath string `yaml:"store_path"`
}

// Default returns the configuration used when a field is absent from the
// YAML document. [LoadFromReader] decodes on top of it, so a partial config
// file only overrides what it names.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Gateway: GatewayConfig{
			URL:            "ws://localhost:9000",
			TargetLanguage: "es-US",
			PingInterval:   30 * time.Second,
			Reconnect: ReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				Factor:       2.0,
			},
		},
		Audio: AudioConfig{
			SampleRate:         16000,
			FrameMS:            300,
			FlushPartialOnStop: true,
		},
		Test: TestConfig{
			Input:          InputLive,
			SilenceTimeout: 30 * time.Second,
			DrainMaxWait:   2 * time.Minute,
		},
		Export: ExportConfig{
			Dir: "results",
		},
	}
}
