package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownTargetLanguages lists language codes the gateway is known to serve.
// Used by [Validate] to warn about likely typos; the authoritative list is
// the gateway's /api/languages endpoint.
var KnownTargetLanguages = []string{
	"es-US", "es-ES", "fr-FR", "de-DE", "it-IT", "pt-BR",
	"ja-JP", "ko-KR", "zh-CN", "ru-RU", "hi-IN", "ar-AE",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result, so a partial document only overrides the fields it
// names. An empty document yields the defaults. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Gateway
	if cfg.Gateway.URL == "" {
		errs = append(errs, errors.New("gateway.url is required"))
	} else if u, err := url.Parse(cfg.Gateway.URL); err != nil {
		errs = append(errs, fmt.Errorf("gateway.url %q is invalid: %w", cfg.Gateway.URL, err))
	} else {
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			errs = append(errs, fmt.Errorf("gateway.url scheme %q is invalid; valid values: ws, wss, http, https", u.Scheme))
		}
	}
	if cfg.Gateway.TargetLanguage == "" {
		errs = append(errs, errors.New("gateway.target_language is required"))
	} else {
		validateTargetLanguage(cfg.Gateway.TargetLanguage)
	}
	if cfg.Gateway.PingInterval < 0 {
		errs = append(errs, fmt.Errorf("gateway.ping_interval %v is negative; use 0 to disable keepalive", cfg.Gateway.PingInterval))
	}

	// Reconnect backoff
	rc := cfg.Gateway.Reconnect
	if rc.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("gateway.reconnect.initial_delay %v must be positive", rc.InitialDelay))
	}
	if rc.MaxDelay < rc.InitialDelay {
		errs = append(errs, fmt.Errorf("gateway.reconnect.max_delay %v is below initial_delay %v", rc.MaxDelay, rc.InitialDelay))
	}
	if rc.Factor < 1.0 {
		errs = append(errs, fmt.Errorf("gateway.reconnect.factor %.2f must be at least 1.0", rc.Factor))
	}
	if rc.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("gateway.reconnect.max_attempts %d is negative; use 0 to retry indefinitely", rc.MaxAttempts))
	}

	// Audio geometry
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	} else if cfg.Audio.SampleRate != 16000 {
		slog.Warn("non-standard sample rate — the gateway protocol assumes 16 kHz mono",
			"sample_rate", cfg.Audio.SampleRate,
		)
	}
	if cfg.Audio.FrameMS <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMS))
	} else if cfg.Audio.FrameMS != 300 {
		slog.Warn("non-standard frame duration — the gateway protocol assumes 300 ms frames",
			"frame_ms", cfg.Audio.FrameMS,
		)
	}

	// Test run
	if cfg.Test.Input == "" {
		errs = append(errs, fmt.Errorf("test.input is required; set a WAV path or %q", InputLive))
	}
	if cfg.Test.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("test.max_duration %v is negative; use 0 for the whole source", cfg.Test.MaxDuration))
	}
	if cfg.Test.SilenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("test.silence_timeout %v must be positive", cfg.Test.SilenceTimeout))
	}
	if cfg.Test.DrainMaxWait <= 0 {
		errs = append(errs, fmt.Errorf("test.drain_max_wait %v must be positive", cfg.Test.DrainMaxWait))
	}

	// Export
	if cfg.Export.Dir == "" {
		errs = append(errs, errors.New("export.dir is required"))
	}

	return errors.Join(errs...)
}

// validateTargetLanguage logs a warning if lang is not found in
// [KnownTargetLanguages].
func validateTargetLanguage(lang string) {
	if slices.Contains(KnownTargetLanguages, lang) {
		return
	}
	slog.Warn("unknown target language — may be a typo or a newly added gateway language",
		"target_language", lang,
		"known", KnownTargetLanguages,
	)
}
