package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/carebridge/interp/pkg/core/types"
)

type Config struct {
	Addr string

	// Upstream realtime API used for ephemeral credential minting.
	UpstreamSessionsURL string
	UpstreamAPIKey      string
	RealtimeModel       string
	Voice               string
	TranscriptionModel  string

	// Webhook endpoints for confirmed clinical actions. At least one must be
	// configured.
	LabOrderWebhookURL string
	FollowUpWebhookURL string

	// Empty => in-memory conversation store.
	DatabaseURL string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	MaxBodyBytes int64

	UpstreamTimeout time.Duration
	WebhookTimeout  time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("INTERP_ADDR", ":8080"),
		UpstreamSessionsURL: envOr("INTERP_UPSTREAM_SESSIONS_URL", "https://api.openai.com/v1/realtime/sessions"),
		UpstreamAPIKey:      strings.TrimSpace(os.Getenv("INTERP_UPSTREAM_API_KEY")),
		RealtimeModel:       envOr("INTERP_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		Voice:               envOr("INTERP_VOICE", "alloy"),
		TranscriptionModel:  envOr("INTERP_TRANSCRIPTION_MODEL", "whisper-1"),
		LabOrderWebhookURL:  strings.TrimSpace(os.Getenv("INTERP_LAB_ORDER_WEBHOOK_URL")),
		FollowUpWebhookURL:  strings.TrimSpace(os.Getenv("INTERP_FOLLOW_UP_WEBHOOK_URL")),
		DatabaseURL:         strings.TrimSpace(os.Getenv("INTERP_DATABASE_URL")),
		CORSAllowedOrigins:  make(map[string]struct{}),
		MaxBodyBytes:        envInt64Or("INTERP_MAX_BODY_BYTES", 1<<20), // 1 MiB
		UpstreamTimeout:     envDurationOr("INTERP_UPSTREAM_TIMEOUT", 10*time.Second),
		WebhookTimeout:      envDurationOr("INTERP_WEBHOOK_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout:   envDurationOr("INTERP_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("INTERP_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:      envDurationOr("INTERP_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod: envDurationOr("INTERP_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("INTERP_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.UpstreamSessionsURL) == "" {
		return Config{}, fmt.Errorf("INTERP_UPSTREAM_SESSIONS_URL must not be empty")
	}
	if cfg.UpstreamAPIKey == "" {
		return Config{}, fmt.Errorf("INTERP_UPSTREAM_API_KEY must be set")
	}
	if cfg.LabOrderWebhookURL == "" && cfg.FollowUpWebhookURL == "" {
		return Config{}, fmt.Errorf("at least one of INTERP_LAB_ORDER_WEBHOOK_URL or INTERP_FOLLOW_UP_WEBHOOK_URL must be set")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("INTERP_MAX_BODY_BYTES must be > 0")
	}
	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERP_UPSTREAM_TIMEOUT must be > 0")
	}
	if cfg.WebhookTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERP_WEBHOOK_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERP_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERP_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERP_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("INTERP_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// ActionEndpoints maps each configured action type to its webhook.
func (c Config) ActionEndpoints() map[types.ActionType]string {
	endpoints := make(map[types.ActionType]string, 2)
	if c.LabOrderWebhookURL != "" {
		endpoints[types.ActionLabOrder] = c.LabOrderWebhookURL
	}
	if c.FollowUpWebhookURL != "" {
		endpoints[types.ActionFollowUp] = c.FollowUpWebhookURL
	}
	return endpoints
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
