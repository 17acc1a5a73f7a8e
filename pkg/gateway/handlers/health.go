package handlers

import (
	"net/http"

	"github.com/carebridge/interp/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK                 bool     `json:"ok"`
		DatabaseConfigured bool     `json:"database_configured"`
		Issues             []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.UpstreamAPIKey == "" {
		issues = append(issues, "upstream api key not configured")
	}
	if len(h.Config.ActionEndpoints()) == 0 {
		issues = append(issues, "no action webhooks configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.UpstreamTimeout <= 0 || h.Config.WebhookTimeout <= 0 {
		issues = append(issues, "upstream timeouts must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, readyResp{
		OK:                 ok,
		DatabaseConfigured: h.Config.DatabaseURL != "",
		Issues:             issues,
	})
}
