package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/carebridge/interp/pkg/core/dispatch"
	"github.com/carebridge/interp/pkg/gateway/config"
	"github.com/carebridge/interp/pkg/gateway/handlers"
	"github.com/carebridge/interp/pkg/gateway/mw"
	"github.com/carebridge/interp/pkg/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store      store.Store
	dispatcher *dispatch.Dispatcher
	httpClient *http.Client
}

func New(cfg config.Config, logger *slog.Logger, st store.Store) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	dispatcher, err := dispatch.New(dispatch.Dependencies{
		Endpoints:  cfg.ActionEndpoints(),
		HTTPClient: &http.Client{Timeout: cfg.WebhookTimeout},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		store:      st,
		dispatcher: dispatcher,
		httpClient: httpClient,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg})

	s.mux.Handle("POST /api/ephemeral-key", handlers.EphemeralKeyHandler{
		Config:     s.cfg,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
	})
	s.mux.Handle("POST /api/execute-action", handlers.ExecuteActionHandler{
		Dispatcher: s.dispatcher,
		Logger:     s.logger,
	})

	conversations := handlers.ConversationsHandler{Store: s.store, Logger: s.logger}
	s.mux.HandleFunc("POST /api/conversation", conversations.Create)
	s.mux.HandleFunc("GET /api/conversation", conversations.List)
	s.mux.HandleFunc("GET /api/conversation/{id}", conversations.Get)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.cfg.HandlerTimeout > 0 {
		h = http.TimeoutHandler(h, s.cfg.HandlerTimeout, "request timed out\n")
	}
	h = mw.MaxBody(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
