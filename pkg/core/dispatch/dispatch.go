// Package dispatch delivers confirmed clinical actions to their external
// webhook endpoints.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carebridge/interp/pkg/core/types"
)

// ErrUnknownActionType is returned when no endpoint is configured for the
// action's type.
var ErrUnknownActionType = errors.New("no endpoint configured for action type")

// Envelope is the webhook request body.
type Envelope struct {
	ActionType types.ActionType `json:"actionType"`
	Data       map[string]any   `json:"data"`
	Timestamp  string           `json:"timestamp"`
}

// Dependencies wires a Dispatcher.
type Dependencies struct {
	// Endpoints maps each action type to its webhook URL.
	Endpoints  map[types.ActionType]string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// Dispatcher posts one envelope per confirmed action. The remote status code
// decides the recorded outcome; only a delivery failure is an error.
type Dispatcher struct {
	deps Dependencies
}

func New(deps Dependencies) (*Dispatcher, error) {
	if len(deps.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one action endpoint is required")
	}
	for typ, url := range deps.Endpoints {
		if strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("endpoint for %q is empty", typ)
		}
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Dispatcher{deps: deps}, nil
}

// Execute delivers one confirmed action. A 2xx response yields a successful
// ExecutedAction; any other response yields an unsuccessful one. A
// transport-level failure returns an error and no ExecutedAction at all, so
// the caller can retry delivery.
func (d *Dispatcher) Execute(ctx context.Context, action types.PendingAction) (types.ExecutedAction, error) {
	endpoint, ok := d.deps.Endpoints[action.Type]
	if !ok {
		return types.ExecutedAction{}, fmt.Errorf("%w: %q", ErrUnknownActionType, action.Type)
	}

	envelope := Envelope{
		ActionType: action.Type,
		Data:       action.Payload,
		Timestamp:  d.deps.Now().UTC().Format(time.RFC3339),
	}
	if envelope.Data == nil {
		envelope.Data = map[string]any{}
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return types.ExecutedAction{}, fmt.Errorf("encode action envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return types.ExecutedAction{}, fmt.Errorf("build action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.deps.HTTPClient.Do(req)
	if err != nil {
		return types.ExecutedAction{}, fmt.Errorf("deliver %s action: %w", action.Type, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	success := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if !success {
		d.deps.Logger.Warn("action endpoint rejected delivery",
			"type", action.Type, "status", resp.StatusCode)
	}
	return types.ExecutedAction{
		Type:    action.Type,
		Success: success,
		Metadata: map[string]any{
			"status":      resp.StatusCode,
			"actionId":    action.ID,
			"description": action.Description,
		},
	}, nil
}
