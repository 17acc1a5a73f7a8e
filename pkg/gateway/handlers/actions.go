package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/carebridge/interp/pkg/core/dispatch"
	"github.com/carebridge/interp/pkg/core/types"
)

// ExecuteActionHandler delivers one confirmed clinical action to its webhook.
// Confirmation happens client-side; this endpoint only dispatches.
type ExecuteActionHandler struct {
	Dispatcher *dispatch.Dispatcher
	Logger     *slog.Logger
}

type executeActionRequest struct {
	Type    types.ActionType `json:"type"`
	Payload map[string]any   `json:"payload,omitempty"`
}

func (h ExecuteActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req executeActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		writeError(w, r, http.StatusBadRequest, "type is required")
		return
	}

	executed, err := h.Dispatcher.Execute(r.Context(), types.PendingAction{
		Type:    req.Type,
		Status:  types.ActionConfirmed,
		Payload: req.Payload,
	})
	if errors.Is(err, dispatch.ErrUnknownActionType) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("action delivery failed", "type", req.Type, "error", err)
		}
		writeError(w, r, http.StatusBadGateway, "action delivery failed")
		return
	}
	writeJSON(w, http.StatusOK, executed)
}
