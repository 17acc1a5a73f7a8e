package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/carebridge/interp/pkg/core/types"
	"github.com/carebridge/interp/pkg/store"
)

// ConversationsHandler exposes the persisted conversation records: create on
// finalize, list for review, and fetch by id.
type ConversationsHandler struct {
	Store  store.Store
	Logger *slog.Logger
}

func (h ConversationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var rec types.ConversationRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid conversation record")
		return
	}
	if len(rec.Transcript) == 0 {
		writeError(w, r, http.StatusBadRequest, "transcript is required")
		return
	}

	id, err := h.Store.CreateConversation(r.Context(), rec)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("conversation create failed", "error", err)
		}
		writeError(w, r, http.StatusInternalServerError, "failed to store conversation")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Store.ListConversations(r.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("conversation list failed", "error", err)
		}
		writeError(w, r, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (h ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.Store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("conversation fetch failed", "id", id, "error", err)
		}
		writeError(w, r, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
