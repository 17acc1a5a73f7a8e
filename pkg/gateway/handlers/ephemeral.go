package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carebridge/interp/pkg/gateway/config"
)

// EphemeralKeyHandler mints short-lived realtime credentials by creating an
// upstream session on the client's behalf. The long-lived upstream API key
// never leaves the gateway.
type EphemeralKeyHandler struct {
	Config     config.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type upstreamSessionRequest struct {
	Model                   string            `json:"model"`
	Voice                   string            `json:"voice,omitempty"`
	Modalities              []string          `json:"modalities"`
	Instructions            string            `json:"instructions,omitempty"`
	InputAudioTranscription map[string]string `json:"input_audio_transcription,omitempty"`
}

type upstreamSessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

type ephemeralKeyResponse struct {
	EphemeralKey struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"ephemeral_key"`
}

func (h EphemeralKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	language := strings.TrimSpace(r.Header.Get("Language"))

	secret, expiresAt, err := h.mint(r.Context(), language)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("ephemeral key issuance failed", "error", err)
		}
		writeError(w, r, http.StatusBadGateway, "failed to issue ephemeral key")
		return
	}

	var resp ephemeralKeyResponse
	resp.EphemeralKey.Value = secret
	resp.EphemeralKey.ExpiresAt = expiresAt
	writeJSON(w, http.StatusOK, resp)
}

func (h EphemeralKeyHandler) mint(ctx context.Context, language string) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, h.Config.UpstreamTimeout)
	defer cancel()

	payload := upstreamSessionRequest{
		Model:      h.Config.RealtimeModel,
		Voice:      h.Config.Voice,
		Modalities: []string{"audio", "text"},
		InputAudioTranscription: map[string]string{
			"model": h.Config.TranscriptionModel,
		},
	}
	if language != "" {
		payload.Instructions = "You are a medical interpreter. Interpret faithfully between English and " + language + "."
		payload.InputAudioTranscription["language"] = language
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, fmt.Errorf("encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Config.UpstreamSessionsURL, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.Config.UpstreamAPIKey)

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("create upstream session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", 0, fmt.Errorf("upstream session failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded upstreamSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", 0, fmt.Errorf("decode upstream session: %w", err)
	}
	if decoded.ClientSecret.Value == "" {
		return "", 0, fmt.Errorf("upstream session has no client secret")
	}
	return decoded.ClientSecret.Value, decoded.ClientSecret.ExpiresAt, nil
}
