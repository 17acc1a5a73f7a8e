package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/carebridge/interp/pkg/core/dispatch"
	"github.com/carebridge/interp/pkg/core/types"
	"github.com/carebridge/interp/pkg/gateway/config"
	"github.com/carebridge/interp/pkg/store"
)

func baseConfig() config.Config {
	return config.Config{
		UpstreamAPIKey:     "sk-upstream",
		RealtimeModel:      "gpt-4o-realtime-preview",
		Voice:              "alloy",
		TranscriptionModel: "whisper-1",
		LabOrderWebhookURL: "https://hooks.example.test/lab",
		MaxBodyBytes:       1 << 20,
		UpstreamTimeout:    5 * time.Second,
		WebhookTimeout:     5 * time.Second,
		ReadHeaderTimeout:  time.Second,
		ReadTimeout:        time.Second,
		HandlerTimeout:     time.Minute,
	}
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "ok") {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReady(t *testing.T) {
	rr := httptest.NewRecorder()
	ReadyHandler{Config: baseConfig()}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	broken := baseConfig()
	broken.UpstreamAPIKey = ""
	rr = httptest.NewRecorder()
	ReadyHandler{Config: broken}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "upstream api key") {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestEphemeralKey_MintsFromUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-upstream" {
			t.Errorf("authorization=%q", auth)
		}
		var req struct {
			Model                   string            `json:"model"`
			Instructions            string            `json:"instructions"`
			InputAudioTranscription map[string]string `json:"input_audio_transcription"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "gpt-4o-realtime-preview" {
			t.Errorf("model=%q", req.Model)
		}
		if !strings.Contains(req.Instructions, "es-ES") {
			t.Errorf("instructions=%q", req.Instructions)
		}
		if req.InputAudioTranscription["language"] != "es-ES" {
			t.Errorf("transcription=%v", req.InputAudioTranscription)
		}
		_, _ = w.Write([]byte(`{"client_secret":{"value":"ek_live_1","expires_at":1767225600}}`))
	}))
	defer upstream.Close()

	cfg := baseConfig()
	cfg.UpstreamSessionsURL = upstream.URL
	h := EphemeralKeyHandler{Config: cfg, HTTPClient: upstream.Client()}

	req := httptest.NewRequest(http.MethodPost, "/api/ephemeral-key", nil)
	req.Header.Set("Language", "es-ES")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp struct {
		EphemeralKey struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"ephemeral_key"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.EphemeralKey.Value != "ek_live_1" || resp.EphemeralKey.ExpiresAt != 1767225600 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestEphemeralKey_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	cfg := baseConfig()
	cfg.UpstreamSessionsURL = upstream.URL
	h := EphemeralKeyHandler{Config: cfg, HTTPClient: upstream.Client()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/ephemeral-key", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", rr.Code)
	}
}

func newDispatcher(t *testing.T, url string) *dispatch.Dispatcher {
	t.Helper()
	d, err := dispatch.New(dispatch.Dependencies{Endpoints: map[types.ActionType]string{
		types.ActionLabOrder: url,
	}})
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	return d
}

func TestExecuteAction(t *testing.T) {
	var got dispatch.Envelope
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	h := ExecuteActionHandler{Dispatcher: newDispatcher(t, webhook.URL)}
	body := strings.NewReader(`{"type":"lab_order","payload":{"testType":"CBC"}}`)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/execute-action", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var executed types.ExecutedAction
	if err := json.Unmarshal(rr.Body.Bytes(), &executed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !executed.Success || executed.Type != types.ActionLabOrder {
		t.Fatalf("executed=%+v", executed)
	}
	if got.Data["testType"] != "CBC" {
		t.Fatalf("envelope=%+v", got)
	}
}

func TestExecuteAction_BadRequests(t *testing.T) {
	h := ExecuteActionHandler{Dispatcher: newDispatcher(t, "http://hooks.unused.test")}
	cases := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing type", `{"payload":{}}`},
		{"unknown type", `{"type":"prescription"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/execute-action", strings.NewReader(tc.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestExecuteAction_DeliveryFailure(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	webhook.Close()

	h := ExecuteActionHandler{Dispatcher: newDispatcher(t, webhook.URL)}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/execute-action", strings.NewReader(`{"type":"lab_order"}`)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestConversations_CreateListGet(t *testing.T) {
	mem := store.NewMemory()
	h := ConversationsHandler{Store: mem}

	record := types.ConversationRecord{
		Transcript: []types.ConversationTurn{
			{ID: "t1", Role: types.RoleClinician, Text: "Where does it hurt?", Kind: types.TurnOriginal},
		},
		Summary:   types.StructuredSummary{VisitSummary: "Chest pain visit."},
		PatientID: "p1",
	}
	body, _ := json.Marshal(record)

	rr := httptest.NewRecorder()
	h.Create(rr, httptest.NewRequest(http.MethodPost, "/api/conversation", strings.NewReader(string(body))))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%q", rr.Code, rr.Body.String())
	}
	var created map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created["id"]
	if id == "" {
		t.Fatalf("no id returned")
	}

	rr = httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/api/conversation", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), id) {
		t.Fatalf("list status=%d body=%q", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/conversation/"+id, nil)
	req.SetPathValue("id", id)
	rr = httptest.NewRecorder()
	h.Get(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}
	var fetched types.ConversationRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.PatientID != "p1" || len(fetched.Transcript) != 1 {
		t.Fatalf("fetched=%+v", fetched)
	}
}

func TestConversations_CreateRejectsEmptyTranscript(t *testing.T) {
	h := ConversationsHandler{Store: store.NewMemory()}
	rr := httptest.NewRecorder()
	h.Create(rr, httptest.NewRequest(http.MethodPost, "/api/conversation", strings.NewReader(`{"patientId":"p1"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestConversations_GetMissing(t *testing.T) {
	h := ConversationsHandler{Store: store.NewMemory()}
	req := httptest.NewRequest(http.MethodGet, "/api/conversation/nope", nil)
	req.SetPathValue("id", "nope")
	rr := httptest.NewRecorder()
	h.Get(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}
