package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carebridge/interp/pkg/core/types"
)

func newTestDispatcher(t *testing.T, endpoints map[types.ActionType]string) *Dispatcher {
	t.Helper()
	d, err := New(Dependencies{
		Endpoints: endpoints,
		Now:       func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestExecute_Success(t *testing.T) {
	var got Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type=%q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, map[types.ActionType]string{types.ActionLabOrder: srv.URL})
	action := types.PendingAction{
		ID:      "pa_1",
		Type:    types.ActionLabOrder,
		Status:  types.ActionConfirmed,
		Payload: map[string]any{"testType": "CBC"},
	}
	executed, err := d.Execute(context.Background(), action)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !executed.Success || executed.Type != types.ActionLabOrder {
		t.Fatalf("executed=%+v", executed)
	}
	if got.ActionType != types.ActionLabOrder {
		t.Fatalf("envelope type=%q", got.ActionType)
	}
	if got.Data["testType"] != "CBC" {
		t.Fatalf("envelope data=%v", got.Data)
	}
	if got.Timestamp != "2026-08-01T12:00:00Z" {
		t.Fatalf("timestamp=%q", got.Timestamp)
	}
}

func TestExecute_RemoteRejectionIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "downstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, map[types.ActionType]string{types.ActionFollowUp: srv.URL})
	executed, err := d.Execute(context.Background(), types.PendingAction{ID: "pa_1", Type: types.ActionFollowUp})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if executed.Success {
		t.Fatalf("rejection recorded as success: %+v", executed)
	}
	if executed.Metadata["status"] != http.StatusBadGateway {
		t.Fatalf("metadata=%v", executed.Metadata)
	}
}

func TestExecute_DeliveryFailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	d := newTestDispatcher(t, map[types.ActionType]string{types.ActionLabOrder: srv.URL})
	if _, err := d.Execute(context.Background(), types.PendingAction{ID: "pa_1", Type: types.ActionLabOrder}); err == nil {
		t.Fatalf("expected delivery error")
	}
}

func TestExecute_UnknownActionType(t *testing.T) {
	d := newTestDispatcher(t, map[types.ActionType]string{types.ActionLabOrder: "http://example.test/hook"})
	_, err := d.Execute(context.Background(), types.PendingAction{ID: "pa_1", Type: "prescription"})
	if !errors.Is(err, ErrUnknownActionType) {
		t.Fatalf("err=%v, want ErrUnknownActionType", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Dependencies{}); err == nil {
		t.Fatalf("empty endpoint map accepted")
	}
	if _, err := New(Dependencies{Endpoints: map[types.ActionType]string{types.ActionLabOrder: " "}}); err == nil {
		t.Fatalf("blank endpoint accepted")
	}
}
