package interpret

import (
	"errors"
	"testing"
	"time"

	"github.com/carebridge/interp/pkg/core/protocol"
	"github.com/carebridge/interp/pkg/core/types"
)

func newTestInterpreter(t *testing.T, role types.Role) *Interpreter {
	t.Helper()
	in, err := New(role, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seq := 0
	in.newID = func() string {
		seq++
		return string(rune('a' + seq - 1))
	}
	in.now = func() time.Time { return time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC) }
	return in
}

func TestNew_RejectsNonHumanRole(t *testing.T) {
	for _, role := range []types.Role{types.RoleAgent, types.RoleInfo, "nurse"} {
		if _, err := New(role, nil); err == nil {
			t.Fatalf("role %q accepted", role)
		}
	}
}

func TestInterpret_AgentTranscriptBecomesTranslationTurn(t *testing.T) {
	in := newTestInterpreter(t, types.RoleClinician)
	turn, err := in.Interpret(protocol.AgentTranscriptDone{Transcript: "¿Dónde le duele?"})
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if turn == nil {
		t.Fatalf("expected a turn")
	}
	if turn.Role != types.RoleAgent || turn.Kind != types.TurnTranslation {
		t.Fatalf("turn=%+v", turn)
	}
	if turn.Text != "¿Dónde le duele?" {
		t.Fatalf("text=%q", turn.Text)
	}
	if turn.ID == "" || turn.Timestamp.IsZero() {
		t.Fatalf("turn missing identity or timestamp: %+v", turn)
	}
}

func TestInterpret_AgentIntentHintRidesAlong(t *testing.T) {
	in := newTestInterpreter(t, types.RoleClinician)
	turn, err := in.Interpret(protocol.AgentTranscriptDone{
		Transcript: "I will order that blood test.",
		Intent:     &protocol.IntentHint{Type: "lab_order", TestType: "CBC"},
	})
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if turn.Intent == nil || turn.Intent.Type != types.ActionLabOrder || turn.Intent.TestType != "CBC" {
		t.Fatalf("intent=%+v", turn.Intent)
	}
}

func TestInterpret_UserTranscriptionUsesLocalRole(t *testing.T) {
	for _, role := range []types.Role{types.RoleClinician, types.RolePatient} {
		in := newTestInterpreter(t, role)
		turn, err := in.Interpret(protocol.UserTranscriptionCompleted{Transcript: "My chest hurts"})
		if err != nil {
			t.Fatalf("Interpret: %v", err)
		}
		if turn.Role != role || turn.Kind != types.TurnOriginal {
			t.Fatalf("role=%v turn=%+v", role, turn)
		}
	}
}

func TestInterpret_FailureIsRecoverable(t *testing.T) {
	in := newTestInterpreter(t, types.RolePatient)
	turn, err := in.Interpret(protocol.UserTranscriptionFailed{Message: "audio too short"})
	if turn != nil {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	var te *TranscriptError
	if !errors.As(err, &te) {
		t.Fatalf("err=%v, want *TranscriptError", err)
	}
	if te.Message != "audio too short" {
		t.Fatalf("message=%q", te.Message)
	}
}

func TestInterpret_NonTurnEvents(t *testing.T) {
	in := newTestInterpreter(t, types.RoleClinician)
	events := []protocol.ServerEvent{
		protocol.AgentTranscriptDelta{Delta: "¿Dónde"},
		protocol.UserTranscriptionDelta{Delta: "My"},
		protocol.AgentSpeechStarted{},
		protocol.SessionCreated{SessionID: "sess_1"},
		protocol.UnknownEvent{Type: "rate_limits.updated"},
		protocol.AgentTranscriptDone{Transcript: "   "},
		protocol.UserTranscriptionCompleted{Transcript: ""},
	}
	for _, ev := range events {
		turn, err := in.Interpret(ev)
		if err != nil {
			t.Fatalf("Interpret(%T): %v", ev, err)
		}
		if turn != nil {
			t.Fatalf("Interpret(%T) produced a turn: %+v", ev, turn)
		}
	}
}

func TestNotice(t *testing.T) {
	in := newTestInterpreter(t, types.RoleClinician)
	turn := in.Notice("transcription failed: audio too short")
	if turn.Role != types.RoleInfo || turn.Kind != types.TurnInfo {
		t.Fatalf("turn=%+v", turn)
	}
}
