package protocol

import (
	"strings"
	"testing"
)

func TestDecode_AgentTranscriptDone(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"response.audio_transcript.done","transcript":"¿Tiene dolor en el pecho?"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	done, ok := ev.(AgentTranscriptDone)
	if !ok {
		t.Fatalf("event type %T, want AgentTranscriptDone", ev)
	}
	if done.Transcript != "¿Tiene dolor en el pecho?" {
		t.Fatalf("transcript=%q", done.Transcript)
	}
	if done.Intent != nil {
		t.Fatalf("unexpected intent hint: %+v", done.Intent)
	}
}

func TestDecode_AgentTranscriptDone_WithIntentHint(t *testing.T) {
	frame := `{"type":"response.audio_transcript.done","transcript":"Lab order sent.","intent":{"type":"lab_order","test_type":"CBC","notes":"fasting"}}`
	ev, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	done := ev.(AgentTranscriptDone)
	if done.Intent == nil {
		t.Fatalf("expected intent hint")
	}
	if done.Intent.Type != "lab_order" || done.Intent.TestType != "CBC" || done.Intent.Notes != "fasting" {
		t.Fatalf("intent=%+v", done.Intent)
	}
}

func TestDecode_UserTranscriptionCompleted(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"I would like to order a blood test"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	completed, ok := ev.(UserTranscriptionCompleted)
	if !ok {
		t.Fatalf("event type %T, want UserTranscriptionCompleted", ev)
	}
	if !strings.Contains(completed.Transcript, "blood test") {
		t.Fatalf("transcript=%q", completed.Transcript)
	}
}

func TestDecode_TranscriptionFailed(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"conversation.item.input_audio_transcription.failed","error":{"message":"audio too short"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	failed := ev.(UserTranscriptionFailed)
	if failed.Message != "audio too short" {
		t.Fatalf("message=%q", failed.Message)
	}
}

func TestDecode_TranscriptionFailed_NoMessage(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"conversation.item.input_audio_transcription.failed"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if failed := ev.(UserTranscriptionFailed); failed.Message != "unknown error" {
		t.Fatalf("message=%q", failed.Message)
	}
}

func TestDecode_DeltasAndSpeechStart(t *testing.T) {
	cases := []struct {
		frame string
		want  string
	}{
		{`{"type":"response.audio_transcript.delta","delta":"¿Tiene"}`, EventAgentTranscriptDelta},
		{`{"type":"conversation.item.input_audio_transcription.delta","delta":"I would"}`, EventUserTranscriptionDelta},
		{`{"type":"output_audio_buffer.started"}`, EventAgentSpeechStarted},
		{`{"type":"session.created","session":{"id":"sess_1"}}`, EventSessionCreated},
	}
	for _, tc := range cases {
		ev, err := Decode([]byte(tc.frame))
		if err != nil {
			t.Fatalf("Decode(%s): %v", tc.frame, err)
		}
		if Type(ev) != tc.want {
			t.Fatalf("type=%q, want %q", Type(ev), tc.want)
		}
	}
}

func TestDecode_UnknownTypeIsNotFatal(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	unknown, ok := ev.(UnknownEvent)
	if !ok {
		t.Fatalf("event type %T, want UnknownEvent", ev)
	}
	if unknown.Type != "rate_limits.updated" {
		t.Fatalf("type=%q", unknown.Type)
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
	if _, err := Decode([]byte(`{"transcript":"no type"}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestAnswerValidate(t *testing.T) {
	if err := (Answer{Type: "answer", ChannelURL: "wss://example.test/channel"}).Validate(); err != nil {
		t.Fatalf("valid answer rejected: %v", err)
	}
	if err := (Answer{Type: "offer", ChannelURL: "wss://example.test/channel"}).Validate(); err == nil {
		t.Fatalf("non-answer accepted")
	}
	if err := (Answer{Type: "answer"}).Validate(); err == nil {
		t.Fatalf("answer without channel_url accepted")
	}
}
