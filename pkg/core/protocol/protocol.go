// Package protocol defines the wire format of the realtime interpreting
// channel: the negotiation offer/answer exchange and the structured events
// that arrive alongside agent audio.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event types. The set is closed; unknown types are surfaced as
// UnknownEvent so callers can log and ignore them.
const (
	EventSessionCreated             = "session.created"
	EventAgentTranscriptDelta       = "response.audio_transcript.delta"
	EventAgentTranscriptDone        = "response.audio_transcript.done"
	EventUserTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventUserTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventUserTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"
	EventAgentSpeechStarted         = "output_audio_buffer.started"
)

// AudioFormat describes one direction of the negotiated audio stream.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// TranscriptionConfig selects the speech-to-text behavior of the remote agent.
type TranscriptionConfig struct {
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

// Offer is the local session description POSTed to the negotiation endpoint.
type Offer struct {
	Type          string              `json:"type"`
	Model         string              `json:"model"`
	Language      string              `json:"language"`
	Voice         string              `json:"voice,omitempty"`
	AudioIn       AudioFormat         `json:"audio_in"`
	AudioOut      AudioFormat         `json:"audio_out"`
	Transcription TranscriptionConfig `json:"transcription"`
}

// Answer is the remote session description. ChannelURL is the websocket
// endpoint carrying events and audio for the negotiated session.
type Answer struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	ChannelURL string `json:"channel_url"`
}

// Validate reports whether the answer is a usable handshake response.
func (a Answer) Validate() error {
	if strings.TrimSpace(a.Type) != "answer" {
		return fmt.Errorf("negotiation response type %q is not an answer", a.Type)
	}
	if strings.TrimSpace(a.ChannelURL) == "" {
		return fmt.Errorf("negotiation answer is missing channel_url")
	}
	return nil
}

// ClientAudioFrame carries one outbound microphone frame.
type ClientAudioFrame struct {
	Type     string `json:"type"`
	AudioB64 string `json:"audio"`
}

// IntentHint is the optional structured action hint the agent may attach to a
// completed utterance.
type IntentHint struct {
	Type     string `json:"type"`
	Date     string `json:"date,omitempty"`
	TestType string `json:"test_type,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ServerEvent is a decoded inbound structured event.
type ServerEvent interface {
	eventType() string
}

// SessionCreated acknowledges the channel handshake.
type SessionCreated struct {
	SessionID string
}

func (e SessionCreated) eventType() string { return EventSessionCreated }

// AgentTranscriptDone carries the final text of one completed agent
// utterance, plus an optional structured intent hint.
type AgentTranscriptDone struct {
	Transcript string
	Intent     *IntentHint
}

func (e AgentTranscriptDone) eventType() string { return EventAgentTranscriptDone }

// AgentTranscriptDelta is an incremental agent caption. Deltas never become
// turns; only the done variant does.
type AgentTranscriptDelta struct {
	Delta string
}

func (e AgentTranscriptDelta) eventType() string { return EventAgentTranscriptDelta }

// UserTranscriptionCompleted carries the final transcription of one local
// utterance.
type UserTranscriptionCompleted struct {
	Transcript string
}

func (e UserTranscriptionCompleted) eventType() string { return EventUserTranscriptionCompleted }

// UserTranscriptionDelta is an incremental local transcription.
type UserTranscriptionDelta struct {
	Delta string
}

func (e UserTranscriptionDelta) eventType() string { return EventUserTranscriptionDelta }

// UserTranscriptionFailed reports a recoverable transcription failure.
type UserTranscriptionFailed struct {
	Message string
}

func (e UserTranscriptionFailed) eventType() string { return EventUserTranscriptionFailed }

// AgentSpeechStarted signals that agent audio playback is beginning. It
// exists so the audio gate can clear local recording intent.
type AgentSpeechStarted struct{}

func (e AgentSpeechStarted) eventType() string { return EventAgentSpeechStarted }

// UnknownEvent preserves an unrecognized frame for logging.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// Type returns the wire event type of a decoded event.
func Type(ev ServerEvent) string {
	if ev == nil {
		return ""
	}
	return ev.eventType()
}

// Decode parses one inbound text frame into a typed event. Unknown event
// types decode successfully into UnknownEvent; a frame without a type, or one
// whose payload does not match its declared type, is an error.
func Decode(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("event frame is missing a type")
	}

	switch typ {
	case EventSessionCreated:
		var frame struct {
			Session struct {
				ID string `json:"id"`
			} `json:"session"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return SessionCreated{SessionID: frame.Session.ID}, nil
	case EventAgentTranscriptDone:
		var frame struct {
			Transcript string      `json:"transcript"`
			Intent     *IntentHint `json:"intent"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return AgentTranscriptDone{Transcript: frame.Transcript, Intent: frame.Intent}, nil
	case EventAgentTranscriptDelta:
		var frame struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return AgentTranscriptDelta{Delta: frame.Delta}, nil
	case EventUserTranscriptionCompleted:
		var frame struct {
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return UserTranscriptionCompleted{Transcript: frame.Transcript}, nil
	case EventUserTranscriptionDelta:
		var frame struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return UserTranscriptionDelta{Delta: frame.Delta}, nil
	case EventUserTranscriptionFailed:
		var frame struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		msg := strings.TrimSpace(frame.Error.Message)
		if msg == "" {
			msg = "unknown error"
		}
		return UserTranscriptionFailed{Message: msg}, nil
	case EventAgentSpeechStarted:
		return AgentSpeechStarted{}, nil
	default:
		return UnknownEvent{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
