// Package transport owns the realtime connection to the remote interpreting
// agent: credentialed negotiation, the websocket event+audio channel, local
// microphone capture, and the session state machine every other component
// observes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carebridge/interp/pkg/core/credentials"
)

const (
	// DefaultHandshakeTimeout bounds the whole open sequence: negotiation,
	// channel dial, and the session.created acknowledgement.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultDrainTimeout bounds how long Close waits for the close handshake
	// while already-delivered frames are drained to the consumer.
	DefaultDrainTimeout = 3 * time.Second

	audioEncoding     = "pcm_s16le"
	audioSampleRateHz = 24000
	audioChannels     = 1
)

// ErrSessionActive is returned when Open is called while a session is still
// live. Opening a second session never tears down the first.
var ErrSessionActive = errors.New("a realtime session is already open")

// ErrHandshakeTimeout classifies open failures caused by the bounded
// handshake wait elapsing.
var ErrHandshakeTimeout = errors.New("realtime handshake timed out")

// State is the transport connection lifecycle. Transitions are monotone:
// idle -> connecting -> connected -> one terminal value. Reconnection is a
// fresh Open, never an in-place retry.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	switch s {
	case StateDisconnected, StateFailed, StateClosed:
		return true
	default:
		return false
	}
}

// Live reports whether a session in this state still holds the conversation's
// single transport slot.
func (s State) Live() bool {
	return s == StateConnecting || s == StateConnected
}

// MicTrack is a captured local audio track. The transport acquires it
// disabled and toggles it through the audio gate.
type MicTrack interface {
	SetEnabled(enabled bool) error
	Close() error
}

// MicSource acquires the local capture device.
type MicSource interface {
	Capture(ctx context.Context) (MicTrack, error)
}

// AudioSink plays inbound agent audio. It is the Go-side analog of the
// playback element and is released last during teardown.
type AudioSink interface {
	Play(pcm []byte) error
	Close() error
}

// SessionConfig is the explicit per-session configuration threaded into Open.
type SessionConfig struct {
	Model              string
	Language           string
	Voice              string
	TranscriptionModel string

	// OnState receives every state transition, in order, starting with
	// StateIdle. Optional.
	OnState func(State)
}

// Dependencies wires a Transport.
type Dependencies struct {
	NegotiateURL     string
	HTTPClient       *http.Client
	Dialer           *websocket.Dialer
	Mic              MicSource
	Sink             AudioSink
	Logger           *slog.Logger
	HandshakeTimeout time.Duration
	DrainTimeout     time.Duration
	Now              func() time.Time
}

// Transport opens and tears down realtime sessions. At most one session is
// live per Transport at any time.
type Transport struct {
	deps Dependencies

	mu   sync.Mutex
	live *Session
}

func New(deps Dependencies) (*Transport, error) {
	if strings.TrimSpace(deps.NegotiateURL) == "" {
		return nil, fmt.Errorf("negotiate URL is required")
	}
	if deps.Mic == nil {
		return nil, fmt.Errorf("mic source is required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("audio sink is required")
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}
	if deps.Dialer == nil {
		deps.Dialer = websocket.DefaultDialer
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HandshakeTimeout <= 0 {
		deps.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if deps.DrainTimeout <= 0 {
		deps.DrainTimeout = DefaultDrainTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Transport{deps: deps}, nil
}

// Open establishes a new session. It fails fast with ErrSessionActive while a
// previous session is live, without touching that session.
func (t *Transport) Open(ctx context.Context, cred credentials.Credential, cfg SessionConfig) (*Session, error) {
	if strings.TrimSpace(cred.Value) == "" {
		return nil, fmt.Errorf("credential is required to open a session")
	}
	if cred.Expired(t.deps.Now()) {
		return nil, fmt.Errorf("credential expired at %s", cred.ExpiresAt.Format(time.RFC3339))
	}

	s := newSession(t, cfg, t.deps)

	t.mu.Lock()
	if t.live != nil {
		t.mu.Unlock()
		return nil, ErrSessionActive
	}
	t.live = s
	t.mu.Unlock()

	if err := s.open(ctx, cred); err != nil {
		t.clear(s)
		return nil, err
	}
	return s, nil
}

// Current returns the live session, or nil.
func (t *Transport) Current() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *Transport) clear(s *Session) {
	t.mu.Lock()
	if t.live == s {
		t.live = nil
	}
	t.mu.Unlock()
}
