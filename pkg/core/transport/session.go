package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carebridge/interp/pkg/core/credentials"
	"github.com/carebridge/interp/pkg/core/protocol"
)

// Session is one live realtime connection. Events are delivered in channel
// arrival order on Events(); inbound binary frames go straight to the audio
// sink.
type Session struct {
	transport *Transport
	cfg       SessionConfig
	deps      Dependencies
	logger    *slog.Logger

	track MicTrack
	conn  *websocket.Conn

	events  chan json.RawMessage
	closeCh chan struct{}
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu         sync.Mutex
	state      State
	micEnabled bool
	closing    bool
}

func newSession(t *Transport, cfg SessionConfig, deps Dependencies) *Session {
	s := &Session{
		transport: t,
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger,
		events:    make(chan json.RawMessage, 16),
		closeCh:   make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	s.emitState(StateIdle)
	return s
}

// open runs the full handshake under a single deadline: negotiation, channel
// dial, and the session.created acknowledgement.
func (s *Session) open(ctx context.Context, cred credentials.Credential) error {
	s.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(ctx, s.deps.HandshakeTimeout)
	defer cancel()

	track, err := s.deps.Mic.Capture(ctx)
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("acquire microphone: %w", err)
	}
	// The track starts muted. The audio gate enables it later.
	if err := track.SetEnabled(false); err != nil {
		_ = track.Close()
		s.setState(StateFailed)
		return fmt.Errorf("mute microphone track: %w", err)
	}
	s.track = track

	answer, err := s.negotiate(ctx, cred)
	if err != nil {
		s.failOpen()
		return s.classifyOpenErr("negotiate session", err)
	}

	conn, err := s.dial(ctx, answer.ChannelURL, cred)
	if err != nil {
		s.failOpen()
		return s.classifyOpenErr("dial realtime channel", err)
	}

	if err := s.awaitCreated(ctx, conn); err != nil {
		_ = conn.Close()
		s.failOpen()
		return s.classifyOpenErr("await session acknowledgement", err)
	}

	s.conn = conn
	s.setState(StateConnected)
	go s.readLoop()
	return nil
}

func (s *Session) failOpen() {
	if s.track != nil {
		_ = s.track.Close()
		s.track = nil
	}
	s.setState(StateFailed)
}

func (s *Session) classifyOpenErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return fmt.Errorf("%s: %w after %s", op, ErrHandshakeTimeout, s.deps.HandshakeTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Session) negotiate(ctx context.Context, cred credentials.Credential) (protocol.Answer, error) {
	offer := protocol.Offer{
		Type:     "offer",
		Model:    s.cfg.Model,
		Language: s.cfg.Language,
		Voice:    s.cfg.Voice,
		AudioIn: protocol.AudioFormat{
			Encoding:     audioEncoding,
			SampleRateHz: audioSampleRateHz,
			Channels:     audioChannels,
		},
		AudioOut: protocol.AudioFormat{
			Encoding:     audioEncoding,
			SampleRateHz: audioSampleRateHz,
			Channels:     audioChannels,
		},
		Transcription: protocol.TranscriptionConfig{
			Model:    s.cfg.TranscriptionModel,
			Language: s.cfg.Language,
		},
	}
	body, err := json.Marshal(offer)
	if err != nil {
		return protocol.Answer{}, fmt.Errorf("encode offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.deps.NegotiateURL, bytes.NewReader(body))
	if err != nil {
		return protocol.Answer{}, fmt.Errorf("build negotiation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Value)

	resp, err := s.deps.HTTPClient.Do(req)
	if err != nil {
		return protocol.Answer{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return protocol.Answer{}, fmt.Errorf("negotiation failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var answer protocol.Answer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return protocol.Answer{}, fmt.Errorf("decode answer: %w", err)
	}
	if err := answer.Validate(); err != nil {
		return protocol.Answer{}, err
	}
	return answer, nil
}

func (s *Session) dial(ctx context.Context, channelURL string, cred credentials.Credential) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Value)

	conn, resp, err := s.deps.Dialer.DialContext(ctx, channelURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// awaitCreated blocks until the channel acknowledges the session. Any other
// first frame is a handshake failure.
func (s *Session) awaitCreated(ctx context.Context, conn *websocket.Conn) error {
	deadline, ok := ctx.Deadline()
	if ok {
		_ = conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(time.Time{})
	}

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	if mt != websocket.TextMessage {
		return fmt.Errorf("first channel frame is not text (type %d)", mt)
	}
	ev, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	if _, ok := ev.(protocol.SessionCreated); !ok {
		return fmt.Errorf("first channel event %q is not %s", protocol.Type(ev), protocol.EventSessionCreated)
	}
	return nil
}

// readLoop delivers text frames to Events() and binary frames to the sink.
// Event delivery blocks rather than drops; Close releases a blocked delivery.
func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)
	defer s.transport.clear(s)

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.settleAfterRead(err)
			return
		}
		switch mt {
		case websocket.TextMessage:
			frame := append(json.RawMessage(nil), data...)
			select {
			case s.events <- frame:
			case <-s.closeCh:
			}
		case websocket.BinaryMessage:
			if err := s.deps.Sink.Play(data); err != nil {
				s.logger.Warn("audio sink rejected frame", "error", err)
			}
		}
	}
}

func (s *Session) settleAfterRead(err error) {
	if s.isClosing() {
		s.setState(StateClosed)
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.setState(StateClosed)
		return
	}
	s.logger.Warn("realtime channel dropped", "error", err)
	s.setState(StateDisconnected)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the inbound structured event stream. The channel is closed
// when the session reaches a terminal state.
func (s *Session) Events() <-chan json.RawMessage {
	return s.events
}

// Done is closed once the read loop has fully settled.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SetMicEnabled toggles the local capture track. Redundant calls are no-ops
// so the underlying device sees exactly one toggle per effective change.
func (s *Session) SetMicEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil || s.micEnabled == enabled {
		return nil
	}
	if err := s.track.SetEnabled(enabled); err != nil {
		return fmt.Errorf("toggle microphone track: %w", err)
	}
	s.micEnabled = enabled
	return nil
}

// MicEnabled reports the current local capture state.
func (s *Session) MicEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micEnabled
}

// SendAudioFrame ships one outbound microphone frame.
func (s *Session) SendAudioFrame(pcm []byte) error {
	frame := protocol.ClientAudioFrame{
		Type:     "input_audio_buffer.append",
		AudioB64: base64.StdEncoding.EncodeToString(pcm),
	}
	return s.writeJSON(frame)
}

func (s *Session) writeJSON(v any) error {
	if s.State() != StateConnected {
		return fmt.Errorf("session is not connected")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write channel frame: %w", err)
	}
	return nil
}

// Close tears the session down in a fixed order: local audio first, then a
// drained close handshake on the channel, then playback. Frames the server
// already delivered keep flowing to Events() until the handshake completes;
// only after the drain timeout is the connection cut and a pending delivery
// abandoned. Idempotent, and safe on a session that never finished opening.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.SetMicEnabled(false)
		if s.track != nil {
			_ = s.track.Close()
		}

		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		if s.conn != nil {
			s.writeMu.Lock()
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				s.deps.Now().Add(2*time.Second),
			)
			s.writeMu.Unlock()

			select {
			case <-s.done:
			case <-time.After(s.deps.DrainTimeout):
				close(s.closeCh)
				_ = s.conn.Close()
				<-s.done
			}
			_ = s.conn.Close()
		} else {
			s.setState(StateClosed)
		}

		if s.deps.Sink != nil {
			_ = s.deps.Sink.Close()
		}
		s.transport.clear(s)
	})
	return nil
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// setState advances the lifecycle. Terminal states are sticky.
func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state.Terminal() || s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	s.emitState(next)
}

func (s *Session) emitState(st State) {
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}
