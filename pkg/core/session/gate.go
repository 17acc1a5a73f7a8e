// Package session orchestrates one interpreting session end to end: audio
// gating, turn interpretation, action confirmation, and finalization.
package session

import (
	"log/slog"
	"sync"

	"github.com/carebridge/interp/pkg/core/transport"
)

// Gate decides when the local microphone is live. The track is enabled
// exactly when the operator wants to record and the transport is connecting
// or connected; every other combination mutes it.
type Gate struct {
	mu      sync.Mutex
	toggle  func(bool) error
	logger  *slog.Logger
	intent  bool
	state   transport.State
	enabled bool
}

func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{logger: logger, state: transport.StateIdle}
}

// Bind attaches the track toggle and applies the current decision to it. The
// track is assumed muted at bind time.
func (g *Gate) Bind(toggle func(bool) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.toggle = toggle
	g.enabled = false
	g.apply()
}

// SetIntent records the operator's recording intent.
func (g *Gate) SetIntent(recording bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intent = recording
	g.apply()
}

// ObserveState feeds transport state changes into the gate.
func (g *Gate) ObserveState(st transport.State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = st
	g.apply()
}

// AgentSpeechStarted clears recording intent: the agent speaking over a hot
// microphone would transcribe its own audio.
func (g *Gate) AgentSpeechStarted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intent = false
	g.apply()
}

// Intent reports the operator's current recording intent.
func (g *Gate) Intent() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intent
}

// Enabled reports whether the microphone is currently live.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// apply reconciles the desired state with the track, issuing at most one
// toggle per effective change. Callers hold g.mu.
func (g *Gate) apply() {
	desired := g.intent && g.state.Live()
	if desired == g.enabled {
		return
	}
	if g.toggle != nil {
		if err := g.toggle(desired); err != nil {
			g.logger.Warn("microphone toggle failed", "enabled", desired, "error", err)
			return
		}
	}
	g.enabled = desired
}
