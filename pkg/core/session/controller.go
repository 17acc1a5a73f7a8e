package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/interp/pkg/core/credentials"
	"github.com/carebridge/interp/pkg/core/detect"
	"github.com/carebridge/interp/pkg/core/dispatch"
	"github.com/carebridge/interp/pkg/core/interpret"
	"github.com/carebridge/interp/pkg/core/protocol"
	"github.com/carebridge/interp/pkg/core/summarize"
	"github.com/carebridge/interp/pkg/core/transport"
	"github.com/carebridge/interp/pkg/core/types"
	"github.com/carebridge/interp/pkg/store"
)

// ErrActionNotFound is returned when Confirm targets an unknown action id.
var ErrActionNotFound = errors.New("action not found")

// ErrActionCancelled is returned when Confirm targets a cancelled action.
var ErrActionCancelled = errors.New("action was cancelled")

// Dependencies wires a Controller.
type Dependencies struct {
	Transport  *transport.Transport
	Issuer     *credentials.Issuer
	Detector   *detect.Detector
	Dispatcher *dispatch.Dispatcher
	Summarizer summarize.Summarizer
	Store      store.Store
	Logger     *slog.Logger
	Now        func() time.Time
}

// Config is the per-conversation setup.
type Config struct {
	// Role is the local speaker's role, clinician or patient.
	Role      types.Role
	Language  string
	PatientID string
	Model     string
	Voice     string

	TranscriptionModel string

	// OnState observes transport state transitions. Optional.
	OnState func(transport.State)
	// OnTurn observes each appended turn. Optional.
	OnTurn func(types.ConversationTurn)
}

// Controller runs one interpreted conversation: it opens the transport,
// gates audio, folds channel events into turns, proposes actions, and
// executes them once confirmed. All event handling happens on a single
// goroutine, so turn order matches channel arrival order.
type Controller struct {
	deps Dependencies
	cfg  Config

	interpreter *interpret.Interpreter
	gate        *Gate

	mu          sync.Mutex
	sess        *transport.Session
	loopDone    chan struct{}
	turns       []types.ConversationTurn
	actions     []types.PendingAction
	executed    []types.ExecutedAction
	startedAt   time.Time
	finalizedID string
}

func NewController(deps Dependencies, cfg Config) (*Controller, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if deps.Issuer == nil {
		return nil, fmt.Errorf("credential issuer is required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	interpreter, err := interpret.New(cfg.Role, deps.Logger)
	if err != nil {
		return nil, err
	}
	return &Controller{
		deps:        deps,
		cfg:         cfg,
		interpreter: interpreter,
		gate:        NewGate(deps.Logger),
	}, nil
}

// Start issues a credential and opens the realtime session. It returns once
// the session is connected; event handling continues in the background.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil && c.sess.State().Live() {
		c.mu.Unlock()
		return transport.ErrSessionActive
	}
	c.mu.Unlock()

	cred, err := c.deps.Issuer.Issue(ctx, c.cfg.Language)
	if err != nil {
		return fmt.Errorf("issue session credential: %w", err)
	}

	scfg := transport.SessionConfig{
		Model:              c.cfg.Model,
		Language:           c.cfg.Language,
		Voice:              c.cfg.Voice,
		TranscriptionModel: c.cfg.TranscriptionModel,
		OnState: func(st transport.State) {
			c.gate.ObserveState(st)
			if c.cfg.OnState != nil {
				c.cfg.OnState(st)
			}
		},
	}
	sess, err := c.deps.Transport.Open(ctx, cred, scfg)
	if err != nil {
		return err
	}

	loopDone := make(chan struct{})
	c.mu.Lock()
	c.sess = sess
	c.loopDone = loopDone
	if c.startedAt.IsZero() {
		c.startedAt = c.deps.Now()
	}
	c.mu.Unlock()

	c.gate.Bind(sess.SetMicEnabled)
	go c.loop(sess, loopDone)
	return nil
}

// SetRecording records the operator's push-to-talk intent.
func (c *Controller) SetRecording(recording bool) {
	c.gate.SetIntent(recording)
}

// Recording reports the operator's current recording intent.
func (c *Controller) Recording() bool {
	return c.gate.Intent()
}

// State reports the transport state, or idle before the first Start.
func (c *Controller) State() transport.State {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return transport.StateIdle
	}
	return sess.State()
}

// Stop closes the live session. Turns and actions survive for finalization.
func (c *Controller) Stop() error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}

// loop drains the event channel to exhaustion, so done only closes after
// every delivered frame has become a turn.
func (c *Controller) loop(sess *transport.Session, done chan struct{}) {
	defer close(done)
	for frame := range sess.Events() {
		c.handleFrame(frame)
	}
}

func (c *Controller) handleFrame(frame json.RawMessage) {
	ev, err := protocol.Decode(frame)
	if err != nil {
		c.deps.Logger.Warn("dropping undecodable channel frame", "error", err)
		return
	}
	c.handleEvent(ev)
}

func (c *Controller) handleEvent(ev protocol.ServerEvent) {
	if _, ok := ev.(protocol.AgentSpeechStarted); ok {
		c.gate.AgentSpeechStarted()
		return
	}

	turn, err := c.interpreter.Interpret(ev)
	if err != nil {
		var te *interpret.TranscriptError
		if errors.As(err, &te) {
			c.appendTurn(*c.interpreter.Notice(te.Error()))
			return
		}
		c.deps.Logger.Warn("event interpretation failed", "error", err)
		return
	}
	if turn == nil {
		return
	}

	c.appendTurn(*turn)
	for _, action := range c.deps.Detector.Inspect(turn) {
		c.mu.Lock()
		c.actions = append(c.actions, action)
		c.mu.Unlock()
		c.deps.Logger.Info("proposed clinical action",
			"type", action.Type, "turn_id", action.TurnID)
	}
}

func (c *Controller) appendTurn(turn types.ConversationTurn) {
	c.mu.Lock()
	c.turns = append(c.turns, turn)
	c.mu.Unlock()
	if c.cfg.OnTurn != nil {
		c.cfg.OnTurn(turn)
	}
}

// Turns returns the transcript so far, in arrival order.
func (c *Controller) Turns() []types.ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ConversationTurn(nil), c.turns...)
}

// PendingActions returns the open action set: proposed and confirmed actions
// that have not been cancelled or delivered.
func (c *Controller) PendingActions() []types.PendingAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	open := make([]types.PendingAction, 0, len(c.actions))
	for _, a := range c.actions {
		if a.Status == types.ActionCancelled {
			continue
		}
		open = append(open, a)
	}
	return open
}

// ExecutedActions returns the delivery outcomes recorded so far.
func (c *Controller) ExecutedActions() []types.ExecutedAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ExecutedAction(nil), c.executed...)
}

// Confirm marks an action confirmed and dispatches it. A delivery failure
// leaves the action confirmed so Confirm can be called again; a delivered
// action, successful or not, is recorded and removed from the open set.
func (c *Controller) Confirm(ctx context.Context, actionID string) (types.ExecutedAction, error) {
	c.mu.Lock()
	idx := c.findAction(actionID)
	if idx < 0 {
		c.mu.Unlock()
		return types.ExecutedAction{}, ErrActionNotFound
	}
	if c.actions[idx].Status == types.ActionCancelled {
		c.mu.Unlock()
		return types.ExecutedAction{}, ErrActionCancelled
	}
	c.actions[idx].Status = types.ActionConfirmed
	action := c.actions[idx]
	c.mu.Unlock()

	executed, err := c.deps.Dispatcher.Execute(ctx, action)
	if err != nil {
		// Delivery never happened; the confirmed action stays open for retry.
		return types.ExecutedAction{}, err
	}

	c.mu.Lock()
	c.executed = append(c.executed, executed)
	if idx := c.findAction(actionID); idx >= 0 {
		c.actions = append(c.actions[:idx], c.actions[idx+1:]...)
	}
	c.mu.Unlock()

	c.deps.Logger.Info("executed clinical action",
		"type", executed.Type, "success", executed.Success)
	return executed, nil
}

// Cancel marks a proposed action cancelled. Cancelling an unknown or already
// cancelled action is a no-op; a confirmed action can no longer be cancelled.
func (c *Controller) Cancel(actionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.findAction(actionID)
	if idx < 0 {
		return nil
	}
	switch c.actions[idx].Status {
	case types.ActionConfirmed:
		return fmt.Errorf("action %s is already confirmed", actionID)
	case types.ActionCancelled:
		return nil
	}
	c.actions[idx].Status = types.ActionCancelled
	return nil
}

// findAction returns the index of the action with the given id. Callers hold
// c.mu.
func (c *Controller) findAction(id string) int {
	for i := range c.actions {
		if c.actions[i].ID == id {
			return i
		}
	}
	return -1
}
