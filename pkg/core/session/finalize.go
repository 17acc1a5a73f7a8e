package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/carebridge/interp/pkg/core/types"
)

// ErrSessionStillLive is returned when Finalize is called before the session
// has stopped.
var ErrSessionStillLive = errors.New("session is still live: stop the session first")

// ErrNothingToFinalize is returned when no turns were recorded.
var ErrNothingToFinalize = errors.New("no conversation turns to finalize")

// Finalize summarizes the finished conversation and persists the record,
// returning the stored conversation id. A summarization or persistence
// failure aborts the whole finalize and leaves all in-memory state intact, so
// Finalize can be retried. A successful finalize is remembered: repeat calls
// return the same id without re-persisting.
func (c *Controller) Finalize(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.sess != nil && c.sess.State().Live() {
		c.mu.Unlock()
		return "", ErrSessionStillLive
	}
	if c.finalizedID != "" {
		id := c.finalizedID
		c.mu.Unlock()
		return id, nil
	}
	loopDone := c.loopDone
	c.mu.Unlock()

	// Join the event loop so frames the channel already delivered become
	// turns before the transcript is snapshotted.
	if loopDone != nil {
		<-loopDone
	}

	c.mu.Lock()
	turns := append([]types.ConversationTurn(nil), c.turns...)
	executed := append([]types.ExecutedAction(nil), c.executed...)
	startedAt := c.startedAt
	c.mu.Unlock()

	if len(turns) == 0 {
		return "", ErrNothingToFinalize
	}

	result, err := c.deps.Summarizer.Summarize(ctx, turns)
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}

	c.absorbSummaryIntents(result.DetectedIntents)

	now := c.deps.Now()
	rec := types.ConversationRecord{
		Transcript:      turns,
		Summary:         result.Summary,
		Actionables:     result.Actionables,
		DetectedIntents: result.DetectedIntents,
		ExecutedActions: executed,
		PatientID:       c.cfg.PatientID,
		CreatedAt:       now.UTC(),
	}
	if !startedAt.IsZero() {
		rec.Duration = now.Sub(startedAt)
	}

	id, err := c.deps.Store.CreateConversation(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("persist conversation: %w", err)
	}

	c.mu.Lock()
	c.finalizedID = id
	c.mu.Unlock()
	c.deps.Logger.Info("finalized conversation", "id", id, "turns", len(turns))
	return id, nil
}

// absorbSummaryIntents proposes pending actions for intents the summarizer
// found but live detection missed. They still require confirmation; nothing
// here executes.
func (c *Controller) absorbSummaryIntents(intents types.DetectedIntents) {
	if intents.SendLabOrder.Detected && !c.hasActionOfType(types.ActionLabOrder) {
		c.proposeFromSummary(types.IntentHint{
			Type:     types.ActionLabOrder,
			TestType: intents.SendLabOrder.TestType,
			Notes:    intents.SendLabOrder.Notes,
		})
	}
	if intents.ScheduleFollowup.Detected && !c.hasActionOfType(types.ActionFollowUp) {
		c.proposeFromSummary(types.IntentHint{
			Type:  types.ActionFollowUp,
			Date:  intents.ScheduleFollowup.Date,
			Notes: intents.ScheduleFollowup.Notes,
		})
	}
}

func (c *Controller) proposeFromSummary(hint types.IntentHint) {
	action := c.deps.Detector.InspectIntent("", hint)
	if action == nil {
		return
	}
	c.mu.Lock()
	c.actions = append(c.actions, *action)
	c.mu.Unlock()
	c.deps.Logger.Info("summary surfaced an unconfirmed action", "type", action.Type)
}

// hasActionOfType reports whether the type was already proposed or executed
// during the live session.
func (c *Controller) hasActionOfType(t types.ActionType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.actions {
		if a.Type == t && a.Status != types.ActionCancelled {
			return true
		}
	}
	for _, e := range c.executed {
		if e.Type == t {
			return true
		}
	}
	return false
}
