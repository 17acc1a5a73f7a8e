// Package detect scans conversation turns for clinical-action intent and
// proposes pending actions. It only proposes; nothing it emits has an
// external effect until a human confirms it.
package detect

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/carebridge/interp/pkg/core/types"
)

// Rule is one keyword detection rule. Clauses is a conjunction of phrase
// groups: every group must be satisfied, and a group is satisfied when any of
// its phrases occurs in the turn text.
type Rule struct {
	Action      types.ActionType
	Description string
	Clauses     [][]string
}

// DefaultRules matches the built-in lab-order and follow-up phrasing.
func DefaultRules() []Rule {
	return []Rule{
		{
			Action:      types.ActionLabOrder,
			Description: "Blood test order detected",
			Clauses:     [][]string{{"order"}, {"lab", "blood test"}},
		},
		{
			Action:      types.ActionFollowUp,
			Description: "Follow-up scheduling request detected",
			Clauses:     [][]string{{"schedule"}, {"follow-up", "follow up"}},
		},
	}
}

// Detector inspects turns one at a time. It deduplicates per (turn, action
// type): the same turn never proposes the same action type twice, while the
// same type may recur on later turns.
type Detector struct {
	rules  []Rule
	logger *slog.Logger
	newID  func() string

	mu   sync.Mutex
	seen map[string]struct{}
}

func New(rules []Rule, logger *slog.Logger) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		rules:  rules,
		logger: logger,
		newID:  uuid.NewString,
		seen:   make(map[string]struct{}),
	}
}

// Inspect proposes pending actions for one turn. A structured intent hint on
// the turn takes precedence over keyword matching; keywords are the fallback
// when no usable hint is present.
func (d *Detector) Inspect(turn *types.ConversationTurn) []types.PendingAction {
	if turn == nil || turn.Kind == types.TurnInfo {
		return nil
	}

	if turn.Intent != nil && d.knownType(turn.Intent.Type) {
		if action := d.fromHint(turn.ID, *turn.Intent); action != nil {
			return []types.PendingAction{*action}
		}
		// A duplicate hint proposes nothing further for this turn.
		return nil
	}
	if turn.Intent != nil {
		// An unusable hint falls back to keyword matching.
		d.logger.Warn("ignoring intent hint with unknown action type",
			"turn_id", turn.ID, "type", turn.Intent.Type)
	}

	text := strings.ToLower(turn.Text)
	var actions []types.PendingAction
	for _, rule := range d.rules {
		if !matches(text, rule.Clauses) {
			continue
		}
		if !d.mark(turn.ID, rule.Action) {
			continue
		}
		actions = append(actions, types.PendingAction{
			ID:          d.newID(),
			TurnID:      turn.ID,
			Type:        rule.Action,
			Description: rule.Description,
			Status:      types.ActionPending,
		})
	}
	return actions
}

// InspectIntent proposes a pending action from a standalone structured
// intent, such as one recovered by the summarizer after the session ended.
func (d *Detector) InspectIntent(turnID string, hint types.IntentHint) *types.PendingAction {
	return d.fromHint(turnID, hint)
}

func (d *Detector) fromHint(turnID string, hint types.IntentHint) *types.PendingAction {
	if !d.knownType(hint.Type) {
		return nil
	}
	if !d.mark(turnID, hint.Type) {
		return nil
	}
	action := types.PendingAction{
		ID:          d.newID(),
		TurnID:      turnID,
		Type:        hint.Type,
		Description: d.describe(hint.Type),
		Status:      types.ActionPending,
	}
	payload := map[string]any{}
	if hint.Date != "" {
		payload["date"] = hint.Date
	}
	if hint.TestType != "" {
		payload["testType"] = hint.TestType
	}
	if hint.Notes != "" {
		payload["notes"] = hint.Notes
	}
	if len(payload) > 0 {
		action.Payload = payload
	}
	return &action
}

func (d *Detector) knownType(t types.ActionType) bool {
	for _, rule := range d.rules {
		if rule.Action == t {
			return true
		}
	}
	return false
}

func (d *Detector) describe(t types.ActionType) string {
	for _, rule := range d.rules {
		if rule.Action == t {
			return rule.Description
		}
	}
	return string(t) + " detected"
}

// mark records (turnID, action) and reports whether it was new.
func (d *Detector) mark(turnID string, action types.ActionType) bool {
	key := turnID + "|" + string(action)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[key]; dup {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

func matches(text string, clauses [][]string) bool {
	for _, group := range clauses {
		satisfied := false
		for _, phrase := range group {
			if strings.Contains(text, phrase) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return len(clauses) > 0
}
