// Package interpret turns raw channel events into conversation turns. Only
// completed utterances become turns; deltas and control events never do.
package interpret

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/interp/pkg/core/protocol"
	"github.com/carebridge/interp/pkg/core/types"
)

// TranscriptError reports a recoverable transcription failure. The session
// keeps running; callers surface it as an informational notice.
type TranscriptError struct {
	Message string
}

func (e *TranscriptError) Error() string {
	return "transcription failed: " + e.Message
}

// Interpreter assigns roles, identities, and timestamps to completed
// utterances. One interpreter serves one session.
type Interpreter struct {
	humanRole types.Role
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
}

// New builds an interpreter for a session whose local speaker has the given
// role. Only human roles are valid; the agent side is fixed.
func New(humanRole types.Role, logger *slog.Logger) (*Interpreter, error) {
	if humanRole != types.RoleClinician && humanRole != types.RolePatient {
		return nil, fmt.Errorf("local speaker role %q is not a human role", humanRole)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		humanRole: humanRole,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
	}, nil
}

// Interpret maps one decoded event to at most one conversation turn. Events
// that produce no turn return (nil, nil). A transcription failure returns a
// *TranscriptError; the caller decides how to surface it.
func (i *Interpreter) Interpret(ev protocol.ServerEvent) (*types.ConversationTurn, error) {
	switch e := ev.(type) {
	case protocol.AgentTranscriptDone:
		text := strings.TrimSpace(e.Transcript)
		if text == "" {
			return nil, nil
		}
		turn := i.newTurn(types.RoleAgent, text, types.TurnTranslation)
		if e.Intent != nil {
			turn.Intent = &types.IntentHint{
				Type:     types.ActionType(e.Intent.Type),
				Date:     e.Intent.Date,
				TestType: e.Intent.TestType,
				Notes:    e.Intent.Notes,
			}
		}
		return turn, nil
	case protocol.UserTranscriptionCompleted:
		text := strings.TrimSpace(e.Transcript)
		if text == "" {
			return nil, nil
		}
		return i.newTurn(i.humanRole, text, types.TurnOriginal), nil
	case protocol.UserTranscriptionFailed:
		return nil, &TranscriptError{Message: e.Message}
	case protocol.UnknownEvent:
		i.logger.Debug("ignoring unknown channel event", "type", e.Type)
		return nil, nil
	default:
		// Deltas, speech markers, and handshake events never become turns.
		return nil, nil
	}
}

// Notice builds the informational turn used to surface a recoverable failure
// in the conversation stream.
func (i *Interpreter) Notice(text string) *types.ConversationTurn {
	return i.newTurn(types.RoleInfo, text, types.TurnInfo)
}

func (i *Interpreter) newTurn(role types.Role, text string, kind types.TurnKind) *types.ConversationTurn {
	return &types.ConversationTurn{
		ID:        i.newID(),
		Role:      role,
		Text:      text,
		Timestamp: i.now().UTC(),
		Kind:      kind,
	}
}
