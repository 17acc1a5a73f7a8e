// Package summarize produces the structured clinical summary of a finished
// conversation. Two backends exist: the OpenAI chat completions API and the
// Gemini API.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/carebridge/interp/pkg/core/types"
)

// Summarizer turns a finished transcript into a structured clinical summary.
// A summarization failure aborts the surrounding finalize; the transcript
// itself is never lost.
type Summarizer interface {
	Summarize(ctx context.Context, turns []types.ConversationTurn) (Result, error)
}

// Result is the full summarizer output: the clinical summary, free-text
// actionable items, and the intent report.
type Result struct {
	Summary         types.StructuredSummary `json:"summary"`
	Actionables     []string                `json:"actionables"`
	DetectedIntents types.DetectedIntents   `json:"detectedIntents"`
}

// systemPrompt instructs the model to emit exactly the Result JSON shape.
const systemPrompt = `You are a clinical documentation assistant reviewing the transcript of an interpreted clinician-patient visit. Respond with a single JSON object and nothing else, using exactly this shape:
{
  "summary": {
    "visitSummary": "2-3 sentence narrative of the visit",
    "chiefComplaint": "the patient's main concern",
    "keyFindings": ["notable findings"],
    "diagnosis": "diagnosis or working assessment, empty string if none stated",
    "treatmentPlan": "treatment discussed, empty string if none",
    "followUp": "follow-up instructions, empty string if none",
    "medications": ["medications mentioned"]
  },
  "actionables": ["concrete next steps for the care team"],
  "detectedIntents": {
    "scheduleFollowup": {"detected": false, "date": "", "notes": ""},
    "sendLabOrder": {"detected": false, "testType": "", "notes": ""}
  }
}
Set detectedIntents fields to detected:true only when the transcript clearly requests that action. Do not invent clinical facts.`

// RenderTranscript flattens turns into the plain-text form sent to the model.
// Informational notices are omitted.
func RenderTranscript(turns []types.ConversationTurn) string {
	var b strings.Builder
	for _, turn := range turns {
		if turn.Kind == types.TurnInfo {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
	}
	return b.String()
}

func validateResult(r Result) error {
	if strings.TrimSpace(r.Summary.VisitSummary) == "" {
		return fmt.Errorf("summary is missing visitSummary")
	}
	return nil
}
