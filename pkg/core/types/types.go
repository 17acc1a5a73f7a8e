// Package types defines the shared data model for an interpreted clinical
// conversation: turns, pending and executed actions, and the persisted
// conversation record.
package types

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleClinician Role = "clinician"
	RolePatient   Role = "patient"
	RoleAgent     Role = "agent"
	RoleTool      Role = "tool"
	RoleInfo      Role = "info"
)

// HumanRoles are the roles a local participant may hold in a session.
var HumanRoles = []Role{RoleClinician, RolePatient}

func (r Role) Valid() bool {
	switch r {
	case RoleClinician, RolePatient, RoleAgent, RoleTool, RoleInfo:
		return true
	default:
		return false
	}
}

// TurnKind distinguishes original speech, a rendered translation, and
// informational notices.
type TurnKind string

const (
	TurnOriginal    TurnKind = "original"
	TurnTranslation TurnKind = "translation"
	TurnInfo        TurnKind = "info"
)

// ConversationTurn is one utterance or notice recorded during a session.
// Turns are append-only: once created they are never mutated or reordered.
type ConversationTurn struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	Translation string    `json:"translation,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        TurnKind  `json:"type"`

	// Intent carries a structured action hint when the agent attached one to
	// the triggering event. It rides along for the detector and is not part
	// of the persisted transcript shape.
	Intent *IntentHint `json:"-"`
}

// IntentHint is the structured form of a clinical-action intent, either
// attached to a live event or recovered by the summarizer.
type IntentHint struct {
	Type     ActionType `json:"type"`
	Date     string     `json:"date,omitempty"`
	TestType string     `json:"testType,omitempty"`
	Notes    string     `json:"notes,omitempty"`
}

// ActionType names a clinical action. The set is closed but extensible by
// deployment configuration.
type ActionType string

const (
	ActionLabOrder ActionType = "lab_order"
	ActionFollowUp ActionType = "follow_up"
)

// ActionStatus is the tri-state confirmation status of a pending action.
// It transitions pending -> {confirmed, cancelled} exactly once.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionConfirmed ActionStatus = "confirmed"
	ActionCancelled ActionStatus = "cancelled"
)

// PendingAction is a clinical-intent candidate awaiting human confirmation.
// No external effect happens before confirmation.
type PendingAction struct {
	ID          string         `json:"id"`
	TurnID      string         `json:"turnId,omitempty"`
	Type        ActionType     `json:"type"`
	Description string         `json:"description"`
	Status      ActionStatus   `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// ExecutedAction is the durable outcome of a confirmed action. Success
// reflects the remote status; a transport-level delivery failure produces no
// ExecutedAction at all.
type ExecutedAction struct {
	Type     ActionType     `json:"actionType"`
	Success  bool           `json:"success"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StructuredSummary is the clinical summary shape returned by the
// summarization service.
type StructuredSummary struct {
	VisitSummary   string   `json:"visitSummary"`
	ChiefComplaint string   `json:"chiefComplaint"`
	KeyFindings    []string `json:"keyFindings"`
	Diagnosis      string   `json:"diagnosis"`
	TreatmentPlan  string   `json:"treatmentPlan"`
	FollowUp       string   `json:"followUp"`
	Medications    []string `json:"medications"`
}

// IntentSignal reports whether the summarizer detected one intent kind.
type IntentSignal struct {
	Detected bool   `json:"detected"`
	Date     string `json:"date,omitempty"`
	TestType string `json:"testType,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// DetectedIntents is the summarizer's intent report for one conversation.
type DetectedIntents struct {
	ScheduleFollowup IntentSignal `json:"scheduleFollowup"`
	SendLabOrder     IntentSignal `json:"sendLabOrder"`
}

// ConversationRecord is the persisted outcome of one finalized session.
// It is created once by the session closer and read-only afterwards.
type ConversationRecord struct {
	ID              string             `json:"id"`
	Transcript      []ConversationTurn `json:"transcript"`
	Summary         StructuredSummary  `json:"summary"`
	Actionables     []string           `json:"actionables"`
	DetectedIntents DetectedIntents    `json:"detectedIntents"`
	ExecutedActions []ExecutedAction   `json:"executedActions"`
	PatientID       string             `json:"patientId"`
	Duration        time.Duration      `json:"duration"`
	CreatedAt       time.Time          `json:"createdAt"`
}

// ConversationSummary is the listing row exposed to the review surface.
type ConversationSummary struct {
	ID           string        `json:"id"`
	PatientID    string        `json:"patientId"`
	VisitSummary string        `json:"visitSummary"`
	ActionCount  int           `json:"actionCount"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"createdAt"`
}
