// Package store persists finalized conversation records.
package store

import (
	"context"
	"errors"

	"github.com/carebridge/interp/pkg/core/types"
)

// ErrNotFound is returned when no conversation exists with the given id.
var ErrNotFound = errors.New("conversation not found")

// Store is the persistence surface for finalized conversations. Records are
// written once and read-only afterwards.
type Store interface {
	// CreateConversation persists a record, assigning an id when the record
	// has none, and returns the stored id.
	CreateConversation(ctx context.Context, rec types.ConversationRecord) (string, error)
	GetConversation(ctx context.Context, id string) (types.ConversationRecord, error)
	// ListConversations returns summaries, newest first.
	ListConversations(ctx context.Context) ([]types.ConversationSummary, error)
}

func summarizeRecord(rec types.ConversationRecord) types.ConversationSummary {
	return types.ConversationSummary{
		ID:           rec.ID,
		PatientID:    rec.PatientID,
		VisitSummary: rec.Summary.VisitSummary,
		ActionCount:  len(rec.Actionables),
		Duration:     rec.Duration,
		CreatedAt:    rec.CreatedAt,
	}
}
