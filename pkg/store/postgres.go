package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/carebridge/interp/pkg/core/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists conversations in PostgreSQL. The nested document
// fields are stored as JSON text and decoded on read.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects, runs pending migrations, and returns the store.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to conversation store")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func migrate(databaseURL string) error {
	db, err := goose.OpenDBWithDriver("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

func (p *PostgresStore) CreateConversation(ctx context.Context, rec types.ConversationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	actionables, err := json.Marshal(rec.Actionables)
	if err != nil {
		return "", fmt.Errorf("encode actionables: %w", err)
	}
	intents, err := json.Marshal(rec.DetectedIntents)
	if err != nil {
		return "", fmt.Errorf("encode detected intents: %w", err)
	}
	executed, err := json.Marshal(rec.ExecutedActions)
	if err != nil {
		return "", fmt.Errorf("encode executed actions: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO conversations
			(id, transcript, summary, actionables, detected_intents, executed_actions, patient_id, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, string(transcript), string(summary), string(actionables),
		string(intents), string(executed), rec.PatientID,
		rec.Duration.Milliseconds(), rec.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return rec.ID, nil
}

func (p *PostgresStore) GetConversation(ctx context.Context, id string) (types.ConversationRecord, error) {
	var (
		rec        types.ConversationRecord
		transcript string
		summary    string
		actionable string
		intents    string
		executed   string
		durationMS int64
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, transcript, summary, actionables, detected_intents, executed_actions, patient_id, duration_ms, created_at
		FROM conversations WHERE id = $1`, id,
	).Scan(&rec.ID, &transcript, &summary, &actionable, &intents, &executed, &rec.PatientID, &durationMS, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ConversationRecord{}, ErrNotFound
	}
	if err != nil {
		return types.ConversationRecord{}, fmt.Errorf("query conversation: %w", err)
	}

	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if err := decodeColumn(transcript, &rec.Transcript, "transcript"); err != nil {
		return types.ConversationRecord{}, err
	}
	if err := decodeColumn(summary, &rec.Summary, "summary"); err != nil {
		return types.ConversationRecord{}, err
	}
	if err := decodeColumn(actionable, &rec.Actionables, "actionables"); err != nil {
		return types.ConversationRecord{}, err
	}
	if err := decodeColumn(intents, &rec.DetectedIntents, "detected_intents"); err != nil {
		return types.ConversationRecord{}, err
	}
	if err := decodeColumn(executed, &rec.ExecutedActions, "executed_actions"); err != nil {
		return types.ConversationRecord{}, err
	}
	return rec, nil
}

func (p *PostgresStore) ListConversations(ctx context.Context) ([]types.ConversationSummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, patient_id, summary, actionables, duration_ms, created_at
		FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	summaries := []types.ConversationSummary{}
	for rows.Next() {
		var (
			s          types.ConversationSummary
			summary    string
			actionable string
			durationMS int64
		)
		if err := rows.Scan(&s.ID, &s.PatientID, &summary, &actionable, &durationMS, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		var decoded types.StructuredSummary
		if err := decodeColumn(summary, &decoded, "summary"); err != nil {
			return nil, err
		}
		var actionables []string
		if err := decodeColumn(actionable, &actionables, "actionables"); err != nil {
			return nil, err
		}
		s.VisitSummary = decoded.VisitSummary
		s.ActionCount = len(actionables)
		s.Duration = time.Duration(durationMS) * time.Millisecond
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return summaries, nil
}

func decodeColumn(raw string, dst any, name string) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s column: %w", name, err)
	}
	return nil
}
