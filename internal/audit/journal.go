// internal/audit/journal.go

// Package audit keeps an append-only journal of provider account changes
// made through the relay.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidAccount      = errors.New("account id required")
)

// accountNamespace scopes the name-based UUIDs derived from provider ids.
var accountNamespace = uuid.MustParse("5b0c7c3e-3f4e-4d0a-9a55-7b1f0e6a2c41")

// AggregateID maps a provider account id onto a stable UUID.
func AggregateID(accountID string) uuid.UUID {
	return uuid.NewSHA1(accountNamespace, []byte(accountID))
}

// Entry is one journaled provider operation.
type Entry struct {
	ID          int64           `db:"id" json:"id"`
	AggregateID uuid.UUID       `db:"aggregate_id" json:"aggregate_id"`
	AccountID   string          `db:"account_id" json:"account_id"`
	EventType   string          `db:"event_type" json:"event_type"`
	Data        json.RawMessage `db:"data" json:"data"`
	Version     int             `db:"version" json:"version"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS oa_account_events (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id UUID NOT NULL,
	account_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	data JSONB NOT NULL,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (aggregate_id, version)
);`

// Journal appends provider operations to PostgreSQL, one version stream
// per account.
type Journal struct {
	db     *sqlx.DB
	tracer trace.Tracer
	now    func() time.Time
}

func NewJournal(db *sqlx.DB) *Journal {
	return &Journal{
		db:     db,
		tracer: otel.Tracer("oa-compass-admin/audit"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the journal table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Record appends an event for accountID at the next version.
func (j *Journal) Record(ctx context.Context, accountID, eventType string, data any) error {
	if accountID == "" {
		return ErrInvalidAccount
	}
	aggregateID := AggregateID(accountID)

	ctx, span := j.tracer.Start(ctx, "audit.record",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("event.type", eventType),
		),
	)
	defer span.End()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	tx, err := j.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM oa_account_events
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&current)
	if err != nil {
		return fmt.Errorf("query current version: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO oa_account_events (aggregate_id, account_id, event_type, data, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, aggregateID, accountID, eventType, payload, current+1, j.now()).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && (pqErr.Code == "23505" || pqErr.Code == "40001") {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "40001" {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("event.id", id),
		attribute.Int("event.version", current+1),
	)
	return nil
}

// Load returns the journal for one account in version order.
func (j *Journal) Load(ctx context.Context, accountID string) ([]Entry, error) {
	aggregateID := AggregateID(accountID)
	ctx, span := j.tracer.Start(ctx, "audit.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	var entries []Entry
	err := j.db.SelectContext(ctx, &entries, `
		SELECT id, aggregate_id, account_id, event_type, data, version, created_at
		FROM oa_account_events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(entries)))
	return entries, nil
}
