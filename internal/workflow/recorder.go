package workflow

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/registry"
)

// DecisionRecord is one row of the approval trail.
type DecisionRecord struct {
	InvoiceID       int64
	Status          registry.MatchStatus
	ActorID         int64
	Reason          string
	RequiredActions []string
	ExceptionCount  int
	DecidedAt       time.Time
}

// RecorderPort persists the approval trail.
type RecorderPort interface {
	RecordDecision(ctx context.Context, record DecisionRecord) error
}

// ApprovalRecorder keeps the full decision history in match_decisions. The
// invoice row only carries the latest decision; the trail keeps them all.
type ApprovalRecorder struct {
	pool *pgxpool.Pool
}

// NewApprovalRecorder constructs the recorder.
func NewApprovalRecorder(pool *pgxpool.Pool) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool}
}

// RecordDecision implements RecorderPort.
func (r *ApprovalRecorder) RecordDecision(ctx context.Context, record DecisionRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO match_decisions (invoice_id, status, actor_id, reason, required_actions, exception_count, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.InvoiceID, string(record.Status), record.ActorID, record.Reason,
		record.RequiredActions, record.ExceptionCount, record.DecidedAt)
	return err
}
