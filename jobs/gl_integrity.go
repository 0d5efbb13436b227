package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// UnbalancedEntry is one journal entry whose debits and credits differ.
type UnbalancedEntry struct {
	EntryID     int64
	EntryNumber string
	Difference  string
	BaseDiff    string
}

// MissingPayable is an approved invoice with no posted payable entry. The
// approval flow posts the payable after the status transition commits, so a
// posting failure leaves the invoice approved without its journal entry.
type MissingPayable struct {
	InvoiceID     int64
	InvoiceNumber string
	Status        string
}

// IntegritySource supplies the two ledger integrity scans.
type IntegritySource interface {
	ScanUnbalanced(ctx context.Context) ([]UnbalancedEntry, error)
	ScanMissingPayables(ctx context.Context) ([]MissingPayable, error)
}

// GLIntegrityChecker scans the ledger for two classes of violation: posted
// entries that fail the balance check, and approved invoices whose payable
// entry never made it in. The posting path enforces balance up front; this is
// the independent check that no failure, migration or manual fix broke the
// books after the fact.
type GLIntegrityChecker struct {
	source  IntegritySource
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewGLIntegrityChecker constructs the checker over a database pool.
func NewGLIntegrityChecker(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityChecker {
	return NewGLIntegrityCheckerWithSource(&pgIntegritySource{pool: pool}, logger, metrics)
}

// NewGLIntegrityCheckerWithSource constructs the checker over an explicit
// source.
func NewGLIntegrityCheckerWithSource(source IntegritySource, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &GLIntegrityChecker{source: source, logger: logger, metrics: metrics}
}

// Scan lists every posted entry that fails the balance check, in entry or
// base currency.
func (c *GLIntegrityChecker) Scan(ctx context.Context) ([]UnbalancedEntry, error) {
	return c.source.ScanUnbalanced(ctx)
}

// MissingPayables lists approved invoices with no posted payable reference.
func (c *GLIntegrityChecker) MissingPayables(ctx context.Context) ([]MissingPayable, error) {
	return c.source.ScanMissingPayables(ctx)
}

// Handle processes TaskGLIntegrity tasks.
func (c *GLIntegrityChecker) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := c.metrics.Track("gl_integrity")
	broken, err := c.source.ScanUnbalanced(ctx)
	if err != nil {
		return tracker.End(err)
	}
	c.metrics.SetUnbalancedEntries(len(broken))
	for _, e := range broken {
		c.logger.Error("unbalanced journal entry",
			slog.Int64("entry_id", e.EntryID),
			slog.String("entry_number", e.EntryNumber),
			slog.String("difference", e.Difference),
			slog.String("base_difference", e.BaseDiff))
	}

	missing, err := c.source.ScanMissingPayables(ctx)
	if err != nil {
		return tracker.End(err)
	}
	c.metrics.SetMissingPayables(len(missing))
	for _, m := range missing {
		c.logger.Error("approved invoice without posted payable",
			slog.Int64("invoice_id", m.InvoiceID),
			slog.String("invoice_number", m.InvoiceNumber),
			slog.String("status", m.Status))
	}

	if len(broken) > 0 || len(missing) > 0 {
		return tracker.End(fmt.Errorf("gl integrity: %d unbalanced entries, %d missing payables", len(broken), len(missing)))
	}
	c.logger.Info("gl integrity check clean")
	return tracker.End(nil)
}

type pgIntegritySource struct {
	pool *pgxpool.Pool
}

func (s *pgIntegritySource) ScanUnbalanced(ctx context.Context) ([]UnbalancedEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.entry_number,
		       (SUM(l.debit) - SUM(l.credit))::text,
		       (SUM(l.base_debit) - SUM(l.base_credit))::text
		FROM journal_entries e
		JOIN journal_lines l ON l.entry_id = e.id
		WHERE e.status = 'POSTED'
		GROUP BY e.id, e.entry_number
		HAVING SUM(l.debit) <> SUM(l.credit)
		    OR SUM(l.base_debit) <> SUM(l.base_credit)
		ORDER BY e.id`)
	if err != nil {
		return nil, fmt.Errorf("gl integrity: scan: %w", err)
	}
	defer rows.Close()

	var broken []UnbalancedEntry
	for rows.Next() {
		var e UnbalancedEntry
		if err := rows.Scan(&e.EntryID, &e.EntryNumber, &e.Difference, &e.BaseDiff); err != nil {
			return nil, fmt.Errorf("gl integrity: scan row: %w", err)
		}
		broken = append(broken, e)
	}
	return broken, rows.Err()
}

func (s *pgIntegritySource) ScanMissingPayables(ctx context.Context) ([]MissingPayable, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.number, i.status
		FROM supplier_invoices i
		WHERE i.status IN ('APPROVED', 'APPROVED_WITH_VARIANCE')
		  AND NOT EXISTS (
			SELECT 1 FROM journal_entries e
			WHERE e.reference = 'INV:' || i.number AND e.status = 'POSTED')
		ORDER BY i.id`)
	if err != nil {
		return nil, fmt.Errorf("gl integrity: scan payables: %w", err)
	}
	defer rows.Close()

	var missing []MissingPayable
	for rows.Next() {
		var m MissingPayable
		if err := rows.Scan(&m.InvoiceID, &m.InvoiceNumber, &m.Status); err != nil {
			return nil, fmt.Errorf("gl integrity: scan payable row: %w", err)
		}
		missing = append(missing, m)
	}
	return missing, rows.Err()
}
