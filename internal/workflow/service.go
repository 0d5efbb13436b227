package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/matching"
	"github.com/meridian-erp/meridian-erp/internal/registry"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/tolerance"
)

// RegistryPort is the slice of the document registry the workflow needs.
type RegistryPort interface {
	GetSupplierInvoice(ctx context.Context, id int64) (registry.SupplierInvoice, []registry.SupplierInvoiceLine, error)
	GetPOIDForInvoice(ctx context.Context, invoiceID int64) (int64, error)
	UpdateInvoiceMatchStatus(ctx context.Context, input registry.UpdateInvoiceStatusInput) error
}

// MatcherPort runs the three-way analysis.
type MatcherPort interface {
	AnalyzeThreeWayMatching(ctx context.Context, poID int64) (matching.MatchingAnalysis, error)
}

// LedgerPort posts the payable entry on approval.
type LedgerPort interface {
	PostEntry(ctx context.Context, input ledger.PostingInput) (ledger.JournalEntry, error)
}

// RateFunc resolves the exchange rate into base currency for an invoice
// currency. A nil RateFunc treats every invoice as base currency.
type RateFunc func(currency string) decimal.Decimal

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the invoice match decision workflow. Decisions are guarded
// by optimistic concurrency on the invoice version: two reviewers racing on
// the same invoice cannot both win.
type Service struct {
	registry RegistryPort
	matcher  MatcherPort
	ledger   LedgerPort
	audit    AuditPort
	recorder RecorderPort
	policy   tolerance.Policy
	rate     RateFunc
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds the decision workflow.
func NewService(reg RegistryPort, matcher MatcherPort, ledgerPort LedgerPort, audit AuditPort, policy tolerance.Policy, rate RateFunc, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: reg,
		matcher:  matcher,
		ledger:   ledgerPort,
		audit:    audit,
		policy:   policy,
		rate:     rate,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRecorder attaches the approval trail recorder.
func (s *Service) WithRecorder(recorder RecorderPort) {
	s.recorder = recorder
}

// ApproveMatching approves a pending invoice. A clean match lands in
// APPROVED; an override over exceptions lands in APPROVED_WITH_VARIANCE and
// records the reason. Without an override, any out-of-tolerance exception
// blocks the approval.
func (s *Service) ApproveMatching(ctx context.Context, input ApproveInput) (Decision, error) {
	if input.Override && input.Reason == "" {
		return Decision{}, ErrReasonRequired
	}

	invoice, lines, err := s.registry.GetSupplierInvoice(ctx, input.InvoiceID)
	if err != nil {
		return Decision{}, err
	}
	if invoice.Status != registry.MatchStatusPending {
		return Decision{}, ErrAlreadyDecided
	}

	analysis, tolResult, err := s.evaluate(ctx, input.InvoiceID)
	if err != nil {
		return Decision{}, err
	}

	status := registry.MatchStatusApproved
	if !tolResult.WithinTolerance {
		if !input.Override {
			return Decision{}, &VarianceBlockedError{Exceptions: tolResult.Exceptions}
		}
		status = registry.MatchStatusApprovedWithVariance
	}

	expectedVersion := input.ExpectedVersion
	if expectedVersion == 0 {
		expectedVersion = invoice.Version
	}
	err = s.registry.UpdateInvoiceMatchStatus(ctx, registry.UpdateInvoiceStatusInput{
		InvoiceID:       input.InvoiceID,
		ExpectedVersion: expectedVersion,
		Status:          status,
		ActorID:         input.ActorID,
		Reason:          input.Reason,
		At:              s.now(),
	})
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		InvoiceID: input.InvoiceID,
		Status:    status,
		Analysis:  analysis,
		Tolerance: tolResult,
	}
	s.recordDecision(ctx, DecisionRecord{
		InvoiceID:      input.InvoiceID,
		Status:         status,
		ActorID:        input.ActorID,
		Reason:         input.Reason,
		ExceptionCount: len(tolResult.Exceptions),
		DecidedAt:      s.now(),
	})

	entry, err := s.ledger.PostEntry(ctx, ledger.InvoiceApprovalPosting(invoice, lines, s.exchangeRate(invoice.Currency), input.ActorID))
	if err != nil {
		// The decision stands; the missing payable surfaces in the GL
		// integrity check until reposted.
		s.logger.Error("payable posting failed after approval",
			slog.Int64("invoice_id", input.InvoiceID),
			slog.Any("error", err))
		return decision, fmt.Errorf("workflow: post payable for invoice %d: %w", input.InvoiceID, err)
	}
	decision.Entry = &entry

	s.recordAudit(ctx, input.ActorID, "workflow.approve", invoice, string(status), input.Reason)
	s.logger.Info("invoice match approved",
		slog.Int64("invoice_id", input.InvoiceID),
		slog.String("status", string(status)),
		slog.String("entry_number", entry.EntryNumber))
	return decision, nil
}

// RejectMatching rejects a pending invoice with a reason and the actions the
// supplier must take. REJECTED is terminal: a corrected invoice arrives as
// a new document version.
func (s *Service) RejectMatching(ctx context.Context, input RejectInput) (Decision, error) {
	if input.Reason == "" {
		return Decision{}, ErrReasonRequired
	}

	invoice, _, err := s.registry.GetSupplierInvoice(ctx, input.InvoiceID)
	if err != nil {
		return Decision{}, err
	}
	if invoice.Status != registry.MatchStatusPending {
		return Decision{}, ErrAlreadyDecided
	}

	analysis, tolResult, err := s.evaluate(ctx, input.InvoiceID)
	if err != nil {
		return Decision{}, err
	}

	actions := input.RequiredActions
	if len(actions) == 0 {
		seen := map[string]bool{}
		for _, exc := range tolResult.Exceptions {
			action := requiredActionFor(exc.Discrepancy.Kind)
			if !seen[action] {
				actions = append(actions, action)
				seen[action] = true
			}
		}
	}

	expectedVersion := input.ExpectedVersion
	if expectedVersion == 0 {
		expectedVersion = invoice.Version
	}
	err = s.registry.UpdateInvoiceMatchStatus(ctx, registry.UpdateInvoiceStatusInput{
		InvoiceID:       input.InvoiceID,
		ExpectedVersion: expectedVersion,
		Status:          registry.MatchStatusRejected,
		ActorID:         input.ActorID,
		Reason:          input.Reason,
		RequiredActions: actions,
		At:              s.now(),
	})
	if err != nil {
		return Decision{}, err
	}

	s.recordDecision(ctx, DecisionRecord{
		InvoiceID:       input.InvoiceID,
		Status:          registry.MatchStatusRejected,
		ActorID:         input.ActorID,
		Reason:          input.Reason,
		RequiredActions: actions,
		ExceptionCount:  len(tolResult.Exceptions),
		DecidedAt:       s.now(),
	})
	s.recordAudit(ctx, input.ActorID, "workflow.reject", invoice, string(registry.MatchStatusRejected), input.Reason)
	s.logger.Info("invoice match rejected",
		slog.Int64("invoice_id", input.InvoiceID),
		slog.String("reason", input.Reason))
	return Decision{
		InvoiceID: input.InvoiceID,
		Status:    registry.MatchStatusRejected,
		Analysis:  analysis,
		Tolerance: tolResult,
	}, nil
}

func (s *Service) evaluate(ctx context.Context, invoiceID int64) (matching.MatchingAnalysis, tolerance.Result, error) {
	poID, err := s.registry.GetPOIDForInvoice(ctx, invoiceID)
	if err != nil {
		return matching.MatchingAnalysis{}, tolerance.Result{}, err
	}
	analysis, err := s.matcher.AnalyzeThreeWayMatching(ctx, poID)
	if err != nil {
		return matching.MatchingAnalysis{}, tolerance.Result{}, err
	}
	tolResult, err := tolerance.Evaluate(analysis, s.policy)
	if err != nil {
		return matching.MatchingAnalysis{}, tolerance.Result{}, err
	}
	return analysis, tolResult, nil
}

func (s *Service) exchangeRate(currency string) decimal.Decimal {
	if s.rate == nil {
		return decimal.NewFromInt(1)
	}
	rate := s.rate(currency)
	if !rate.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return rate
}

func (s *Service) recordDecision(ctx context.Context, record DecisionRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordDecision(ctx, record); err != nil {
		s.logger.Warn("approval trail write failed",
			slog.Int64("invoice_id", record.InvoiceID),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, invoice registry.SupplierInvoice, status, reason string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "supplier_invoice",
		EntityID: fmt.Sprintf("%d", invoice.ID),
		Meta: map[string]any{
			"invoice_number": invoice.Number,
			"status":         status,
			"reason":         reason,
		},
	})
}
