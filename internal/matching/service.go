package matching

import (
	"context"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/registry"
)

// RepositoryPort describes the document reads the engine needs.
type RepositoryPort interface {
	GetPurchaseOrder(ctx context.Context, id int64) (registry.PurchaseOrder, []registry.PurchaseOrderLine, error)
	GetGoodsReceiptLinesByPO(ctx context.Context, poID int64) ([]registry.GoodsReceiptLine, error)
	GetInvoiceLinesByPO(ctx context.Context, poID int64) ([]registry.SupplierInvoiceLine, error)
}

// Service loads documents for one purchase order and runs the match.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs the matching service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock, used by tests and snapshot jobs.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AnalyzeThreeWayMatching recomputes the reconciliation for a purchase order
// from current document state. Read-only; concurrent calls on different
// purchase orders need no coordination.
func (s *Service) AnalyzeThreeWayMatching(ctx context.Context, poID int64) (MatchingAnalysis, error) {
	po, poLines, err := s.repo.GetPurchaseOrder(ctx, poID)
	if err != nil {
		return MatchingAnalysis{}, err
	}
	grLines, err := s.repo.GetGoodsReceiptLinesByPO(ctx, poID)
	if err != nil {
		return MatchingAnalysis{}, err
	}
	invLines, err := s.repo.GetInvoiceLinesByPO(ctx, poID)
	if err != nil {
		return MatchingAnalysis{}, err
	}
	return Analyze(po, poLines, grLines, invLines, s.now()), nil
}
