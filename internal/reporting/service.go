package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/matching"
	"github.com/meridian-erp/meridian-erp/internal/tolerance"
)

// analyzeConcurrency caps the fan-out over purchase orders.
const analyzeConcurrency = 8

// ListerPort enumerates purchase orders in scope.
type ListerPort interface {
	ListPurchaseOrderIDs(ctx context.Context, from, to time.Time, supplierID int64) ([]int64, error)
}

// MatcherPort runs the three-way analysis.
type MatcherPort interface {
	AnalyzeThreeWayMatching(ctx context.Context, poID int64) (matching.MatchingAnalysis, error)
}

// Cache is the metrics cache. A miss returns ErrCacheMiss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Service produces reconciliation reports by fanning the matching engine out
// over the purchase orders in range.
type Service struct {
	lister   ListerPort
	matcher  MatcherPort
	policy   tolerance.Policy
	cache    Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds the reporting service. cache may be nil, disabling the
// metrics cache.
func NewService(lister ListerPort, matcher MatcherPort, policy tolerance.Policy, cache Cache, cacheTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		lister:   lister,
		matcher:  matcher,
		policy:   policy,
		cache:    cache,
		cacheTTL: cacheTTL,
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

// GenerateExceptionsReport lists purchase orders in range whose analysis
// carries out-of-tolerance exceptions.
func (s *Service) GenerateExceptionsReport(ctx context.Context, filter Filter) (ExceptionsReport, error) {
	analyses, err := s.analyzeRange(ctx, filter)
	if err != nil {
		return ExceptionsReport{}, err
	}

	report := ExceptionsReport{Filter: filter, GeneratedAt: s.now()}
	for _, analysis := range analyses {
		result, err := tolerance.Evaluate(analysis, s.policy)
		if err != nil {
			return ExceptionsReport{}, err
		}
		if result.WithinTolerance {
			continue
		}
		variance := decimal.Zero
		for _, exc := range result.Exceptions {
			variance = variance.Add(exc.Discrepancy.Variance.Abs())
		}
		if !filter.MinVarianceAmount.IsZero() && variance.LessThan(filter.MinVarianceAmount) {
			continue
		}
		report.Rows = append(report.Rows, ExceptionRow{
			POID:            analysis.POID,
			PONumber:        analysis.PONumber,
			SupplierID:      analysis.SupplierID,
			Currency:        analysis.Currency,
			OrderedAt:       analysis.OrderedAt,
			Summary:         analysis.Summary,
			Exceptions:      result.Exceptions,
			VarianceAmount:  variance,
			FormattedAmount: FormatAmount(analysis.Currency, variance),
		})
	}
	sort.Slice(report.Rows, func(i, j int) bool { return report.Rows[i].POID < report.Rows[j].POID })
	return report, nil
}

// GetMatchingMetrics aggregates match health over a range, served from cache
// when a fresh copy exists.
func (s *Service) GetMatchingMetrics(ctx context.Context, filter Filter) (MatchingMetrics, error) {
	key := metricsCacheKey(filter)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var cached MatchingMetrics
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
			s.logger.Warn("discarding unreadable cached metrics", slog.String("key", key))
		}
	}

	analyses, err := s.analyzeRange(ctx, filter)
	if err != nil {
		return MatchingMetrics{}, err
	}

	metrics := MatchingMetrics{
		Filter:        filter,
		GeneratedAt:   s.now(),
		TotalOrders:   len(analyses),
		ByStatus:      map[matching.SummaryStatus]int{},
		KindFrequency: map[matching.DiscrepancyKind]int{},
	}
	for _, kind := range matching.AllDiscrepancyKinds {
		metrics.KindFrequency[kind] = 0
	}

	var totalLead time.Duration
	received := 0
	fullyMatched := 0
	for _, analysis := range analyses {
		metrics.ByStatus[analysis.Summary]++
		if analysis.Summary == matching.SummaryFullyMatched {
			fullyMatched++
		}
		if !analysis.LastReceiptAt.IsZero() {
			totalLead += analysis.LastReceiptAt.Sub(analysis.OrderedAt)
			received++
		}
		for _, d := range analysis.Discrepancies {
			metrics.KindFrequency[d.Kind]++
		}
	}
	if len(analyses) > 0 {
		metrics.FullyMatchedRate = decimal.NewFromInt(int64(fullyMatched)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(len(analyses)))).
			Round(2)
	}
	if received > 0 {
		metrics.AvgTimeToMatch = totalLead / time.Duration(received)
	}

	if s.cache != nil {
		if raw, err := json.Marshal(metrics); err == nil {
			if err := s.cache.Set(ctx, key, string(raw), s.cacheTTL); err != nil {
				s.logger.Warn("metrics cache write failed", slog.Any("error", err))
			}
		}
	}
	return metrics, nil
}

func (s *Service) analyzeRange(ctx context.Context, filter Filter) ([]matching.MatchingAnalysis, error) {
	ids, err := s.lister.ListPurchaseOrderIDs(ctx, filter.From, filter.To, filter.SupplierID)
	if err != nil {
		return nil, err
	}

	analyses := make([]matching.MatchingAnalysis, len(ids))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(analyzeConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			analysis, err := s.matcher.AnalyzeThreeWayMatching(ctx, id)
			if err != nil {
				return fmt.Errorf("reporting: analyze PO %d: %w", id, err)
			}
			mu.Lock()
			analyses[i] = analysis
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return analyses, nil
}

func metricsCacheKey(filter Filter) string {
	return fmt.Sprintf("reporting:metrics:%d:%d:%d",
		filter.From.Unix(), filter.To.Unix(), filter.SupplierID)
}
