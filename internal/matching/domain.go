package matching

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DiscrepancyKind is the closed set of line classifications produced by the
// three-way match. Consumers (tolerance, workflow, reporting) switch over the
// full set; AllDiscrepancyKinds exists so aggregations stay exhaustive.
type DiscrepancyKind string

const (
	// KindMissingGoodsReceipt flags an ordered line with no accepted receipt.
	KindMissingGoodsReceipt DiscrepancyKind = "MISSING_GOODS_RECEIPT"
	// KindPartiallyReceived flags an open line: goods partly (or fully)
	// received but nothing invoiced yet.
	KindPartiallyReceived DiscrepancyKind = "PARTIALLY_RECEIVED"
	// KindFullyMatched means invoiced quantity equals accepted receipt quantity.
	KindFullyMatched DiscrepancyKind = "FULLY_MATCHED"
	// KindQuantityOverMatch means more was invoiced than received.
	KindQuantityOverMatch DiscrepancyKind = "QUANTITY_OVER_MATCH"
	// KindQuantityUnderMatch means less was invoiced than received.
	KindQuantityUnderMatch DiscrepancyKind = "QUANTITY_UNDER_MATCH"
	// KindPriceVariance flags a gap between the weighted-average invoice
	// price and the PO unit price. Always computed; tolerance decides
	// whether it escalates.
	KindPriceVariance DiscrepancyKind = "PRICE_VARIANCE"
)

// AllDiscrepancyKinds enumerates every kind for exhaustive aggregation.
var AllDiscrepancyKinds = []DiscrepancyKind{
	KindMissingGoodsReceipt,
	KindPartiallyReceived,
	KindFullyMatched,
	KindQuantityOverMatch,
	KindQuantityUnderMatch,
	KindPriceVariance,
}

// Valid reports whether k belongs to the closed set.
func (k DiscrepancyKind) Valid() bool {
	for _, known := range AllDiscrepancyKinds {
		if k == known {
			return true
		}
	}
	return false
}

// SummaryStatus is the per-PO rollup, a pure function of line classifications.
type SummaryStatus string

const (
	// SummaryFullyMatched means every line matched with no price gap.
	SummaryFullyMatched SummaryStatus = "FULLY_MATCHED"
	// SummaryInProgress means at least one line is still mid-cycle
	// (awaiting receipt or invoice) and none is discrepant.
	SummaryInProgress SummaryStatus = "IN_PROGRESS"
	// SummaryDiscrepant means at least one line carries a quantity or price
	// discrepancy.
	SummaryDiscrepant SummaryStatus = "DISCREPANT"
)

// Discrepancy pinpoints one gap on one PO line, with the expected and actual
// values the classification compared.
type Discrepancy struct {
	Kind        DiscrepancyKind
	POLineID    int64
	ItemID      int64
	Field       string
	Expected    decimal.Decimal
	Actual      decimal.Decimal
	Variance    decimal.Decimal
	VariancePct decimal.Decimal
}

// LineMatch aggregates one PO line against its linked receipts and invoices.
type LineMatch struct {
	POLineID        int64
	ItemID          int64
	OrderedQty      decimal.Decimal
	OrderedPrice    decimal.Decimal
	AcceptedQty     decimal.Decimal
	InvoicedQty     decimal.Decimal
	InvoicedAmount  decimal.Decimal
	InvoiceAvgPrice decimal.Decimal
	Kind            DiscrepancyKind
	Discrepancies   []Discrepancy
}

// MatchingAnalysis is the recomputed per-PO reconciliation result. It carries
// no mutable state: identical documents produce an identical analysis.
type MatchingAnalysis struct {
	POID          int64
	PONumber      string
	SupplierID    int64
	Currency      string
	OrderedAt     time.Time
	LastReceiptAt time.Time
	GeneratedAt   time.Time
	Summary       SummaryStatus
	Lines         []LineMatch
	Discrepancies []Discrepancy
}

// Unresolved returns discrepancies that block approval: everything except the
// informational FULLY_MATCHED marker.
func (a MatchingAnalysis) Unresolved() []Discrepancy {
	var out []Discrepancy
	for _, d := range a.Discrepancies {
		if d.Kind == KindFullyMatched {
			continue
		}
		out = append(out, d)
	}
	return out
}

// ErrUnknownKind indicates a classification outside the closed set.
var ErrUnknownKind = errors.New("matching: unknown discrepancy kind")
