package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/registry"
)

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func grLineID(id int64) *int64 { return &id }

func fixturePO() (registry.PurchaseOrder, []registry.PurchaseOrderLine) {
	po := registry.PurchaseOrder{
		ID:         1,
		Number:     "PO-1001",
		SupplierID: 7,
		Currency:   "USD",
		OrderedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	lines := []registry.PurchaseOrderLine{
		{ID: 11, POID: 1, ItemID: 100, Qty: dec("100"), UnitPrice: dec("10")},
	}
	return po, lines
}

func TestFullyMatchedPartialFulfilment(t *testing.T) {
	po, poLines := fixturePO()
	grLines := []registry.GoodsReceiptLine{
		{ID: 21, GRID: 2, POLineID: 11, QtyReceived: dec("80"), QtyRejected: dec("2"), UnitCost: dec("10"), QualityStatus: registry.QualityAccepted, ReceivedAt: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)},
	}
	invLines := []registry.SupplierInvoiceLine{
		{ID: 31, InvoiceID: 3, GRLineID: grLineID(21), Qty: dec("78"), UnitPrice: dec("10")},
	}

	analysis := Analyze(po, poLines, grLines, invLines, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	require.Len(t, analysis.Lines, 1)
	line := analysis.Lines[0]
	require.Equal(t, KindFullyMatched, line.Kind)
	require.True(t, line.AcceptedQty.Equal(dec("78")), "accepted %s", line.AcceptedQty)
	require.True(t, line.InvoicedQty.Equal(dec("78")))
	require.Empty(t, line.Discrepancies)
	require.Equal(t, SummaryFullyMatched, analysis.Summary)
}

func TestQuantityOverMatch(t *testing.T) {
	po, poLines := fixturePO()
	grLines := []registry.GoodsReceiptLine{
		{ID: 21, GRID: 2, POLineID: 11, QtyReceived: dec("78"), QtyRejected: dec("0"), UnitCost: dec("10"), QualityStatus: registry.QualityAccepted},
	}
	invLines := []registry.SupplierInvoiceLine{
		{ID: 31, InvoiceID: 3, GRLineID: grLineID(21), Qty: dec("80"), UnitPrice: dec("10")},
	}

	analysis := Analyze(po, poLines, grLines, invLines, time.Now())

	require.Equal(t, KindQuantityOverMatch, analysis.Lines[0].Kind)
	require.Equal(t, SummaryDiscrepant, analysis.Summary)
	require.Len(t, analysis.Discrepancies, 1)
	d := analysis.Discrepancies[0]
	require.Equal(t, KindQuantityOverMatch, d.Kind)
	require.True(t, d.Expected.Equal(dec("78")), "expected %s", d.Expected)
	require.True(t, d.Actual.Equal(dec("80")))
	require.True(t, d.Variance.Equal(dec("2")))
}

func TestRejectedInvoiceDoesNotCountTowardMatch(t *testing.T) {
	po, poLines := fixturePO()
	grLines := []registry.GoodsReceiptLine{
		{ID: 21, GRID: 2, POLineID: 11, QtyReceived: dec("100"), QtyRejected: dec("0"), UnitCost: dec("10"), QualityStatus: registry.QualityAccepted},
	}
	// A rejected 120-unit invoice followed by the corrected re-submission.
	invLines := []registry.SupplierInvoiceLine{
		{ID: 31, InvoiceID: 3, InvoiceStatus: registry.MatchStatusRejected, GRLineID: grLineID(21), Qty: dec("120"), UnitPrice: dec("10")},
		{ID: 32, InvoiceID: 4, InvoiceStatus: registry.MatchStatusPending, GRLineID: grLineID(21), Qty: dec("100"), UnitPrice: dec("10")},
	}

	analysis := Analyze(po, poLines, grLines, invLines, time.Now())

	line := analysis.Lines[0]
	require.Equal(t, KindFullyMatched, line.Kind)
	require.True(t, line.InvoicedQty.Equal(dec("100")), "invoiced %s", line.InvoicedQty)
	require.Equal(t, SummaryFullyMatched, analysis.Summary)
}

func TestMissingGoodsReceipt(t *testing.T) {
	po, poLines := fixturePO()

	analysis := Analyze(po, poLines, nil, nil, time.Now())

	require.Equal(t, KindMissingGoodsReceipt, analysis.Lines[0].Kind)
	require.Equal(t, SummaryInProgress, analysis.Summary)
	d := analysis.Discrepancies[0]
	require.Equal(t, "receivedQty", d.Field)
	require.True(t, d.Expected.Equal(dec("100")))
	require.True(t, d.Actual.IsZero())
}

func TestPartiallyReceivedAwaitingInvoice(t *testing.T) {
	po, poLines := fixturePO()
	grLines := []registry.GoodsReceiptLine{
		{ID: 21, GRID: 2, POLineID: 11, QtyReceived: dec("40"), QtyRejected: dec("0"), QualityStatus: registry.QualityAccepted},
	}

	analysis := Analyze(po, poLines, grLines, nil, time.Now())

	require.Equal(t, KindPartiallyReceived, analysis.Lines[0].Kind)
	require.Equal(t, SummaryInProgress, analysis.Summary)
}

func TestOnHoldReceiptDoesNotCount(t *testing.T) {
	po, poLines := fixturePO()
	grLines := []registry.GoodsReceiptLine{
		{ID: 21, GRID: 2, POLineID: 11, QtyReceived: dec("100"), QtyRejected: dec("0"), QualityStatus: registry.QualityOnHold},
	}

	analysis := Analyze(po, poLines, grLines, nil, time.Now())

	require.Equal(t, KindMissingGoodsReceipt, analysis.Lines[0].Kind)
}

func TestWeightedAveragePriceVariance(t *testing.T) {
	po, poLines := fixturePO()
	grLines := []registry.GoodsReceiptLine{
		{ID: 21, GRID: 2, POLineID: 11, QtyReceived: dec("100"), QtyRejected: dec("0"), QualityStatus: registry.QualityAccepted},
	}
	// Two partial invoices at different prices: 60 @ 10.00 plus 40 @ 11.00
	// gives a weighted average of 10.40 against a PO price of 10.00.
	invLines := []registry.SupplierInvoiceLine{
		{ID: 31, InvoiceID: 3, GRLineID: grLineID(21), Qty: dec("60"), UnitPrice: dec("10")},
		{ID: 32, InvoiceID: 4, GRLineID: grLineID(21), Qty: dec("40"), UnitPrice: dec("11")},
	}

	analysis := Analyze(po, poLines, grLines, invLines, time.Now())

	line := analysis.Lines[0]
	require.Equal(t, KindFullyMatched, line.Kind)
	require.True(t, line.InvoiceAvgPrice.Equal(dec("10.4")), "avg %s", line.InvoiceAvgPrice)
	require.Len(t, line.Discrepancies, 1)
	d := line.Discrepancies[0]
	require.Equal(t, KindPriceVariance, d.Kind)
	require.True(t, d.VariancePct.Equal(dec("4")), "pct %s", d.VariancePct)
	require.Equal(t, SummaryDiscrepant, analysis.Summary)
}

func TestNonPOExpenseLinesIgnored(t *testing.T) {
	po, poLines := fixturePO()
	grLines := []registry.GoodsReceiptLine{
		{ID: 21, GRID: 2, POLineID: 11, QtyReceived: dec("50"), QtyRejected: dec("0"), QualityStatus: registry.QualityAccepted},
	}
	invLines := []registry.SupplierInvoiceLine{
		{ID: 31, InvoiceID: 3, GRLineID: grLineID(21), Qty: dec("50"), UnitPrice: dec("10")},
		{ID: 32, InvoiceID: 3, NonPOExpense: true, Qty: dec("1"), UnitPrice: dec("500")},
	}

	analysis := Analyze(po, poLines, grLines, invLines, time.Now())

	require.Equal(t, KindFullyMatched, analysis.Lines[0].Kind)
	require.True(t, analysis.Lines[0].InvoicedQty.Equal(dec("50")))
}

func TestAnalysisIdempotent(t *testing.T) {
	po, poLines := fixturePO()
	grLines := []registry.GoodsReceiptLine{
		{ID: 21, GRID: 2, POLineID: 11, QtyReceived: dec("78"), QtyRejected: dec("0"), QualityStatus: registry.QualityAccepted},
	}
	invLines := []registry.SupplierInvoiceLine{
		{ID: 31, InvoiceID: 3, GRLineID: grLineID(21), Qty: dec("80"), UnitPrice: dec("10")},
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := Analyze(po, poLines, grLines, invLines, at)
	second := Analyze(po, poLines, grLines, invLines, at)

	require.Equal(t, first, second)
}
