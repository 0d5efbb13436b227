package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/registry"
)

// Analyze performs the three-way match over one purchase order's documents.
// Pure computation: no side effects, safe to call repeatedly and in parallel.
func Analyze(po registry.PurchaseOrder, poLines []registry.PurchaseOrderLine, grLines []registry.GoodsReceiptLine, invLines []registry.SupplierInvoiceLine, now time.Time) MatchingAnalysis {
	grByPOLine := make(map[int64][]registry.GoodsReceiptLine, len(poLines))
	var lastReceipt time.Time
	for _, gr := range grLines {
		grByPOLine[gr.POLineID] = append(grByPOLine[gr.POLineID], gr)
		if gr.ReceivedAt.After(lastReceipt) {
			lastReceipt = gr.ReceivedAt
		}
	}
	invByGRLine := make(map[int64][]registry.SupplierInvoiceLine, len(invLines))
	for _, inv := range invLines {
		if inv.NonPOExpense || inv.GRLineID == nil {
			continue
		}
		// A rejected invoice is a dead document: its quantities must not
		// count against the corrected re-submission.
		if inv.InvoiceStatus == registry.MatchStatusRejected {
			continue
		}
		invByGRLine[*inv.GRLineID] = append(invByGRLine[*inv.GRLineID], inv)
	}

	analysis := MatchingAnalysis{
		POID:          po.ID,
		PONumber:      po.Number,
		SupplierID:    po.SupplierID,
		Currency:      po.Currency,
		OrderedAt:     po.OrderedAt,
		LastReceiptAt: lastReceipt,
		GeneratedAt:   now,
	}

	for _, pol := range poLines {
		line := matchLine(pol, grByPOLine[pol.ID], invByGRLine)
		analysis.Lines = append(analysis.Lines, line)
		analysis.Discrepancies = append(analysis.Discrepancies, line.Discrepancies...)
	}
	analysis.Summary = summarize(analysis.Lines)
	return analysis
}

func matchLine(pol registry.PurchaseOrderLine, receipts []registry.GoodsReceiptLine, invByGRLine map[int64][]registry.SupplierInvoiceLine) LineMatch {
	line := LineMatch{
		POLineID:     pol.ID,
		ItemID:       pol.ItemID,
		OrderedQty:   pol.Qty,
		OrderedPrice: pol.UnitPrice,
	}
	for _, gr := range receipts {
		line.AcceptedQty = line.AcceptedQty.Add(gr.AcceptedQty())
		for _, inv := range invByGRLine[gr.ID] {
			line.InvoicedQty = line.InvoicedQty.Add(inv.Qty)
			line.InvoicedAmount = line.InvoicedAmount.Add(inv.Total())
		}
	}
	if line.InvoicedQty.IsPositive() {
		line.InvoiceAvgPrice = line.InvoicedAmount.Div(line.InvoicedQty)
	}

	line.Kind = classifyQuantity(line)
	if line.Kind != KindFullyMatched {
		line.Discrepancies = append(line.Discrepancies, quantityDiscrepancy(line))
	}
	if d, ok := priceDiscrepancy(line); ok {
		line.Discrepancies = append(line.Discrepancies, d)
	}
	return line
}

func classifyQuantity(line LineMatch) DiscrepancyKind {
	switch {
	case line.AcceptedQty.IsZero():
		return KindMissingGoodsReceipt
	case line.InvoicedQty.IsZero():
		return KindPartiallyReceived
	case line.InvoicedQty.GreaterThan(line.AcceptedQty):
		return KindQuantityOverMatch
	case line.InvoicedQty.LessThan(line.AcceptedQty):
		return KindQuantityUnderMatch
	default:
		return KindFullyMatched
	}
}

func quantityDiscrepancy(line LineMatch) Discrepancy {
	expected := line.AcceptedQty
	actual := line.InvoicedQty
	field := "invoicedQty"
	if line.Kind == KindMissingGoodsReceipt || line.Kind == KindPartiallyReceived {
		// The open side of the chain: receipt against order.
		expected = line.OrderedQty
		actual = line.AcceptedQty
		field = "receivedQty"
	}
	return Discrepancy{
		Kind:        line.Kind,
		POLineID:    line.POLineID,
		ItemID:      line.ItemID,
		Field:       field,
		Expected:    expected,
		Actual:      actual,
		Variance:    actual.Sub(expected).Abs(),
		VariancePct: variancePct(expected, actual),
	}
}

// priceDiscrepancy compares the weighted-average invoice unit price to the PO
// unit price. Computed whenever anything was invoiced; tolerance decides
// whether the gap escalates.
func priceDiscrepancy(line LineMatch) (Discrepancy, bool) {
	if !line.InvoicedQty.IsPositive() {
		return Discrepancy{}, false
	}
	if line.InvoiceAvgPrice.Equal(line.OrderedPrice) {
		return Discrepancy{}, false
	}
	return Discrepancy{
		Kind:        KindPriceVariance,
		POLineID:    line.POLineID,
		ItemID:      line.ItemID,
		Field:       "unitPrice",
		Expected:    line.OrderedPrice,
		Actual:      line.InvoiceAvgPrice,
		Variance:    line.InvoiceAvgPrice.Sub(line.OrderedPrice).Abs(),
		VariancePct: variancePct(line.OrderedPrice, line.InvoiceAvgPrice),
	}, true
}

func summarize(lines []LineMatch) SummaryStatus {
	status := SummaryFullyMatched
	for _, line := range lines {
		switch line.Kind {
		case KindQuantityOverMatch, KindQuantityUnderMatch:
			return SummaryDiscrepant
		case KindMissingGoodsReceipt, KindPartiallyReceived:
			status = SummaryInProgress
		case KindFullyMatched, KindPriceVariance:
			// Quantity side clean; price gaps checked below.
		}
		for _, d := range line.Discrepancies {
			if d.Kind == KindPriceVariance {
				return SummaryDiscrepant
			}
		}
	}
	return status
}

func variancePct(expected, actual decimal.Decimal) decimal.Decimal {
	if expected.IsZero() {
		return decimal.Zero
	}
	return actual.Sub(expected).Abs().Div(expected.Abs()).Mul(decimal.NewFromInt(100))
}
