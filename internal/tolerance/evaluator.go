package tolerance

import (
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/matching"
)

// Evaluate classifies each unresolved discrepancy in the analysis against the
// policy. Pure computation over its inputs.
func Evaluate(analysis matching.MatchingAnalysis, policy Policy) (Result, error) {
	if err := policy.Validate(); err != nil {
		return Result{}, err
	}
	result := Result{POID: analysis.POID, WithinTolerance: true}
	escalatedLines := make(map[int64]bool)
	for _, d := range analysis.Unresolved() {
		if exc, escalated := evaluateOne(d, policy); escalated {
			result.Exceptions = append(result.Exceptions, exc)
			result.WithinTolerance = false
			escalatedLines[d.POLineID] = true
		}
	}
	// Quantity and price are checked one axis at a time; the amount
	// tolerance bounds their combined effect on the extended line amount, so
	// two drifts that each pass on their own cannot compound past it.
	for _, line := range analysis.Lines {
		if escalatedLines[line.POLineID] {
			continue
		}
		if exc, escalated := amountCheck(line, policy); escalated {
			result.Exceptions = append(result.Exceptions, exc)
			result.WithinTolerance = false
		}
	}
	return result, nil
}

func amountCheck(line matching.LineMatch, policy Policy) (Exception, bool) {
	if !line.InvoicedQty.IsPositive() {
		return Exception{}, false
	}
	expected := line.AcceptedQty.Mul(line.OrderedPrice)
	variance := line.InvoicedAmount.Sub(expected).Abs()
	if variance.IsZero() {
		return Exception{}, false
	}
	d := matching.Discrepancy{
		Kind:     amountKind(line),
		POLineID: line.POLineID,
		ItemID:   line.ItemID,
		Field:    "invoicedAmount",
		Expected: expected,
		Actual:   line.InvoicedAmount,
		Variance: variance,
	}
	if expected.IsZero() {
		if variance.Cmp(policy.ZeroBaseFallbackAmount) <= 0 {
			return Exception{}, false
		}
		return Exception{Discrepancy: d, Threshold: policy.ZeroBaseFallbackAmount, Absolute: true}, true
	}
	d.VariancePct = variance.Div(expected).Mul(decimal.NewFromInt(100))
	if d.VariancePct.Cmp(policy.AmountTolerancePercent) <= 0 {
		return Exception{}, false
	}
	return Exception{Discrepancy: d, Threshold: policy.AmountTolerancePercent}, true
}

// amountKind labels the amount-level exception with the axis that moved it:
// the line's quantity classification when quantities diverged, price variance
// when quantities matched and only pricing drifted.
func amountKind(line matching.LineMatch) matching.DiscrepancyKind {
	if line.Kind == matching.KindFullyMatched {
		return matching.KindPriceVariance
	}
	return line.Kind
}

func evaluateOne(d matching.Discrepancy, policy Policy) (Exception, bool) {
	// Structural gaps are never auto-accepted: an invoice cannot match a
	// receipt that does not exist, and an open receipt chain is not a
	// variance to measure.
	switch d.Kind {
	case matching.KindMissingGoodsReceipt, matching.KindPartiallyReceived:
		return Exception{Discrepancy: d}, true
	}

	if d.Expected.IsZero() {
		// Percentage of zero is undefined; fall back to the configured
		// absolute amount.
		if d.Variance.Cmp(policy.ZeroBaseFallbackAmount) <= 0 {
			return Exception{}, false
		}
		return Exception{Discrepancy: d, Threshold: policy.ZeroBaseFallbackAmount, Absolute: true}, true
	}

	threshold := thresholdFor(d.Kind, policy)
	// Inclusive boundary: variance equal to the threshold is in tolerance.
	if d.VariancePct.Cmp(threshold) <= 0 {
		return Exception{}, false
	}
	return Exception{Discrepancy: d, Threshold: threshold}, true
}

func thresholdFor(kind matching.DiscrepancyKind, policy Policy) decimal.Decimal {
	switch kind {
	case matching.KindQuantityOverMatch, matching.KindQuantityUnderMatch:
		return policy.QuantityTolerancePercent
	case matching.KindPriceVariance:
		return policy.PriceTolerancePercent
	default:
		// Unknown kinds never auto-accept.
		return decimal.Zero
	}
}
