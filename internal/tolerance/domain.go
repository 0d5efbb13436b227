package tolerance

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/matching"
)

// Policy configures the thresholds below which discrepancies auto-accept.
// Percentages are inclusive: variance exactly at the threshold passes.
type Policy struct {
	QuantityTolerancePercent decimal.Decimal `validate:"required"`
	PriceTolerancePercent    decimal.Decimal `validate:"required"`
	AmountTolerancePercent   decimal.Decimal `validate:"required"`

	// ZeroBaseFallbackAmount is the absolute variance allowed when the
	// expected value is zero, where a percentage is undefined.
	ZeroBaseFallbackAmount decimal.Decimal
}

var validate = validator.New()

// Validate rejects negative or missing thresholds.
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	for _, v := range []decimal.Decimal{p.QuantityTolerancePercent, p.PriceTolerancePercent, p.AmountTolerancePercent, p.ZeroBaseFallbackAmount} {
		if v.IsNegative() {
			return ErrNegativeThreshold
		}
	}
	return nil
}

// Exception is one discrepancy that escaped tolerance.
type Exception struct {
	Discrepancy matching.Discrepancy
	Threshold   decimal.Decimal
	// Absolute reports that the zero-base fallback was applied and
	// Threshold is an amount, not a percentage.
	Absolute bool
}

// Result is the evaluator's verdict over one analysis.
type Result struct {
	POID            int64
	WithinTolerance bool
	Exceptions      []Exception
}

// ErrNegativeThreshold indicates a malformed policy.
var ErrNegativeThreshold = errors.New("tolerance: thresholds must not be negative")
