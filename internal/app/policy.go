package app

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/internal/tolerance"
)

// TolerancePolicy parses the configured tolerance thresholds.
func (c *Config) TolerancePolicy() (tolerance.Policy, error) {
	qty, err := decimal.NewFromString(c.QuantityTolerancePct)
	if err != nil {
		return tolerance.Policy{}, fmt.Errorf("app: QTY_TOLERANCE_PCT: %w", err)
	}
	price, err := decimal.NewFromString(c.PriceTolerancePct)
	if err != nil {
		return tolerance.Policy{}, fmt.Errorf("app: PRICE_TOLERANCE_PCT: %w", err)
	}
	amount, err := decimal.NewFromString(c.AmountTolerancePct)
	if err != nil {
		return tolerance.Policy{}, fmt.Errorf("app: AMOUNT_TOLERANCE_PCT: %w", err)
	}
	fallback, err := decimal.NewFromString(c.ZeroBaseFallback)
	if err != nil {
		return tolerance.Policy{}, fmt.Errorf("app: ZERO_BASE_FALLBACK_AMOUNT: %w", err)
	}
	policy := tolerance.Policy{
		QuantityTolerancePercent: qty,
		PriceTolerancePercent:    price,
		AmountTolerancePercent:   amount,
		ZeroBaseFallbackAmount:   fallback,
	}
	if err := policy.Validate(); err != nil {
		return tolerance.Policy{}, err
	}
	return policy, nil
}

// OverReceiptPolicy parses the configured over-receipt settings.
func (c *Config) OverReceiptPolicy() (stock.OverReceiptPolicy, error) {
	maxPct, err := decimal.NewFromString(c.MaxOverReceiptPercent)
	if err != nil {
		return stock.OverReceiptPolicy{}, fmt.Errorf("app: MAX_OVER_RECEIPT_PCT: %w", err)
	}
	if maxPct.IsNegative() {
		return stock.OverReceiptPolicy{}, fmt.Errorf("app: MAX_OVER_RECEIPT_PCT must not be negative")
	}
	return stock.OverReceiptPolicy{Allow: c.AllowOverReceipt, MaxPercent: maxPct}, nil
}
