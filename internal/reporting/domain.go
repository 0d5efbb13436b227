package reporting

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-erp/meridian-erp/internal/matching"
	"github.com/meridian-erp/meridian-erp/internal/tolerance"
)

// Filter scopes a report run.
type Filter struct {
	From time.Time
	To   time.Time
	// SupplierID narrows to one supplier when non-zero.
	SupplierID int64
	// MinVarianceAmount drops exception rows whose absolute variance falls
	// below it. Zero keeps everything.
	MinVarianceAmount decimal.Decimal
}

// ExceptionRow is one purchase order with out-of-tolerance exceptions.
type ExceptionRow struct {
	POID            int64
	PONumber        string
	SupplierID      int64
	Currency        string
	OrderedAt       time.Time
	Summary         matching.SummaryStatus
	Exceptions      []tolerance.Exception
	VarianceAmount  decimal.Decimal
	FormattedAmount string
}

// ExceptionsReport lists every purchase order in range whose reconciliation
// escaped tolerance.
type ExceptionsReport struct {
	Filter      Filter
	GeneratedAt time.Time
	Rows        []ExceptionRow
}

// MatchingMetrics aggregates reconciliation health over a range.
type MatchingMetrics struct {
	Filter           Filter
	GeneratedAt      time.Time
	TotalOrders      int
	ByStatus         map[matching.SummaryStatus]int
	FullyMatchedRate decimal.Decimal
	// AvgTimeToMatch averages order date to last receipt over orders that
	// have received anything.
	AvgTimeToMatch time.Duration
	// KindFrequency counts every known discrepancy kind, zeroes included.
	KindFrequency map[matching.DiscrepancyKind]int
}

var printer = message.NewPrinter(language.English)

// FormatAmount renders an amount with thousands separators for report output.
func FormatAmount(currency string, amount decimal.Decimal) string {
	return printer.Sprintf("%s %.2f", currency, amount.InexactFloat64())
}
