package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/matching"
	"github.com/meridian-erp/meridian-erp/internal/registry"
	"github.com/meridian-erp/meridian-erp/internal/tolerance"
)

// ApproveInput requests approval of a pending invoice match.
type ApproveInput struct {
	InvoiceID       int64
	ExpectedVersion int64
	ActorID         int64
	// Override approves despite out-of-tolerance exceptions. Requires a
	// reason and lands the invoice in APPROVED_WITH_VARIANCE.
	Override bool
	Reason   string
}

// RejectInput requests rejection of a pending invoice match.
type RejectInput struct {
	InvoiceID       int64
	ExpectedVersion int64
	ActorID         int64
	Reason          string
	// RequiredActions tells the supplier what to fix. Derived from the
	// tolerance exceptions when left empty.
	RequiredActions []string
}

// Decision is the outcome of an approval or rejection.
type Decision struct {
	InvoiceID int64
	Status    registry.MatchStatus
	Analysis  matching.MatchingAnalysis
	Tolerance tolerance.Result
	// Entry is the payable posting created on approval, nil on rejection.
	Entry *ledger.JournalEntry
}

// VarianceBlockedError reports an approval attempt blocked by out-of-tolerance
// exceptions without an override.
type VarianceBlockedError struct {
	Exceptions []tolerance.Exception
}

func (e *VarianceBlockedError) Error() string {
	kinds := make([]string, 0, len(e.Exceptions))
	for _, exc := range e.Exceptions {
		kinds = append(kinds, string(exc.Discrepancy.Kind))
	}
	return fmt.Sprintf("workflow: %d exception(s) out of tolerance: %s", len(e.Exceptions), strings.Join(kinds, ", "))
}

var (
	// ErrAlreadyDecided indicates the invoice left PENDING already. All
	// decided states are terminal; corrections need a new invoice version.
	ErrAlreadyDecided = errors.New("workflow: invoice already decided")
	// ErrReasonRequired indicates a rejection or override without a reason.
	ErrReasonRequired = errors.New("workflow: a reason is required")
)

// requiredActionFor suggests the supplier-facing fix for one exception kind.
func requiredActionFor(kind matching.DiscrepancyKind) string {
	switch kind {
	case matching.KindMissingGoodsReceipt:
		return "confirm shipment and provide proof of delivery"
	case matching.KindPartiallyReceived:
		return "deliver the outstanding quantity or issue a credit note"
	case matching.KindQuantityOverMatch:
		return "issue a credit note for the over-invoiced quantity"
	case matching.KindQuantityUnderMatch:
		return "re-issue the invoice for the full received quantity"
	case matching.KindPriceVariance:
		return "align the invoice price with the purchase order"
	default:
		return "review the invoice against the purchase order"
	}
}
