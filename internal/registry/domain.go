package registry

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QualityStatus enumerates inspection outcomes on a goods receipt line.
type QualityStatus string

const (
	// QualityAccepted marks goods cleared by inspection.
	QualityAccepted QualityStatus = "ACCEPTED"
	// QualityRejected marks goods refused in full.
	QualityRejected QualityStatus = "REJECTED"
	// QualityOnHold marks goods pending inspection; they do not count as
	// accepted for matching purposes.
	QualityOnHold QualityStatus = "ON_HOLD"
)

// MatchStatus enumerates the invoice reconciliation lifecycle. All states but
// PENDING are terminal; a rejected invoice is re-submitted as a new version.
type MatchStatus string

const (
	MatchStatusPending              MatchStatus = "PENDING"
	MatchStatusApproved             MatchStatus = "APPROVED"
	MatchStatusApprovedWithVariance MatchStatus = "APPROVED_WITH_VARIANCE"
	MatchStatusRejected             MatchStatus = "REJECTED"
)

// PurchaseOrder is the commitment document the three-way match anchors on.
type PurchaseOrder struct {
	ID         int64
	Number     string
	SupplierID int64
	Currency   string
	Reference  uuid.UUID
	OrderedAt  time.Time
	CreatedAt  time.Time
}

// PurchaseOrderLine carries the ordered quantity and agreed unit price.
type PurchaseOrderLine struct {
	ID        int64
	POID      int64
	ItemID    int64
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
}

// GoodsReceipt records physical arrival of goods against a purchase order.
type GoodsReceipt struct {
	ID         int64
	Number     string
	POID       int64
	LocationID int64
	Reference  uuid.UUID
	ReceivedAt time.Time
}

// GoodsReceiptLine references the PO line it fulfils.
type GoodsReceiptLine struct {
	ID            int64
	GRID          int64
	POLineID      int64
	QtyReceived   decimal.Decimal
	QtyRejected   decimal.Decimal
	UnitCost      decimal.Decimal
	QualityStatus QualityStatus
	ReceivedAt    time.Time
}

// AcceptedQty returns the quantity that counts toward matching: received less
// rejected, or zero while the line is rejected outright or still on hold.
func (l GoodsReceiptLine) AcceptedQty() decimal.Decimal {
	if l.QualityStatus == QualityRejected || l.QualityStatus == QualityOnHold {
		return decimal.Zero
	}
	return l.QtyReceived.Sub(l.QtyRejected)
}

// SupplierInvoice is the payable document awaiting match approval.
type SupplierInvoice struct {
	ID          int64
	Number      string
	SupplierID  int64
	Currency    string
	Reference   uuid.UUID
	TaxAmount   decimal.Decimal
	Status      MatchStatus
	Version     int64
	InvoicedAt  time.Time
	DecidedBy   *int64
	DecidedAt   *time.Time
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SupplierInvoiceLine traces to exactly one goods receipt line unless it is
// explicitly tagged as a non-PO expense.
type SupplierInvoiceLine struct {
	ID           int64
	InvoiceID    int64
	// InvoiceStatus mirrors the parent invoice's match status. Lines of a
	// rejected invoice no longer count toward matching; the corrected
	// re-submission starts a fresh cycle.
	InvoiceStatus MatchStatus
	GRLineID      *int64
	NonPOExpense  bool
	Qty           decimal.Decimal
	UnitPrice     decimal.Decimal
	Description   string
}

// Total returns the extended line amount.
func (l SupplierInvoiceLine) Total() decimal.Decimal {
	return l.Qty.Mul(l.UnitPrice)
}

var (
	// ErrPONotFound indicates a missing purchase order.
	ErrPONotFound = errors.New("registry: purchase order not found")
	// ErrInvoiceNotFound indicates a missing supplier invoice.
	ErrInvoiceNotFound = errors.New("registry: supplier invoice not found")
	// ErrPOLineNotFound indicates a missing purchase order line.
	ErrPOLineNotFound = errors.New("registry: purchase order line not found")
	// ErrUntracedInvoiceLine indicates an invoice line with neither a goods
	// receipt reference nor the non-PO expense flag.
	ErrUntracedInvoiceLine = errors.New("registry: invoice line traces to no goods receipt line")
)
