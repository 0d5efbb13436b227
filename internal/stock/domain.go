package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementOpening loads an opening balance cost layer.
	MovementOpening MovementType = "OPENING"
	// MovementStockIn records a goods receipt layer.
	MovementStockIn MovementType = "STOCK_IN"
	// MovementStockOut records an issue for sale or consumption.
	MovementStockOut MovementType = "STOCK_OUT"
	// MovementAdjustment records a count correction, either sign.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementTransfer records relocation between locations.
	MovementTransfer MovementType = "TRANSFER"
)

// StockLot is one cost layer. Lots are append-only: immutable once created
// except for AvailableQty depletion, and never deleted.
type StockLot struct {
	ID           int64
	ItemID       int64
	LocationID   int64
	ReceivedAt   time.Time
	Qty          decimal.Decimal
	AvailableQty decimal.Decimal
	UnitCost     decimal.Decimal
	CreatedAt    time.Time
}

// StockMovement records one signed quantity change against one lot.
type StockMovement struct {
	ID           int64
	Type         MovementType
	ItemID       int64
	LocationID   int64
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	TotalCost    decimal.Decimal
	LotID        int64
	RefDocType   string
	RefDocNumber string
	OccurredAt   time.Time
}

// MutationResult is returned by every stock mutation: the movements produced
// and the lot snapshots they touched, in the shape the posting engine consumes.
type MutationResult struct {
	Movements []StockMovement
	Lots      []StockLot
}

// TotalCost sums the absolute cost of all movements in the mutation.
func (r MutationResult) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, m := range r.Movements {
		total = total.Add(m.TotalCost.Abs())
	}
	return total
}

// OverReceiptPolicy governs whether goods receipts may exceed the ordered
// quantity and by how much. Excess is costed at the receipt's own unit cost;
// a lot always carries its own cost basis.
type OverReceiptPolicy struct {
	Allow      bool
	MaxPercent decimal.Decimal
}

// ReceiveInput describes a goods receipt posting.
type ReceiveInput struct {
	ItemID       int64
	LocationID   int64
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	ReceivedAt   time.Time
	RefDocType   string
	RefDocNumber string
	// POLineID links the receipt to a purchase order line. Zero for
	// receipts outside procurement (opening balances use OpeningInput).
	POLineID int64
	ActorID  int64
}

// IssueInput describes a FIFO stock issue.
type IssueInput struct {
	ItemID       int64
	LocationID   int64
	Qty          decimal.Decimal
	RefDocType   string
	RefDocNumber string
	ActorID      int64
}

// AdjustInput describes a signed stock adjustment.
type AdjustInput struct {
	ItemID       int64
	LocationID   int64
	Delta        decimal.Decimal
	UnitCost     decimal.Decimal
	Reason       string
	RefDocNumber string
	ActorID      int64
}

// TransferInput moves stock between locations preserving cost basis.
type TransferInput struct {
	ItemID       int64
	FromLocation int64
	ToLocation   int64
	Qty          decimal.Decimal
	RefDocNumber string
	ActorID      int64
}

// OpeningInput loads an opening balance layer.
type OpeningInput struct {
	ItemID       int64
	LocationID   int64
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	AsOf         time.Time
	RefDocNumber string
	ActorID      int64
}

// InsufficientStockError reports an issue or negative adjustment exceeding
// available quantity at a location.
type InsufficientStockError struct {
	ItemID     int64
	LocationID int64
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient quantity for item %d at location %d: requested %s, available %s",
		e.ItemID, e.LocationID, e.Requested, e.Available)
}

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("stock: unit cost must be >= 0")
	// ErrZeroDelta indicates an adjustment with no effect.
	ErrZeroDelta = errors.New("stock: adjustment delta must be non zero")
	// ErrSameLocation indicates a transfer onto itself.
	ErrSameLocation = errors.New("stock: source and destination location must differ")
)
