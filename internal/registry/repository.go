package registry

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository is the read/write surface the reconciliation engine has over the
// persistent document store. The engine owns no schema mechanics.
type Repository interface {
	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderLine, error)
	GetGoodsReceiptLinesByPO(ctx context.Context, poID int64) ([]GoodsReceiptLine, error)
	GetInvoiceLinesByPO(ctx context.Context, poID int64) ([]SupplierInvoiceLine, error)
	GetSupplierInvoice(ctx context.Context, id int64) (SupplierInvoice, []SupplierInvoiceLine, error)
	GetPOIDForInvoice(ctx context.Context, invoiceID int64) (int64, error)
	GetPOLineFulfilment(ctx context.Context, poLineID int64) (POLineFulfilment, error)
	ListPurchaseOrderIDs(ctx context.Context, from, to time.Time, supplierID int64) ([]int64, error)
	UpdateInvoiceMatchStatus(ctx context.Context, input UpdateInvoiceStatusInput) error
}

// POLineFulfilment aggregates ordered vs received quantity for one PO line,
// used by the over-receipt policy check.
type POLineFulfilment struct {
	POLineID    int64
	ItemID      int64
	OrderedQty  decimal.Decimal
	ReceivedQty decimal.Decimal
}

// UpdateInvoiceStatusInput carries an optimistic status transition. The write
// only lands when the stored version still equals ExpectedVersion.
type UpdateInvoiceStatusInput struct {
	InvoiceID       int64
	ExpectedVersion int64
	Status          MatchStatus
	ActorID         int64
	Reason          string
	RequiredActions []string
	At              time.Time
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed document registry.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderLine, error) {
	var po PurchaseOrder
	err := r.db.QueryRow(ctx, `SELECT id, number, supplier_id, currency, reference, ordered_at, created_at
FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.Currency, &po.Reference, &po.OrderedAt, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrPONotFound
		}
		return PurchaseOrder{}, nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, po_id, item_id, qty::text, unit_price::text
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []PurchaseOrderLine
	for rows.Next() {
		var line PurchaseOrderLine
		var qty, price string
		if err := rows.Scan(&line.ID, &line.POID, &line.ItemID, &qty, &price); err != nil {
			return PurchaseOrder{}, nil, err
		}
		if line.Qty, err = decimal.NewFromString(qty); err != nil {
			return PurchaseOrder{}, nil, err
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	return po, lines, rows.Err()
}

func (r *repository) GetGoodsReceiptLinesByPO(ctx context.Context, poID int64) ([]GoodsReceiptLine, error) {
	rows, err := r.db.Query(ctx, `SELECT l.id, l.gr_id, l.po_line_id, l.qty_received::text, l.qty_rejected::text, l.unit_cost::text, l.quality_status, g.received_at
FROM goods_receipt_lines l
JOIN goods_receipts g ON g.id = l.gr_id
WHERE g.po_id=$1 ORDER BY g.received_at ASC, l.id ASC`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []GoodsReceiptLine
	for rows.Next() {
		var line GoodsReceiptLine
		var received, rejected, cost, status string
		if err := rows.Scan(&line.ID, &line.GRID, &line.POLineID, &received, &rejected, &cost, &status, &line.ReceivedAt); err != nil {
			return nil, err
		}
		if line.QtyReceived, err = decimal.NewFromString(received); err != nil {
			return nil, err
		}
		if line.QtyRejected, err = decimal.NewFromString(rejected); err != nil {
			return nil, err
		}
		if line.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		line.QualityStatus = QualityStatus(status)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *repository) GetInvoiceLinesByPO(ctx context.Context, poID int64) ([]SupplierInvoiceLine, error) {
	rows, err := r.db.Query(ctx, `SELECT il.id, il.invoice_id, si.status, il.gr_line_id, il.non_po_expense, il.qty::text, il.unit_price::text, il.description
FROM supplier_invoice_lines il
JOIN supplier_invoices si ON si.id = il.invoice_id
JOIN goods_receipt_lines grl ON grl.id = il.gr_line_id
JOIN goods_receipts g ON g.id = grl.gr_id
WHERE g.po_id=$1 AND si.status <> 'REJECTED' ORDER BY il.id ASC`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvoiceLines(rows)
}

func (r *repository) GetSupplierInvoice(ctx context.Context, id int64) (SupplierInvoice, []SupplierInvoiceLine, error) {
	var inv SupplierInvoice
	var tax string
	err := r.db.QueryRow(ctx, `SELECT id, number, supplier_id, currency, reference, tax_amount::text, status, version, invoiced_at, decided_by, decided_at, reason, created_at, updated_at
FROM supplier_invoices WHERE id=$1`, id).
		Scan(&inv.ID, &inv.Number, &inv.SupplierID, &inv.Currency, &inv.Reference, &tax, &inv.Status, &inv.Version, &inv.InvoicedAt, &inv.DecidedBy, &inv.DecidedAt, &inv.Reason, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SupplierInvoice{}, nil, ErrInvoiceNotFound
		}
		return SupplierInvoice{}, nil, err
	}
	if inv.TaxAmount, err = decimal.NewFromString(tax); err != nil {
		return SupplierInvoice{}, nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT il.id, il.invoice_id, si.status, il.gr_line_id, il.non_po_expense, il.qty::text, il.unit_price::text, il.description
FROM supplier_invoice_lines il
JOIN supplier_invoices si ON si.id = il.invoice_id
WHERE il.invoice_id=$1 ORDER BY il.id ASC`, id)
	if err != nil {
		return SupplierInvoice{}, nil, err
	}
	defer rows.Close()
	lines, err := scanInvoiceLines(rows)
	if err != nil {
		return SupplierInvoice{}, nil, err
	}
	return inv, lines, nil
}

func (r *repository) GetPOIDForInvoice(ctx context.Context, invoiceID int64) (int64, error) {
	var poID int64
	err := r.db.QueryRow(ctx, `SELECT g.po_id
FROM supplier_invoice_lines il
JOIN goods_receipt_lines grl ON grl.id = il.gr_line_id
JOIN goods_receipts g ON g.id = grl.gr_id
WHERE il.invoice_id=$1 LIMIT 1`, invoiceID).Scan(&poID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUntracedInvoiceLine
		}
		return 0, err
	}
	return poID, nil
}

func (r *repository) GetPOLineFulfilment(ctx context.Context, poLineID int64) (POLineFulfilment, error) {
	var f POLineFulfilment
	var ordered, received string
	err := r.db.QueryRow(ctx, `SELECT pol.id, pol.item_id, pol.qty::text,
COALESCE(SUM(grl.qty_received - grl.qty_rejected), 0)::text
FROM purchase_order_lines pol
LEFT JOIN goods_receipt_lines grl ON grl.po_line_id = pol.id AND grl.quality_status <> 'REJECTED'
WHERE pol.id=$1
GROUP BY pol.id, pol.item_id, pol.qty`, poLineID).
		Scan(&f.POLineID, &f.ItemID, &ordered, &received)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return POLineFulfilment{}, ErrPOLineNotFound
		}
		return POLineFulfilment{}, err
	}
	if f.OrderedQty, err = decimal.NewFromString(ordered); err != nil {
		return POLineFulfilment{}, err
	}
	if f.ReceivedQty, err = decimal.NewFromString(received); err != nil {
		return POLineFulfilment{}, err
	}
	return f, nil
}

func (r *repository) ListPurchaseOrderIDs(ctx context.Context, from, to time.Time, supplierID int64) ([]int64, error) {
	query := `SELECT id FROM purchase_orders WHERE ordered_at >= $1 AND ordered_at < $2`
	args := []any{from, to}
	if supplierID != 0 {
		query += ` AND supplier_id = $3`
		args = append(args, supplierID)
	}
	query += ` ORDER BY id ASC`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repository) UpdateInvoiceMatchStatus(ctx context.Context, input UpdateInvoiceStatusInput) error {
	cmd, err := r.db.Exec(ctx, `UPDATE supplier_invoices
SET status=$3, version=version+1, decided_by=$4, decided_at=$5, reason=$6, required_actions=$7, updated_at=NOW()
WHERE id=$1 AND version=$2`,
		input.InvoiceID, input.ExpectedVersion, input.Status, input.ActorID, input.At, input.Reason, input.RequiredActions)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT true FROM supplier_invoices WHERE id=$1`, input.InvoiceID).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvoiceNotFound
			}
			return err
		}
		return shared.ErrStaleState
	}
	return nil
}

func scanInvoiceLines(rows pgx.Rows) ([]SupplierInvoiceLine, error) {
	var lines []SupplierInvoiceLine
	for rows.Next() {
		var line SupplierInvoiceLine
		var qty, price, status string
		if err := rows.Scan(&line.ID, &line.InvoiceID, &status, &line.GRLineID, &line.NonPOExpense, &qty, &price, &line.Description); err != nil {
			return nil, err
		}
		line.InvoiceStatus = MatchStatus(status)
		var err error
		if line.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
