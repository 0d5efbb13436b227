package stock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository is the pgx-backed RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a pgx repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

// ListLotsForUpdate locks the open lots for one item at one location, oldest
// first. The lock serializes concurrent depletion against the same stock.
func (t *txRepository) ListLotsForUpdate(ctx context.Context, itemID, locationID int64) ([]StockLot, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, item_id, location_id, received_at,
		       qty::text, available_qty::text, unit_cost::text, created_at
		FROM stock_lots
		WHERE item_id = $1 AND location_id = $2 AND available_qty > 0
		ORDER BY received_at, id
		FOR UPDATE`, itemID, locationID)
	if err != nil {
		return nil, fmt.Errorf("stock: list lots: %w", err)
	}
	defer rows.Close()

	var lots []StockLot
	for rows.Next() {
		var lot StockLot
		var qty, available, unitCost string
		if err := rows.Scan(&lot.ID, &lot.ItemID, &lot.LocationID, &lot.ReceivedAt,
			&qty, &available, &unitCost, &lot.CreatedAt); err != nil {
			return nil, fmt.Errorf("stock: scan lot: %w", err)
		}
		if lot.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("stock: lot %d qty: %w", lot.ID, err)
		}
		if lot.AvailableQty, err = decimal.NewFromString(available); err != nil {
			return nil, fmt.Errorf("stock: lot %d available_qty: %w", lot.ID, err)
		}
		if lot.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
			return nil, fmt.Errorf("stock: lot %d unit_cost: %w", lot.ID, err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (t *txRepository) InsertLot(ctx context.Context, lot StockLot) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_lots (item_id, location_id, received_at, qty, available_qty, unit_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id`,
		lot.ItemID, lot.LocationID, lot.ReceivedAt,
		lot.Qty.String(), lot.AvailableQty.String(), lot.UnitCost.String()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("stock: insert lot: %w", err)
	}
	return id, nil
}

func (t *txRepository) DepleteLot(ctx context.Context, lotID int64, newAvailable decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE stock_lots SET available_qty = $2 WHERE id = $1`,
		lotID, newAvailable.String())
	if err != nil {
		return fmt.Errorf("stock: deplete lot %d: %w", lotID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock: lot %d not found", lotID)
	}
	return nil
}

func (t *txRepository) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	var lotID any
	if m.LotID != 0 {
		lotID = m.LotID
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_movements (type, item_id, location_id, qty, unit_cost, total_cost, lot_id, ref_doc_type, ref_doc_number, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		string(m.Type), m.ItemID, m.LocationID,
		m.Qty.String(), m.UnitCost.String(), m.TotalCost.String(),
		lotID, m.RefDocType, m.RefDocNumber, m.OccurredAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("stock: insert movement: %w", err)
	}
	return id, nil
}

func (t *txRepository) AllowNegativeStock(ctx context.Context, locationID int64) (bool, error) {
	var allow bool
	err := t.tx.QueryRow(ctx, `
		SELECT allow_negative_stock FROM locations WHERE id = $1`, locationID).Scan(&allow)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("stock: location %d: %w", locationID, err)
	}
	return allow, nil
}
