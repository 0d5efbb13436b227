package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/registry"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts lot storage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes lot operations inside one transaction. Lot rows for an
// item+location are locked for the duration, which is the serialization
// boundary preventing concurrent over-depletion.
type TxRepository interface {
	ListLotsForUpdate(ctx context.Context, itemID, locationID int64) ([]StockLot, error)
	InsertLot(ctx context.Context, lot StockLot) (int64, error)
	DepleteLot(ctx context.Context, lotID int64, newAvailable decimal.Decimal) error
	InsertMovement(ctx context.Context, m StockMovement) (int64, error)
	AllowNegativeStock(ctx context.Context, locationID int64) (bool, error)
}

// RegistryPort exposes the purchase order read used by over-receipt checks.
type RegistryPort interface {
	GetPOLineFulfilment(ctx context.Context, poLineID int64) (registry.POLineFulfilment, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IntegrationHandler receives every committed mutation, typically to post the
// matching journal entry.
type IntegrationHandler interface {
	HandleStockMutation(ctx context.Context, mutationType MovementType, result MutationResult) error
}

// ServiceConfig groups policy settings.
type ServiceConfig struct {
	OverReceipt OverReceiptPolicy
}

// Service owns the FIFO cost layers for all items and locations.
type Service struct {
	repo        RepositoryPort
	registry    RegistryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	integration IntegrationHandler
	cfg         ServiceConfig
	now         func() time.Time
}

// NewService builds the stock lot manager.
func NewService(repo RepositoryPort, reg RegistryPort, audit AuditPort, idem *shared.IdempotencyStore, cfg ServiceConfig, integration IntegrationHandler) *Service {
	return &Service{
		repo:        repo,
		registry:    reg,
		audit:       audit,
		idempotency: idem,
		integration: integration,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ReceiveStock creates a new cost layer for a goods receipt. Lots are never
// merged: each keeps its own cost basis.
func (s *Service) ReceiveStock(ctx context.Context, input ReceiveInput) (MutationResult, error) {
	if input.ItemID == 0 || input.LocationID == 0 {
		return MutationResult{}, shared.NewValidation("item", "item and location required")
	}
	if !input.Qty.IsPositive() {
		return MutationResult{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return MutationResult{}, ErrInvalidUnitCost
	}
	if err := s.checkOverReceipt(ctx, input); err != nil {
		return MutationResult{}, err
	}
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	lot := StockLot{
		ItemID:       input.ItemID,
		LocationID:   input.LocationID,
		ReceivedAt:   receivedAt,
		Qty:          input.Qty,
		AvailableQty: input.Qty,
		UnitCost:     input.UnitCost,
	}
	return s.createLayer(ctx, MovementStockIn, lot, input.RefDocType, input.RefDocNumber, input.ActorID)
}

// ReceiveOpening loads an opening balance layer.
func (s *Service) ReceiveOpening(ctx context.Context, input OpeningInput) (MutationResult, error) {
	if input.ItemID == 0 || input.LocationID == 0 {
		return MutationResult{}, shared.NewValidation("item", "item and location required")
	}
	if !input.Qty.IsPositive() {
		return MutationResult{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return MutationResult{}, ErrInvalidUnitCost
	}
	asOf := input.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	lot := StockLot{
		ItemID:       input.ItemID,
		LocationID:   input.LocationID,
		ReceivedAt:   asOf,
		Qty:          input.Qty,
		AvailableQty: input.Qty,
		UnitCost:     input.UnitCost,
	}
	return s.createLayer(ctx, MovementOpening, lot, "OPENING", input.RefDocNumber, input.ActorID)
}

// IssueStock depletes the oldest lots first, one movement per touched lot.
// Fails with InsufficientStockError unless the location permits negative
// stock explicitly.
func (s *Service) IssueStock(ctx context.Context, input IssueInput) (MutationResult, error) {
	if input.ItemID == 0 || input.LocationID == 0 {
		return MutationResult{}, shared.NewValidation("item", "item and location required")
	}
	if !input.Qty.IsPositive() {
		return MutationResult{}, ErrInvalidQuantity
	}
	result, err := s.deplete(ctx, MovementStockOut, input.ItemID, input.LocationID, input.Qty, input.RefDocType, input.RefDocNumber)
	if err != nil {
		return MutationResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock.issue", input.ItemID, input.LocationID, input.Qty.Neg())
	if err := s.notify(ctx, MovementStockOut, result); err != nil {
		return MutationResult{}, err
	}
	return result, nil
}

// AdjustStock applies a signed correction: positive deltas create a new lot,
// negative deltas deplete FIFO, tagged as adjustments rather than sales.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (MutationResult, error) {
	if input.ItemID == 0 || input.LocationID == 0 {
		return MutationResult{}, shared.NewValidation("item", "item and location required")
	}
	if input.Delta.IsZero() {
		return MutationResult{}, ErrZeroDelta
	}
	if input.Delta.IsPositive() {
		if input.UnitCost.IsNegative() {
			return MutationResult{}, ErrInvalidUnitCost
		}
		lot := StockLot{
			ItemID:       input.ItemID,
			LocationID:   input.LocationID,
			ReceivedAt:   s.now(),
			Qty:          input.Delta,
			AvailableQty: input.Delta,
			UnitCost:     input.UnitCost,
		}
		return s.createLayer(ctx, MovementAdjustment, lot, "ADJUSTMENT", input.RefDocNumber, input.ActorID)
	}
	result, err := s.deplete(ctx, MovementAdjustment, input.ItemID, input.LocationID, input.Delta.Neg(), "ADJUSTMENT", input.RefDocNumber)
	if err != nil {
		return MutationResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock.adjust", input.ItemID, input.LocationID, input.Delta)
	if err := s.notify(ctx, MovementAdjustment, result); err != nil {
		return MutationResult{}, err
	}
	return result, nil
}

// TransferStock relocates stock, draining the source FIFO and recreating each
// drawn layer at the destination with its original cost basis and receipt
// date.
func (s *Service) TransferStock(ctx context.Context, input TransferInput) (MutationResult, error) {
	if input.ItemID == 0 || input.FromLocation == 0 || input.ToLocation == 0 {
		return MutationResult{}, shared.NewValidation("location", "item and both locations required")
	}
	if input.FromLocation == input.ToLocation {
		return MutationResult{}, ErrSameLocation
	}
	if !input.Qty.IsPositive() {
		return MutationResult{}, ErrInvalidQuantity
	}
	var result MutationResult
	occurredAt := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lots, err := tx.ListLotsForUpdate(ctx, input.ItemID, input.FromLocation)
		if err != nil {
			return err
		}
		draws, remaining := PlanDepletion(lots, input.Qty)
		if remaining.IsPositive() {
			return &InsufficientStockError{
				ItemID:     input.ItemID,
				LocationID: input.FromLocation,
				Requested:  input.Qty,
				Available:  AvailableTotal(lots),
			}
		}
		for _, draw := range draws {
			updated, err := s.applyDraw(ctx, tx, MovementTransfer, draw, input.FromLocation, "TRANSFER", input.RefDocNumber, occurredAt, &result)
			if err != nil {
				return err
			}
			result.Lots = append(result.Lots, updated)

			inLot := StockLot{
				ItemID:       input.ItemID,
				LocationID:   input.ToLocation,
				ReceivedAt:   draw.Lot.ReceivedAt,
				Qty:          draw.Qty,
				AvailableQty: draw.Qty,
				UnitCost:     draw.Lot.UnitCost,
			}
			inLotID, err := tx.InsertLot(ctx, inLot)
			if err != nil {
				return err
			}
			inLot.ID = inLotID
			movement := StockMovement{
				Type:         MovementTransfer,
				ItemID:       input.ItemID,
				LocationID:   input.ToLocation,
				Qty:          draw.Qty,
				UnitCost:     draw.Lot.UnitCost,
				TotalCost:    draw.Qty.Mul(draw.Lot.UnitCost),
				LotID:        inLotID,
				RefDocType:   "TRANSFER",
				RefDocNumber: input.RefDocNumber,
				OccurredAt:   occurredAt,
			}
			movementID, err := tx.InsertMovement(ctx, movement)
			if err != nil {
				return err
			}
			movement.ID = movementID
			result.Movements = append(result.Movements, movement)
			result.Lots = append(result.Lots, inLot)
		}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock.transfer", input.ItemID, input.FromLocation, input.Qty)
	if err := s.notify(ctx, MovementTransfer, result); err != nil {
		return MutationResult{}, err
	}
	return result, nil
}

func (s *Service) checkOverReceipt(ctx context.Context, input ReceiveInput) error {
	if input.POLineID == 0 || s.registry == nil {
		return nil
	}
	fulfilment, err := s.registry.GetPOLineFulfilment(ctx, input.POLineID)
	if err != nil {
		return err
	}
	projected := fulfilment.ReceivedQty.Add(input.Qty)
	if projected.LessThanOrEqual(fulfilment.OrderedQty) {
		return nil
	}
	if !s.cfg.OverReceipt.Allow {
		return shared.NewValidation("quantityReceived",
			fmt.Sprintf("receipt of %s exceeds ordered quantity %s on PO line %d", projected, fulfilment.OrderedQty, input.POLineID))
	}
	if s.cfg.OverReceipt.MaxPercent.IsPositive() {
		limit := fulfilment.OrderedQty.Mul(decimal.NewFromInt(100).Add(s.cfg.OverReceipt.MaxPercent)).Div(decimal.NewFromInt(100))
		if projected.GreaterThan(limit) {
			return shared.NewValidation("quantityReceived",
				fmt.Sprintf("receipt of %s exceeds over-receipt limit %s on PO line %d", projected, limit, input.POLineID))
		}
	}
	return nil
}

func (s *Service) createLayer(ctx context.Context, movementType MovementType, lot StockLot, refType, refNumber string, actorID int64) (MutationResult, error) {
	if refNumber == "" {
		refNumber = fmt.Sprintf("%s-%d", refType, s.now().UnixNano())
	}
	key := fmt.Sprintf("%s:%s:%d:%d", movementType, refNumber, lot.ItemID, lot.LocationID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return MutationResult{}, err
		}
		insertedKey = true
	}
	var result MutationResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lotID, err := tx.InsertLot(ctx, lot)
		if err != nil {
			return err
		}
		lot.ID = lotID
		movement := StockMovement{
			Type:         movementType,
			ItemID:       lot.ItemID,
			LocationID:   lot.LocationID,
			Qty:          lot.Qty,
			UnitCost:     lot.UnitCost,
			TotalCost:    lot.Qty.Mul(lot.UnitCost),
			LotID:        lotID,
			RefDocType:   refType,
			RefDocNumber: refNumber,
			OccurredAt:   s.now(),
		}
		movementID, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = movementID
		result = MutationResult{Movements: []StockMovement{movement}, Lots: []StockLot{lot}}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return MutationResult{}, err
	}
	s.recordAudit(ctx, actorID, fmt.Sprintf("stock.%s", movementType), lot.ItemID, lot.LocationID, lot.Qty)
	if err := s.notify(ctx, movementType, result); err != nil {
		return MutationResult{}, err
	}
	return result, nil
}

func (s *Service) deplete(ctx context.Context, movementType MovementType, itemID, locationID int64, qty decimal.Decimal, refType, refNumber string) (MutationResult, error) {
	var result MutationResult
	occurredAt := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lots, err := tx.ListLotsForUpdate(ctx, itemID, locationID)
		if err != nil {
			return err
		}
		draws, remaining := PlanDepletion(lots, qty)
		if remaining.IsPositive() {
			allowNeg, err := tx.AllowNegativeStock(ctx, locationID)
			if err != nil {
				return err
			}
			if !allowNeg {
				return &InsufficientStockError{
					ItemID:     itemID,
					LocationID: locationID,
					Requested:  qty,
					Available:  AvailableTotal(lots),
				}
			}
		}
		for _, draw := range draws {
			updated, err := s.applyDraw(ctx, tx, movementType, draw, locationID, refType, refNumber, occurredAt, &result)
			if err != nil {
				return err
			}
			result.Lots = append(result.Lots, updated)
		}
		if remaining.IsPositive() {
			// Negative-stock override: the uncovered remainder is not tied
			// to any lot and carries the newest drawn cost.
			unitCost := decimal.Zero
			if len(draws) > 0 {
				unitCost = draws[len(draws)-1].Lot.UnitCost
			}
			movement := StockMovement{
				Type:         movementType,
				ItemID:       itemID,
				LocationID:   locationID,
				Qty:          remaining.Neg(),
				UnitCost:     unitCost,
				TotalCost:    remaining.Mul(unitCost).Neg(),
				RefDocType:   refType,
				RefDocNumber: refNumber,
				OccurredAt:   occurredAt,
			}
			movementID, err := tx.InsertMovement(ctx, movement)
			if err != nil {
				return err
			}
			movement.ID = movementID
			result.Movements = append(result.Movements, movement)
		}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	return result, nil
}

func (s *Service) applyDraw(ctx context.Context, tx TxRepository, movementType MovementType, draw LotDraw, locationID int64, refType, refNumber string, occurredAt time.Time, result *MutationResult) (StockLot, error) {
	newAvailable := draw.Lot.AvailableQty.Sub(draw.Qty)
	if err := tx.DepleteLot(ctx, draw.Lot.ID, newAvailable); err != nil {
		return StockLot{}, err
	}
	movement := StockMovement{
		Type:         movementType,
		ItemID:       draw.Lot.ItemID,
		LocationID:   locationID,
		Qty:          draw.Qty.Neg(),
		UnitCost:     draw.Lot.UnitCost,
		TotalCost:    draw.Qty.Mul(draw.Lot.UnitCost).Neg(),
		LotID:        draw.Lot.ID,
		RefDocType:   refType,
		RefDocNumber: refNumber,
		OccurredAt:   occurredAt,
	}
	movementID, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return StockLot{}, err
	}
	movement.ID = movementID
	result.Movements = append(result.Movements, movement)

	updated := draw.Lot
	updated.AvailableQty = newAvailable
	return updated, nil
}

func (s *Service) notify(ctx context.Context, movementType MovementType, result MutationResult) error {
	if s.integration == nil {
		return nil
	}
	return s.integration.HandleStockMutation(ctx, movementType, result)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, itemID, locationID int64, qty decimal.Decimal) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_lot",
		EntityID: fmt.Sprintf("%d:%d", itemID, locationID),
		Meta: map[string]any{
			"item_id":     itemID,
			"location_id": locationID,
			"qty":         qty.String(),
		},
	})
}
