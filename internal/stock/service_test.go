package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/registry"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type fakeRepo struct {
	lots          []StockLot
	movements     []StockMovement
	nextLotID     int64
	nextMoveID    int64
	allowNegative map[int64]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{allowNegative: map[int64]bool{}}
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	lotsBefore := make([]StockLot, len(r.lots))
	copy(lotsBefore, r.lots)
	movesBefore := make([]StockMovement, len(r.movements))
	copy(movesBefore, r.movements)

	if err := fn(ctx, (*fakeTx)(r)); err != nil {
		r.lots = lotsBefore
		r.movements = movesBefore
		return err
	}
	return nil
}

type fakeTx fakeRepo

func (t *fakeTx) ListLotsForUpdate(_ context.Context, itemID, locationID int64) ([]StockLot, error) {
	var out []StockLot
	for _, lot := range t.lots {
		if lot.ItemID == itemID && lot.LocationID == locationID && lot.AvailableQty.IsPositive() {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (t *fakeTx) InsertLot(_ context.Context, lot StockLot) (int64, error) {
	t.nextLotID++
	lot.ID = t.nextLotID
	t.lots = append(t.lots, lot)
	return lot.ID, nil
}

func (t *fakeTx) DepleteLot(_ context.Context, lotID int64, newAvailable decimal.Decimal) error {
	for i := range t.lots {
		if t.lots[i].ID == lotID {
			t.lots[i].AvailableQty = newAvailable
			return nil
		}
	}
	return errors.New("lot not found")
}

func (t *fakeTx) InsertMovement(_ context.Context, m StockMovement) (int64, error) {
	t.nextMoveID++
	m.ID = t.nextMoveID
	t.movements = append(t.movements, m)
	return m.ID, nil
}

func (t *fakeTx) AllowNegativeStock(_ context.Context, locationID int64) (bool, error) {
	return t.allowNegative[locationID], nil
}

type fakeRegistry struct {
	fulfilment registry.POLineFulfilment
	err        error
}

func (f *fakeRegistry) GetPOLineFulfilment(context.Context, int64) (registry.POLineFulfilment, error) {
	return f.fulfilment, f.err
}

type fakeIntegration struct {
	calls []MovementType
	err   error
}

func (f *fakeIntegration) HandleStockMutation(_ context.Context, mutationType MovementType, _ MutationResult) error {
	f.calls = append(f.calls, mutationType)
	return f.err
}

func seedLot(repo *fakeRepo, id int64, receivedAt string, available, unitCost string) {
	l := lot(id, receivedAt, available, unitCost)
	repo.lots = append(repo.lots, l)
	if id > repo.nextLotID {
		repo.nextLotID = id
	}
}

func newStockService(repo *fakeRepo, reg RegistryPort, cfg ServiceConfig) *Service {
	s := NewService(repo, reg, nil, nil, cfg, nil)
	s.WithNow(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	return s
}

func TestReceiveStockCreatesLotAndMovement(t *testing.T) {
	repo := newFakeRepo()
	svc := newStockService(repo, nil, ServiceConfig{})

	result, err := svc.ReceiveStock(context.Background(), ReceiveInput{
		ItemID:       7,
		LocationID:   1,
		Qty:          dec("100"),
		UnitCost:     dec("10"),
		RefDocType:   "GR",
		RefDocNumber: "GR-0042",
	})
	require.NoError(t, err)
	require.Len(t, result.Lots, 1)
	require.Len(t, result.Movements, 1)

	m := result.Movements[0]
	require.Equal(t, MovementStockIn, m.Type)
	require.True(t, m.Qty.Equal(dec("100")))
	require.True(t, m.TotalCost.Equal(dec("1000")))
	require.Equal(t, result.Lots[0].ID, m.LotID)
	require.Equal(t, "GR-0042", m.RefDocNumber)

	require.Len(t, repo.lots, 1)
	require.True(t, repo.lots[0].AvailableQty.Equal(dec("100")))
}

func TestReceiveStockRejectsBadInput(t *testing.T) {
	svc := newStockService(newFakeRepo(), nil, ServiceConfig{})

	_, err := svc.ReceiveStock(context.Background(), ReceiveInput{ItemID: 1, LocationID: 1, Qty: dec("0"), UnitCost: dec("10")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ReceiveStock(context.Background(), ReceiveInput{ItemID: 1, LocationID: 1, Qty: dec("5"), UnitCost: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestReceiveStockBlocksOverReceipt(t *testing.T) {
	repo := newFakeRepo()
	reg := &fakeRegistry{fulfilment: registry.POLineFulfilment{
		OrderedQty:  dec("100"),
		ReceivedQty: dec("0"),
	}}
	svc := newStockService(repo, reg, ServiceConfig{})

	_, err := svc.ReceiveStock(context.Background(), ReceiveInput{
		ItemID:     7,
		LocationID: 1,
		Qty:        dec("150"),
		UnitCost:   dec("10"),
		POLineID:   301,
	})
	require.True(t, shared.IsValidation(err))
	require.Empty(t, repo.lots)
	require.Empty(t, repo.movements)
}

func TestReceiveStockAllowsOverReceiptWithinLimit(t *testing.T) {
	repo := newFakeRepo()
	reg := &fakeRegistry{fulfilment: registry.POLineFulfilment{
		OrderedQty:  dec("100"),
		ReceivedQty: dec("95"),
	}}
	cfg := ServiceConfig{OverReceipt: OverReceiptPolicy{Allow: true, MaxPercent: dec("10")}}
	svc := newStockService(repo, reg, cfg)

	_, err := svc.ReceiveStock(context.Background(), ReceiveInput{
		ItemID: 7, LocationID: 1, Qty: dec("10"), UnitCost: dec("10"), POLineID: 301,
	})
	require.NoError(t, err)

	_, err = svc.ReceiveStock(context.Background(), ReceiveInput{
		ItemID: 7, LocationID: 1, Qty: dec("20"), UnitCost: dec("10"), POLineID: 301,
	})
	require.True(t, shared.IsValidation(err))
}

func TestIssueStockDepletesOldestFirst(t *testing.T) {
	repo := newFakeRepo()
	seedLot(repo, 1, "2025-01-10", "100", "10")
	seedLot(repo, 2, "2025-02-05", "50", "12")
	svc := newStockService(repo, nil, ServiceConfig{})

	result, err := svc.IssueStock(context.Background(), IssueInput{
		ItemID: 1, LocationID: 1, Qty: dec("120"), RefDocType: "SO", RefDocNumber: "SO-15",
	})
	require.NoError(t, err)
	require.Len(t, result.Movements, 2)
	require.True(t, result.Movements[0].Qty.Equal(dec("-100")))
	require.True(t, result.Movements[1].Qty.Equal(dec("-20")))
	require.True(t, result.TotalCost().Equal(dec("1240")))

	require.True(t, repo.lots[0].AvailableQty.IsZero())
	require.True(t, repo.lots[1].AvailableQty.Equal(dec("30")))
}

func TestIssueStockInsufficientFailsWithoutPersisting(t *testing.T) {
	repo := newFakeRepo()
	seedLot(repo, 1, "2025-01-10", "30", "10")
	svc := newStockService(repo, nil, ServiceConfig{})

	_, err := svc.IssueStock(context.Background(), IssueInput{ItemID: 1, LocationID: 1, Qty: dec("45")})

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Requested.Equal(dec("45")))
	require.True(t, insufficient.Available.Equal(dec("30")))
	require.Empty(t, repo.movements)
	require.True(t, repo.lots[0].AvailableQty.Equal(dec("30")))
}

func TestIssueStockNegativeOverride(t *testing.T) {
	repo := newFakeRepo()
	repo.allowNegative[1] = true
	seedLot(repo, 1, "2025-01-10", "30", "10")
	svc := newStockService(repo, nil, ServiceConfig{})

	result, err := svc.IssueStock(context.Background(), IssueInput{ItemID: 1, LocationID: 1, Qty: dec("45")})
	require.NoError(t, err)
	require.Len(t, result.Movements, 2)

	uncovered := result.Movements[1]
	require.True(t, uncovered.Qty.Equal(dec("-15")))
	require.Zero(t, uncovered.LotID)
}

func TestAdjustStock(t *testing.T) {
	repo := newFakeRepo()
	seedLot(repo, 1, "2025-01-10", "50", "10")
	svc := newStockService(repo, nil, ServiceConfig{})

	_, err := svc.AdjustStock(context.Background(), AdjustInput{ItemID: 1, LocationID: 1, Delta: dec("0")})
	require.ErrorIs(t, err, ErrZeroDelta)

	up, err := svc.AdjustStock(context.Background(), AdjustInput{
		ItemID: 1, LocationID: 1, Delta: dec("5"), UnitCost: dec("11"), RefDocNumber: "ADJ-1",
	})
	require.NoError(t, err)
	require.Equal(t, MovementAdjustment, up.Movements[0].Type)
	require.Len(t, repo.lots, 2)

	down, err := svc.AdjustStock(context.Background(), AdjustInput{
		ItemID: 1, LocationID: 1, Delta: dec("-10"), RefDocNumber: "ADJ-2",
	})
	require.NoError(t, err)
	require.True(t, down.Movements[0].Qty.Equal(dec("-10")))
	require.True(t, repo.lots[0].AvailableQty.Equal(dec("40")))
}

func TestTransferStockPreservesCostBasis(t *testing.T) {
	repo := newFakeRepo()
	seedLot(repo, 1, "2025-01-10", "40", "10")
	seedLot(repo, 2, "2025-02-05", "40", "12")
	svc := newStockService(repo, nil, ServiceConfig{})

	_, err := svc.TransferStock(context.Background(), TransferInput{
		ItemID: 1, FromLocation: 1, ToLocation: 1, Qty: dec("10"),
	})
	require.ErrorIs(t, err, ErrSameLocation)

	result, err := svc.TransferStock(context.Background(), TransferInput{
		ItemID: 1, FromLocation: 1, ToLocation: 2, Qty: dec("50"), RefDocNumber: "TR-9",
	})
	require.NoError(t, err)
	// 40 out of lot 1, 10 out of lot 2, recreated at location 2.
	require.Len(t, result.Movements, 4)

	var destLots []StockLot
	for _, l := range repo.lots {
		if l.LocationID == 2 {
			destLots = append(destLots, l)
		}
	}
	require.Len(t, destLots, 2)
	require.True(t, destLots[0].UnitCost.Equal(dec("10")))
	require.Equal(t, "2025-01-10", destLots[0].ReceivedAt.Format("2006-01-02"))
	require.True(t, destLots[1].UnitCost.Equal(dec("12")))
	require.True(t, destLots[1].AvailableQty.Equal(dec("10")))
}

func TestTransferStockInsufficientSource(t *testing.T) {
	repo := newFakeRepo()
	seedLot(repo, 1, "2025-01-10", "20", "10")
	svc := newStockService(repo, nil, ServiceConfig{})

	_, err := svc.TransferStock(context.Background(), TransferInput{
		ItemID: 1, FromLocation: 1, ToLocation: 2, Qty: dec("25"),
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Empty(t, repo.movements)
}

func TestStockMutationNotifiesIntegration(t *testing.T) {
	repo := newFakeRepo()
	integration := &fakeIntegration{}
	svc := NewService(repo, nil, nil, nil, ServiceConfig{}, integration)

	_, err := svc.ReceiveStock(context.Background(), ReceiveInput{
		ItemID: 1, LocationID: 1, Qty: dec("10"), UnitCost: dec("3"), RefDocNumber: "GR-1",
	})
	require.NoError(t, err)

	seedLot(repo, 99, "2025-01-01", "10", "3")
	_, err = svc.IssueStock(context.Background(), IssueInput{ItemID: 1, LocationID: 1, Qty: dec("5")})
	require.NoError(t, err)

	require.Equal(t, []MovementType{MovementStockIn, MovementStockOut}, integration.calls)
}
