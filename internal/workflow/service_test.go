package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/matching"
	"github.com/meridian-erp/meridian-erp/internal/registry"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/tolerance"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeDocs backs both the workflow registry port and the matching engine.
type fakeDocs struct {
	po        registry.PurchaseOrder
	poLines   []registry.PurchaseOrderLine
	grLines   []registry.GoodsReceiptLine
	invoice   registry.SupplierInvoice
	invLines  []registry.SupplierInvoiceLine
	updates   []registry.UpdateInvoiceStatusInput
	updateErr error
}

func (f *fakeDocs) GetPurchaseOrder(context.Context, int64) (registry.PurchaseOrder, []registry.PurchaseOrderLine, error) {
	return f.po, f.poLines, nil
}

func (f *fakeDocs) GetGoodsReceiptLinesByPO(context.Context, int64) ([]registry.GoodsReceiptLine, error) {
	return f.grLines, nil
}

func (f *fakeDocs) GetInvoiceLinesByPO(context.Context, int64) ([]registry.SupplierInvoiceLine, error) {
	return f.invLines, nil
}

func (f *fakeDocs) GetSupplierInvoice(context.Context, int64) (registry.SupplierInvoice, []registry.SupplierInvoiceLine, error) {
	return f.invoice, f.invLines, nil
}

func (f *fakeDocs) GetPOIDForInvoice(context.Context, int64) (int64, error) {
	return f.po.ID, nil
}

func (f *fakeDocs) UpdateInvoiceMatchStatus(_ context.Context, input registry.UpdateInvoiceStatusInput) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, input)
	f.invoice.Status = input.Status
	f.invoice.Version++
	return nil
}

type fakeLedger struct {
	posted []ledger.PostingInput
	fail   error
}

func (f *fakeLedger) PostEntry(_ context.Context, input ledger.PostingInput) (ledger.JournalEntry, error) {
	if f.fail != nil {
		return ledger.JournalEntry{}, f.fail
	}
	if err := input.Validate(); err != nil {
		return ledger.JournalEntry{}, err
	}
	f.posted = append(f.posted, input)
	return ledger.JournalEntry{
		ID:          int64(len(f.posted)),
		EntryNumber: "JE-1",
		Status:      ledger.EntryPosted,
	}, nil
}

type fakeRecorder struct {
	records []DecisionRecord
}

func (f *fakeRecorder) RecordDecision(_ context.Context, record DecisionRecord) error {
	f.records = append(f.records, record)
	return nil
}

func defaultPolicy() tolerance.Policy {
	return tolerance.Policy{
		QuantityTolerancePercent: dec("5"),
		PriceTolerancePercent:    dec("2"),
		AmountTolerancePercent:   dec("5"),
		ZeroBaseFallbackAmount:   dec("10"),
	}
}

// matchedDocs models a fully settled procurement cycle: PO 100 units at $10,
// all received and accepted, invoiced at the agreed price plus $100 tax.
func matchedDocs() *fakeDocs {
	grLineID := int64(31)
	return &fakeDocs{
		po: registry.PurchaseOrder{
			ID: 1, Number: "PO-100", SupplierID: 7, Currency: "USD",
			OrderedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		poLines: []registry.PurchaseOrderLine{
			{ID: 21, POID: 1, ItemID: 9, Qty: dec("100"), UnitPrice: dec("10")},
		},
		grLines: []registry.GoodsReceiptLine{
			{ID: 31, GRID: 41, POLineID: 21, QtyReceived: dec("100"), QtyRejected: dec("0"),
				UnitCost: dec("10"), QualityStatus: registry.QualityAccepted,
				ReceivedAt: time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)},
		},
		invoice: registry.SupplierInvoice{
			ID: 51, Number: "SI-900", SupplierID: 7, Currency: "USD",
			TaxAmount: dec("100"), Status: registry.MatchStatusPending, Version: 1,
		},
		invLines: []registry.SupplierInvoiceLine{
			{ID: 61, InvoiceID: 51, GRLineID: &grLineID, Qty: dec("100"), UnitPrice: dec("10")},
		},
	}
}

func newWorkflow(docs *fakeDocs, gl *fakeLedger) *Service {
	return NewService(docs, matching.NewService(docs), gl, nil, defaultPolicy(), nil, nil)
}

func TestApproveCleanMatchPostsPayable(t *testing.T) {
	docs := matchedDocs()
	gl := &fakeLedger{}
	svc := newWorkflow(docs, gl)

	decision, err := svc.ApproveMatching(context.Background(), ApproveInput{
		InvoiceID: 51, ExpectedVersion: 1, ActorID: 5,
	})
	require.NoError(t, err)
	require.Equal(t, registry.MatchStatusApproved, decision.Status)
	require.True(t, decision.Tolerance.WithinTolerance)
	require.NotNil(t, decision.Entry)

	require.Len(t, docs.updates, 1)
	require.Equal(t, registry.MatchStatusApproved, docs.updates[0].Status)
	require.Equal(t, int64(1), docs.updates[0].ExpectedVersion)

	require.Len(t, gl.posted, 1)
	posting := gl.posted[0]
	require.Equal(t, ledger.AccountGRClearing, posting.Lines[0].AccountCode)
	require.True(t, posting.Lines[0].Debit.Equal(dec("1000")))
	require.Equal(t, ledger.AccountPayable, posting.Lines[len(posting.Lines)-1].AccountCode)
	require.True(t, posting.Lines[len(posting.Lines)-1].Credit.Equal(dec("1100")))
}

func TestApproveBlockedByVariance(t *testing.T) {
	docs := matchedDocs()
	// Invoice 10 units over what was received: 110 vs 100 is a 10% gap,
	// past the 5% quantity tolerance.
	docs.invLines[0].Qty = dec("110")
	gl := &fakeLedger{}
	svc := newWorkflow(docs, gl)

	_, err := svc.ApproveMatching(context.Background(), ApproveInput{InvoiceID: 51, ActorID: 5})

	var blocked *VarianceBlockedError
	require.ErrorAs(t, err, &blocked)
	require.Len(t, blocked.Exceptions, 1)
	require.Equal(t, matching.KindQuantityOverMatch, blocked.Exceptions[0].Discrepancy.Kind)
	require.Empty(t, docs.updates)
	require.Empty(t, gl.posted)
}

func TestApproveOverrideRequiresReason(t *testing.T) {
	svc := newWorkflow(matchedDocs(), &fakeLedger{})

	_, err := svc.ApproveMatching(context.Background(), ApproveInput{
		InvoiceID: 51, ActorID: 5, Override: true,
	})
	require.ErrorIs(t, err, ErrReasonRequired)
}

func TestApproveOverrideLandsWithVariance(t *testing.T) {
	docs := matchedDocs()
	docs.invLines[0].Qty = dec("110")
	gl := &fakeLedger{}
	svc := newWorkflow(docs, gl)

	decision, err := svc.ApproveMatching(context.Background(), ApproveInput{
		InvoiceID: 51, ActorID: 5, Override: true, Reason: "supplier credit note agreed",
	})
	require.NoError(t, err)
	require.Equal(t, registry.MatchStatusApprovedWithVariance, decision.Status)
	require.Len(t, gl.posted, 1)
	require.Equal(t, "supplier credit note agreed", docs.updates[0].Reason)
}

func TestApproveAlreadyDecided(t *testing.T) {
	docs := matchedDocs()
	docs.invoice.Status = registry.MatchStatusApproved
	svc := newWorkflow(docs, &fakeLedger{})

	_, err := svc.ApproveMatching(context.Background(), ApproveInput{InvoiceID: 51, ActorID: 5})
	require.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestApproveStaleVersion(t *testing.T) {
	docs := matchedDocs()
	docs.updateErr = shared.ErrStaleState
	gl := &fakeLedger{}
	svc := newWorkflow(docs, gl)

	_, err := svc.ApproveMatching(context.Background(), ApproveInput{
		InvoiceID: 51, ExpectedVersion: 1, ActorID: 5,
	})
	require.ErrorIs(t, err, shared.ErrStaleState)
	require.Empty(t, gl.posted)
}

func TestRejectRequiresReason(t *testing.T) {
	svc := newWorkflow(matchedDocs(), &fakeLedger{})

	_, err := svc.RejectMatching(context.Background(), RejectInput{InvoiceID: 51, ActorID: 5})
	require.ErrorIs(t, err, ErrReasonRequired)
}

func TestDecisionsLandInApprovalTrail(t *testing.T) {
	docs := matchedDocs()
	recorder := &fakeRecorder{}
	svc := newWorkflow(docs, &fakeLedger{})
	svc.WithRecorder(recorder)

	_, err := svc.ApproveMatching(context.Background(), ApproveInput{InvoiceID: 51, ActorID: 5})
	require.NoError(t, err)

	require.Len(t, recorder.records, 1)
	require.Equal(t, registry.MatchStatusApproved, recorder.records[0].Status)
	require.Equal(t, int64(5), recorder.records[0].ActorID)
}

func TestRejectDerivesRequiredActions(t *testing.T) {
	docs := matchedDocs()
	docs.invLines[0].UnitPrice = dec("11") // 10% over the agreed price
	gl := &fakeLedger{}
	svc := newWorkflow(docs, gl)

	decision, err := svc.RejectMatching(context.Background(), RejectInput{
		InvoiceID: 51, ActorID: 5, Reason: "price not as agreed",
	})
	require.NoError(t, err)
	require.Equal(t, registry.MatchStatusRejected, decision.Status)
	require.Empty(t, gl.posted)

	require.Len(t, docs.updates, 1)
	require.Equal(t, registry.MatchStatusRejected, docs.updates[0].Status)
	require.NotEmpty(t, docs.updates[0].RequiredActions)
	require.Contains(t, docs.updates[0].RequiredActions[0], "align the invoice price")
}
