package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/registry"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// AccountOpeningBalance receives the offset of opening stock layers.
const AccountOpeningBalance = "3000"

var one = decimal.NewFromInt(1)

// ReceiptPosting debits inventory and credits goods-received clearing; the
// clearing balance is released when the supplier invoice is approved.
func ReceiptPosting(result stock.MutationResult, reference string, actorID int64) PostingInput {
	return twoLinePosting(AccountInventory, AccountGRClearing, result.TotalCost(),
		fmt.Sprintf("Goods receipt %s", reference), reference, actorID)
}

// IssuePosting moves the FIFO cost of issued stock into cost of goods sold.
func IssuePosting(result stock.MutationResult, reference string, actorID int64) PostingInput {
	return twoLinePosting(AccountCOGS, AccountInventory, result.TotalCost(),
		fmt.Sprintf("Stock issue %s", reference), reference, actorID)
}

// OpeningPosting offsets opening stock against the opening balance account.
func OpeningPosting(result stock.MutationResult, reference string, actorID int64) PostingInput {
	return twoLinePosting(AccountInventory, AccountOpeningBalance, result.TotalCost(),
		fmt.Sprintf("Opening stock %s", reference), reference, actorID)
}

// AdjustmentPosting books write-ups against and write-downs to the inventory
// adjustment account, by the sign of the mutation.
func AdjustmentPosting(result stock.MutationResult, reference string, actorID int64) PostingInput {
	cost := result.TotalCost()
	writeDown := len(result.Movements) > 0 && result.Movements[0].Qty.IsNegative()
	if writeDown {
		return twoLinePosting(AccountInvAdjustment, AccountInventory, cost,
			fmt.Sprintf("Stock write-down %s", reference), reference, actorID)
	}
	return twoLinePosting(AccountInventory, AccountInvAdjustment, cost,
		fmt.Sprintf("Stock write-up %s", reference), reference, actorID)
}

// InvoiceApprovalPosting releases goods-received clearing into accounts
// payable, splitting out input tax, once the three-way match is approved.
func InvoiceApprovalPosting(invoice registry.SupplierInvoice, lines []registry.SupplierInvoiceLine, exchangeRate decimal.Decimal, actorID int64) PostingInput {
	net := decimal.Zero
	for _, line := range lines {
		net = net.Add(line.Total())
	}
	gross := net.Add(invoice.TaxAmount)

	input := PostingInput{
		Description:  fmt.Sprintf("Supplier invoice %s approved", invoice.Number),
		Reference:    fmt.Sprintf("INV:%s", invoice.Number),
		Currency:     invoice.Currency,
		ExchangeRate: exchangeRate,
		ActorID:      actorID,
		Lines: []PostingLine{
			{AccountCode: AccountGRClearing, Debit: net},
		},
	}
	if invoice.TaxAmount.IsPositive() {
		input.Lines = append(input.Lines, PostingLine{AccountCode: AccountInputTax, Debit: invoice.TaxAmount})
	}
	input.Lines = append(input.Lines, PostingLine{AccountCode: AccountPayable, Credit: gross})
	return input
}

func twoLinePosting(debitAccount, creditAccount string, amount decimal.Decimal, description, reference string, actorID int64) PostingInput {
	return PostingInput{
		Description:  description,
		Reference:    reference,
		ExchangeRate: one,
		ActorID:      actorID,
		Lines: []PostingLine{
			{AccountCode: debitAccount, Debit: amount},
			{AccountCode: creditAccount, Credit: amount},
		},
	}
}

// StockIntegration posts the journal entry matching each committed stock
// mutation. Transfers relocate cost without changing it, so they post nothing.
type StockIntegration struct {
	ledger *Service
	logger *slog.Logger
}

// NewStockIntegration wires the posting engine behind the stock service.
func NewStockIntegration(ledger *Service, logger *slog.Logger) *StockIntegration {
	return &StockIntegration{ledger: ledger, logger: logger}
}

// HandleStockMutation implements stock.IntegrationHandler.
func (h *StockIntegration) HandleStockMutation(ctx context.Context, mutationType stock.MovementType, result stock.MutationResult) error {
	if len(result.Movements) == 0 || result.TotalCost().IsZero() {
		return nil
	}
	reference := result.Movements[0].RefDocNumber
	actorID := int64(0)

	var input PostingInput
	switch mutationType {
	case stock.MovementStockIn:
		input = ReceiptPosting(result, reference, actorID)
	case stock.MovementStockOut:
		input = IssuePosting(result, reference, actorID)
	case stock.MovementOpening:
		input = OpeningPosting(result, reference, actorID)
	case stock.MovementAdjustment:
		input = AdjustmentPosting(result, reference, actorID)
	case stock.MovementTransfer:
		return nil
	default:
		return fmt.Errorf("ledger: unhandled stock mutation %s", mutationType)
	}

	entry, err := h.ledger.PostEntry(ctx, input)
	if err != nil {
		h.logger.Error("stock mutation posting failed",
			slog.String("mutation", string(mutationType)),
			slog.String("reference", reference),
			slog.Any("error", err))
		return err
	}
	h.logger.Info("stock mutation posted",
		slog.String("mutation", string(mutationType)),
		slog.String("entry_number", entry.EntryNumber),
		slog.String("reference", reference))
	return nil
}
