package ledger

import (
	"github.com/shopspring/decimal"
)

// PostingLine is one debit or credit in entry currency.
type PostingLine struct {
	AccountCode string
	Memo        string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// PostingInput describes a journal entry to post. Every entry, whether typed
// by an accountant or generated from a stock mutation, goes through Validate
// before it can touch the ledger.
type PostingInput struct {
	Description  string
	Reference    string
	Currency     string
	ExchangeRate decimal.Decimal
	ActorID      int64
	Lines        []PostingLine
}

// Validate is the single choke point for the double-entry invariant: at least
// two lines, each carrying exactly one non-negative side, and total debits
// equal to total credits.
func (in PostingInput) Validate() error {
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	if !in.ExchangeRate.IsPositive() {
		return ErrInvalidRate
	}
	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for _, line := range in.Lines {
		if line.AccountCode == "" {
			return ErrMissingAccount
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return ErrNegativeAmount
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return ErrBothSides
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return ErrEmptyLine
		}
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}
	if !totalDebit.Equal(totalCredit) {
		return &UnbalancedError{Currency: in.Currency, TotalDebit: totalDebit, TotalCredit: totalCredit}
	}
	return nil
}

// buildLines converts posting lines to journal lines, translating each into
// base currency. Per-line base amounts are rounded to 2 decimals and the
// rounding residue lands on the last line of each side, so the base totals
// balance whenever the entry totals do.
func buildLines(in PostingInput) []JournalLine {
	lines := make([]JournalLine, len(in.Lines))
	residueDebit := decimal.Zero
	residueCredit := decimal.Zero
	lastDebit, lastCredit := -1, -1

	for i, pl := range in.Lines {
		baseDebit := pl.Debit.Mul(in.ExchangeRate).Round(2)
		baseCredit := pl.Credit.Mul(in.ExchangeRate).Round(2)
		lines[i] = JournalLine{
			AccountCode: pl.AccountCode,
			Memo:        pl.Memo,
			Debit:       pl.Debit,
			Credit:      pl.Credit,
			BaseDebit:   baseDebit,
			BaseCredit:  baseCredit,
		}
		residueDebit = residueDebit.Add(baseDebit)
		residueCredit = residueCredit.Add(baseCredit)
		if pl.Debit.IsPositive() {
			lastDebit = i
		}
		if pl.Credit.IsPositive() {
			lastCredit = i
		}
	}

	diff := residueDebit.Sub(residueCredit)
	switch {
	case diff.IsPositive() && lastCredit >= 0:
		lines[lastCredit].BaseCredit = lines[lastCredit].BaseCredit.Add(diff)
	case diff.IsNegative() && lastDebit >= 0:
		lines[lastDebit].BaseDebit = lines[lastDebit].BaseDebit.Add(diff.Neg())
	}
	return lines
}
