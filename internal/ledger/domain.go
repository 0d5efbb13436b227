package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus is the journal entry lifecycle.
type EntryStatus string

const (
	// EntryDraft is editable and has no GL effect.
	EntryDraft EntryStatus = "DRAFT"
	// EntryPosted entries are immutable; corrections go through reversal.
	EntryPosted EntryStatus = "POSTED"
	// EntryCancelled marks a draft abandoned before posting.
	EntryCancelled EntryStatus = "CANCELLED"
)

// Chart of accounts codes used by automatic postings.
const (
	AccountInventory     = "1300"
	AccountInputTax      = "1400"
	AccountPayable       = "2100"
	AccountGRClearing    = "2150"
	AccountCOGS          = "5000"
	AccountInvAdjustment = "7200"
)

// JournalEntry is a balanced set of journal lines.
type JournalEntry struct {
	ID           int64
	EntryNumber  string
	Description  string
	Reference    string
	Currency     string
	ExchangeRate decimal.Decimal
	Status       EntryStatus
	// ReversalOfID links a reversal back to the entry it cancels out.
	ReversalOfID *int64
	OccurredAt   time.Time
	PostedBy     int64
	PostedAt     time.Time
	CreatedAt    time.Time
	Lines        []JournalLine
}

// JournalLine carries amounts in entry currency and in base currency.
type JournalLine struct {
	ID          int64
	EntryID     int64
	AccountCode string
	Memo        string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	BaseDebit   decimal.Decimal
	BaseCredit  decimal.Decimal
}

// AccountMovement is one posted line seen from an account's perspective.
type AccountMovement struct {
	EntryID     int64
	EntryNumber string
	Description string
	Reference   string
	OccurredAt  time.Time
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// AccountActivity summarizes posted movements on one account over a range.
type AccountActivity struct {
	AccountCode string
	From        time.Time
	To          time.Time
	Movements   []AccountMovement
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// Net returns debits minus credits.
func (a AccountActivity) Net() decimal.Decimal {
	return a.TotalDebit.Sub(a.TotalCredit)
}

// UnbalancedError reports a posting whose debits and credits differ.
type UnbalancedError struct {
	Currency    string
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("ledger: entry does not balance in %s: debit %s vs credit %s",
		e.Currency, e.TotalDebit, e.TotalCredit)
}

var (
	// ErrEntryNotFound indicates an unknown journal entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrEntryNotPosted indicates a reversal attempt on a non-posted entry.
	ErrEntryNotPosted = errors.New("ledger: only posted entries can be reversed")
	// ErrAlreadyReversed indicates the entry already has a reversal.
	ErrAlreadyReversed = errors.New("ledger: entry already reversed")
	// ErrTooFewLines indicates fewer than two journal lines.
	ErrTooFewLines = errors.New("ledger: entry requires at least two lines")
	// ErrNegativeAmount indicates a negative debit or credit.
	ErrNegativeAmount = errors.New("ledger: debit and credit amounts must be >= 0")
	// ErrBothSides indicates a line with both debit and credit set.
	ErrBothSides = errors.New("ledger: a line may carry a debit or a credit, not both")
	// ErrEmptyLine indicates a line with neither side set.
	ErrEmptyLine = errors.New("ledger: a line must carry a debit or a credit")
	// ErrMissingAccount indicates a line without an account code.
	ErrMissingAccount = errors.New("ledger: account code required on every line")
	// ErrInvalidRate indicates a non-positive exchange rate.
	ErrInvalidRate = errors.New("ledger: exchange rate must be positive")
)
