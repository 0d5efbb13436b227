package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts journal storage.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, id int64) (JournalEntry, error)
	ListAccountMovements(ctx context.Context, accountCode string, from, to time.Time) ([]AccountMovement, error)
}

// TxRepository exposes journal writes inside one transaction. An entry and
// its lines commit together or not at all.
type TxRepository interface {
	InsertEntry(ctx context.Context, entry JournalEntry) (int64, error)
	InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error
	HasReversal(ctx context.Context, entryID int64) (bool, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service posts and reverses journal entries.
type Service struct {
	repo         RepositoryPort
	audit        AuditPort
	idempotency  *shared.IdempotencyStore
	baseCurrency string
	now          func() time.Time
}

// NewService builds the posting engine.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, baseCurrency string) *Service {
	return &Service{
		repo:         repo,
		audit:        audit,
		idempotency:  idem,
		baseCurrency: baseCurrency,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostEntry validates and posts a journal entry atomically. Nothing persists
// when validation or any insert fails.
func (s *Service) PostEntry(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	currency := input.Currency
	if currency == "" {
		currency = s.baseCurrency
	}

	insertedKey := false
	key := ""
	if s.idempotency != nil && input.Reference != "" {
		key = fmt.Sprintf("POST:%s", input.Reference)
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			return JournalEntry{}, err
		}
		insertedKey = true
	}

	now := s.now()
	entry := JournalEntry{
		EntryNumber:  fmt.Sprintf("JE-%d", now.UnixNano()),
		Description:  input.Description,
		Reference:    input.Reference,
		Currency:     currency,
		ExchangeRate: input.ExchangeRate,
		Status:       EntryPosted,
		OccurredAt:   now,
		PostedBy:     input.ActorID,
		PostedAt:     now,
		Lines:        buildLines(input),
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		for i := range entry.Lines {
			entry.Lines[i].EntryID = id
		}
		return tx.InsertLines(ctx, id, entry.Lines)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return JournalEntry{}, err
	}

	s.recordAudit(ctx, input.ActorID, "ledger.post", entry)
	return entry, nil
}

// ReverseEntry posts a mirror entry that nets the original to zero. The
// original stays untouched; posted entries are never edited.
func (s *Service) ReverseEntry(ctx context.Context, entryID, actorID int64, reason string) (JournalEntry, error) {
	original, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	if original.Status != EntryPosted {
		return JournalEntry{}, ErrEntryNotPosted
	}

	now := s.now()
	reversal := JournalEntry{
		EntryNumber:  fmt.Sprintf("JE-%d", now.UnixNano()),
		Description:  fmt.Sprintf("Reversal of %s: %s", original.EntryNumber, reason),
		Reference:    original.Reference,
		Currency:     original.Currency,
		ExchangeRate: original.ExchangeRate,
		Status:       EntryPosted,
		ReversalOfID: &original.ID,
		OccurredAt:   now,
		PostedBy:     actorID,
		PostedAt:     now,
	}
	for _, line := range original.Lines {
		reversal.Lines = append(reversal.Lines, JournalLine{
			AccountCode: line.AccountCode,
			Memo:        line.Memo,
			Debit:       line.Credit,
			Credit:      line.Debit,
			BaseDebit:   line.BaseCredit,
			BaseCredit:  line.BaseDebit,
		})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reversed, err := tx.HasReversal(ctx, original.ID)
		if err != nil {
			return err
		}
		if reversed {
			return ErrAlreadyReversed
		}
		id, err := tx.InsertEntry(ctx, reversal)
		if err != nil {
			return err
		}
		reversal.ID = id
		for i := range reversal.Lines {
			reversal.Lines[i].EntryID = id
		}
		return tx.InsertLines(ctx, id, reversal.Lines)
	})
	if err != nil {
		return JournalEntry{}, err
	}

	s.recordAudit(ctx, actorID, "ledger.reverse", reversal)
	return reversal, nil
}

// GetEntry loads one journal entry with its lines.
func (s *Service) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	return s.repo.GetEntry(ctx, entryID)
}

// GetAccountActivity lists posted movements for one account over a range.
func (s *Service) GetAccountActivity(ctx context.Context, accountCode string, from, to time.Time) (AccountActivity, error) {
	if accountCode == "" {
		return AccountActivity{}, ErrMissingAccount
	}
	movements, err := s.repo.ListAccountMovements(ctx, accountCode, from, to)
	if err != nil {
		return AccountActivity{}, err
	}
	activity := AccountActivity{
		AccountCode: accountCode,
		From:        from,
		To:          to,
		Movements:   movements,
		TotalDebit:  decimal.Zero,
		TotalCredit: decimal.Zero,
	}
	for _, m := range movements {
		activity.TotalDebit = activity.TotalDebit.Add(m.Debit)
		activity.TotalCredit = activity.TotalCredit.Add(m.Credit)
	}
	return activity, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entry JournalEntry) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta: map[string]any{
			"entry_number": entry.EntryNumber,
			"reference":    entry.Reference,
			"currency":     entry.Currency,
		},
	})
}
