package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeRepo struct {
	entries []JournalEntry
	nextID  int64
	// staleReversalRead makes HasReversal miss existing reversals, the way a
	// concurrent transaction's snapshot would.
	staleReversalRead bool
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := make([]JournalEntry, len(r.entries))
	copy(before, r.entries)
	if err := fn(ctx, (*fakeTx)(r)); err != nil {
		r.entries = before
		return err
	}
	return nil
}

func (r *fakeRepo) GetEntry(_ context.Context, id int64) (JournalEntry, error) {
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return JournalEntry{}, ErrEntryNotFound
}

func (r *fakeRepo) ListAccountMovements(_ context.Context, accountCode string, from, to time.Time) ([]AccountMovement, error) {
	var out []AccountMovement
	for _, e := range r.entries {
		if e.Status != EntryPosted || e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountCode == accountCode {
				out = append(out, AccountMovement{
					EntryID:     e.ID,
					EntryNumber: e.EntryNumber,
					Description: e.Description,
					Reference:   e.Reference,
					OccurredAt:  e.OccurredAt,
					Debit:       l.Debit,
					Credit:      l.Credit,
				})
			}
		}
	}
	return out, nil
}

type fakeTx fakeRepo

func (t *fakeTx) InsertEntry(_ context.Context, entry JournalEntry) (int64, error) {
	// Mirrors the partial unique index on reversal_of_id.
	if entry.ReversalOfID != nil {
		for _, e := range t.entries {
			if e.ReversalOfID != nil && *e.ReversalOfID == *entry.ReversalOfID {
				return 0, ErrAlreadyReversed
			}
		}
	}
	t.nextID++
	entry.ID = t.nextID
	t.entries = append(t.entries, entry)
	return entry.ID, nil
}

func (t *fakeTx) InsertLines(_ context.Context, entryID int64, lines []JournalLine) error {
	for i := range t.entries {
		if t.entries[i].ID == entryID {
			t.entries[i].Lines = lines
			return nil
		}
	}
	return ErrEntryNotFound
}

func (t *fakeTx) HasReversal(_ context.Context, entryID int64) (bool, error) {
	if t.staleReversalRead {
		return false, nil
	}
	for _, e := range t.entries {
		if e.ReversalOfID != nil && *e.ReversalOfID == entryID {
			return true, nil
		}
	}
	return false, nil
}

func balancedInput() PostingInput {
	return PostingInput{
		Description:  "Goods receipt GR-0042",
		Reference:    "GR-0042",
		Currency:     "USD",
		ExchangeRate: dec("1"),
		ActorID:      5,
		Lines: []PostingLine{
			{AccountCode: AccountInventory, Debit: dec("1000")},
			{AccountCode: AccountGRClearing, Credit: dec("1000")},
		},
	}
}

func TestPostingInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PostingInput)
		wantErr error
	}{
		{"balanced passes", func(*PostingInput) {}, nil},
		{"single line", func(in *PostingInput) { in.Lines = in.Lines[:1] }, ErrTooFewLines},
		{"zero rate", func(in *PostingInput) { in.ExchangeRate = decimal.Zero }, ErrInvalidRate},
		{"missing account", func(in *PostingInput) { in.Lines[0].AccountCode = "" }, ErrMissingAccount},
		{"negative amount", func(in *PostingInput) { in.Lines[0].Debit = dec("-5") }, ErrNegativeAmount},
		{"both sides", func(in *PostingInput) { in.Lines[0].Credit = dec("1") }, ErrBothSides},
		{"empty line", func(in *PostingInput) { in.Lines[0].Debit = decimal.Zero }, ErrEmptyLine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := balancedInput()
			tt.mutate(&in)
			err := in.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPostingInputValidateUnbalanced(t *testing.T) {
	in := balancedInput()
	in.Lines[1].Credit = dec("999.99")

	err := in.Validate()

	var unbalanced *UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	require.True(t, unbalanced.TotalDebit.Equal(dec("1000")))
	require.True(t, unbalanced.TotalCredit.Equal(dec("999.99")))
}

func TestPostEntryPersistsAtomically(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, "USD")

	entry, err := svc.PostEntry(context.Background(), balancedInput())
	require.NoError(t, err)
	require.Equal(t, EntryPosted, entry.Status)
	require.NotEmpty(t, entry.EntryNumber)
	require.Len(t, entry.Lines, 2)
	require.Len(t, repo.entries, 1)
}

func TestPostEntryRejectsUnbalancedWithoutPersisting(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, "USD")

	in := balancedInput()
	in.Lines[0].Debit = dec("1200")

	_, err := svc.PostEntry(context.Background(), in)

	var unbalanced *UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	require.Empty(t, repo.entries)
}

func TestPostEntryBaseCurrencyBalances(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, "USD")

	in := PostingInput{
		Description:  "multi-line FX entry",
		Currency:     "EUR",
		ExchangeRate: dec("1.1"),
		Lines: []PostingLine{
			{AccountCode: AccountInventory, Debit: dec("33.33")},
			{AccountCode: AccountInputTax, Debit: dec("33.33")},
			{AccountCode: AccountPayable, Credit: dec("66.66")},
		},
	}

	entry, err := svc.PostEntry(context.Background(), in)
	require.NoError(t, err)

	baseDebit := decimal.Zero
	baseCredit := decimal.Zero
	for _, line := range entry.Lines {
		baseDebit = baseDebit.Add(line.BaseDebit)
		baseCredit = baseCredit.Add(line.BaseCredit)
	}
	require.True(t, baseDebit.Equal(baseCredit), "base debit %s vs credit %s", baseDebit, baseCredit)
}

func TestReverseEntryNetsToZero(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, "USD")

	original, err := svc.PostEntry(context.Background(), balancedInput())
	require.NoError(t, err)

	reversal, err := svc.ReverseEntry(context.Background(), original.ID, 9, "duplicate receipt")
	require.NoError(t, err)
	require.NotNil(t, reversal.ReversalOfID)
	require.Equal(t, original.ID, *reversal.ReversalOfID)

	for i, line := range reversal.Lines {
		require.True(t, line.Debit.Equal(original.Lines[i].Credit))
		require.True(t, line.Credit.Equal(original.Lines[i].Debit))
	}

	net := decimal.Zero
	for _, e := range repo.entries {
		for _, l := range e.Lines {
			net = net.Add(l.Debit).Sub(l.Credit)
		}
	}
	require.True(t, net.IsZero())
}

func TestReverseEntryOnlyOnce(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, "USD")

	original, err := svc.PostEntry(context.Background(), balancedInput())
	require.NoError(t, err)

	_, err = svc.ReverseEntry(context.Background(), original.ID, 9, "first")
	require.NoError(t, err)

	_, err = svc.ReverseEntry(context.Background(), original.ID, 9, "second")
	require.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestReverseEntryRaceCaughtByUniqueIndex(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, "USD")

	original, err := svc.PostEntry(context.Background(), balancedInput())
	require.NoError(t, err)

	_, err = svc.ReverseEntry(context.Background(), original.ID, 9, "first")
	require.NoError(t, err)

	// A second reversal whose snapshot predates the first: HasReversal sees
	// nothing, the insert collides with the unique index instead.
	repo.staleReversalRead = true
	_, err = svc.ReverseEntry(context.Background(), original.ID, 9, "concurrent")
	require.ErrorIs(t, err, ErrAlreadyReversed)

	reversals := 0
	for _, e := range repo.entries {
		if e.ReversalOfID != nil {
			reversals++
		}
	}
	require.Equal(t, 1, reversals)
}

func TestReverseEntryUnknown(t *testing.T) {
	svc := NewService(&fakeRepo{}, nil, nil, "USD")

	_, err := svc.ReverseEntry(context.Background(), 404, 9, "nope")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestGetAccountActivity(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, "USD")
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC) })

	_, err := svc.PostEntry(context.Background(), balancedInput())
	require.NoError(t, err)

	in := balancedInput()
	in.Reference = "GR-0043"
	in.Lines[0].Debit = dec("250")
	in.Lines[1].Credit = dec("250")
	_, err = svc.PostEntry(context.Background(), in)
	require.NoError(t, err)

	activity, err := svc.GetAccountActivity(context.Background(), AccountInventory,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, activity.Movements, 2)
	require.True(t, activity.TotalDebit.Equal(dec("1250")))
	require.True(t, activity.TotalCredit.IsZero())
	require.True(t, activity.Net().Equal(dec("1250")))
}
