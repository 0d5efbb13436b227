package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

// GetEntry loads a journal entry and its lines.
func (r *Repository) GetEntry(ctx context.Context, id int64) (JournalEntry, error) {
	var entry JournalEntry
	var rate string
	err := r.pool.QueryRow(ctx, `
		SELECT id, entry_number, description, reference, currency, exchange_rate::text,
		       status, reversal_of_id, occurred_at, posted_by, posted_at, created_at
		FROM journal_entries WHERE id = $1`, id).Scan(
		&entry.ID, &entry.EntryNumber, &entry.Description, &entry.Reference,
		&entry.Currency, &rate, (*string)(&entry.Status), &entry.ReversalOfID,
		&entry.OccurredAt, &entry.PostedBy, &entry.PostedAt, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, fmt.Errorf("ledger: get entry %d: %w", id, err)
	}
	if entry.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return JournalEntry{}, fmt.Errorf("ledger: entry %d exchange_rate: %w", id, err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, entry_id, account_code, memo,
		       debit::text, credit::text, base_debit::text, base_credit::text
		FROM journal_lines WHERE entry_id = $1 ORDER BY id`, id)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("ledger: list lines for entry %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var line JournalLine
		var debit, credit, baseDebit, baseCredit string
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountCode, &line.Memo,
			&debit, &credit, &baseDebit, &baseCredit); err != nil {
			return JournalEntry{}, fmt.Errorf("ledger: scan line: %w", err)
		}
		if line.Debit, err = decimal.NewFromString(debit); err != nil {
			return JournalEntry{}, err
		}
		if line.Credit, err = decimal.NewFromString(credit); err != nil {
			return JournalEntry{}, err
		}
		if line.BaseDebit, err = decimal.NewFromString(baseDebit); err != nil {
			return JournalEntry{}, err
		}
		if line.BaseCredit, err = decimal.NewFromString(baseCredit); err != nil {
			return JournalEntry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

// ListAccountMovements lists posted lines touching one account over a range.
func (r *Repository) ListAccountMovements(ctx context.Context, accountCode string, from, to time.Time) ([]AccountMovement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.entry_number, e.description, e.reference, e.occurred_at,
		       l.debit::text, l.credit::text
		FROM journal_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		WHERE l.account_code = $1
		  AND e.status = 'POSTED'
		  AND e.occurred_at >= $2 AND e.occurred_at < $3
		ORDER BY e.occurred_at, e.id, l.id`, accountCode, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: account movements %s: %w", accountCode, err)
	}
	defer rows.Close()

	var movements []AccountMovement
	for rows.Next() {
		var m AccountMovement
		var debit, credit string
		if err := rows.Scan(&m.EntryID, &m.EntryNumber, &m.Description, &m.Reference,
			&m.OccurredAt, &debit, &credit); err != nil {
			return nil, fmt.Errorf("ledger: scan movement: %w", err)
		}
		if m.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, err
		}
		if m.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) InsertEntry(ctx context.Context, entry JournalEntry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO journal_entries (entry_number, description, reference, currency, exchange_rate, status, reversal_of_id, occurred_at, posted_by, posted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id`,
		entry.EntryNumber, entry.Description, entry.Reference, entry.Currency,
		entry.ExchangeRate.String(), string(entry.Status), entry.ReversalOfID,
		entry.OccurredAt, entry.PostedBy, entry.PostedAt).Scan(&id)
	if err != nil {
		// The partial unique index on journal_entries.reversal_of_id backs
		// the in-transaction HasReversal check: two reversals racing past it
		// in separate snapshots collide here instead of both posting.
		var pgErr *pgconn.PgError
		if entry.ReversalOfID != nil && errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrAlreadyReversed
		}
		return 0, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return id, nil
}

func (t *txRepository) InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	for _, line := range lines {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO journal_lines (entry_id, account_code, memo, debit, credit, base_debit, base_credit)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			entryID, line.AccountCode, line.Memo,
			line.Debit.String(), line.Credit.String(),
			line.BaseDebit.String(), line.BaseCredit.String())
		if err != nil {
			return fmt.Errorf("ledger: insert line for entry %d: %w", entryID, err)
		}
	}
	return nil
}

func (t *txRepository) HasReversal(ctx context.Context, entryID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM journal_entries WHERE reversal_of_id = $1)`, entryID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger: reversal check for entry %d: %w", entryID, err)
	}
	return exists, nil
}
