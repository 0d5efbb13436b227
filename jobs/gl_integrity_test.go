package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeIntegritySource struct {
	unbalanced []UnbalancedEntry
	missing    []MissingPayable
}

func (f *fakeIntegritySource) ScanUnbalanced(context.Context) ([]UnbalancedEntry, error) {
	return f.unbalanced, nil
}

func (f *fakeIntegritySource) ScanMissingPayables(context.Context) ([]MissingPayable, error) {
	return f.missing, nil
}

func TestGLIntegrityCleanLedgerPasses(t *testing.T) {
	checker := NewGLIntegrityCheckerWithSource(&fakeIntegritySource{}, nil, nil)
	require.NoError(t, checker.Handle(context.Background(), nil))
}

func TestGLIntegrityFlagsUnbalancedEntries(t *testing.T) {
	source := &fakeIntegritySource{
		unbalanced: []UnbalancedEntry{{EntryID: 7, EntryNumber: "JE-7", Difference: "0.01"}},
	}
	checker := NewGLIntegrityCheckerWithSource(source, nil, nil)

	err := checker.Handle(context.Background(), nil)
	require.ErrorContains(t, err, "1 unbalanced entries")
}

func TestGLIntegrityFlagsApprovedInvoiceWithoutPayable(t *testing.T) {
	// An approval whose payable posting failed after the status transition
	// committed: the invoice is terminally approved, the journal is silent.
	source := &fakeIntegritySource{
		missing: []MissingPayable{{InvoiceID: 51, InvoiceNumber: "SI-2026-051", Status: "APPROVED"}},
	}
	checker := NewGLIntegrityCheckerWithSource(source, nil, nil)

	err := checker.Handle(context.Background(), nil)
	require.ErrorContains(t, err, "1 missing payables")
}
