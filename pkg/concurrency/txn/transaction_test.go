package txn

import (
	"testing"

	"dbkernel/pkg/dberrors"
	"dbkernel/pkg/primitives"
)

func TestNew_StartsGrowing(t *testing.T) {
	tx := New(ReadCommitted)
	if tx.State() != Growing {
		t.Errorf("expected new transaction to start GROWING, got %v", tx.State())
	}
}

func TestAbort_RecordsReason(t *testing.T) {
	tx := New(RepeatableRead)
	tx.Abort(dberrors.AbortDeadlock)

	if tx.State() != Aborted {
		t.Errorf("expected ABORTED, got %v", tx.State())
	}
	if tx.AbortReason() != dberrors.AbortDeadlock {
		t.Errorf("expected AbortDeadlock, got %v", tx.AbortReason())
	}
}

func TestTableLockBookkeeping(t *testing.T) {
	tx := New(RepeatableRead)
	table := primitives.TableID(7)

	tx.AddTableLock(Shared, table)
	mode, ok := tx.TableLockMode(table)
	if !ok || mode != Shared {
		t.Fatalf("expected Shared lock recorded, got %v, %v", mode, ok)
	}

	tx.RemoveTableLock(Shared, table)
	if _, ok := tx.TableLockMode(table); ok {
		t.Error("expected table lock removed")
	}
}

func TestRowLockBookkeeping(t *testing.T) {
	tx := New(RepeatableRead)
	table := primitives.TableID(1)
	row := primitives.RowID(42)

	tx.AddRowLock(Exclusive, table, row)
	if !tx.HasAnyRowLockOnTable(table) {
		t.Error("expected row lock to register under table")
	}

	mode, ok := tx.RowLockMode(table, row)
	if !ok || mode != Exclusive {
		t.Fatalf("expected Exclusive row lock, got %v, %v", mode, ok)
	}

	tx.RemoveRowLock(Exclusive, table, row)
	if tx.HasAnyRowLockOnTable(table) {
		t.Error("expected row lock cleared")
	}
}

func TestLockModeCompatibility(t *testing.T) {
	cases := []struct {
		a, b LockMode
		want bool
	}{
		{Shared, Shared, true},
		{Shared, IntentionShared, true},
		{Shared, Exclusive, false},
		{IntentionExclusive, IntentionExclusive, true},
		{SharedIntentionExclusive, IntentionShared, true},
		{SharedIntentionExclusive, Shared, false},
		{Exclusive, IntentionShared, false},
	}
	for _, c := range cases {
		if got := Compatible(c.a, c.b); got != c.want {
			t.Errorf("Compatible(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestUpgradeTransitions(t *testing.T) {
	allowed := [][2]LockMode{
		{IntentionShared, Shared},
		{IntentionShared, Exclusive},
		{Shared, Exclusive},
		{Shared, SharedIntentionExclusive},
		{IntentionExclusive, Exclusive},
		{SharedIntentionExclusive, Exclusive},
	}
	for _, pair := range allowed {
		if !CanUpgrade(pair[0], pair[1]) {
			t.Errorf("expected %v -> %v to be an allowed upgrade", pair[0], pair[1])
		}
	}

	disallowed := [][2]LockMode{
		{Exclusive, SharedIntentionExclusive},
		{SharedIntentionExclusive, Shared},
		{Shared, IntentionShared},
	}
	for _, pair := range disallowed {
		if CanUpgrade(pair[0], pair[1]) {
			t.Errorf("expected %v -> %v to be disallowed", pair[0], pair[1])
		}
	}
}
