package lock

import (
	"testing"
	"time"

	"dbkernel/pkg/concurrency/txn"
	"dbkernel/pkg/primitives"
)

func newTestManager() *Manager {
	return NewManager(10 * time.Millisecond)
}

func TestLockTable_SharedThenShared(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	table := primitives.TableID(1)
	t1 := txn.New(txn.RepeatableRead)
	t2 := txn.New(txn.RepeatableRead)

	if err := m.LockTable(t1, txn.Shared, table); err != nil {
		t.Fatalf("t1 lock S: %v", err)
	}
	if err := m.LockTable(t2, txn.Shared, table); err != nil {
		t.Fatalf("t2 lock S: %v", err)
	}
}

func TestLockTable_ExclusiveExcludesOthers(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	table := primitives.TableID(1)
	t1 := txn.New(txn.RepeatableRead)
	t2 := txn.New(txn.RepeatableRead)

	if err := m.LockTable(t1, txn.Exclusive, table); err != nil {
		t.Fatalf("t1 lock X: %v", err)
	}

	granted := make(chan error, 1)
	go func() { granted <- m.LockTable(t2, txn.Shared, table) }()

	select {
	case <-granted:
		t.Fatal("expected t2 to block behind t1's exclusive lock")
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.UnlockTable(t1, table); err != nil {
		t.Fatalf("unlock t1: %v", err)
	}

	select {
	case err := <-granted:
		if err != nil {
			t.Fatalf("t2 lock S after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("t2 never granted after t1 released")
	}
}

func TestLockRow_RequiresTableLock(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	table := primitives.TableID(1)
	tx := txn.New(txn.RepeatableRead)

	err := m.LockRow(tx, txn.Exclusive, table, primitives.RowID(1))
	if err == nil {
		t.Fatal("expected LockRow without a table lock to abort")
	}
	if tx.State() != txn.Aborted {
		t.Errorf("expected transaction aborted, got %v", tx.State())
	}
}

func TestLockRow_IntentionModeRejected(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	table := primitives.TableID(1)
	tx := txn.New(txn.RepeatableRead)
	if err := m.LockTable(tx, txn.IntentionExclusive, table); err != nil {
		t.Fatalf("table lock: %v", err)
	}

	if err := m.LockRow(tx, txn.IntentionExclusive, table, primitives.RowID(1)); err == nil {
		t.Fatal("expected intention lock on a row to be rejected")
	}
}

// Scenario: lock upgrade preserves FIFO against a newer waiter.
func TestLockUpgrade_PreservesFIFO(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	table := primitives.TableID(9)
	t1 := txn.New(txn.RepeatableRead)
	t2 := txn.New(txn.RepeatableRead)
	t3 := txn.New(txn.RepeatableRead)

	if err := m.LockTable(t1, txn.Shared, table); err != nil {
		t.Fatalf("t1 S: %v", err)
	}

	t2Done := make(chan error, 1)
	go func() { t2Done <- m.LockTable(t2, txn.Exclusive, table) }()
	time.Sleep(20 * time.Millisecond)

	t3Done := make(chan error, 1)
	go func() { t3Done <- m.LockTable(t3, txn.Shared, table) }()
	time.Sleep(20 * time.Millisecond)

	upgradeDone := make(chan error, 1)
	go func() { upgradeDone <- m.LockTable(t1, txn.Exclusive, table) }()

	// The upgrade drops t1's own S request and re-enters ahead of the
	// waiting t2 and t3; nothing earlier in the queue is incompatible, so
	// it is granted without t1 releasing anything.
	select {
	case err := <-upgradeDone:
		if err != nil {
			t.Fatalf("t1 upgrade: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("t1 upgrade never granted")
	}
	if mode, ok := t1.TableLockMode(table); !ok || mode != txn.Exclusive {
		t.Fatalf("expected t1 to hold X after upgrade, got %v, %v", mode, ok)
	}

	select {
	case err := <-t2Done:
		t.Fatalf("t2 should still be blocked on t1's upgraded X, got %v", err)
	default:
	}

	if err := m.UnlockTable(t1, table); err != nil {
		t.Fatalf("t1 release X: %v", err)
	}

	select {
	case err := <-t2Done:
		if err != nil {
			t.Fatalf("t2 grant: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("t2 never granted after t1's upgraded X released")
	}

	if err := m.UnlockTable(t2, table); err != nil {
		t.Fatalf("t2 release: %v", err)
	}

	select {
	case err := <-t3Done:
		if err != nil {
			t.Fatalf("t3 grant: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("t3 never granted after t2 released")
	}
}

// Scenario: T1 holds X on R1 and waits for X on R2; T2 holds X on R2 and
// waits for X on R1. The detector must abort the younger transaction and
// let the survivor acquire both.
func TestDeadlockDetection_AbortsYoungestAndUnblocksSurvivor(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	table := primitives.TableID(1)
	t1 := txn.New(txn.RepeatableRead)
	t2 := txn.New(txn.RepeatableRead)
	row1 := primitives.RowID(1)
	row2 := primitives.RowID(2)

	for _, tx := range []*txn.Transaction{t1, t2} {
		if err := m.LockTable(tx, txn.IntentionExclusive, table); err != nil {
			t.Fatalf("table lock: %v", err)
		}
	}

	if err := m.LockRow(t1, txn.Exclusive, table, row1); err != nil {
		t.Fatalf("t1 X row1: %v", err)
	}
	if err := m.LockRow(t2, txn.Exclusive, table, row2); err != nil {
		t.Fatalf("t2 X row2: %v", err)
	}

	t1Wait := make(chan error, 1)
	go func() { t1Wait <- m.LockRow(t1, txn.Exclusive, table, row2) }()
	time.Sleep(20 * time.Millisecond)

	t2Wait := make(chan error, 1)
	go func() { t2Wait <- m.LockRow(t2, txn.Exclusive, table, row1) }()

	select {
	case err := <-t2Wait:
		if err == nil {
			t.Fatal("expected the younger transaction t2 to be aborted by the deadlock detector")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock detector never resolved the cycle")
	}

	select {
	case err := <-t1Wait:
		if err != nil {
			t.Fatalf("survivor t1 should acquire row2 after t2 is aborted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("survivor t1 never acquired row2")
	}
}

// Scenario: under read-uncommitted, a shared-lock request must abort
// immediately without enqueuing.
func TestIsolationGuard_ReadUncommittedRejectsShared(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	table := primitives.TableID(3)
	tx := txn.New(txn.ReadUncommitted)

	if err := m.LockTable(tx, txn.Shared, table); err == nil {
		t.Fatal("expected shared lock request under read-uncommitted to abort")
	}
	if tx.State() != txn.Aborted {
		t.Errorf("expected ABORTED, got %v", tx.State())
	}
}

func TestUnlockTable_RefusedWhileRowLockHeld(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	table := primitives.TableID(4)
	tx := txn.New(txn.RepeatableRead)

	if err := m.LockTable(tx, txn.IntentionExclusive, table); err != nil {
		t.Fatalf("table lock: %v", err)
	}
	if err := m.LockRow(tx, txn.Exclusive, table, primitives.RowID(1)); err != nil {
		t.Fatalf("row lock: %v", err)
	}

	if err := m.UnlockTable(tx, table); err == nil {
		t.Fatal("expected table unlock to be refused while a row lock is held")
	}
}
