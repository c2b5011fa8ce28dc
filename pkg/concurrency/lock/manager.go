package lock

import (
	"sync"
	"time"

	"dbkernel/pkg/concurrency/txn"
	"dbkernel/pkg/dberrors"
	"dbkernel/pkg/logging"
	"dbkernel/pkg/primitives"
)

type rowKey struct {
	table primitives.TableID
	row   primitives.RowID
}

// Manager is the hierarchical lock manager: two independently-latched
// lock maps (table and row), each holding one FIFO queue per resource,
// plus a background deadlock detector. Per spec 5's lock ordering rule
// (lock-map -> queue-latch -> txn-latch), every method takes a
// lock-map mutex only long enough to get-or-create a queue, then
// operates on the queue's own latch.
type Manager struct {
	tableMu     sync.Mutex
	tableQueues map[primitives.TableID]*queue

	rowMu     sync.Mutex
	rowQueues map[rowKey]*queue

	detectInterval time.Duration
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewManager starts a lock manager whose deadlock detector scans every
// interval.
func NewManager(interval time.Duration) *Manager {
	m := &Manager{
		tableQueues:    make(map[primitives.TableID]*queue),
		rowQueues:      make(map[rowKey]*queue),
		detectInterval: interval,
		stopCh:         make(chan struct{}),
	}
	go m.runDeadlockDetector()
	return m
}

// Stop halts the background deadlock detector. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) getTableQueue(table primitives.TableID) *queue {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	q, ok := m.tableQueues[table]
	if !ok {
		q = newQueue()
		m.tableQueues[table] = q
	}
	return q
}

func (m *Manager) getRowQueue(table primitives.TableID, row primitives.RowID) *queue {
	key := rowKey{table: table, row: row}
	m.rowMu.Lock()
	defer m.rowMu.Unlock()
	q, ok := m.rowQueues[key]
	if !ok {
		q = newQueue()
		m.rowQueues[key] = q
	}
	return q
}

// acquireOn runs the queue-local acquisition protocol: append or
// upgrade a request, kick the granting algorithm, and block on the
// queue's condition variable until granted or the transaction aborts.
func acquireOn(q *queue, t *txn.Transaction, mode txn.LockMode, prevMode txn.LockMode, isUpgrade bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if isUpgrade {
		if !txn.CanUpgrade(prevMode, mode) {
			t.Abort(dberrors.AbortIncompatibleUpgrade)
			return newAbortedErr(t)
		}
		if q.upgrading != nil && q.upgrading != t {
			t.Abort(dberrors.AbortUpgradeConflict)
			return newAbortedErr(t)
		}
		removeRequestForTxn(q, t)
		q.upgrading = t

		req := &request{txn: t, mode: mode}
		insertAtFirstUngranted(q, req)
		grantWaiting(q)

		for !req.granted && t.State() != txn.Aborted {
			q.cond.Wait()
		}
		q.upgrading = nil

		if t.State() == txn.Aborted {
			removeRequestObj(q, req)
			grantWaiting(q)
			q.cond.Broadcast()
			return newAbortedErr(t)
		}
		return nil
	}

	req := &request{txn: t, mode: mode}
	q.requests = append(q.requests, req)
	grantWaiting(q)

	for !req.granted && t.State() != txn.Aborted {
		q.cond.Wait()
	}

	if t.State() == txn.Aborted {
		removeRequestObj(q, req)
		grantWaiting(q)
		q.cond.Broadcast()
		return newAbortedErr(t)
	}
	return nil
}

// LockTable acquires (or upgrades to) mode on table, blocking until
// granted, denied by isolation rules, or the transaction is aborted by
// the deadlock detector.
func (m *Manager) LockTable(t *txn.Transaction, mode txn.LockMode, table primitives.TableID) error {
	if cur, ok := t.TableLockMode(table); ok && cur == mode {
		return nil
	}
	if err := checkIsolation(t, mode); err != nil {
		return err
	}

	q := m.getTableQueue(table)
	prevMode, hadLock := t.TableLockMode(table)

	if err := acquireOn(q, t, mode, prevMode, hadLock); err != nil {
		return err
	}

	if hadLock {
		t.RemoveTableLock(prevMode, table)
	}
	t.AddTableLock(mode, table)
	logging.WithLock(int(t.ID()), table.String()).Debug("table lock granted", "mode", mode.String())
	return nil
}

// UnlockTable releases t's lock on table. Refuses if t holds no lock
// on table, or still holds a row lock belonging to it.
func (m *Manager) UnlockTable(t *txn.Transaction, table primitives.TableID) error {
	mode, ok := t.TableLockMode(table)
	if !ok {
		t.Abort(dberrors.AbortUnlockNoLockHeld)
		return newAbortedErr(t)
	}
	if t.HasAnyRowLockOnTable(table) {
		t.Abort(dberrors.AbortTableUnlockedBeforeRow)
		return newAbortedErr(t)
	}

	q := m.getTableQueue(table)
	q.mu.Lock()
	removeRequestForTxn(q, t)
	grantWaiting(q)
	q.cond.Broadcast()
	q.mu.Unlock()

	t.RemoveTableLock(mode, table)
	adjustStateOnUnlock(t, mode)
	return nil
}

// LockRow acquires (or upgrades to) mode on (table, row). Row locks
// are restricted to Shared and Exclusive, and require the transaction
// to already hold a compatible table-level lock.
func (m *Manager) LockRow(t *txn.Transaction, mode txn.LockMode, table primitives.TableID, row primitives.RowID) error {
	if cur, ok := t.RowLockMode(table, row); ok && cur == mode {
		return nil
	}
	if mode != txn.Shared && mode != txn.Exclusive {
		t.Abort(dberrors.AbortAttemptedIntentionLock)
		return newAbortedErr(t)
	}
	if err := checkIsolation(t, mode); err != nil {
		return err
	}
	if err := checkRowPrerequisite(t, mode, table); err != nil {
		return err
	}

	q := m.getRowQueue(table, row)
	prevMode, hadLock := t.RowLockMode(table, row)

	if err := acquireOn(q, t, mode, prevMode, hadLock); err != nil {
		return err
	}

	if hadLock {
		t.RemoveRowLock(prevMode, table, row)
	}
	t.AddRowLock(mode, table, row)
	return nil
}

// UnlockRow releases t's lock on (table, row).
func (m *Manager) UnlockRow(t *txn.Transaction, table primitives.TableID, row primitives.RowID) error {
	mode, ok := t.RowLockMode(table, row)
	if !ok {
		t.Abort(dberrors.AbortUnlockNoLockHeld)
		return newAbortedErr(t)
	}

	q := m.getRowQueue(table, row)
	q.mu.Lock()
	removeRequestForTxn(q, t)
	grantWaiting(q)
	q.cond.Broadcast()
	q.mu.Unlock()

	t.RemoveRowLock(mode, table, row)
	adjustStateOnUnlock(t, mode)
	return nil
}

// checkRowPrerequisite enforces the multilevel-locking precondition: an
// X row lock requires X/IX/SIX on the table; an S row lock requires any
// table lock at all.
func checkRowPrerequisite(t *txn.Transaction, mode txn.LockMode, table primitives.TableID) error {
	tableMode, hasTable := t.TableLockMode(table)
	if mode == txn.Exclusive {
		ok := hasTable && (tableMode == txn.Exclusive || tableMode == txn.IntentionExclusive || tableMode == txn.SharedIntentionExclusive)
		if !ok {
			t.Abort(dberrors.AbortTableLockNotPresent)
			return newAbortedErr(t)
		}
		return nil
	}

	if !hasTable {
		t.Abort(dberrors.AbortTableLockNotPresent)
		return newAbortedErr(t)
	}
	return nil
}
