package lock

import (
	"dbkernel/pkg/concurrency/txn"
	"dbkernel/pkg/dberrors"
)

func newAbortedErr(t *txn.Transaction) error {
	return dberrors.NewTxnAbortedError(int64(t.ID()), t.AbortReason())
}

// checkIsolation enforces the isolation-level rules on acquire,
// aborting the transaction and returning a typed error on violation.
func checkIsolation(t *txn.Transaction, mode txn.LockMode) error {
	if t.State() == txn.Aborted {
		return newAbortedErr(t)
	}

	iso := t.IsolationLevel()
	state := t.State()

	switch iso {
	case txn.ReadUncommitted:
		if mode == txn.Shared || mode == txn.IntentionShared || mode == txn.SharedIntentionExclusive {
			t.Abort(dberrors.AbortLockOnReadUncommitted)
			return newAbortedErr(t)
		}
		if state == txn.Shrinking {
			t.Abort(dberrors.AbortLockOnShrinking)
			return newAbortedErr(t)
		}
	case txn.ReadCommitted:
		if state == txn.Shrinking && mode != txn.Shared && mode != txn.IntentionShared {
			t.Abort(dberrors.AbortLockOnShrinking)
			return newAbortedErr(t)
		}
	case txn.RepeatableRead:
		if state == txn.Shrinking {
			t.Abort(dberrors.AbortLockOnShrinking)
			return newAbortedErr(t)
		}
	}
	return nil
}

// adjustStateOnUnlock moves the transaction to SHRINKING according to
// the released mode and isolation level: releasing X always shrinks;
// releasing S shrinks only under repeatable-read; other modes (IS, IX,
// SIX) never change state.
func adjustStateOnUnlock(t *txn.Transaction, mode txn.LockMode) {
	if mode == txn.Exclusive {
		t.SetState(txn.Shrinking)
		return
	}
	if mode == txn.Shared && t.IsolationLevel() == txn.RepeatableRead {
		t.SetState(txn.Shrinking)
	}
}
