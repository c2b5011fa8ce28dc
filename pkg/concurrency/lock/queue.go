// Package lock implements the hierarchical multi-granularity lock
// manager: table and row locks with IS/IX/S/X/SIX compatibility,
// isolation-level-aware acquisition, FIFO per-resource queues guarded
// by condition variables, lock upgrades, and a background deadlock
// detector. Adapted from the teacher's pkg/concurrency/lock (LockTable,
// WaitQueue, DependencyGraph) but generalized from page-level
// shared/exclusive locking to table+row multi-granularity locking with
// condition-variable waiters instead of polling-with-backoff.
package lock

import (
	"sync"

	"dbkernel/pkg/concurrency/txn"
)

// request is one transaction's request for a lock on a resource
// (a table or a row), tracked in a queue local to that resource.
type request struct {
	txn     *txn.Transaction
	mode    txn.LockMode
	granted bool
}

// queue is the FIFO request list for one resource (one table, or one
// row), guarded by its own mutex and condition variable, per spec
// 4.5/5: "per-queue mutex protects the request list and its condvar."
type queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*request
	upgrading *txn.Transaction
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// removeRequestForTxn deletes t's request from the queue, if present.
// Caller must hold q.mu.
func removeRequestForTxn(q *queue, t *txn.Transaction) {
	for i, r := range q.requests {
		if r.txn == t {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// removeRequestObj deletes a specific request pointer from the queue.
// Caller must hold q.mu.
func removeRequestObj(q *queue, req *request) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// insertAtFirstUngranted inserts req just before the first ungranted
// request in the queue, so an upgrader jumps ahead of non-upgrading
// waiters but not ahead of any already-granted request. Caller must
// hold q.mu.
func insertAtFirstUngranted(q *queue, req *request) {
	for i, r := range q.requests {
		if !r.granted {
			q.requests = append(q.requests[:i], append([]*request{req}, q.requests[i:]...)...)
			return
		}
	}
	q.requests = append(q.requests, req)
}

// grantWaiting scans the queue in order and grants every ungranted
// request whose mode is compatible with every earlier non-aborted
// request's mode (granted or not): the FIFO-preserving granting
// algorithm. Caller must hold q.mu; broadcasts if anything changed.
func grantWaiting(q *queue) {
	changed := false
	for i, req := range q.requests {
		if req.granted || req.txn.State() == txn.Aborted {
			continue
		}
		grantable := true
		for j := 0; j < i; j++ {
			earlier := q.requests[j]
			if earlier.txn.State() == txn.Aborted {
				continue
			}
			if !txn.Compatible(earlier.mode, req.mode) {
				grantable = false
				break
			}
		}
		if grantable {
			req.granted = true
			changed = true
		}
	}
	if changed {
		q.cond.Broadcast()
	}
}
