package lock

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dbkernel/pkg/concurrency/txn"
	"dbkernel/pkg/dberrors"
	"dbkernel/pkg/logging"
)

// runDeadlockDetector wakes every detectInterval and resolves cycles in
// the waits-for graph until none remain, per spec 4.5: "repeat until no
// cycle remains within this pass."
func (m *Manager) runDeadlockDetector() {
	ticker := time.NewTicker(m.detectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			for m.resolveOneCycle() {
			}
		}
	}
}

type edgePair struct {
	waiter, holder *txn.Transaction
}

// allQueues snapshots every table and row queue under both lock-map
// mutexes, per spec 4.5: "under both lock-map mutexes, rebuild the
// waits-for graph."
func (m *Manager) allQueues() []*queue {
	m.tableMu.Lock()
	m.rowMu.Lock()
	defer m.rowMu.Unlock()
	defer m.tableMu.Unlock()

	queues := make([]*queue, 0, len(m.tableQueues)+len(m.rowQueues))
	for _, q := range m.tableQueues {
		queues = append(queues, q)
	}
	for _, q := range m.rowQueues {
		queues = append(queues, q)
	}
	return queues
}

// queueEdges returns the waits-for edges implied by one queue: every
// ungranted, non-aborted request has an edge to each earlier,
// non-aborted, incompatible request.
func queueEdges(q *queue) []edgePair {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []edgePair
	for i, req := range q.requests {
		if req.granted || req.txn.State() == txn.Aborted {
			continue
		}
		for j := 0; j < i; j++ {
			earlier := q.requests[j]
			if earlier.txn.State() == txn.Aborted {
				continue
			}
			if !txn.Compatible(earlier.mode, req.mode) {
				out = append(out, edgePair{waiter: req.txn, holder: earlier.txn})
			}
		}
	}
	return out
}

// buildGraph rebuilds the waits-for graph, fanning per-queue edge
// extraction out across an errgroup since every queue's edges are
// independent of every other queue's.
func buildGraph(queues []*queue) (map[txn.ID]map[txn.ID]bool, map[txn.ID]*txn.Transaction) {
	var mu sync.Mutex
	edges := make(map[txn.ID]map[txn.ID]bool)
	nodes := make(map[txn.ID]*txn.Transaction)

	var g errgroup.Group
	g.SetLimit(8)

	for _, q := range queues {
		q := q
		g.Go(func() error {
			local := queueEdges(q)
			if len(local) == 0 {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, e := range local {
				if edges[e.waiter.ID()] == nil {
					edges[e.waiter.ID()] = make(map[txn.ID]bool)
				}
				edges[e.waiter.ID()][e.holder.ID()] = true
				nodes[e.waiter.ID()] = e.waiter
				nodes[e.holder.ID()] = e.holder
			}
			return nil
		})
	}
	_ = g.Wait()

	return edges, nodes
}

// dfsFindCycle runs depth-first search from start, visiting neighbors
// in ascending transaction-id order, returning the cycle (in path
// order) on the first back edge found.
func dfsFindCycle(start txn.ID, edges map[txn.ID]map[txn.ID]bool, visited map[txn.ID]bool) []txn.ID {
	var path []txn.ID
	inStack := make(map[txn.ID]bool)

	var dfs func(node txn.ID) []txn.ID
	dfs = func(node txn.ID) []txn.ID {
		visited[node] = true
		inStack[node] = true
		path = append(path, node)

		neighbors := make([]txn.ID, 0, len(edges[node]))
		for n := range edges[node] {
			neighbors = append(neighbors, n)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

		for _, next := range neighbors {
			if inStack[next] {
				for i, v := range path {
					if v == next {
						cycle := make([]txn.ID, len(path)-i)
						copy(cycle, path[i:])
						return cycle
					}
				}
			}
			if !visited[next] {
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}

		inStack[node] = false
		path = path[:len(path)-1]
		return nil
	}

	return dfs(start)
}

// resolveOneCycle finds at most one cycle in the current waits-for
// graph and aborts its youngest (largest-id) transaction, reporting
// whether a cycle was found.
func (m *Manager) resolveOneCycle() bool {
	queues := m.allQueues()
	edges, nodes := buildGraph(queues)

	ids := make([]txn.ID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	visited := make(map[txn.ID]bool)
	for _, start := range ids {
		if visited[start] {
			continue
		}
		cycle := dfsFindCycle(start, edges, visited)
		if cycle == nil {
			continue
		}

		victimID := cycle[0]
		for _, id := range cycle {
			if id > victimID {
				victimID = id
			}
		}
		victim := nodes[victimID]
		m.abortVictim(victim, queues)
		logging.WithComponent("lock").Info("deadlock detected", "victim", victim.ID().String())
		return true
	}
	return false
}

// abortVictim marks victim ABORTED, strips its requests from every
// queue, clears any upgrading marker it held, and wakes every queue it
// touched.
func (m *Manager) abortVictim(victim *txn.Transaction, queues []*queue) {
	victim.Abort(dberrors.AbortDeadlock)

	for _, q := range queues {
		q.mu.Lock()
		if q.upgrading == victim {
			q.upgrading = nil
		}
		before := len(q.requests)
		removeRequestForTxn(q, victim)
		if len(q.requests) != before {
			grantWaiting(q)
			q.cond.Broadcast()
		}
		q.mu.Unlock()
	}
}
