package memory

import (
	"container/heap"

	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

// pqItem is a pending job plus the monotonic sequence that makes the
// queue stable within a priority tier.
type pqItem struct {
	j     *job.Job
	seq   uint64
	index int
}

// pqueue is a stable priority queue over pending jobs: higher priority
// weight first, earlier enqueue first within a tier. Not safe for
// concurrent use; the scheduler serializes access under its mutex.
type pqueue struct {
	items []*pqItem
	byID  map[string]*pqItem
	seq   uint64
}

func newPQueue() *pqueue {
	return &pqueue{byID: make(map[string]*pqItem)}
}

// Len implements heap.Interface.
func (q *pqueue) Len() int { return len(q.items) }

// Less implements heap.Interface: weight descending, sequence ascending.
func (q *pqueue) Less(i, k int) bool {
	wi, wk := q.items[i].j.Priority.Weight(), q.items[k].j.Priority.Weight()
	if wi != wk {
		return wi > wk
	}
	return q.items[i].seq < q.items[k].seq
}

// Swap implements heap.Interface.
func (q *pqueue) Swap(i, k int) {
	q.items[i], q.items[k] = q.items[k], q.items[i]
	q.items[i].index = i
	q.items[k].index = k
}

// Push implements heap.Interface. Use Add instead.
func (q *pqueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(q.items)
	q.items = append(q.items, item)
	q.byID[item.j.ID.String()] = item
}

// Pop implements heap.Interface. Use Claim/Remove instead.
func (q *pqueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	q.items = old[:n-1]
	delete(q.byID, item.j.ID.String())
	return item
}

// Add enqueues a pending job, preserving arrival order within its tier.
func (q *pqueue) Add(j *job.Job) {
	q.seq++
	heap.Push(q, &pqItem{j: j, seq: q.seq})
}

// Remove drops a job from the queue by ID. Returns false if absent.
func (q *pqueue) Remove(jobID string) bool {
	item, ok := q.byID[jobID]
	if !ok {
		return false
	}
	heap.Remove(q, item.index)
	return true
}

// Contains reports whether the job is queued.
func (q *pqueue) Contains(jobID string) bool {
	_, ok := q.byID[jobID]
	return ok
}

// Fix restores heap order after a queued job's priority changed.
func (q *pqueue) Fix(jobID string) bool {
	item, ok := q.byID[jobID]
	if !ok {
		return false
	}
	heap.Fix(q, item.index)
	return true
}

// Claim pops up to max jobs that satisfy claimable, in priority order.
// Jobs that fail the predicate (delayed retries, unregistered types)
// are skipped and stay queued.
func (q *pqueue) Claim(max int, claimable func(*job.Job) bool) []*job.Job {
	if max <= 0 {
		return nil
	}

	var claimed []*job.Job
	var skipped []*pqItem

	for len(claimed) < max && q.Len() > 0 {
		item := heap.Pop(q).(*pqItem)
		if claimable(item.j) {
			claimed = append(claimed, item.j)
		} else {
			skipped = append(skipped, item)
		}
	}

	// Reinsert with original sequences so arrival order holds.
	for _, item := range skipped {
		heap.Push(q, &pqItem{j: item.j, seq: item.seq})
	}

	return claimed
}
