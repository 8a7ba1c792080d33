package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"
)

// --- Priority Queue Implementation ---

// PQItem represents a pending link in the priority queue
type PQItem struct {
	URLHash  string
	Priority int    // Higher value is served first
	Seq      uint64 // Insertion order, lower is served first among equal priorities
	index    int    // The index of the item in the heap (required by heap interface)
}

// PriorityQueue implements heap.Interface ordered by (priority desc, seq asc)
type PriorityQueue []*PQItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	return pq[i].Seq < pq[j].Seq
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds an element to the heap
func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*PQItem)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes and returns the last element; use heap.Pop for the best one
func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// ThreadSafePriorityQueue wraps PriorityQueue with a mutex and a hash index so
// entries can be removed by key as well as popped in order
type ThreadSafePriorityQueue struct {
	pq     PriorityQueue
	byHash map[string]*PQItem
	mu     sync.Mutex
	closed bool
	log    *logrus.Entry
}

// NewThreadSafePriorityQueue creates a new thread-safe priority queue
func NewThreadSafePriorityQueue(logger *logrus.Entry) *ThreadSafePriorityQueue {
	tspq := &ThreadSafePriorityQueue{byHash: make(map[string]*PQItem), log: logger}
	heap.Init(&tspq.pq)
	return tspq
}

// Add pushes an entry; an existing entry with the same hash is repositioned instead
func (tspq *ThreadSafePriorityQueue) Add(urlHash string, priority int, seq uint64) {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()

	if tspq.closed {
		tspq.log.Warnf("Attempted to add item to closed queue: %s", urlHash)
		return
	}

	if existing, ok := tspq.byHash[urlHash]; ok {
		existing.Priority = priority
		existing.Seq = seq
		heap.Fix(&tspq.pq, existing.index)
		return
	}
	item := &PQItem{URLHash: urlHash, Priority: priority, Seq: seq}
	heap.Push(&tspq.pq, item)
	tspq.byHash[urlHash] = item
}

// Pop removes and returns the best entry without blocking
// Returns false if the queue is empty or closed
func (tspq *ThreadSafePriorityQueue) Pop() (PQItem, bool) {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()

	if tspq.closed || len(tspq.pq) == 0 {
		return PQItem{}, false
	}
	item := heap.Pop(&tspq.pq).(*PQItem)
	delete(tspq.byHash, item.URLHash)
	return *item, true
}

// Peek returns the best entry without removing it
func (tspq *ThreadSafePriorityQueue) Peek() (PQItem, bool) {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()

	if len(tspq.pq) == 0 {
		return PQItem{}, false
	}
	return *tspq.pq[0], true
}

// Remove drops the entry for urlHash, reporting whether it was present
func (tspq *ThreadSafePriorityQueue) Remove(urlHash string) bool {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()

	item, ok := tspq.byHash[urlHash]
	if !ok {
		return false
	}
	heap.Remove(&tspq.pq, item.index)
	delete(tspq.byHash, urlHash)
	return true
}

// Contains reports whether urlHash is queued
func (tspq *ThreadSafePriorityQueue) Contains(urlHash string) bool {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()
	_, ok := tspq.byHash[urlHash]
	return ok
}

// Close stops the queue from accepting or handing out entries
func (tspq *ThreadSafePriorityQueue) Close() {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()
	tspq.closed = true
}

// Len returns the current number of items in the queue (thread-safe)
func (tspq *ThreadSafePriorityQueue) Len() int {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()
	return len(tspq.pq)
}
