package scheduler

import (
	"container/heap"
	"time"

	"github.com/c360/rulecore/actor"
)

// item is one pending delivery
type item struct {
	ref       actor.Ref
	msg       actor.Msg
	deliverAt time.Time
	period    time.Duration
	seq       uint64
	handle    *Handle

	// heapIdx is maintained by Swap so Cancel can remove in O(log N)
	heapIdx int
}

// minHeap orders items by deliverAt, then by scheduling order
type minHeap []*item

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Less(i, j int) bool {
	if h[i].deliverAt.Equal(h[j].deliverAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].deliverAt.Before(h[j].deliverAt)
}

func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *minHeap) Push(x any) {
	it := x.(*item)
	it.heapIdx = len(*h)
	*h = append(*h, it)
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.heapIdx = -1
	*h = old[:n-1]
	return it
}

func (h *minHeap) remove(idx int) *item {
	return heap.Remove(h, idx).(*item)
}
