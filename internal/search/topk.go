package search

import (
	"container/heap"

	"github.com/hyperjump/vecindex/internal/vector"
)

// candidate is a scored row of one document index.
type candidate struct {
	doc   *vector.DocumentIndex
	row   int
	score float64
	seq   uint64
	id    string
}

// better reports whether a ranks before b: higher score, then earlier insertion, then
// smaller embedding id.
func better(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.id < b.id
}

// candidateHeap keeps the worst retained candidate at the root.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// topK retains the k best candidates offered to it.
type topK struct {
	k int
	h candidateHeap
}

func newTopK(k int) *topK {
	capacity := k
	if capacity > 1024 {
		capacity = 1024
	}
	return &topK{k: k, h: make(candidateHeap, 0, capacity)}
}

func (t *topK) offer(c candidate) {
	if len(t.h) < t.k {
		heap.Push(&t.h, c)
		return
	}
	if better(c, t.h[0]) {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

// merge offers every candidate retained by o.
func (t *topK) merge(o *topK) {
	for _, c := range o.h {
		t.offer(c)
	}
}

// sorted drains the heap and returns candidates best first.
func (t *topK) sorted() []candidate {
	out := make([]candidate, len(t.h))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(candidate)
	}
	return out
}
