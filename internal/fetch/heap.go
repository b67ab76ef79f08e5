package fetch

// segmentHeap is a container/heap min-heap of results keyed by index.
type segmentHeap []segmentResult

func (h segmentHeap) Len() int           { return len(h) }
func (h segmentHeap) Less(i, j int) bool { return h[i].index < h[j].index }
func (h segmentHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *segmentHeap) Push(x any) { *h = append(*h, x.(segmentResult)) }

func (h *segmentHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = segmentResult{}
	*h = old[:n-1]
	return x
}

// successes counts the buffered results that carry data.
func (h segmentHeap) successes() int {
	n := 0
	for _, r := range h {
		if r.err == nil {
			n++
		}
	}
	return n
}
