package fetcher

// reorderBuffer releases detail results in listing emission order no
// matter which worker finished first. Failed and skipped results still
// occupy their index, so the cursor always advances and a lost slot can
// never stall the output.
type reorderBuffer struct {
	next    int
	pending map[int]detailResult
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[int]detailResult)}
}

// add stores r and returns every result that became releasable, in
// index order.
func (b *reorderBuffer) add(r detailResult) []detailResult {
	b.pending[r.index] = r
	var ready []detailResult
	for {
		next, ok := b.pending[b.next]
		if !ok {
			return ready
		}
		delete(b.pending, b.next)
		b.next++
		ready = append(ready, next)
	}
}

// size returns how many results are parked waiting on an earlier index.
func (b *reorderBuffer) size() int {
	return len(b.pending)
}
