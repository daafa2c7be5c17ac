package game

// HistoryCache is a fixed-capacity FIFO of recent round records.
type HistoryCache struct {
	buf  []RoundRecord
	next int
	size int
}

func NewHistoryCache(capacity int) *HistoryCache {
	if capacity < 1 {
		capacity = 1
	}
	return &HistoryCache{buf: make([]RoundRecord, capacity)}
}

func (h *HistoryCache) Push(rec RoundRecord) {
	h.buf[h.next] = rec
	h.next = (h.next + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

func (h *HistoryCache) Len() int { return h.size }

// Recent returns up to n records, newest first.
func (h *HistoryCache) Recent(n int) []RoundRecord {
	if n > h.size || n < 0 {
		n = h.size
	}
	out := make([]RoundRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}
