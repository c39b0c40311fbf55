package monitoring

import "time"

// DefaultHistoryCapacity bounds the in-memory history.
const DefaultHistoryCapacity = 5000

// HistoryPoint is a compact history sample.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// History is a fixed capacity ring of points, oldest evicted first.
// It is not safe for concurrent use.
type History struct {
	buf   []HistoryPoint
	start int
	size  int
}

// NewHistory constructs a history holding at most capacity points.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]HistoryPoint, capacity)}
}

// Cap returns the capacity.
func (h *History) Cap() int {
	if h == nil {
		return 0
	}
	return len(h.buf)
}

// Len returns the number of points held.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return h.size
}

// Append adds a point, evicting the oldest when full.
func (h *History) Append(p HistoryPoint) {
	if h == nil || len(h.buf) == 0 {
		return
	}
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = p
		h.size++
		return
	}
	h.buf[h.start] = p
	h.start = (h.start + 1) % len(h.buf)
}

// Points returns a copy ordered oldest to newest.
func (h *History) Points() []HistoryPoint {
	if h == nil || h.size == 0 {
		return []HistoryPoint{}
	}
	out := make([]HistoryPoint, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns up to n of the newest points, oldest first.
func (h *History) Last(n int) []HistoryPoint {
	points := h.Points()
	if n >= 0 && len(points) > n {
		return points[len(points)-n:]
	}
	return points
}

// Replace resets the history to points, keeping the newest when over capacity.
func (h *History) Replace(points []HistoryPoint) {
	if h == nil {
		return
	}
	h.Reset()
	if len(points) > len(h.buf) {
		points = points[len(points)-len(h.buf):]
	}
	for _, p := range points {
		h.Append(p)
	}
}

// Reset drops every point.
func (h *History) Reset() {
	if h == nil {
		return
	}
	h.start = 0
	h.size = 0
}
