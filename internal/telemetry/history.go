package telemetry

import "backend-etaone/internal/shared/geo"

// DefaultHistoryCapacity bounds the retained position history.
const DefaultHistoryCapacity = 1000

// History is a fixed-capacity FIFO of coordinates. Once full, each push
// evicts the oldest entry.
type History struct {
	buf   []geo.Coordinate
	start int
	size  int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]geo.Coordinate, capacity)}
}

func (h *History) Push(c geo.Coordinate) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = c
		h.size++
		return
	}
	h.buf[h.start] = c
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Len() int {
	return h.size
}

// Slice returns the retained coordinates, oldest first, as a fresh slice.
func (h *History) Slice() []geo.Coordinate {
	out := make([]geo.Coordinate, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}
