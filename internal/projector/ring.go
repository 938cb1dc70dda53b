package projector

import "github.com/rendis/flowgraph/pkg/schema"

// ring keeps the most recent anomalies up to a fixed capacity.
type ring struct {
	buf  []schema.StatusAnomaly
	next int
	full bool
}

func newRing(size int) *ring {
	if size < 1 {
		size = 1
	}
	return &ring{buf: make([]schema.StatusAnomaly, size)}
}

func (r *ring) push(a schema.StatusAnomaly) {
	r.buf[r.next] = a
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// items returns the buffered anomalies oldest first.
func (r *ring) items() []schema.StatusAnomaly {
	if !r.full {
		return append([]schema.StatusAnomaly(nil), r.buf[:r.next]...)
	}
	out := make([]schema.StatusAnomaly, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
