package executor

// lineRing is a fixed-capacity ring of output lines. Once full, each
// push evicts the oldest line, so a chatty run keeps its tail.
type lineRing struct {
	buf   []string
	head  int
	count int
}

func newLineRing(capacity int) *lineRing {
	if capacity < 1 {
		capacity = 1
	}
	return &lineRing{buf: make([]string, capacity)}
}

func (r *lineRing) push(line string) {
	if r.count == len(r.buf) {
		r.buf[r.head] = line
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.count)%len(r.buf)] = line
	r.count++
}

func (r *lineRing) snapshot() []string {
	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
