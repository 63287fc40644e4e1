package transcode

import "sync"

// tailBuffer keeps the last max bytes written to it. The transcoder's
// standard error can run to megabytes on a long session; only the tail is
// worth logging when the process dies.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	max  int
	full bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if n >= t.max {
		t.buf = append(t.buf[:0], p[n-t.max:]...)
		t.full = true
		return n, nil
	}

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
		t.full = true
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.full {
		return "..." + string(t.buf)
	}
	return string(t.buf)
}
