package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// Pool is a thread-safe pool of byte slices that reuses buffers to reduce
// allocation overhead on the hot body-pipe paths, backed by
// valyala/bytebufferpool. Every copy loop in the streaming pipeline borrows
// its scratch buffer here instead of allocating per request.
type Pool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewPool creates a Pool handing out buffers of the given size in bytes.
func NewPool(bufferSize int64) *Pool {
	return &Pool{
		bufferSize: int(bufferSize),
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves a buffer from the pool, grown to the configured size.
// The byte slice is ready to be used as a copy scratch area.
func (p *Pool) Get() *bytebufferpool.ByteBuffer {
	buf := p.pool.Get()
	buf.Reset()
	if cap(buf.B) < p.bufferSize {
		buf.B = make([]byte, 0, p.bufferSize)
	}
	buf.B = buf.B[:p.bufferSize]
	return buf
}

// Put returns a buffer to the pool.
func (p *Pool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		p.pool.Put(buf)
	}
}
