package wire

import "sync"

// RecvBufferSize is the fixed size of every pooled packet buffer and the
// size of a single recvfrom() call. MaxPayload is what is left once the
// header has been stripped.
const RecvBufferSize = 1500

// MaxPayload is the largest application payload a single segment may
// carry.
const MaxPayload = RecvBufferSize - Size

// Buffer is a pool-owned byte buffer: fixed RecvBufferSize capacity, a
// Len tracking how much of it is meaningful. Buffers are never shared
// across goroutines while checked out.
type Buffer struct {
	Bytes [RecvBufferSize]byte
	Len   int
}

// Slice returns the meaningful portion of the buffer.
func (b *Buffer) Slice() []byte { return b.Bytes[:b.Len] }

// Pool is a free-list of Buffer values, amortizing allocation across the
// lifetime of the library root context. One Pool is normally shared by
// every peer and endpoint hanging off a Client or Server.
type Pool struct {
	free sync.Pool
}

// NewPool creates an empty buffer pool.
func NewPool() *Pool {
	p := &Pool{}
	p.free.New = func() any { return new(Buffer) }
	return p
}

// Get checks out a buffer, zeroing its length but not its backing array.
func (p *Pool) Get() *Buffer {
	buf := p.free.Get().(*Buffer)
	buf.Len = 0
	return buf
}

// Put returns a buffer to the pool. The caller must not touch buf again.
func (p *Pool) Put(buf *Buffer) {
	p.free.Put(buf)
}
