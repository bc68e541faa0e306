// Package features turns camera frames into fixed-length embeddings.
//
// Embeddings are backed by pooled buffers and must be released explicitly.
// Whoever holds an Embedding owns it: the example store while collecting,
// the prediction step for a single frame.
package features

import (
	"sync"
	"sync/atomic"
)

// Embedding is an immutable feature vector borrowed from a Pool.
type Embedding struct {
	data     []float32
	pool     *Pool
	released atomic.Bool
}

// Vector returns the embedding values. The slice must not be modified or
// retained after Release.
func (e *Embedding) Vector() []float32 {
	return e.data
}

// Dim returns the embedding length.
func (e *Embedding) Dim() int {
	return len(e.data)
}

// Released reports whether Release was called.
func (e *Embedding) Released() bool {
	return e.released.Load()
}

// Release returns the buffer to its pool. Calling it more than once is a no-op.
func (e *Embedding) Release() {
	if e == nil || !e.released.CompareAndSwap(false, true) {
		return
	}
	if e.pool != nil {
		e.pool.put(e.data)
	}
	e.data = nil
}

// Pool hands out fixed-size float32 buffers and tracks how many are live.
type Pool struct {
	dim  int
	live atomic.Int64
	bufs sync.Pool
}

// NewPool creates a pool of buffers of length dim.
func NewPool(dim int) *Pool {
	p := &Pool{dim: dim}
	p.bufs.New = func() any {
		buf := make([]float32, dim)
		return &buf
	}
	return p
}

// Dim returns the buffer length.
func (p *Pool) Dim() int {
	return p.dim
}

// Live returns the number of embeddings not yet released.
func (p *Pool) Live() int {
	return int(p.live.Load())
}

// New copies src into a pooled buffer. Values beyond Dim are dropped and
// missing values are zero.
func (p *Pool) New(src []float32) *Embedding {
	buf := *(p.bufs.Get().(*[]float32))
	n := copy(buf, src)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	p.live.Add(1)
	return &Embedding{data: buf, pool: p}
}

func (p *Pool) put(buf []float32) {
	p.live.Add(-1)
	if len(buf) != p.dim {
		return
	}
	p.bufs.Put(&buf)
}
