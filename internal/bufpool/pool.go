// Package bufpool recycles the buffers used to read request bodies and
// encode responses.
package bufpool

import (
	"bytes"
	"sync"
)

// Size classes.
const (
	SmallSize  = 4 << 10
	MediumSize = 64 << 10
	LargeSize  = 1 << 20
)

// Pool hands out buffers with at least its size preallocated.
type Pool struct {
	pool sync.Pool
	size int
}

// New creates a pool of size-byte buffers. A non-positive size selects SmallSize.
func New(size int) *Pool {
	if size <= 0 {
		size = SmallSize
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		return bytes.NewBuffer(make([]byte, 0, size))
	}
	return p
}

// Get returns an empty buffer.
func (p *Pool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets buf and returns it to the pool. Buffers that grew past four
// times the pool size are dropped.
func (p *Pool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > p.size*4 {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

var classes = [...]*Pool{New(SmallSize), New(MediumSize), New(LargeSize)}

func class(n int) *Pool {
	switch {
	case n <= SmallSize:
		return classes[0]
	case n <= MediumSize:
		return classes[1]
	default:
		return classes[2]
	}
}

// Get returns a buffer from the size class fitting hint. An unknown size
// (hint <= 0) selects the smallest class.
func Get(hint int) *bytes.Buffer {
	return class(hint).Get()
}

// Put returns buf to the class matching its capacity.
func Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	c := buf.Cap()
	switch {
	case c <= SmallSize*4:
		classes[0].Put(buf)
	case c <= MediumSize*4:
		classes[1].Put(buf)
	default:
		classes[2].Put(buf)
	}
}
