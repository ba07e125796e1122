package bytepool

import (
	"sync"
)

// Pool hands out fixed-size buffers. Every buffer returned by Get has the pool's size.
type Pool struct {
	p    *sync.Pool
	size int
}

func New(bufSize int) *Pool {
	return &Pool{
		p: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, bufSize, bufSize)
				return &buf
			},
		},
		size: bufSize,
	}
}

func (bp *Pool) Get() *[]byte {
	b := bp.p.Get().(*[]byte)
	*b = (*b)[:bp.size]
	return b
}

// Put must be called at most once per Get, a buffer put twice ends up shared.
func (bp *Pool) Put(buf *[]byte) {
	if buf == nil || cap(*buf) < bp.size {
		return
	}
	bp.p.Put(buf)
}
