package handlers

import (
	"bytes"
	"sync"
)

const (
	// Screenshot requests are a few hundred bytes.
	initialBufferSize = 1 << 10

	// Buffers that grew past this while reading a body are not pooled.
	maxPooledBufferSize = 64 << 10
)

// requestBufferPool provides reusable buffers for request and response bodies.
var requestBufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, initialBufferSize))
	},
}

// getBuffer retrieves an empty buffer from the pool.
func getBuffer() *bytes.Buffer {
	if buf, ok := requestBufferPool.Get().(*bytes.Buffer); ok {
		return buf
	}
	return bytes.NewBuffer(make([]byte, 0, initialBufferSize))
}

// putBuffer resets buf and returns it to the pool.
func putBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBufferSize {
		return
	}
	buf.Reset()
	requestBufferPool.Put(buf)
}
