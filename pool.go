package mqttv3

import (
	"sync"
)

// maxPooledBuffer caps the capacity of buffers returned to the pool so one
// large PUBLISH does not pin its backing array for the life of the process.
const maxPooledBuffer = 64 * 1024

var (
	// bytesReaderPool serves decodeBody.
	bytesReaderPool = sync.Pool{
		New: func() any {
			return &bytesReader{}
		},
	}

	// bytesBufferPool serves the variable-length packet encoders.
	bytesBufferPool = sync.Pool{
		New: func() any {
			return &bytesBuffer{}
		},
	}
)

func getBytesReader(data []byte) *bytesReader {
	r := bytesReaderPool.Get().(*bytesReader)
	r.data = data
	r.pos = 0
	return r
}

func putBytesReader(r *bytesReader) {
	if r == nil {
		return
	}
	r.data = nil
	r.pos = 0
	bytesReaderPool.Put(r)
}

func getBytesBuffer() *bytesBuffer {
	b := bytesBufferPool.Get().(*bytesBuffer)
	b.data = b.data[:0]
	return b
}

func putBytesBuffer(b *bytesBuffer) {
	if b == nil || cap(b.data) > maxPooledBuffer {
		return
	}
	b.data = b.data[:0]
	bytesBufferPool.Put(b)
}
