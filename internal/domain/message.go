package domain

import (
	"bytes"
	"sync"
)

// BufferPool is a pool of byte buffers reused around DLQ's on-disk JSON
// writes to avoid handing os.WriteFile a fresh slice per flushed batch.
var BufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBuffer returns a reset buffer from BufferPool.
func GetBuffer() *bytes.Buffer {
	buf, _ := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns buf to BufferPool.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	BufferPool.Put(buf)
}
