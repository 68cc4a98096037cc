// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package bulkwriter

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/gzip"
)

// requestBuffer holds the encoded, and possibly compressed, body of one
// bulk request. The same body is resent on every attempt of a batch.
type requestBuffer struct {
	buf          bytes.Buffer
	gzipw        *gzip.Writer
	uncompressed int
}

func newRequestBuffer(compressionLevel int) *requestBuffer {
	b := &requestBuffer{}
	if compressionLevel != gzip.NoCompression {
		// The level has been validated by Config.Validate.
		b.gzipw, _ = gzip.NewWriterLevel(&b.buf, compressionLevel)
	}
	return b
}

// encode writes the lines of every request in batch, in order.
func (b *requestBuffer) encode(batch *Batch) error {
	b.reset()
	write := b.buf.Write
	if b.gzipw != nil {
		write = b.gzipw.Write
	}
	for _, item := range batch.items {
		if _, err := write(item.data); err != nil {
			return fmt.Errorf("failed to encode bulk request: %w", err)
		}
		b.uncompressed += len(item.data)
	}
	if b.gzipw != nil {
		if err := b.gzipw.Close(); err != nil {
			return fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}
	return nil
}

// compressed reports whether the body is gzip encoded.
func (b *requestBuffer) compressed() bool {
	return b.gzipw != nil
}

// Len returns the number of bytes sent over the wire.
func (b *requestBuffer) Len() int {
	return b.buf.Len()
}

// reader returns a new reader over the body, leaving the buffer intact.
func (b *requestBuffer) reader() *bytes.Reader {
	return bytes.NewReader(b.buf.Bytes())
}

func (b *requestBuffer) reset() {
	b.buf.Reset()
	b.uncompressed = 0
	if b.gzipw != nil {
		b.gzipw.Reset(&b.buf)
	}
}

// requestPool bounds the number of in-flight bulk requests. Each in-flight
// request leases one requestBuffer; Get blocks while all of them are leased.
//
// Buffers are created lazily, so an idle writer with a large MaxRequests
// does not allocate them up front.
type requestPool struct {
	buffers chan *requestBuffer
	done    <-chan struct{}

	// Read only fields.
	size             int
	compressionLevel int
}

// newRequestPool returns a pool of size buffers. Get fails once done is
// closed.
func newRequestPool(size, compressionLevel int, done <-chan struct{}) *requestPool {
	p := &requestPool{
		buffers:          make(chan *requestBuffer, size),
		done:             done,
		size:             size,
		compressionLevel: compressionLevel,
	}
	for i := 0; i < size; i++ {
		p.buffers <- nil
	}
	return p
}

// Get leases a buffer, waiting until one is available, ctx is done, or the
// pool is shut down.
func (p *requestPool) Get(ctx context.Context) (*requestBuffer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrClosed
	case b := <-p.buffers:
		if b == nil {
			b = newRequestBuffer(p.compressionLevel)
		}
		return b, nil
	}
}

// Put returns a leased buffer to the pool. After calling Put, no
// references to the buffer should be kept.
func (p *requestPool) Put(b *requestBuffer) {
	if b == nil {
		return
	}
	b.reset()
	p.buffers <- b
}

// Available returns the number of buffers that can be leased without
// blocking.
func (p *requestPool) Available() int {
	return len(p.buffers)
}

// Leased returns the number of buffers currently leased.
func (p *requestPool) Leased() int {
	return p.size - len(p.buffers)
}
