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
	"sync"
	"sync/atomic"
	"time"
)

// Batch is an ordered group of write requests sent in a single bulk
// request. A Batch is immutable once it has been drained from its buffer.
type Batch struct {
	// ExecutionID is a monotonically increasing sequence number used to
	// correlate log records and outcomes. It implies no ordering between
	// batches.
	ExecutionID uint64

	items   []encodedRequest
	size    int
	created time.Time

	reported atomic.Bool

	// done is closed once the outcome has been reported, after err is set.
	done chan struct{}
	err  error
}

// Len returns the number of write requests in the batch.
func (b *Batch) Len() int {
	return len(b.items)
}

// Size returns the uncompressed encoded size of the batch in bytes.
func (b *Batch) Size() int {
	return b.size
}

// Requests returns the write requests in insertion order.
func (b *Batch) Requests() []WriteRequest {
	reqs := make([]WriteRequest, len(b.items))
	for i, item := range b.items {
		reqs[i] = item.req
	}
	return reqs
}

// buffer holds the pending requests of one destination.
type buffer struct {
	items  []encodedRequest
	bytes  int
	oldest time.Time
}

// accumulator buffers encoded write requests per destination until they are
// drained into batches. A single mutex guards all buffers, and is only held
// for slice and counter updates: requests are encoded before append.
type accumulator struct {
	bulkActions int // disabled when <= 0
	flushBytes  int // disabled when <= 0

	seq atomic.Uint64

	mu      sync.Mutex
	buffers map[Destination]*buffer
	closed  bool
}

func newAccumulator(bulkActions, flushBytes int) *accumulator {
	return &accumulator{
		bulkActions: bulkActions,
		flushBytes:  flushBytes,
		buffers:     make(map[Destination]*buffer),
	}
}

// nextExecutionID returns the next batch sequence number.
func (a *accumulator) nextExecutionID() uint64 {
	return a.seq.Add(1)
}

// append adds req to the buffer of its destination. When the buffer reaches
// the count or size threshold, it is detached in the same critical section
// and returned as a batch for the caller to flush.
//
// append returns ErrClosed once close has been called; in that case req is
// not buffered.
func (a *accumulator) append(req encodedRequest, now time.Time) (*Batch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	dest := req.req.Destination
	buf, ok := a.buffers[dest]
	if !ok {
		buf = &buffer{}
		a.buffers[dest] = buf
	}
	if len(buf.items) == 0 {
		buf.oldest = now
	}
	buf.items = append(buf.items, req)
	buf.bytes += len(req.data)

	if (a.bulkActions > 0 && len(buf.items) >= a.bulkActions) ||
		(a.flushBytes > 0 && buf.bytes >= a.flushBytes) {
		return a.detachLocked(dest, buf), nil
	}
	return nil, nil
}

// drain detaches the pending requests of dest, returning nil when there
// are none.
func (a *accumulator) drain(dest Destination) *Batch {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[dest]
	if !ok || len(buf.items) == 0 {
		return nil
	}
	return a.detachLocked(dest, buf)
}

// drainAll detaches every non-empty buffer.
func (a *accumulator) drainAll() []*Batch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainLocked(func(*buffer) bool { return true })
}

// drainExpired detaches the buffers whose oldest request was added at or
// before deadline.
func (a *accumulator) drainExpired(deadline time.Time) []*Batch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainLocked(func(buf *buffer) bool {
		return !buf.oldest.After(deadline)
	})
}

// close rejects further appends and detaches every non-empty buffer.
func (a *accumulator) close() []*Batch {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return a.drainLocked(func(*buffer) bool { return true })
}

// oldest returns the time the oldest pending request was added, and false
// when nothing is pending.
func (a *accumulator) oldest() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var oldest time.Time
	var found bool
	for _, buf := range a.buffers {
		if len(buf.items) == 0 {
			continue
		}
		if !found || buf.oldest.Before(oldest) {
			oldest = buf.oldest
			found = true
		}
	}
	return oldest, found
}

// pendingCount returns the number of requests buffered for dest.
func (a *accumulator) pendingCount(dest Destination) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.buffers[dest]; ok {
		return len(buf.items)
	}
	return 0
}

// pendingBytes returns the encoded size of the requests buffered for dest.
func (a *accumulator) pendingBytes(dest Destination) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.buffers[dest]; ok {
		return buf.bytes
	}
	return 0
}

func (a *accumulator) drainLocked(match func(*buffer) bool) []*Batch {
	var batches []*Batch
	for dest, buf := range a.buffers {
		if len(buf.items) == 0 || !match(buf) {
			continue
		}
		batches = append(batches, a.detachLocked(dest, buf))
	}
	return batches
}

// detachLocked turns buf into a batch and removes it from the map, so the
// next append for dest starts a new, empty buffer.
func (a *accumulator) detachLocked(dest Destination, buf *buffer) *Batch {
	delete(a.buffers, dest)
	return &Batch{
		ExecutionID: a.nextExecutionID(),
		items:       buf.items,
		size:        buf.bytes,
		created:     buf.oldest,
	}
}
