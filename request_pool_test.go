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
	"context"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestPoolBlocks(t *testing.T) {
	done := make(chan struct{})
	p := newRequestPool(2, gzip.NoCompression, done)
	assert.Equal(t, 2, p.Available())

	b1, err := p.Get(context.Background())
	require.NoError(t, err)
	b2, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, b1, b2)
	assert.Zero(t, p.Available())
	assert.Equal(t, 2, p.Leased())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan *requestBuffer)
	go func() {
		b, err := p.Get(context.Background())
		assert.NoError(t, err)
		got <- b
	}()
	select {
	case <-got:
		t.Fatal("Get returned while all buffers are leased")
	case <-time.After(50 * time.Millisecond):
	}
	p.Put(b1)
	select {
	case b := <-got:
		assert.Same(t, b1, b)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after Put")
	}
}

func TestRequestPoolDone(t *testing.T) {
	done := make(chan struct{})
	p := newRequestPool(1, gzip.NoCompression, done)
	_, err := p.Get(context.Background())
	require.NoError(t, err)
	close(done)
	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRequestBufferEncode(t *testing.T) {
	batch := newTestBatch(t, 3)
	var expected []byte
	for _, item := range batch.items {
		expected = append(expected, item.data...)
	}

	plain := newRequestBuffer(gzip.NoCompression)
	require.NoError(t, plain.encode(batch))
	assert.False(t, plain.compressed())
	assert.Equal(t, len(expected), plain.Len())
	b, err := io.ReadAll(plain.reader())
	require.NoError(t, err)
	assert.Equal(t, expected, b)

	compressed := newRequestBuffer(gzip.BestCompression)
	for i := 0; i < 2; i++ {
		// Encoding again replaces the previous body.
		require.NoError(t, compressed.encode(batch))
		assert.True(t, compressed.compressed())
		assert.Equal(t, len(expected), compressed.uncompressed)
		r, err := gzip.NewReader(compressed.reader())
		require.NoError(t, err)
		b, err = io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, expected, b)
	}
}
