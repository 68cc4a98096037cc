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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestRequest(t testing.TB, index, id string) encodedRequest {
	t.Helper()
	req := IndexRequest(Document{
		Destination: Destination{Index: index},
		ID:          id,
		Body:        RawDocument(fmt.Sprintf(`{"id":%q}`, id)),
	})
	enc, err := encodeRequest(req)
	require.NoError(t, err)
	return enc
}

func TestAccumulatorBulkActions(t *testing.T) {
	acc := newAccumulator(3, 0)
	now := time.Now()
	for i := 0; i < 2; i++ {
		batch, err := acc.append(encodeTestRequest(t, "logs", fmt.Sprint(i)), now)
		require.NoError(t, err)
		assert.Nil(t, batch)
	}
	assert.Equal(t, 2, acc.pendingCount(Destination{Index: "logs"}))

	batch, err := acc.append(encodeTestRequest(t, "logs", "2"), now)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, 3, batch.Len())
	assert.Equal(t, uint64(1), batch.ExecutionID)
	for i, req := range batch.Requests() {
		assert.Equal(t, fmt.Sprint(i), req.DocumentID)
	}
	assert.Zero(t, acc.pendingCount(Destination{Index: "logs"}))
	assert.Zero(t, acc.pendingBytes(Destination{Index: "logs"}))
}

func TestAccumulatorFlushBytes(t *testing.T) {
	first := encodeTestRequest(t, "logs", "a")
	acc := newAccumulator(-1, 2*len(first.data))
	batch, err := acc.append(first, time.Now())
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Equal(t, len(first.data), acc.pendingBytes(Destination{Index: "logs"}))

	batch, err = acc.append(encodeTestRequest(t, "logs", "b"), time.Now())
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, 2, batch.Len())
	assert.Equal(t, 2*len(first.data), batch.Size())
}

func TestAccumulatorDestinations(t *testing.T) {
	acc := newAccumulator(2, 0)
	now := time.Now()
	for _, index := range []string{"a", "b"} {
		batch, err := acc.append(encodeTestRequest(t, index, "1"), now)
		require.NoError(t, err)
		assert.Nil(t, batch)
	}
	batch := acc.drain(Destination{Index: "a"})
	require.NotNil(t, batch)
	assert.Equal(t, 1, batch.Len())
	assert.Nil(t, acc.drain(Destination{Index: "a"}))
	assert.Equal(t, 1, acc.pendingCount(Destination{Index: "b"}))

	batches := acc.drainAll()
	require.Len(t, batches, 1)
	assert.Equal(t, "b", batches[0].items[0].req.Destination.Index)
	assert.Empty(t, acc.drainAll())
}

func TestAccumulatorDrainExpired(t *testing.T) {
	acc := newAccumulator(100, 0)
	now := time.Now()
	_, err := acc.append(encodeTestRequest(t, "old", "1"), now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = acc.append(encodeTestRequest(t, "new", "1"), now)
	require.NoError(t, err)
	// A later request does not reset the age of its buffer.
	_, err = acc.append(encodeTestRequest(t, "old", "2"), now)
	require.NoError(t, err)

	oldest, ok := acc.oldest()
	require.True(t, ok)
	assert.Equal(t, now.Add(-time.Minute), oldest)

	batches := acc.drainExpired(now.Add(-time.Second))
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Len())
	assert.Equal(t, "old", batches[0].items[0].req.Destination.Index)
	assert.Equal(t, 1, acc.pendingCount(Destination{Index: "new"}))

	oldest, ok = acc.oldest()
	require.True(t, ok)
	assert.Equal(t, now, oldest)
}

func TestAccumulatorClose(t *testing.T) {
	acc := newAccumulator(100, 0)
	_, err := acc.append(encodeTestRequest(t, "logs", "1"), time.Now())
	require.NoError(t, err)

	batches := acc.close()
	require.Len(t, batches, 1)
	_, err = acc.append(encodeTestRequest(t, "logs", "2"), time.Now())
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := acc.oldest()
	assert.False(t, ok)
}

func TestAccumulatorConcurrentAppend(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 1000
	acc := newAccumulator(7, 0)

	var mu sync.Mutex
	var batches []*Batch
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				index := fmt.Sprintf("index-%d", i%3)
				batch, err := acc.append(encodeTestRequest(t, index, fmt.Sprintf("%d-%d", g, i)), time.Now())
				if !assert.NoError(t, err) {
					return
				}
				if batch != nil {
					mu.Lock()
					batches = append(batches, batch)
					mu.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()
	batches = append(batches, acc.drainAll()...)

	seen := make(map[string]int)
	ids := make(map[uint64]struct{})
	for _, batch := range batches {
		assert.LessOrEqual(t, batch.Len(), 7)
		ids[batch.ExecutionID] = struct{}{}
		index := batch.items[0].req.Destination.Index
		for _, item := range batch.items {
			assert.Equal(t, index, item.req.Destination.Index)
			seen[item.req.DocumentID]++
		}
	}
	assert.Len(t, ids, len(batches))
	require.Len(t, seen, goroutines*perGoroutine)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}
