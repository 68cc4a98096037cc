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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/v2"
	"go.elastic.co/apm/v2/apmtest"
	"go.opentelemetry.io/otel/trace"
)

func TestLinkFromContext(t *testing.T) {
	assert.Nil(t, linkFromContext(context.Background()))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	link := linkFromContext(trace.ContextWithSpanContext(context.Background(), sc))
	require.NotNil(t, link)
	assert.Equal(t, [16]byte(sc.TraceID()), link.TraceID)
	assert.Equal(t, sc, link.OTELLink().SpanContext)

	tracer := apmtest.NewRecordingTracer()
	defer tracer.Close()
	tx := tracer.StartTransaction("name", "type")
	defer tx.End()
	link = linkFromContext(apm.ContextWithTransaction(context.Background(), tx))
	require.NotNil(t, link)
	assert.Equal(t, [16]byte(tx.TraceContext().Trace), link.TraceID)
	assert.Equal(t, tx.TraceContext().Span, apm.SpanID(link.APMLink().Span))
}

func TestBatchLinks(t *testing.T) {
	acc := newAccumulator(4, 0)
	links := []*linkedTraceContext{
		{TraceID: [16]byte{1}, SpanID: [8]byte{1}},
		nil,
		{TraceID: [16]byte{1}, SpanID: [8]byte{1}},
		{TraceID: [16]byte{2}, SpanID: [8]byte{2}},
	}
	var batch *Batch
	for i, link := range links {
		enc := encodeTestRequest(t, "logs", string(rune('a'+i)))
		enc.link = link
		b, err := acc.append(enc, time.Now())
		require.NoError(t, err)
		batch = b
	}
	require.NotNil(t, batch)
	assert.Equal(t, []linkedTraceContext{*links[0], *links[3]}, batchLinks(batch))
}
