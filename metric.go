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
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	bufferDuration        metric.Float64Histogram
	flushDuration         metric.Float64Histogram
	bulkRequests          metric.Int64Counter
	requestsAdded         metric.Int64Counter
	requestsActive        metric.Int64UpDownCounter
	bytesTotal            metric.Int64Counter
	availableBulkRequests metric.Int64UpDownCounter
	retries               metric.Int64Counter
	reconnects            metric.Int64Counter

	// attributes for requestsProcessed metric
	acknowledged int64
	rejected     int64
	failed       int64
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

type upDownCounterMetric struct {
	name        string
	description string
	p           *metric.Int64UpDownCounter
}

func newMetrics(cfg Config) (*metrics, metric.Registration, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter("github.com/elastic/go-bulkwriter")
	ms := metrics{}
	histograms := []histogramMetric{
		{
			name:        "bulkwriter.buffer.latency",
			description: "The amount of time a write request was buffered for, in seconds.",
			unit:        "s",
			p:           &ms.bufferDuration,
		},
		{
			name:        "bulkwriter.flushed.latency",
			description: "The amount of time a _bulk request took, including retries, in seconds.",
			unit:        "s",
			p:           &ms.flushDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return &ms, nil, err
		}
	}

	counters := []counterMetric{
		{
			name:        "bulkwriter.bulk_requests.count",
			description: "The number of bulk requests completed.",
			p:           &ms.bulkRequests,
		},
		{
			name:        "bulkwriter.requests.added",
			description: "The number of write requests added for writing.",
			p:           &ms.requestsAdded,
		},
		{
			name:        "bulkwriter.flushed.bytes",
			description: "The total number of bytes written to the request body",
			unit:        "by",
			p:           &ms.bytesTotal,
		},
		{
			name:        "bulkwriter.retries",
			description: "The number of bulk request attempts that were retried.",
			p:           &ms.retries,
		},
		{
			name:        "bulkwriter.reconnects",
			description: "The number of times the connection was rebuilt.",
			p:           &ms.reconnects,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return &ms, nil, err
		}
	}

	upDownCounters := []upDownCounterMetric{
		{
			name:        "bulkwriter.requests.active",
			description: "The number of write requests buffered or in flight.",
			p:           &ms.requestsActive,
		},
		{
			name:        "bulkwriter.bulk_requests.available",
			description: "The number of request slots available for bulk requests.",
			p:           &ms.availableBulkRequests,
		},
	}
	for _, m := range upDownCounters {
		if err := newInt64UpDownCounter(meter, m); err != nil {
			return &ms, nil, err
		}
	}

	requestsProcessed, err := meter.Int64ObservableCounter(
		"bulkwriter.requests.processed",
		metric.WithUnit("1"),
		metric.WithDescription("Number of write requests with a known outcome. The status dimension reports acknowledged, rejected and failed requests."),
	)
	if err != nil {
		return &ms, nil, fmt.Errorf("bulkwriter: failed to create metric for processed requests: %w", err)
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		pattrs := metric.WithAttributeSet(cfg.MetricAttributes)
		obs.ObserveInt64(requestsProcessed, atomic.LoadInt64(&ms.acknowledged),
			pattrs, metric.WithAttributes(attribute.String("status", ItemAcknowledged.String())),
		)
		obs.ObserveInt64(requestsProcessed, atomic.LoadInt64(&ms.rejected),
			pattrs, metric.WithAttributes(attribute.String("status", ItemRejected.String())),
		)
		obs.ObserveInt64(requestsProcessed, atomic.LoadInt64(&ms.failed),
			pattrs, metric.WithAttributes(attribute.String("status", ItemFailed.String())),
		)
		return nil
	},
		requestsProcessed,
	)
	if err != nil {
		return &ms, nil, fmt.Errorf("bulkwriter: failed to register metric callback: %w", err)
	}
	return &ms, reg, nil
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", c.name, err,
		)
	}
	*c.p = m
	return nil
}

func newInt64UpDownCounter(meter metric.Meter, c upDownCounterMetric) error {
	m, err := meter.Int64UpDownCounter(
		c.name,
		metric.WithUnit("1"),
		metric.WithDescription(c.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", c.name, err,
		)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", h.name, err,
		)
	}
	*h.p = m
	return nil
}
