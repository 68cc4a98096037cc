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
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultBulkActions    = 1000
	defaultFlushBytes     = 5 * 1024 * 1024
	defaultFlushInterval  = 30 * time.Second
	defaultMaxRequests    = 1
	defaultRequestTimeout = 10 * time.Second
	defaultMaxRetries     = 2

	minFlushBytes = 16 * 1024 // 16kb
)

// Config holds configuration for Writer.
type Config struct {
	// Endpoints holds the store endpoints, either as host:port pairs or as
	// URLs. Endpoints given as host:port use http.
	//
	// Endpoints is required unless Store is set.
	Endpoints []string

	// ClusterName holds an optional cluster name filter. When set, endpoints
	// reporting a different cluster_name are treated as unreachable.
	ClusterName string

	// Discovery enables expanding the endpoint list with the HTTP publish
	// addresses of the nodes known to each contacted endpoint.
	Discovery bool

	// Username and Password hold optional basic authentication credentials.
	Username string
	Password string

	// APIKey holds an optional base64 encoded API key. It takes precedence
	// over Username and Password.
	APIKey string

	// Transport holds an optional http.RoundTripper used for all requests.
	//
	// If Transport is nil, each connection uses its own clone of
	// http.DefaultTransport, and its idle sockets are closed when the
	// connection is torn down.
	Transport http.RoundTripper

	// Store holds an optional store collaborator, replacing the default
	// Elasticsearch store built from the settings above.
	Store Store

	// BulkActions holds the number of buffered write requests that triggers
	// a flush of their destination buffer.
	//
	// If BulkActions is zero, the default of 1000 will be used. If it is
	// negative, the count threshold is disabled.
	BulkActions int

	// FlushBytes holds the estimated encoded size in bytes of a destination
	// buffer that triggers a flush. The estimate is the uncompressed size.
	//
	// If FlushBytes is zero, the default of 5MB will be used. If it is
	// negative, the size threshold is disabled.
	FlushBytes int

	// FlushInterval holds the maximum time a write request may stay
	// buffered before its destination buffer is flushed.
	//
	// If FlushInterval is zero, the default of 30 seconds will be used. If it
	// is negative, timed flushes are disabled.
	FlushInterval time.Duration

	// MaxRequests holds the maximum number of bulk requests that may be in
	// flight concurrently. Triggering a flush while all of them are busy
	// blocks until one completes.
	//
	// If MaxRequests is less than or equal to zero, the default of 1 will be used.
	MaxRequests int

	// RequestTimeout holds the deadline of a single write attempt.
	//
	// If RequestTimeout is zero, the default of 10 seconds will be used.
	RequestTimeout time.Duration

	// MaxRetries holds the number of times a failed bulk request is retried
	// after a connectivity failure or timeout.
	//
	// If MaxRetries is zero, the default of 2 will be used.
	MaxRetries int

	// DisableRetry disables retries, regardless of MaxRetries.
	DisableRetry bool

	// RetryBackoff holds an optional function returning the delay before
	// retry attempt n, starting at 1.
	//
	// If RetryBackoff is nil, retries are attempted without delay.
	RetryBackoff func(attempt int) time.Duration

	// RequestsPerSecond holds an optional limit of bulk request attempts per
	// second, shared by all in-flight requests.
	//
	// If RequestsPerSecond is zero, attempts are not rate limited.
	RequestsPerSecond int

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int

	// Pipeline holds the ingest pipeline ID.
	//
	// If Pipeline is empty, no ingest pipeline will be specified in the Bulk request.
	Pipeline string

	// Refresh holds the refresh policy of bulk requests: "true", "false"
	// or "wait_for".
	//
	// If Refresh is empty, the store default is used.
	Refresh string

	// OnBatchComplete holds an optional function invoked exactly once with
	// the outcome of every batch flushed from the internal buffers.
	//
	// If OnBatchComplete is nil, a summary of each outcome is logged.
	OnBatchComplete CompletionFunc

	// Logger holds an optional Logger to use for logging bulk requests.
	//
	// All store rejections will be logged at error level, so in cases
	// where the writer is used for high throughput indexing, is recommended
	// that a rate-limited logger is used.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing bulk requests.
	// Each bulk request is traced as a transaction.
	//
	// If Tracer is nil, requests will not be traced with Elastic APM.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider. Each bulk
	// request is traced as a span, linked to the spans that added its
	// write requests.
	//
	// If TracerProvider is nil, requests will not be traced with OTel.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record writer metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set
}

func (cfg Config) withDefaults() Config {
	if cfg.BulkActions == 0 {
		cfg.BulkActions = defaultBulkActions
	}
	if cfg.FlushBytes == 0 {
		cfg.FlushBytes = defaultFlushBytes
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultMaxRequests
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// retryBudget returns the number of retries allowed per batch.
func (cfg Config) retryBudget() int {
	if cfg.DisableRetry {
		return 0
	}
	return cfg.MaxRetries
}

// Validate returns a *ConfigurationError when cfg is structurally invalid.
// The defaults documented on each field are applied before validation.
func (cfg Config) Validate() error {
	cfg = cfg.withDefaults()
	if cfg.Store == nil && len(cfg.Endpoints) == 0 {
		return &ConfigurationError{Field: "Endpoints", Reason: "at least one endpoint is required"}
	}
	if cfg.Store == nil {
		if _, err := parseEndpoints(cfg.Endpoints); err != nil {
			return err
		}
	}
	if cfg.CompressionLevel < gzip.DefaultCompression || cfg.CompressionLevel > gzip.BestCompression {
		return &ConfigurationError{
			Field:  "CompressionLevel",
			Reason: fmt.Sprintf("expected CompressionLevel in range [-1,9], got %d", cfg.CompressionLevel),
		}
	}
	if cfg.CompressionLevel != gzip.NoCompression && cfg.FlushBytes > 0 && cfg.FlushBytes < minFlushBytes {
		return &ConfigurationError{
			Field: "FlushBytes",
			Reason: fmt.Sprintf(
				"flush bytes config value (%d) is too small and will be ignored with compression enabled. Use at least %d",
				cfg.FlushBytes, minFlushBytes,
			),
		}
	}
	if cfg.MaxRetries < 0 {
		return &ConfigurationError{Field: "MaxRetries", Reason: "must not be negative, use DisableRetry instead"}
	}
	if cfg.RequestsPerSecond < 0 {
		return &ConfigurationError{Field: "RequestsPerSecond", Reason: "must not be negative"}
	}
	switch cfg.Refresh {
	case "", "true", "false", "wait_for":
	default:
		return &ConfigurationError{Field: "Refresh", Reason: fmt.Sprintf("unknown refresh policy %q", cfg.Refresh)}
	}
	return nil
}
