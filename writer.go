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
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulbellamy/ratecounter"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Writer provides a bulk API for writing documents to a document store.
//
// Writer buffers write requests per destination in their encoded form
// until a buffer holds `config.BulkActions` requests, reaches
// `config.FlushBytes`, or its oldest request has waited for
// `config.FlushInterval`. The buffer is then sent as one bulk request in
// the background.
//
// Up to `config.MaxRequests` bulk requests may be in flight concurrently.
// When all of them are busy, the goroutine triggering the next flush blocks
// until one completes.
//
// Bulk requests that fail because the store is unreachable or slow are
// retried as a whole, rebuilding the connection first when needed. Every
// batch yields exactly one Outcome, delivered to `config.OnBatchComplete`
// or logged.
type Writer struct {
	// Used for Stats.
	added        atomic.Int64
	active       atomic.Int64
	bulkRequests atomic.Int64
	retried      atomic.Int64
	reconnected  atomic.Int64
	bytesTotal   atomic.Int64

	config   Config
	conns    *connectionManager
	acc      *accumulator
	pool     *requestPool
	ctrl     *controller
	reporter reporter
	counter  *ratecounter.RateCounter

	metrics    *metrics
	metricsReg metric.Registration

	errgroup              errgroup.Group
	errgroupContext       context.Context
	cancelErrgroupContext context.CancelCauseFunc

	// submitMu is held for reading while batches are handed to flush
	// goroutines, and for writing by Close before it waits for them.
	submitMu  sync.RWMutex
	mu        sync.Mutex
	closed    chan struct{}
	timerDone chan struct{}

	// tracer is an OTel tracer, and should not be confused with `w.config.Tracer`
	// which is an Elastic APM Tracer.
	tracer trace.Tracer
}

// New returns a new Writer for cfg. It returns a *ConfigurationError when
// cfg is invalid. No endpoint is contacted until the first flush.
func New(cfg Config) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	store := cfg.Store
	if store == nil {
		var err error
		store, err = NewElasticsearchStore(StoreConfig{
			Endpoints:    cfg.Endpoints,
			ClusterName:  cfg.ClusterName,
			Discovery:    cfg.Discovery,
			Username:     cfg.Username,
			Password:     cfg.Password,
			APIKey:       cfg.APIKey,
			Transport:    cfg.Transport,
			ProbeTimeout: cfg.RequestTimeout,
			Logger:       cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
	}

	ms, reg, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		config:    cfg,
		conns:     newConnectionManager(store, cfg.Logger),
		acc:       newAccumulator(cfg.BulkActions, cfg.FlushBytes),
		reporter:  reporter{logger: cfg.Logger},
		counter:   ratecounter.NewRateCounter(time.Minute),
		metrics:   ms,
		closed:    make(chan struct{}),
		timerDone: make(chan struct{}),
	}
	w.metricsReg = reg
	// We create a cancellable context for the errgroup.Group for unblocking
	// flushes when Close returns. We intentionally do not use errgroup.WithContext,
	// because one flush failure should not cause the context to be cancelled.
	w.errgroupContext, w.cancelErrgroupContext = context.WithCancelCause(
		context.Background(),
	)
	w.pool = newRequestPool(cfg.MaxRequests, cfg.CompressionLevel, w.errgroupContext.Done())

	limiter := ratelimit.NewUnlimited()
	if cfg.RequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RequestsPerSecond)
	}
	w.ctrl = &controller{
		conns: w.conns,
		exec: &executor{
			timeout:  cfg.RequestTimeout,
			pipeline: cfg.Pipeline,
			refresh:  cfg.Refresh,
		},
		budget:  cfg.retryBudget(),
		backoff: cfg.RetryBackoff,
		limiter: limiter,
		onRetry: func(kind AttemptErrorKind) {
			w.retried.Add(1)
			w.metrics.retries.Add(context.Background(), 1,
				metric.WithAttributeSet(w.config.MetricAttributes),
				metric.WithAttributes(attribute.String("kind", kind.String())),
			)
		},
		onReconnect: func() {
			w.reconnected.Add(1)
			w.metrics.reconnects.Add(context.Background(), 1,
				metric.WithAttributeSet(w.config.MetricAttributes),
			)
		},
	}

	attrs := metric.WithAttributeSet(cfg.MetricAttributes)
	w.metrics.availableBulkRequests.Add(context.Background(), int64(cfg.MaxRequests), attrs)

	if cfg.TracerProvider != nil {
		w.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-bulkwriter.writer")
	}
	if cfg.FlushInterval > 0 {
		go w.runFlushTimer()
	} else {
		close(w.timerDone)
	}
	return w, nil
}

// Add enqueues document for indexing into dest, with a store assigned ID.
//
// The document body is copied before Add returns, and is not accessed
// afterwards.
//
// Add returns once the document is buffered. If buffering the document
// triggers a flush, Add may block until a request slot is available or
// ctx is done. The outcome of the document is reported with its batch.
func (w *Writer) Add(ctx context.Context, dest Destination, document io.WriterTo) error {
	if document == nil {
		return errMissingBody
	}
	return w.AddRequest(ctx, WriteRequest{
		Action:      ActionIndex,
		Destination: dest,
		Body:        document,
	})
}

// AddRequest enqueues req. It behaves like Add.
func (w *Writer) AddRequest(ctx context.Context, req WriteRequest) error {
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}
	enc, err := encodeRequest(req)
	if err != nil {
		return err
	}
	if w.tracingEnabled() || w.otelTracingEnabled() {
		enc.link = linkFromContext(ctx)
	}

	w.submitMu.RLock()
	defer w.submitMu.RUnlock()
	// Count the request as active before it becomes visible to flushes.
	w.active.Add(1)
	batch, err := w.acc.append(enc, time.Now())
	if err != nil {
		w.active.Add(-1)
		return err
	}
	w.added.Add(1)
	attrs := metric.WithAttributeSet(w.config.MetricAttributes)
	w.metrics.requestsAdded.Add(context.Background(), 1, attrs)
	w.metrics.requestsActive.Add(context.Background(), 1, attrs)
	if batch == nil {
		return nil
	}
	return w.submit(ctx, w.errgroupContext, batch, w.config.OnBatchComplete)
}

// SubmitBatch indexes docs into dest as a single bulk request, bypassing
// the buffers, and waits for its outcome.
//
// A nil error means the store processed the request; the outcome may still
// hold rejected items. A non-nil error means no item reached the store.
func (w *Writer) SubmitBatch(ctx context.Context, dest Destination, docs []io.WriterTo) (*Outcome, error) {
	return w.SubmitRequests(ctx, indexRequests(dest, docs))
}

// SubmitRequests sends reqs as a single bulk request, bypassing the
// buffers, and waits for its outcome. Cancelling ctx aborts the request
// without further retries.
func (w *Writer) SubmitRequests(ctx context.Context, reqs []WriteRequest) (*Outcome, error) {
	batch, err := w.newBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}
	type result struct {
		outcome *Outcome
		err     error
	}
	done := make(chan result, 1)
	// The flush always completes the batch, so the handler is the only
	// thing waited on.
	complete := func(o *Outcome, err error) { done <- result{outcome: o, err: err} }

	flushCtx, cancel := w.flushContext(ctx)
	defer cancel()
	w.submitDirect(ctx, flushCtx, batch, nil, complete)
	r := <-done
	return r.outcome, r.err
}

// SubmitBatchAsync indexes docs into dest as a single bulk request,
// bypassing the buffers. fn is called exactly once with the outcome.
func (w *Writer) SubmitBatchAsync(ctx context.Context, dest Destination, docs []io.WriterTo, fn CompletionFunc) {
	w.SubmitRequestsAsync(ctx, indexRequests(dest, docs), fn)
}

// SubmitRequestsAsync sends reqs as a single bulk request, bypassing the
// buffers. fn is called exactly once with the outcome.
//
// SubmitRequestsAsync may block until a request slot is available or ctx
// is done. Once submitted, the request is no longer bound to ctx.
func (w *Writer) SubmitRequestsAsync(ctx context.Context, reqs []WriteRequest, fn CompletionFunc) {
	batch, err := w.newBatch(ctx, reqs)
	w.submitDirect(ctx, w.errgroupContext, batch, err, fn)
}

// Flush sends every buffered request and waits for the resulting bulk
// requests to complete. It returns the terminal errors of those requests;
// item rejections are only reported in their outcomes.
func (w *Writer) Flush(ctx context.Context) error {
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}
	w.submitMu.RLock()
	batches := w.acc.drainAll()
	var errs []error
	submitted := batches[:0]
	for _, batch := range batches {
		if err := w.submit(ctx, w.errgroupContext, batch, w.config.OnBatchComplete); err != nil {
			errs = append(errs, err)
			continue
		}
		submitted = append(submitted, batch)
	}
	w.submitMu.RUnlock()

	for _, batch := range submitted {
		select {
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			return errors.Join(errs...)
		case <-batch.done:
			if batch.err != nil {
				errs = append(errs, batch.err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes the writer, first flushing any buffered requests.
//
// Close waits for every in-flight bulk request, and returns the terminal
// errors of the requests it flushed. If ctx is cancelled, Close returns and
// any ongoing flush attempts are cancelled.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.closed:
		return w.errgroup.Wait()
	default:
	}
	close(w.closed)

	// Cancel ongoing flushes and pool.Get() when ctx is cancelled.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer w.cancelErrgroupContext(errors.New("cancelled by writer.close"))
		<-ctx.Done()
	}()
	defer w.metrics.availableBulkRequests.Add(context.Background(), -int64(w.config.MaxRequests), metric.WithAttributeSet(w.config.MetricAttributes))

	<-w.timerDone

	// Wait for in-progress submissions, then drain what they left behind.
	w.submitMu.Lock()
	batches := w.acc.close()
	w.submitMu.Unlock()

	var errs []error
	for _, batch := range batches {
		if err := w.submit(ctx, w.errgroupContext, batch, w.config.OnBatchComplete); err != nil {
			errs = append(errs, err)
			continue
		}
		<-batch.done
		if batch.err != nil {
			errs = append(errs, batch.err)
		}
	}
	if err := w.errgroup.Wait(); err != nil {
		errs = append(errs, err)
	}
	if err := w.conns.close(); err != nil {
		w.config.Logger.Warn("failed to close connection", zap.Error(err))
	}
	if w.metricsReg != nil {
		if err := w.metricsReg.Unregister(); err != nil {
			w.config.Logger.Warn("failed to unregister metrics", zap.Error(err))
		}
	}
	if len(errs) != 0 {
		return fmt.Errorf("failed to flush requests on close: %w", errors.Join(errs...))
	}
	return nil
}

// Stats holds bulk writing stats.
type Stats struct {
	// Added holds the number of write requests added to the buffers.
	Added int64

	// Active holds the number of write requests buffered or in flight.
	Active int64

	// BulkRequests holds the number of bulk requests completed.
	BulkRequests int64

	// Acknowledged holds the number of write requests applied by the store.
	Acknowledged int64

	// Rejected holds the number of write requests refused by the store.
	Rejected int64

	// Failed holds the number of write requests that never reached the
	// store.
	Failed int64

	// Retries holds the number of bulk request attempts that were retried.
	Retries int64

	// Reconnects holds the number of times the connection was rebuilt.
	Reconnects int64

	// BytesTotal holds the number of bytes sent in bulk request bodies.
	BytesTotal int64

	// AvailableBulkRequests holds the number of idle request slots.
	AvailableBulkRequests int64

	// AcknowledgedLastMinute holds the number of write requests acknowledged
	// in the last minute.
	AcknowledgedLastMinute int64
}

// Stats returns the bulk writing stats.
func (w *Writer) Stats() Stats {
	return Stats{
		Added:                  w.added.Load(),
		Active:                 w.active.Load(),
		BulkRequests:           w.bulkRequests.Load(),
		Acknowledged:           atomic.LoadInt64(&w.metrics.acknowledged),
		Rejected:               atomic.LoadInt64(&w.metrics.rejected),
		Failed:                 atomic.LoadInt64(&w.metrics.failed),
		Retries:                w.retried.Load(),
		Reconnects:             w.reconnected.Load(),
		BytesTotal:             w.bytesTotal.Load(),
		AvailableBulkRequests:  int64(w.pool.Available()),
		AcknowledgedLastMinute: w.counter.Rate(),
	}
}

// newBatch encodes reqs into a batch that bypasses the buffers. On error
// the returned batch still holds reqs, so their outcome can be reported.
func (w *Writer) newBatch(ctx context.Context, reqs []WriteRequest) (*Batch, error) {
	batch := &Batch{
		ExecutionID: w.acc.nextExecutionID(),
		items:       make([]encodedRequest, len(reqs)),
		created:     time.Now(),
	}
	for i, req := range reqs {
		batch.items[i].req = req
	}
	if len(reqs) == 0 {
		return batch, errEmptyBatch
	}
	var link *linkedTraceContext
	if w.tracingEnabled() || w.otelTracingEnabled() {
		link = linkFromContext(ctx)
	}
	var errs []error
	for i, req := range reqs {
		enc, err := encodeRequest(req)
		if err != nil {
			errs = append(errs, fmt.Errorf("request %d: %w", i, err))
			continue
		}
		enc.link = link
		batch.items[i] = enc
		batch.size += len(enc.data)
	}
	if len(errs) != 0 {
		return batch, errors.Join(errs...)
	}
	return batch, nil
}

// submitDirect submits a batch that bypasses the buffers. A non-nil err
// fails the batch without submitting it.
func (w *Writer) submitDirect(ctx, flushCtx context.Context, batch *Batch, err error, fn CompletionFunc) {
	w.submitMu.RLock()
	select {
	case <-w.closed:
		w.submitMu.RUnlock()
		// Flush goroutines can no longer be started.
		if err == nil {
			err = ErrClosed
		}
		w.finish(batch, failedOutcome(batch, err), err, fn)
		return
	default:
	}
	defer w.submitMu.RUnlock()
	if err != nil {
		w.finishAsync(batch, failedOutcome(batch, err), err, fn)
		return
	}
	n := int64(batch.Len())
	w.active.Add(n)
	w.metrics.requestsActive.Add(context.Background(), n, metric.WithAttributeSet(w.config.MetricAttributes))
	w.submit(ctx, flushCtx, batch, fn)
}

// submit hands batch to a flush goroutine, waiting for a request slot
// until ctx is done. The batch is completed with a failed outcome, on a
// flush goroutine, when no slot can be acquired. Callers must hold
// submitMu, unless they are Close.
func (w *Writer) submit(ctx, flushCtx context.Context, batch *Batch, fn CompletionFunc) error {
	batch.done = make(chan struct{})
	body, err := w.pool.Get(ctx)
	if err != nil {
		err = fmt.Errorf("failed to acquire request slot: %w", err)
		w.config.Logger.Warn("failed to submit bulk request",
			zap.Uint64("execution_id", batch.ExecutionID), zap.Error(err),
		)
		outcome := failedOutcome(batch, err)
		w.settle(batch, outcome)
		w.finishAsync(batch, outcome, err, fn)
		return err
	}
	attrs := metric.WithAttributeSet(w.config.MetricAttributes)
	w.metrics.availableBulkRequests.Add(context.Background(), -1, attrs)
	w.metrics.bufferDuration.Record(context.Background(),
		time.Since(batch.created).Seconds(), attrs,
	)
	w.errgroup.Go(func() error {
		outcome, err := w.flush(flushCtx, batch, body)
		// Release the slot first, so fn may submit more requests.
		w.pool.Put(body)
		w.metrics.availableBulkRequests.Add(context.Background(), 1,
			metric.WithAttributeSet(w.config.MetricAttributes),
		)
		w.finish(batch, outcome, err, fn)
		return nil
	})
	return nil
}

// finish reports the outcome of batch and wakes up its waiters.
func (w *Writer) finish(batch *Batch, outcome *Outcome, err error, fn CompletionFunc) {
	w.reporter.report(batch, outcome, err, fn)
	batch.err = err
	if batch.done != nil {
		close(batch.done)
	}
}

// finishAsync calls finish on a flush goroutine, so fn never runs on the
// submitting goroutine or while it holds submitMu. Callers must hold
// submitMu, unless they are Close.
func (w *Writer) finishAsync(batch *Batch, outcome *Outcome, err error, fn CompletionFunc) {
	w.errgroup.Go(func() error {
		w.finish(batch, outcome, err, fn)
		return nil
	})
}

// settle records the item outcomes of a batch that left the buffers.
func (w *Writer) settle(batch *Batch, outcome *Outcome) {
	var acked, rejected, failed int64
	for _, item := range outcome.Items {
		switch item.Status {
		case ItemAcknowledged:
			acked++
		case ItemRejected:
			rejected++
		case ItemFailed:
			failed++
		}
	}
	atomic.AddInt64(&w.metrics.acknowledged, acked)
	atomic.AddInt64(&w.metrics.rejected, rejected)
	atomic.AddInt64(&w.metrics.failed, failed)
	n := int64(batch.Len())
	w.active.Add(-n)
	w.metrics.requestsActive.Add(context.Background(), -n,
		metric.WithAttributeSet(w.config.MetricAttributes),
	)
	if acked > 0 {
		w.counter.Incr(acked)
	}
}

func (w *Writer) flush(ctx context.Context, batch *Batch, body *requestBuffer) (*Outcome, error) {
	n := batch.Len()
	logger := w.config.Logger
	var links []linkedTraceContext
	if w.tracingEnabled() || w.otelTracingEnabled() {
		links = batchLinks(batch)
	}
	var tx *apm.Transaction
	if w.tracingEnabled() {
		apmLinks := make([]apm.SpanLink, len(links))
		for i, link := range links {
			apmLinks[i] = link.APMLink()
		}
		tx = w.config.Tracer.StartTransactionOptions("bulkwriter.flush", "output",
			apm.TransactionOptions{Links: apmLinks},
		)
		tx.Context.SetLabel("documents", n)
		tx.Context.SetLabel("execution_id", batch.ExecutionID)
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)

		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}
	var span trace.Span
	if w.otelTracingEnabled() {
		otelLinks := make([]trace.Link, len(links))
		for i, link := range links {
			otelLinks[i] = link.OTELLink()
		}
		ctx, span = w.tracer.Start(ctx, "bulkwriter.flush",
			trace.WithAttributes(
				attribute.Int("documents", n),
				attribute.Int64("execution_id", int64(batch.ExecutionID)),
			),
			trace.WithLinks(otelLinks...),
		)
		defer span.End()

		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}

	if err := body.encode(batch); err != nil {
		outcome := failedOutcome(batch, err)
		w.settle(batch, outcome)
		return outcome, err
	}
	res, err := w.ctrl.execute(ctx, batch, body, logger)
	w.bulkRequests.Add(1)
	attrs := metric.WithAttributeSet(w.config.MetricAttributes)
	w.metrics.bulkRequests.Add(context.Background(), 1, attrs)
	w.metrics.flushDuration.Record(context.Background(), res.took.Seconds(), attrs)
	if res.attempts > 0 {
		flushed := int64(body.Len())
		w.bytesTotal.Add(flushed)
		w.metrics.bytesTotal.Add(context.Background(), flushed, attrs)
	}

	outcome := newOutcome(batch, res.resp, res.attempts, res.took, err)
	w.settle(batch, outcome)
	if err != nil {
		if tx != nil {
			tx.Outcome = "failure"
			apm.CaptureError(ctx, err).Send()
		}
		if w.otelTracingEnabled() && span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bulk request failed")
		}
		return outcome, err
	}
	rejected := outcome.Rejected()
	if tx != nil {
		tx.Outcome = "success"
		if len(rejected) > 0 {
			tx.Outcome = "failure"
		}
	}
	if len(rejected) > 0 {
		if w.otelTracingEnabled() && span.IsRecording() {
			span.RecordError(fmt.Errorf("%s: %s", rejected[0].Error.Type, rejected[0].Error.Reason))
			span.SetStatus(codes.Error, fmt.Sprintf("%d write requests rejected", len(rejected)))
		}
	} else if w.otelTracingEnabled() && span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
	logger.Debug("bulk request completed",
		zap.Uint64("execution_id", batch.ExecutionID),
		zap.Int("attempts", res.attempts),
		zap.Stringer("status", outcome.Status()),
	)
	return outcome, nil
}

// runFlushTimer flushes buffers whose oldest request has waited for
// FlushInterval. The timer is reset to the earliest pending deadline.
func (w *Writer) runFlushTimer() {
	defer close(w.timerDone)
	flushTimer := time.NewTimer(w.config.FlushInterval)
	defer flushTimer.Stop()
	for {
		select {
		case <-w.closed:
			return
		case <-flushTimer.C:
		}
		limit := time.Now().Add(-w.config.FlushInterval)
		w.submitMu.RLock()
		for _, batch := range w.acc.drainExpired(limit) {
			w.submit(w.errgroupContext, w.errgroupContext, batch, w.config.OnBatchComplete)
		}
		w.submitMu.RUnlock()
		flushTimer.Reset(w.nextFlushDelay())
	}
}

// nextFlushDelay returns the time until the oldest pending request reaches
// FlushInterval.
func (w *Writer) nextFlushDelay() time.Duration {
	oldest, ok := w.acc.oldest()
	if !ok {
		return w.config.FlushInterval
	}
	if d := time.Until(oldest.Add(w.config.FlushInterval)); d > time.Millisecond {
		return d
	}
	return time.Millisecond
}

// flushContext returns a context for a bulk request bound to ctx, that is
// also cancelled when Close gives up on in-flight requests.
func (w *Writer) flushContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(w.errgroupContext, func() {
		cancel(context.Cause(w.errgroupContext))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

func indexRequests(dest Destination, docs []io.WriterTo) []WriteRequest {
	reqs := make([]WriteRequest, len(docs))
	for i, doc := range docs {
		reqs[i] = WriteRequest{Action: ActionIndex, Destination: dest, Body: doc}
	}
	return reqs
}

// tracingEnabled checks whether we should be doing tracing
// using the Elastic APM tracer.
func (w *Writer) tracingEnabled() bool {
	return w.config.Tracer != nil && w.config.Tracer.Recording()
}

// otelTracingEnabled checks whether we should be doing tracing
// using otel tracer.
func (w *Writer) otelTracingEnabled() bool {
	return w.tracer != nil
}
