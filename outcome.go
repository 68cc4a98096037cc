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
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CompletionFunc receives the outcome of a batch. It is called exactly once
// per batch, with a non-nil Outcome. err is non-nil when no item reached
// the store, in which case every item is ItemFailed.
//
// CompletionFunc is called on a flush goroutine owned by the Writer, after
// the in-flight slot of the batch, if any, is released, so it may add or
// submit requests. The only exception is a batch submitted after Close has begun:
// no flush goroutine can be started for it, so its CompletionFunc runs on
// the submitting goroutine, with no lock held, before the submit call
// returns.
type CompletionFunc func(outcome *Outcome, err error)

// ItemStatus is the outcome of a single write request.
type ItemStatus int

const (
	// ItemAcknowledged means the store applied the request.
	ItemAcknowledged ItemStatus = iota + 1

	// ItemRejected means the store processed and refused the request.
	ItemRejected

	// ItemFailed means the request never reached the store, or its
	// outcome is unknown.
	ItemFailed
)

func (s ItemStatus) String() string {
	switch s {
	case ItemAcknowledged:
		return "Acknowledged"
	case ItemRejected:
		return "Rejected"
	case ItemFailed:
		return "Failed"
	}
	return fmt.Sprintf("ItemStatus(%d)", int(s))
}

// BatchStatus summarizes the item outcomes of a batch.
type BatchStatus int

const (
	BatchAcknowledged BatchStatus = iota + 1
	BatchPartialFailure
	BatchTotalFailure
)

func (s BatchStatus) String() string {
	switch s {
	case BatchAcknowledged:
		return "Acknowledged"
	case BatchPartialFailure:
		return "PartialFailure"
	case BatchTotalFailure:
		return "TotalFailure"
	}
	return fmt.Sprintf("BatchStatus(%d)", int(s))
}

// ItemError is the error reported by the store for a rejected request.
type ItemError struct {
	Type   string
	Reason string
}

// ItemOutcome is the outcome of one write request of a batch.
type ItemOutcome struct {
	// Request holds the write request. Its Body can be resubmitted.
	Request WriteRequest

	// Position holds the index of the request within its batch.
	Position int

	Status ItemStatus

	// StatusCode holds the HTTP status reported by the store, if any.
	StatusCode int

	// DocumentID holds the document ID, as assigned by the store when the
	// request did not set one.
	DocumentID string

	// Error holds the store error of a rejected request.
	Error ItemError

	// Err holds the cause of a failed request.
	Err error
}

// Outcome is the result of a batch, with one ItemOutcome per request in
// insertion order.
type Outcome struct {
	ExecutionID uint64
	Items       []ItemOutcome

	// Attempts holds the number of bulk request attempts made.
	Attempts int

	// Took holds the time spent from the first attempt until the outcome
	// was known.
	Took time.Duration
}

// Status summarizes the item outcomes.
func (o *Outcome) Status() BatchStatus {
	acked := o.Acknowledged()
	switch {
	case acked == len(o.Items):
		return BatchAcknowledged
	case acked == 0:
		return BatchTotalFailure
	}
	return BatchPartialFailure
}

// Acknowledged returns the number of acknowledged requests.
func (o *Outcome) Acknowledged() int {
	var n int
	for _, item := range o.Items {
		if item.Status == ItemAcknowledged {
			n++
		}
	}
	return n
}

// Rejected returns the outcomes of the requests refused by the store.
func (o *Outcome) Rejected() []ItemOutcome {
	return o.filter(ItemRejected)
}

// Failed returns the outcomes of the requests that did not reach the
// store.
func (o *Outcome) Failed() []ItemOutcome {
	return o.filter(ItemFailed)
}

// Requests returns the write requests with the given status, which may be
// resubmitted.
func (o *Outcome) Requests(status ItemStatus) []WriteRequest {
	var reqs []WriteRequest
	for _, item := range o.Items {
		if item.Status == status {
			reqs = append(reqs, item.Request)
		}
	}
	return reqs
}

func (o *Outcome) filter(status ItemStatus) []ItemOutcome {
	var items []ItemOutcome
	for _, item := range o.Items {
		if item.Status == status {
			items = append(items, item)
		}
	}
	return items
}

var errMissingResponseItem = errors.New("write request missing from bulk response")

// newOutcome pairs the requests of b with resp by position. When err is
// non-nil every item is failed with it. Any request the response does not
// account for is failed, never acknowledged.
func newOutcome(b *Batch, resp bulkResponse, attempts int, took time.Duration, err error) *Outcome {
	o := &Outcome{
		ExecutionID: b.ExecutionID,
		Items:       make([]ItemOutcome, len(b.items)),
		Attempts:    attempts,
		Took:        took,
	}
	for i, item := range b.items {
		out := ItemOutcome{
			Request:    item.req,
			Position:   i,
			DocumentID: item.req.DocumentID,
		}
		switch {
		case err != nil:
			out.Status = ItemFailed
			out.Err = err
		case i >= len(resp.Items):
			out.Status = ItemFailed
			out.Err = errMissingResponseItem
		default:
			ri := resp.Items[i]
			out.StatusCode = ri.Status
			if ri.DocumentID != "" {
				out.DocumentID = ri.DocumentID
			}
			if ri.rejected() {
				out.Status = ItemRejected
				out.Error = ri.Error
			} else {
				out.Status = ItemAcknowledged
			}
		}
		o.Items[i] = out
	}
	return o
}

// failedOutcome returns the outcome of a batch that could not be
// submitted.
func failedOutcome(b *Batch, err error) *Outcome {
	return newOutcome(b, bulkResponse{}, 0, 0, err)
}

// reporter delivers batch outcomes, exactly once per batch.
type reporter struct {
	logger *zap.Logger
}

// report delivers the outcome of b to fn, or logs a summary when fn is
// nil. Deliveries after the first are dropped.
func (r *reporter) report(b *Batch, o *Outcome, err error, fn CompletionFunc) {
	if !b.reported.CompareAndSwap(false, true) {
		r.logger.Warn("dropping duplicate batch outcome",
			zap.Uint64("execution_id", b.ExecutionID),
		)
		return
	}
	if fn == nil {
		r.logSummary(o, err)
		return
	}
	fn(o, err)
}

type rejectionKey struct {
	index  string
	kind   string
	reason string
}

func (r *reporter) logSummary(o *Outcome, err error) {
	fields := []zap.Field{
		zap.Uint64("execution_id", o.ExecutionID),
		zap.Int("documents", len(o.Items)),
		zap.Int("attempts", o.Attempts),
		zap.Duration("took", o.Took),
	}
	if err != nil {
		r.logger.Error("bulk request failed", append(fields, zap.Error(err))...)
		return
	}
	rejected := o.Rejected()
	failed := o.Failed()
	if len(rejected) == 0 && len(failed) == 0 {
		r.logger.Info("bulk request completed", fields...)
		return
	}
	// Group rejections so repeated mapping errors produce a single record.
	// Document bodies are never logged.
	counts := make(map[rejectionKey]int)
	var order []rejectionKey
	for _, item := range rejected {
		key := rejectionKey{
			index:  item.Request.Destination.Index,
			kind:   item.Error.Type,
			reason: item.Error.Reason,
		}
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
	}
	for _, key := range order {
		r.logger.Error(fmt.Sprintf("failed to index documents in '%s' (%s): %s",
			key.index, key.kind, key.reason,
		), zap.Uint64("execution_id", o.ExecutionID), zap.Int("documents", counts[key]))
	}
	r.logger.Error("bulk request completed with failures", append(fields,
		zap.Int("rejected", len(rejected)),
		zap.Int("failed", len(failed)),
	)...)
}
