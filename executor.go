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
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
)

// bulkFilterPath limits the bulk response to the fields needed to build
// item outcomes.
var bulkFilterPath = []string{
	"took",
	"errors",
	"items.*._index",
	"items.*._id",
	"items.*.status",
	"items.*.result",
	"items.*.error.type",
	"items.*.error.reason",
}

// bulkResponse is the decoded response of a bulk request. For a request
// rejected as a whole, every item carries the request status and error.
type bulkResponse struct {
	Took      int
	HasErrors bool
	Items     []bulkResponseItem
}

// bulkResponseItem is the store response for one write request.
type bulkResponseItem struct {
	Action     string
	Index      string
	DocumentID string
	Status     int
	Result     string
	Error      ItemError
}

// rejected reports whether the store refused the item. A delete of a
// missing document is not a rejection.
func (item bulkResponseItem) rejected() bool {
	if item.Error.Type != "" {
		return true
	}
	if item.Status == http.StatusNotFound && item.Action == string(ActionDelete) {
		return false
	}
	return item.Status >= 300
}

// executor performs a single bulk request attempt.
type executor struct {
	timeout  time.Duration
	pipeline string
	refresh  string
}

// attempt sends body on conn under the attempt deadline, and classifies
// the result. A StoreRejected error is always accompanied by a response
// carrying the per-item rejections; any other non-nil error means no item
// outcome is known.
func (e *executor) attempt(ctx context.Context, conn *Connection, batch *Batch, body *requestBuffer) (bulkResponse, *AttemptError) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := esapi.BulkRequest{
		Body:       body.reader(),
		Header:     make(http.Header),
		FilterPath: bulkFilterPath,
		Pipeline:   e.pipeline,
		Refresh:    e.refresh,
		Timeout:    e.timeout,
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if body.compressed() {
		req.Header.Set("Content-Encoding", "gzip")
	}
	res, err := req.Do(attemptCtx, conn)
	if err != nil {
		return bulkResponse{}, classifyError(ctx, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusBadGateway,
		res.StatusCode == http.StatusServiceUnavailable,
		res.StatusCode == http.StatusGatewayTimeout:
		return bulkResponse{}, &AttemptError{
			Kind:       TransportError,
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("flush failed: %s", res.String()),
		}
	case res.IsError():
		itemErr := decodeRequestError(res.Body)
		resp := bulkResponse{HasErrors: true, Items: make([]bulkResponseItem, batch.Len())}
		for i, item := range batch.items {
			resp.Items[i] = bulkResponseItem{
				Action:     string(item.req.Action),
				Index:      item.req.Destination.Index,
				DocumentID: item.req.DocumentID,
				Status:     res.StatusCode,
				Error:      itemErr,
			}
		}
		return resp, &AttemptError{
			Kind:       StoreRejected,
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("bulk request rejected: %s: %s", itemErr.Type, itemErr.Reason),
		}
	}

	resp, err := decodeBulkResponse(res.Body, batch.Len())
	if err != nil {
		if ctxErr := classifyError(ctx, err); ctxErr.Kind == RequestTimeout {
			return bulkResponse{}, ctxErr
		}
		return bulkResponse{}, &AttemptError{Kind: TransportError, StatusCode: res.StatusCode, Err: err}
	}
	for _, item := range resp.Items {
		if item.rejected() {
			return resp, &AttemptError{
				Kind:       StoreRejected,
				StatusCode: res.StatusCode,
				Err:        errors.New("bulk request completed with item failures"),
			}
		}
	}
	return resp, nil
}

// classifyError maps a failed request to an attempt error kind. parent is
// the context of the whole batch: an expired attempt deadline is only a
// timeout while parent is still live.
func classifyError(parent context.Context, err error) *AttemptError {
	var netErr net.Error
	var dnsErr *net.DNSError
	switch {
	case parent.Err() == nil && errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &AttemptError{Kind: RequestTimeout, Err: err}
	case errors.Is(err, ErrNoEndpointAvailable),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.As(err, &dnsErr),
		strings.Contains(err.Error(), "no connection available"):
		return &AttemptError{Kind: NoEndpointAvailable, Err: err}
	}
	return &AttemptError{Kind: TransportError, Err: err}
}

// decodeBulkResponse decodes a filtered bulk response. n is the expected
// number of items.
func decodeBulkResponse(r io.Reader, n int) (bulkResponse, error) {
	resp := bulkResponse{Items: make([]bulkResponseItem, 0, n)}
	iter := jsoniter.Parse(jsoniter.ConfigFastest, r, 4096)
	iter.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
		switch field {
		case "took":
			resp.Took = i.ReadInt()
		case "errors":
			resp.HasErrors = i.ReadBool()
		case "items":
			i.ReadArrayCB(func(i *jsoniter.Iterator) bool {
				return i.ReadMapCB(func(i *jsoniter.Iterator, action string) bool {
					item := bulkResponseItem{Action: action}
					i.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
						switch field {
						case "_index":
							item.Index = i.ReadString()
						case "_id":
							item.DocumentID = i.ReadString()
						case "status":
							item.Status = i.ReadInt()
						case "result":
							item.Result = i.ReadString()
						case "error":
							item.Error = readItemError(i)
						default:
							i.Skip()
						}
						return true
					})
					resp.Items = append(resp.Items, item)
					return true
				})
			})
		default:
			i.Skip()
		}
		return true
	})
	if iter.Error != nil && iter.Error != io.EOF {
		return bulkResponse{}, fmt.Errorf("error decoding bulk response: %w", iter.Error)
	}
	return resp, nil
}

// decodeRequestError extracts the error of a request rejected as a whole.
func decodeRequestError(r io.Reader) ItemError {
	var itemErr ItemError
	iter := jsoniter.Parse(jsoniter.ConfigFastest, r, 1024)
	iter.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
		if field == "error" {
			itemErr = readItemError(i)
		} else {
			i.Skip()
		}
		return true
	})
	if itemErr.Type == "" {
		itemErr.Type = "request_rejected"
	}
	return itemErr
}

// readItemError reads an error object, or a bare error string.
func readItemError(i *jsoniter.Iterator) ItemError {
	var itemErr ItemError
	if i.WhatIsNext() == jsoniter.StringValue {
		itemErr.Reason = i.ReadString()
		return itemErr
	}
	i.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
		switch field {
		case "type":
			itemErr.Type = i.ReadString()
		case "reason":
			// Match Elasticsearch field mapper field value:
			// failed to parse field [%s] of type [%s] in %s. Preview of field's value: '%s'
			// The preview may contain document content.
			itemErr.Reason, _, _ = strings.Cut(i.ReadString(), ". Preview")
		default:
			i.Skip()
		}
		return true
	})
	return itemErr
}
