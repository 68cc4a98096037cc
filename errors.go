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
)

var (
	// ErrClosed is returned from methods of closed Writers.
	ErrClosed = errors.New("bulk writer closed")

	// ErrConnectivity is matched by errors caused by the store being
	// unreachable. These are retried after rebuilding the connection.
	ErrConnectivity = errors.New("connectivity error")

	// ErrNoEndpointAvailable is returned when none of the configured
	// endpoints can be reached. It matches ErrConnectivity.
	ErrNoEndpointAvailable = fmt.Errorf("no endpoint available: %w", ErrConnectivity)

	// ErrTimeout is matched by errors caused by a write attempt exceeding
	// the configured request timeout.
	ErrTimeout = errors.New("request timeout")

	// ErrStoreRejected is matched by errors where the store processed the
	// request but rejected it.
	ErrStoreRejected = errors.New("rejected by store")

	// ErrExhaustedRetries is matched by the error reported for a batch once
	// the retry budget has been spent.
	ErrExhaustedRetries = errors.New("retries exhausted")

	errMissingIndex = errors.New("missing index name")
	errMissingBody  = errors.New("missing document body")
	errMissingID    = errors.New("missing document id")
	errEmptyBatch   = errors.New("no write requests")
)

// ConfigurationError is returned when a Writer or store is constructed with
// a structurally invalid configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// AttemptErrorKind classifies the failure of a single write attempt. The
// kind, not the underlying error type, decides how the attempt is retried.
type AttemptErrorKind int

const (
	// NoEndpointAvailable means no endpoint could be reached. The connection
	// is rebuilt before retrying.
	NoEndpointAvailable AttemptErrorKind = iota + 1

	// RequestTimeout means the attempt exceeded its deadline. It is retried
	// on the same connection.
	RequestTimeout

	// StoreRejected means the store answered and rejected the request or
	// some of its items. It is never retried.
	StoreRejected

	// TransportError is any other I/O fault. The connection is rebuilt
	// before retrying.
	TransportError
)

func (k AttemptErrorKind) String() string {
	switch k {
	case NoEndpointAvailable:
		return "no_endpoint_available"
	case RequestTimeout:
		return "request_timeout"
	case StoreRejected:
		return "store_rejected"
	case TransportError:
		return "transport_error"
	}
	return fmt.Sprintf("AttemptErrorKind(%d)", int(k))
}

// reconnect reports whether the connection must be rebuilt before the
// next attempt.
func (k AttemptErrorKind) reconnect() bool {
	return k == NoEndpointAvailable || k == TransportError
}

func (k AttemptErrorKind) retryable() bool {
	return k != StoreRejected
}

// AttemptError is a classified write attempt failure.
type AttemptError struct {
	Kind AttemptErrorKind

	// StatusCode holds the HTTP status when the store responded.
	StatusCode int

	Err error
}

func (e *AttemptError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the attempt kind.
func (e *AttemptError) Is(target error) bool {
	switch target {
	case ErrConnectivity:
		return e.Kind == NoEndpointAvailable || e.Kind == TransportError
	case ErrNoEndpointAvailable:
		return e.Kind == NoEndpointAvailable
	case ErrTimeout:
		return e.Kind == RequestTimeout
	case ErrStoreRejected:
		return e.Kind == StoreRejected
	}
	return false
}

// ExhaustedRetriesError is the terminal error of a batch whose retry budget
// was spent. It fails that batch only.
type ExhaustedRetriesError struct {
	ExecutionID uint64
	Attempts    int
	Err         error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("bulk request %d failed after %d attempts: %v", e.ExecutionID, e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Err
}

func (e *ExhaustedRetriesError) Is(target error) bool {
	return target == ErrExhaustedRetries
}
