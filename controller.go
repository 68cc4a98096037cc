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
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// controllerState is the state of a batch in the retry state machine.
type controllerState int

const (
	stateIdle controllerState = iota
	stateAttempting
	stateSuccess
	stateRetrying
	stateReconnectingThenRetrying
	stateGivenUp
)

func (s controllerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAttempting:
		return "attempting"
	case stateSuccess:
		return "success"
	case stateRetrying:
		return "retrying"
	case stateReconnectingThenRetrying:
		return "reconnecting_then_retrying"
	case stateGivenUp:
		return "given_up"
	}
	return fmt.Sprintf("controllerState(%d)", int(s))
}

// controller drives a batch through attempts, reconnects and retries until
// it succeeds or its retry budget is spent. A controller is shared by all
// in-flight batches; each execute call keeps its own state.
type controller struct {
	conns   *connectionManager
	exec    *executor
	budget  int
	backoff func(attempt int) time.Duration
	limiter ratelimit.Limiter

	// Optional hooks, called on the flushing goroutine.
	onRetry     func(kind AttemptErrorKind)
	onReconnect func()
}

// result is the terminal state of a batch that reached the store.
type result struct {
	resp     bulkResponse
	attempts int
	took     time.Duration
}

// execute sends body, the encoded form of batch, until it succeeds or
// fails terminally.
//
// A nil error means the store processed the request: resp holds the item
// outcomes, which may include rejections. A non-nil error means the outcome
// of every item is unknown; it is an *ExhaustedRetriesError when the retry
// budget was spent.
func (c *controller) execute(ctx context.Context, batch *Batch, body *requestBuffer, logger *zap.Logger) (result, error) {
	logger = logger.With(zap.Uint64("execution_id", batch.ExecutionID))
	state := stateIdle
	transition := func(to controllerState, fields ...zap.Field) {
		if ce := logger.Check(zap.DebugLevel, "bulk request state transition"); ce != nil {
			ce.Write(append(fields,
				zap.Stringer("from", state),
				zap.Stringer("to", to),
			)...)
		}
		state = to
	}

	start := time.Now()
	var res result
	var lastErr *AttemptError

	conn, err := c.conns.get(ctx)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			transition(stateGivenUp, zap.Error(err))
			return res, err
		}
		conn = nil
		lastErr = &AttemptError{Kind: NoEndpointAvailable, Err: err}
	}
	for {
		if conn != nil && !conn.IsAlive() {
			// Another flush replaced the connection since it was last used.
			next, err := c.conns.get(ctx)
			switch {
			case errors.Is(err, ErrClosed):
				transition(stateGivenUp, zap.Error(err))
				return res, err
			case err != nil:
				lastErr = &AttemptError{Kind: NoEndpointAvailable, Err: err}
				conn = nil
			default:
				conn = next
			}
		}
		if conn != nil {
			transition(stateAttempting, zap.Int("attempt", res.attempts+1))
			c.limiter.Take()
			resp, aerr := c.exec.attempt(ctx, conn, batch, body)
			if aerr != nil && errors.Is(aerr, errConnectionClosed) && ctx.Err() == nil {
				// The request never left the client. Send it again on the
				// current connection without spending the retry budget.
				continue
			}
			res.attempts++
			res.took = time.Since(start)
			if aerr == nil || aerr.Kind == StoreRejected {
				res.resp = resp
				transition(stateSuccess, zap.Bool("rejections", aerr != nil))
				return res, nil
			}
			lastErr = aerr
		} else {
			// The connection could not be built: the attempt fails without
			// reaching the store.
			res.attempts++
		}

		if err := ctx.Err(); err != nil {
			transition(stateGivenUp, zap.Error(err))
			return res, fmt.Errorf("bulk request %d aborted after %d attempts: %w (last error: %v)",
				batch.ExecutionID, res.attempts, context.Cause(ctx), lastErr,
			)
		}
		if res.attempts > c.budget || !lastErr.Kind.retryable() {
			transition(stateGivenUp, zap.Error(lastErr))
			return res, &ExhaustedRetriesError{
				ExecutionID: batch.ExecutionID,
				Attempts:    res.attempts,
				Err:         lastErr,
			}
		}

		if c.onRetry != nil {
			c.onRetry(lastErr.Kind)
		}
		if lastErr.Kind.reconnect() {
			transition(stateReconnectingThenRetrying, zap.Error(lastErr))
			next, rebuilt, err := c.conns.reconnect(ctx, conn)
			switch {
			case errors.Is(err, ErrClosed):
				transition(stateGivenUp, zap.Error(err))
				return res, err
			case err != nil:
				logger.Warn("failed to reconnect", zap.Error(err))
				lastErr = &AttemptError{Kind: NoEndpointAvailable, Err: err}
				conn = nil
			default:
				if rebuilt && c.onReconnect != nil {
					c.onReconnect()
				}
				conn = next
			}
		} else {
			transition(stateRetrying, zap.Error(lastErr))
		}
		if err := c.wait(ctx, res.attempts); err != nil {
			transition(stateGivenUp, zap.Error(err))
			return res, fmt.Errorf("bulk request %d aborted after %d attempts: %w (last error: %v)",
				batch.ExecutionID, res.attempts, err, lastErr,
			)
		}
	}
}

// wait sleeps for the backoff of retry n, returning early when ctx is
// done.
func (c *controller) wait(ctx context.Context, n int) error {
	if c.backoff == nil {
		return nil
	}
	d := c.backoff(n)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
