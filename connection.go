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
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

// Store is the store-facing collaborator used by Writer. It finds reachable
// endpoints and builds transports that send requests to a set of them.
type Store interface {
	// ListReachableEndpoints returns the endpoints that currently respond.
	// It is called when a connection is built or rebuilt.
	ListReachableEndpoints(ctx context.Context) ([]*url.URL, error)

	// Transport returns a Transport that load balances requests across
	// endpoints. If the returned Transport implements io.Closer, it is
	// closed when the connection using it is torn down.
	Transport(endpoints []*url.URL) (esapi.Transport, error)
}

// errConnectionClosed is returned when a request is sent on a Connection
// that has been torn down. The request never left the client.
var errConnectionClosed = fmt.Errorf("connection closed: %w", ErrNoEndpointAvailable)

// Connection is a live transport to a set of reachable endpoints. A
// Connection is never mutated after Connect returns; reconnecting replaces
// it with a new one.
type Connection struct {
	endpoints []*url.URL
	transport esapi.Transport
	closed    atomic.Bool
}

// Connect builds a Connection to the endpoints of store that are currently
// reachable. It fails with an error matching ErrNoEndpointAvailable when
// none are.
func Connect(ctx context.Context, store Store) (*Connection, error) {
	endpoints, err := store.ListReachableEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoEndpointAvailable, err)
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpointAvailable
	}
	transport, err := store.Transport(endpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return &Connection{endpoints: endpoints, transport: transport}, nil
}

// Perform sends req through the connection transport.
func (c *Connection) Perform(req *http.Request) (*http.Response, error) {
	if !c.IsAlive() {
		return nil, errConnectionClosed
	}
	return c.transport.Perform(req)
}

// Endpoints returns the endpoints the connection was built with.
func (c *Connection) Endpoints() []*url.URL {
	return slices.Clone(c.endpoints)
}

// IsAlive returns false once the connection has been closed.
func (c *Connection) IsAlive() bool {
	return c != nil && !c.closed.Load() && len(c.endpoints) > 0
}

// Close tears the connection down. Requests already in flight complete or
// fail on their own; new requests fail with ErrNoEndpointAvailable.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// connectionManager owns the Connection shared by all flushes. Only the
// manager replaces it, and always by swapping in a fully built Connection.
type connectionManager struct {
	store   Store
	logger  *zap.Logger
	current atomic.Pointer[Connection]

	mu     sync.Mutex // serializes connection builds
	closed bool
}

func newConnectionManager(store Store, logger *zap.Logger) *connectionManager {
	return &connectionManager{store: store, logger: logger}
}

// get returns the current connection, building it on first use.
func (m *connectionManager) get(ctx context.Context) (*Connection, error) {
	if c := m.current.Load(); c.IsAlive() {
		return c, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if c := m.current.Load(); c.IsAlive() {
		return c, nil
	}
	c, err := Connect(ctx, m.store)
	if err != nil {
		return nil, err
	}
	m.current.Store(c)
	m.logger.Debug("connected", zap.Strings("endpoints", redactedURLs(c.endpoints)))
	return c, nil
}

// reconnect closes old and replaces it with a new connection. When another
// flush already replaced old, the replacement is returned and rebuilt is
// false.
func (m *connectionManager) reconnect(ctx context.Context, old *Connection) (c *Connection, rebuilt bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	if cur := m.current.Load(); cur != old && cur.IsAlive() {
		return cur, false, nil
	}
	if old != nil {
		old.Close()
	}
	c, err = Connect(ctx, m.store)
	if err != nil {
		m.current.CompareAndSwap(old, nil)
		return nil, true, err
	}
	m.current.Store(c)
	m.logger.Info("reconnected", zap.Strings("endpoints", redactedURLs(c.endpoints)))
	return c, true, nil
}

// close closes the current connection and prevents new ones from being
// built.
func (m *connectionManager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if c := m.current.Swap(nil); c != nil {
		return c.Close()
	}
	return nil
}

func redactedURLs(urls []*url.URL) []string {
	s := make([]string, len(urls))
	for i, u := range urls {
		s[i] = u.Redacted()
	}
	return s
}
