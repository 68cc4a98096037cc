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

// Package bulkwritertest provides a mock Elasticsearch server for testing
// bulk writers.
package bulkwritertest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"

	"github.com/elastic/go-bulkwriter"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// ClusterName holds the cluster name reported by mock servers.
const ClusterName = "bulkwritertest"

// TimestampFormat holds the time format for formatting timestamps according to
// Elasticsearch's strict_date_optional_time date format, which includes a fractional
// seconds component.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Action is a decoded bulk action line and its source.
type Action struct {
	Type       string
	Index      string
	DocumentID string

	// Source holds the document line, and is nil for delete actions.
	Source []byte
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded documents and a response body.
// Delete actions have no document, and are omitted from the documents.
func DecodeBulkRequest(r *http.Request) ([][]byte, esutil.BulkIndexerResponse) {
	actions, result := DecodeBulkActions(r)
	var indexed [][]byte
	for _, action := range actions {
		if action.Source != nil {
			indexed = append(indexed, action.Source)
		}
	}
	return indexed, result
}

// DecodeBulkActions decodes a /_bulk request's body, returning every action
// in order and a response body acknowledging all of them.
func DecodeBulkActions(r *http.Request) ([]Action, esutil.BulkIndexerResponse) {
	body := r.Body
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer r.Close()
		body = r
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var actions []Action
	var result esutil.BulkIndexerResponse
	for scanner.Scan() {
		meta := make(map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		})
		if err := json.NewDecoder(strings.NewReader(scanner.Text())).Decode(&meta); err != nil {
			panic(err)
		}
		var action Action
		for actionType, m := range meta {
			action = Action{Type: actionType, Index: m.Index, DocumentID: m.ID}
		}
		if action.Type != "delete" {
			if !scanner.Scan() {
				panic("expected source")
			}
			doc := append([]byte{}, scanner.Bytes()...)
			if !json.Valid(doc) {
				panic(fmt.Errorf("invalid JSON: %s", doc))
			}
			action.Source = doc
		}
		actions = append(actions, action)

		id := action.DocumentID
		if id == "" {
			id = fmt.Sprintf("generated-%d", len(actions))
		}
		item := esutil.BulkIndexerResponseItem{
			Index:      action.Index,
			DocumentID: id,
			Status:     http.StatusCreated,
		}
		if action.Type != "create" && action.Type != "index" {
			item.Status = http.StatusOK
		}
		result.Items = append(result.Items, map[string]esutil.BulkIndexerResponseItem{action.Type: item})
	}
	if err := scanner.Err(); err != nil {
		panic(err)
	}
	return actions, result
}

// NewMockServer starts an httptest.Server which answers info and node
// discovery requests, and sends /_bulk requests to bulkHandler. The server
// will be closed via t.Cleanup.
func NewMockServer(t testing.TB, bulkHandler http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	srv := httptest.NewUnstartedServer(mux)
	HandleInfo(mux, ClusterName)
	HandleNodes(mux, func() []string { return []string{srv.Listener.Addr().String()} })
	HandleBulk(mux, bulkHandler)
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

// NewMockConfig starts a mock server with NewMockServer, and returns a
// bulkwriter.Config with its endpoint and an APM instrumented transport.
func NewMockConfig(t testing.TB, bulkHandler http.HandlerFunc) bulkwriter.Config {
	srv := NewMockServer(t, bulkHandler)
	return bulkwriter.Config{
		Endpoints: []string{srv.URL},
		Transport: apmelasticsearch.WrapRoundTripper(http.DefaultTransport),
	}
}

// NewMockElasticsearchClient returns an elasticsearch.Client which sends /_bulk requests to bulkHandler.
func NewMockElasticsearchClient(t testing.TB, bulkHandler http.HandlerFunc) *elasticsearch.Client {
	srv := NewMockServer(t, bulkHandler)
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{srv.URL},
		DisableRetry: true,
		Transport:    apmelasticsearch.WrapRoundTripper(http.DefaultTransport),
	})
	require.NoError(t, err)
	return client
}

// HandleInfo registers a handler with mux answering root info requests
// with clusterName.
func HandleInfo(mux *http.ServeMux, clusterName string) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{
			"name":         "bulkwritertest",
			"cluster_name": clusterName,
			"version":      map[string]any{"number": "8.15.0"},
			"tagline":      "You Know, for Search",
		})
	})
}

// HandleNodes registers a handler with mux answering node discovery
// requests with one node per address returned by addrs.
func HandleNodes(mux *http.ServeMux, addrs func() []string) {
	mux.HandleFunc("/_nodes/http", func(w http.ResponseWriter, r *http.Request) {
		nodes := make(map[string]any)
		for i, addr := range addrs() {
			nodes[fmt.Sprintf("node-%d", i)] = map[string]any{
				"http": map[string]any{"publish_address": addr},
			}
		}
		writeJSON(w, map[string]any{"nodes": nodes})
	})
}

// HandleBulk registers bulkHandler with mux for handling /_bulk requests,
// wrapping bulkHandler to conform with go-elasticsearch version checking.
func HandleBulk(mux *http.ServeMux, bulkHandler http.HandlerFunc) {
	mux.HandleFunc("/_bulk", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		bulkHandler.ServeHTTP(w, r)
	})
}

// HostPort returns the host:port of a server URL.
func HostPort(t testing.TB, rawURL string) string {
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return net.JoinHostPort(host, port)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
