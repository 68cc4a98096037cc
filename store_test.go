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

package bulkwriter_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-bulkwriter"
	"github.com/elastic/go-bulkwriter/bulkwritertest"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

func newTestCluster(t *testing.T, clusterName string, peers func() []string) *httptest.Server {
	mux := http.NewServeMux()
	bulkwritertest.HandleInfo(mux, clusterName)
	if peers != nil {
		bulkwritertest.HandleNodes(mux, peers)
	}
	bulkwritertest.HandleBulk(mux, func(w http.ResponseWriter, r *http.Request) {
		_, result := bulkwritertest.DecodeBulkRequest(r)
		json.NewEncoder(w).Encode(result)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewElasticsearchStoreInvalid(t *testing.T) {
	for name, endpoints := range map[string][]string{
		"none":    nil,
		"empty":   {""},
		"scheme":  {"ftp://localhost:9200"},
		"port":    {"localhost:99999"},
		"no_host": {"http://:9200"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := bulkwriter.NewElasticsearchStore(bulkwriter.StoreConfig{Endpoints: endpoints})
			var cfgErr *bulkwriter.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Field, "Endpoints")
		})
	}
}

func TestElasticsearchStoreListReachableEndpoints(t *testing.T) {
	srv := newTestCluster(t, bulkwritertest.ClusterName, nil)
	unreachable := httptest.NewServer(http.NotFoundHandler())
	unreachable.Close()

	store, err := bulkwriter.NewElasticsearchStore(bulkwriter.StoreConfig{
		Endpoints: []string{
			bulkwritertest.HostPort(t, srv.URL),
			srv.URL, // duplicates are probed once
			unreachable.URL,
		},
		ClusterName: bulkwritertest.ClusterName,
	})
	require.NoError(t, err)

	endpoints, err := store.ListReachableEndpoints(context.Background())
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, srv.URL, endpoints[0].String())
}

func TestElasticsearchStoreClusterName(t *testing.T) {
	srv := newTestCluster(t, "other-cluster", nil)
	store, err := bulkwriter.NewElasticsearchStore(bulkwriter.StoreConfig{
		Endpoints:   []string{srv.URL},
		ClusterName: bulkwritertest.ClusterName,
	})
	require.NoError(t, err)

	_, err = store.ListReachableEndpoints(context.Background())
	assert.ErrorContains(t, err, `belongs to cluster "other-cluster"`)

	_, err = bulkwriter.Connect(context.Background(), store)
	assert.ErrorIs(t, err, bulkwriter.ErrNoEndpointAvailable)
	assert.ErrorIs(t, err, bulkwriter.ErrConnectivity)
}

func TestElasticsearchStoreDiscovery(t *testing.T) {
	peer := newTestCluster(t, bulkwritertest.ClusterName, func() []string { return nil })
	seed := newTestCluster(t, bulkwritertest.ClusterName, func() []string {
		return []string{"peer.local/" + bulkwritertest.HostPort(t, peer.URL)}
	})
	peerURL, err := url.Parse(peer.URL)
	require.NoError(t, err)

	store, err := bulkwriter.NewElasticsearchStore(bulkwriter.StoreConfig{
		Endpoints: []string{seed.URL},
		Discovery: true,
		// Resolve the published hostname to the peer listener.
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if host, port, _ := net.SplitHostPort(addr); host == "peer.local" {
					addr = net.JoinHostPort(peerURL.Hostname(), port)
				}
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	})
	require.NoError(t, err)

	endpoints, err := store.ListReachableEndpoints(context.Background())
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, seed.URL, endpoints[0].String())
	assert.Equal(t, "peer.local", endpoints[1].Hostname())
	assert.Equal(t, peerURL.Port(), endpoints[1].Port())
}

func TestElasticsearchStoreTransport(t *testing.T) {
	srv := newTestCluster(t, bulkwritertest.ClusterName, nil)
	store, err := bulkwriter.NewElasticsearchStore(bulkwriter.StoreConfig{Endpoints: []string{srv.URL}})
	require.NoError(t, err)

	conn, err := bulkwriter.Connect(context.Background(), store)
	require.NoError(t, err)
	assert.True(t, conn.IsAlive())
	assert.Len(t, conn.Endpoints(), 1)

	res, err := esapi.InfoRequest{}.Do(context.Background(), conn)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsAlive())
	_, err = esapi.InfoRequest{}.Do(context.Background(), conn)
	assert.ErrorIs(t, err, bulkwriter.ErrNoEndpointAvailable)
}
