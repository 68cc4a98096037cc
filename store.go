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
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// StoreConfig holds configuration for ElasticsearchStore.
type StoreConfig struct {
	// Endpoints holds host:port pairs or URLs of the nodes to contact.
	Endpoints []string

	// ClusterName holds an optional cluster name filter.
	ClusterName string

	// Discovery enables adding the HTTP publish addresses of the nodes
	// known to each reachable endpoint.
	Discovery bool

	Username string
	Password string
	APIKey   string

	// Transport holds an optional http.RoundTripper shared by all
	// connections. When nil, each connection owns a clone of
	// http.DefaultTransport.
	Transport http.RoundTripper

	// ProbeTimeout bounds each reachability probe. If zero, 10 seconds.
	ProbeTimeout time.Duration

	Logger *zap.Logger
}

// ElasticsearchStore is the default Store. It probes endpoints over the
// HTTP API and sends requests with elastic-transport-go.
type ElasticsearchStore struct {
	config    StoreConfig
	endpoints []*url.URL
	probe     http.RoundTripper
}

// NewElasticsearchStore returns a store for cfg.Endpoints. It returns a
// *ConfigurationError if any endpoint is malformed; it does not contact any
// endpoint.
func NewElasticsearchStore(cfg StoreConfig) (*ElasticsearchStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, &ConfigurationError{Field: "Endpoints", Reason: "at least one endpoint is required"}
	}
	endpoints, err := parseEndpoints(cfg.Endpoints)
	if err != nil {
		return nil, err
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	probe := cfg.Transport
	if probe == nil {
		probe = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &ElasticsearchStore{config: cfg, endpoints: endpoints, probe: probe}, nil
}

// ListReachableEndpoints probes every configured endpoint, and every
// discovered one when discovery is enabled, returning those that respond
// and belong to the configured cluster.
func (s *ElasticsearchStore) ListReachableEndpoints(ctx context.Context) ([]*url.URL, error) {
	candidates := make([]*url.URL, len(s.endpoints))
	copy(candidates, s.endpoints)

	var reachable []*url.URL
	var errs []error
	seen := make(map[string]struct{}, len(candidates))
	for i := 0; i < len(candidates); i++ {
		u := candidates[i]
		key := u.Scheme + "://" + u.Host
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		peers, err := s.probeEndpoint(ctx, u)
		if err != nil {
			s.config.Logger.Debug("endpoint unreachable",
				zap.String("endpoint", u.Redacted()), zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		reachable = append(reachable, u)
		candidates = append(candidates, peers...)
	}
	if len(reachable) == 0 {
		return nil, errors.Join(errs...)
	}
	return reachable, nil
}

// Transport returns an elastictransport client that load balances requests
// across endpoints.
func (s *ElasticsearchStore) Transport(endpoints []*url.URL) (esapi.Transport, error) {
	rt := s.config.Transport
	var owned *http.Transport
	if rt == nil {
		owned = http.DefaultTransport.(*http.Transport).Clone()
		rt = owned
	}
	client, err := s.newClient(endpoints, rt)
	if err != nil {
		return nil, err
	}
	return &storeTransport{Client: client, owned: owned}, nil
}

func (s *ElasticsearchStore) newClient(endpoints []*url.URL, rt http.RoundTripper) (*elastictransport.Client, error) {
	return elastictransport.New(elastictransport.Config{
		URLs:      endpoints,
		Username:  s.config.Username,
		Password:  s.config.Password,
		APIKey:    s.config.APIKey,
		Transport: rt,
		// Retries are driven by the writer, which also rebuilds the
		// connection when needed.
		DisableRetry: true,
	})
}

// probeEndpoint verifies u responds and reports the configured cluster
// name. When discovery is enabled, it returns the HTTP addresses of the
// nodes u knows about.
func (s *ElasticsearchStore) probeEndpoint(ctx context.Context, u *url.URL) ([]*url.URL, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
	defer cancel()

	client, err := s.newClient([]*url.URL{u}, s.probe)
	if err != nil {
		return nil, err
	}
	res, err := esapi.InfoRequest{FilterPath: []string{"cluster_name"}}.Do(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s unreachable: %w", u.Redacted(), err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("endpoint %s: %s", u.Redacted(), res.String())
	}
	if s.config.ClusterName != "" {
		var info struct {
			ClusterName string `json:"cluster_name"`
		}
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(res.Body).Decode(&info); err != nil {
			return nil, fmt.Errorf("endpoint %s: error decoding info response: %w", u.Redacted(), err)
		}
		if info.ClusterName != s.config.ClusterName {
			return nil, fmt.Errorf("endpoint %s belongs to cluster %q, expected %q",
				u.Redacted(), info.ClusterName, s.config.ClusterName,
			)
		}
	}
	if !s.config.Discovery {
		return nil, nil
	}
	return s.discoverPeers(ctx, client, u)
}

func (s *ElasticsearchStore) discoverPeers(ctx context.Context, client esapi.Transport, from *url.URL) ([]*url.URL, error) {
	res, err := esapi.NodesInfoRequest{
		Metric:     []string{"http"},
		FilterPath: []string{"nodes.*.http.publish_address"},
	}.Do(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: node discovery failed: %w", from.Redacted(), err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("endpoint %s: node discovery failed: %s", from.Redacted(), res.String())
	}
	var nodes struct {
		Nodes map[string]struct {
			HTTP struct {
				PublishAddress string `json:"publish_address"`
			} `json:"http"`
		} `json:"nodes"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(res.Body).Decode(&nodes); err != nil {
		return nil, fmt.Errorf("endpoint %s: error decoding nodes response: %w", from.Redacted(), err)
	}
	peers := make([]*url.URL, 0, len(nodes.Nodes))
	for _, node := range nodes.Nodes {
		host := publishHost(node.HTTP.PublishAddress)
		if host == "" {
			continue
		}
		peer := *from
		peer.Host = host
		peers = append(peers, &peer)
	}
	return peers, nil
}

// publishHost converts a publish address, either "ip:port" or
// "hostname/ip:port", into a host:port, preferring the hostname.
func publishHost(addr string) string {
	if addr == "" {
		return ""
	}
	name, hostport, found := strings.Cut(addr, "/")
	if !found {
		return addr
	}
	_, port, err := net.SplitHostPort(hostport)
	if err != nil || name == "" {
		return hostport
	}
	return net.JoinHostPort(name, port)
}

type storeTransport struct {
	*elastictransport.Client
	owned *http.Transport
}

// Close closes the idle sockets of the transport, if it owns them.
func (t *storeTransport) Close() error {
	if t.owned != nil {
		t.owned.CloseIdleConnections()
	}
	return nil
}

// parseEndpoints parses host:port pairs and URLs into URLs, returning a
// *ConfigurationError for the first malformed one.
func parseEndpoints(endpoints []string) ([]*url.URL, error) {
	urls := make([]*url.URL, 0, len(endpoints))
	for i, e := range endpoints {
		field := fmt.Sprintf("Endpoints[%d]", i)
		e = strings.TrimSpace(e)
		if e == "" {
			return nil, &ConfigurationError{Field: field, Reason: "empty endpoint"}
		}
		if !strings.Contains(e, "://") {
			e = "http://" + e
		}
		u, err := url.Parse(e)
		if err != nil {
			return nil, &ConfigurationError{Field: field, Reason: err.Error()}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, &ConfigurationError{Field: field, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
		}
		if u.Hostname() == "" {
			return nil, &ConfigurationError{Field: field, Reason: "missing host"}
		}
		if p := u.Port(); p != "" {
			if n, err := strconv.Atoi(p); err != nil || n < 1 || n > 65535 {
				return nil, &ConfigurationError{Field: field, Reason: fmt.Sprintf("invalid port %q", p)}
			}
		}
		u.Path = strings.TrimRight(u.Path, "/")
		urls = append(urls, u)
	}
	return urls, nil
}
