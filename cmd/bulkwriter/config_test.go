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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elastic/go-bulkwriter"
	"github.com/elastic/go-bulkwriter/bulkwritertest"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bulkwriter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoints:
  - localhost:9200
  - https://es.example.com
index: logs-app-default
action: create
flush_bytes: 1MB
flush_interval: 5s
request_timeout: 2.5
max_requests: 4
compression_level: 1
`), 0o644))

	cfg, err := loadConfigFile(path, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9200", "https://es.example.com"}, cfg.Endpoints)
	assert.Equal(t, "logs-app-default", cfg.Index)
	assert.Equal(t, sizeBytes(1000*1000), cfg.FlushBytes)
	assert.Equal(t, duration(5*time.Second), cfg.FlushInterval)
	assert.Equal(t, duration(2500*time.Millisecond), cfg.RequestTimeout)

	action, err := cfg.action()
	require.NoError(t, err)
	assert.Equal(t, bulkwriter.ActionCreate, action)

	wcfg := cfg.writerConfig()
	assert.Equal(t, 1000*1000, wcfg.FlushBytes)
	assert.Equal(t, 4, wcfg.MaxRequests)
	assert.Equal(t, 1, wcfg.CompressionLevel)
	assert.Nil(t, wcfg.RetryBackoff)
	assert.NoError(t, wcfg.Validate())
}

func TestLoadConfigFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	cfg, err := loadConfigFile(path, false)
	require.NoError(t, err)
	assert.Empty(t, cfg.Endpoints)

	_, err = loadConfigFile(path, true)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfigFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bulkwriter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flush_bytes: lots\n"), 0o644))
	_, err := loadConfigFile(path, true)
	assert.ErrorContains(t, err, `invalid size value: "lots"`)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, loadDotEnv(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BULKWRITER_DOTENV_INDEX=logs-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("BULKWRITER_DOTENV_INDEX") })
	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "logs-dotenv", os.Getenv("BULKWRITER_DOTENV_INDEX"))

	require.NoError(t, os.WriteFile(path, []byte("BULKWRITER-INDEX=logs\n"), 0o600))
	err := loadDotEnv(path)
	require.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, err.Error(), "failed to load")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"BULKWRITER_ENDPOINTS":      "es-1:9200, es-2:9200,",
		"BULKWRITER_INDEX":          "logs",
		"BULKWRITER_DISCOVERY":      "true",
		"BULKWRITER_MAX_REQUESTS":   "8",
		"BULKWRITER_FLUSH_BYTES":    "2MiB",
		"BULKWRITER_FLUSH_INTERVAL": "250ms",
		"BULKWRITER_RETRY_BACKOFF":  "100ms",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	cfg := fileConfig{Index: "from-file", MaxRetries: 3}
	require.NoError(t, applyEnv(&cfg, lookup))
	assert.Equal(t, []string{"es-1:9200", "es-2:9200"}, cfg.Endpoints)
	assert.Equal(t, "logs", cfg.Index)
	assert.True(t, cfg.Discovery)
	assert.Equal(t, 8, cfg.MaxRequests)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, sizeBytes(2*1024*1024), cfg.FlushBytes)
	assert.Equal(t, duration(250*time.Millisecond), cfg.FlushInterval)

	backoff := cfg.writerConfig().RetryBackoff
	require.NotNil(t, backoff)
	assert.Equal(t, 100*time.Millisecond, backoff(1))
	assert.Equal(t, 300*time.Millisecond, backoff(3))
	assert.Equal(t, time.Second, backoff(50))

	env["BULKWRITER_MAX_REQUESTS"] = "many"
	assert.ErrorContains(t, applyEnv(&cfg, lookup), "BULKWRITER_MAX_REQUESTS")
}

func TestAction(t *testing.T) {
	action, err := fileConfig{}.action()
	require.NoError(t, err)
	assert.Equal(t, bulkwriter.ActionIndex, action)
	_, err = fileConfig{Action: "delete"}.action()
	assert.Error(t, err)
}

func TestReadDocuments(t *testing.T) {
	var lines []string
	err := readDocuments(context.Background(), strings.NewReader("{\"a\":1}\n\n{\"a\":2}\n"), func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, lines)

	addErr := errors.New("boom")
	err = readDocuments(context.Background(), strings.NewReader("{}\n{}\n"), func([]byte) error { return addErr })
	assert.ErrorIs(t, err, addErr)
	assert.ErrorContains(t, err, "line 1")
}

func TestRunWrite(t *testing.T) {
	var docs []string
	mock := bulkwritertest.NewMockConfig(t, func(w http.ResponseWriter, r *http.Request) {
		actions, result := bulkwritertest.DecodeBulkActions(r)
		for _, action := range actions {
			assert.Equal(t, "create", action.Type)
			assert.Equal(t, "logs", action.Index)
			docs = append(docs, string(action.Source))
		}
		json.NewEncoder(w).Encode(result)
	})
	cfg := fileConfig{Endpoints: mock.Endpoints, Index: "logs", Action: "create"}

	var out bytes.Buffer
	in := strings.NewReader("{\"n\":1}\n{\"n\":2}\n{\"n\":3}\n")
	require.NoError(t, runWrite(context.Background(), cfg, zap.NewNop(), in, &out))
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, docs)
	assert.Contains(t, out.String(), "3 added, 3 acknowledged, 0 rejected, 0 failed")
	assert.Contains(t, out.String(), "bulk requests: 1 (0 retries, 0 reconnects)")

	cfg.Index = ""
	assert.Error(t, runWrite(context.Background(), cfg, zap.NewNop(), strings.NewReader(""), &out))
}

func TestRunPing(t *testing.T) {
	mock := bulkwritertest.NewMockConfig(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected bulk request")
	})
	var out bytes.Buffer
	cfg := fileConfig{Endpoints: mock.Endpoints, ClusterName: bulkwritertest.ClusterName}
	require.NoError(t, runPing(context.Background(), cfg, zap.NewNop(), &out))
	assert.Equal(t, mock.Endpoints[0]+"\n", out.String())

	cfg.ClusterName = "other"
	assert.ErrorIs(t, runPing(context.Background(), cfg, zap.NewNop(), &out), bulkwriter.ErrNoEndpointAvailable)
}

func TestRootCommandFlags(t *testing.T) {
	t.Setenv("BULKWRITER_INDEX", "from-env")
	t.Setenv("BULKWRITER_MAX_REQUESTS", "2")
	cmd := newRootCommand()
	write, _, err := cmd.Find([]string{"write"})
	require.NoError(t, err)
	require.NoError(t, write.ParseFlags([]string{"--index", "from-flag", "--flush-bytes", "64KB", "-e", "es:9200"}))

	var opts options
	opts.configPath = filepath.Join(t.TempDir(), "missing.yaml")
	opts.index = "from-flag"
	opts.flushBytes = "64KB"
	opts.endpoints = []string{"es:9200"}
	cfg, err := opts.load(write)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Index)
	assert.Equal(t, 2, cfg.MaxRequests)
	assert.Equal(t, sizeBytes(64*1000), cfg.FlushBytes)
	assert.Equal(t, []string{"es:9200"}, cfg.Endpoints)
}
