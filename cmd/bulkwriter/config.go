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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/elastic/go-bulkwriter"
)

const envPrefix = "BULKWRITER_"

// fileConfig is the YAML configuration of the CLI.
type fileConfig struct {
	Endpoints   []string `yaml:"endpoints"`
	ClusterName string   `yaml:"cluster_name"`
	Discovery   bool     `yaml:"discovery"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	APIKey      string   `yaml:"api_key"`

	Index    string `yaml:"index"`
	Action   string `yaml:"action"`
	Pipeline string `yaml:"pipeline"`
	Refresh  string `yaml:"refresh"`

	BulkActions      int       `yaml:"bulk_actions"`
	FlushBytes       sizeBytes `yaml:"flush_bytes"`
	FlushInterval    duration  `yaml:"flush_interval"`
	MaxRequests      int       `yaml:"max_requests"`
	RequestTimeout   duration  `yaml:"request_timeout"`
	MaxRetries       int       `yaml:"max_retries"`
	RetryBackoff     duration  `yaml:"retry_backoff"`
	CompressionLevel int       `yaml:"compression_level"`
}

// sizeBytes is a number of bytes, unmarshaled from strings like "5MB" or
// plain integers.
type sizeBytes int64

func (s *sizeBytes) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func parseSize(raw string) (sizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return sizeBytes(i), nil
	}
	v, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %q", raw)
	}
	return sizeBytes(v), nil
}

// duration is a time.Duration, unmarshaled from strings like "100ms" or
// plain numbers of seconds.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func parseDuration(raw string) (duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return duration(d), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %q", raw)
	}
	return duration(time.Duration(f * float64(time.Second))), nil
}

// loadConfigFile reads the YAML file at path. A missing file is only an
// error when required.
func loadConfigFile(path string, required bool) (fileConfig, error) {
	var cfg fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// loadDotEnv adds the variables of the dotenv file at path to the
// environment, without overriding variables that are already set. A
// missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with the BULKWRITER_* variables returned by
// lookup.
func applyEnv(cfg *fileConfig, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: invalid integer %q", envPrefix, name, v)
		}
		*dst = i
		return nil
	}

	if v, ok := lookup(envPrefix + "ENDPOINTS"); ok {
		cfg.Endpoints = splitList(v)
	}
	str("CLUSTER_NAME", &cfg.ClusterName)
	str("USERNAME", &cfg.Username)
	str("PASSWORD", &cfg.Password)
	str("API_KEY", &cfg.APIKey)
	str("INDEX", &cfg.Index)
	str("ACTION", &cfg.Action)
	str("PIPELINE", &cfg.Pipeline)
	str("REFRESH", &cfg.Refresh)
	if v, ok := lookup(envPrefix + "DISCOVERY"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sDISCOVERY: invalid boolean %q", envPrefix, v)
		}
		cfg.Discovery = b
	}
	for name, dst := range map[string]*int{
		"BULK_ACTIONS":      &cfg.BulkActions,
		"MAX_REQUESTS":      &cfg.MaxRequests,
		"MAX_RETRIES":       &cfg.MaxRetries,
		"COMPRESSION_LEVEL": &cfg.CompressionLevel,
	} {
		if err := integer(name, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup(envPrefix + "FLUSH_BYTES"); ok {
		size, err := parseSize(v)
		if err != nil {
			return fmt.Errorf("%sFLUSH_BYTES: %w", envPrefix, err)
		}
		cfg.FlushBytes = size
	}
	for name, dst := range map[string]*duration{
		"FLUSH_INTERVAL":  &cfg.FlushInterval,
		"REQUEST_TIMEOUT": &cfg.RequestTimeout,
		"RETRY_BACKOFF":   &cfg.RetryBackoff,
	} {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = d
	}
	return nil
}

// writerConfig converts cfg into a bulkwriter.Config.
func (cfg fileConfig) writerConfig() bulkwriter.Config {
	wcfg := bulkwriter.Config{
		Endpoints:        cfg.Endpoints,
		ClusterName:      cfg.ClusterName,
		Discovery:        cfg.Discovery,
		Username:         cfg.Username,
		Password:         cfg.Password,
		APIKey:           cfg.APIKey,
		BulkActions:      cfg.BulkActions,
		FlushBytes:       int(cfg.FlushBytes),
		FlushInterval:    time.Duration(cfg.FlushInterval),
		MaxRequests:      cfg.MaxRequests,
		RequestTimeout:   time.Duration(cfg.RequestTimeout),
		MaxRetries:       cfg.MaxRetries,
		CompressionLevel: cfg.CompressionLevel,
		Pipeline:         cfg.Pipeline,
		Refresh:          cfg.Refresh,
	}
	if backoff := time.Duration(cfg.RetryBackoff); backoff > 0 {
		// Linear backoff, capped at ten steps.
		wcfg.RetryBackoff = func(attempt int) time.Duration {
			return backoff * time.Duration(min(attempt, 10))
		}
	}
	return wcfg
}

// action returns the bulk action used for every document.
func (cfg fileConfig) action() (bulkwriter.Action, error) {
	switch a := bulkwriter.Action(cfg.Action); a {
	case "":
		return bulkwriter.ActionIndex, nil
	case bulkwriter.ActionIndex, bulkwriter.ActionCreate:
		return a, nil
	}
	return "", fmt.Errorf("unsupported action %q, expected index or create", cfg.Action)
}

func splitList(v string) []string {
	var parts []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
