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

// Command bulkwriter streams newline delimited JSON documents into
// Elasticsearch.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elastic/go-bulkwriter"
)

var version = "dev"

const maxLineSize = 16 * 1024 * 1024

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the flags shared by all commands.
type options struct {
	configPath string
	verbose    bool

	endpoints   []string
	index       string
	action      string
	maxRequests int
	flushBytes  string
	compression int
}

func newRootCommand() *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:           "bulkwriter",
		Short:         "Bulk write documents to Elasticsearch",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "bulkwriter.yaml", "config file path")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringSliceVarP(&opts.endpoints, "endpoint", "e", nil, "Elasticsearch endpoint, may be repeated")

	write := &cobra.Command{
		Use:   "write [file]",
		Short: "Write NDJSON documents from a file, or stdin, to an index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			in := io.Reader(os.Stdin)
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runWrite(cmd.Context(), cfg, opts.logger(), in, cmd.OutOrStdout())
		},
	}
	write.Flags().StringVarP(&opts.index, "index", "i", "", "destination index")
	write.Flags().StringVar(&opts.action, "action", "", "bulk action: index or create")
	write.Flags().IntVar(&opts.maxRequests, "max-requests", 0, "maximum concurrent bulk requests")
	write.Flags().StringVar(&opts.flushBytes, "flush-bytes", "", "buffer size triggering a flush, e.g. 5MB")
	write.Flags().IntVar(&opts.compression, "compression-level", 0, "gzip compression level, from -1 to 9")

	ping := &cobra.Command{
		Use:   "ping",
		Short: "List the reachable endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return runPing(cmd.Context(), cfg, opts.logger(), cmd.OutOrStdout())
		},
	}
	root.AddCommand(write, ping)
	return root
}

// load merges the config file, the environment and the flags, in
// increasing order of precedence.
func (o *options) load(cmd *cobra.Command) (fileConfig, error) {
	cfg, err := loadConfigFile(o.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Endpoints = o.endpoints
	}
	if flags.Changed("index") {
		cfg.Index = o.index
	}
	if flags.Changed("action") {
		cfg.Action = o.action
	}
	if flags.Changed("max-requests") {
		cfg.MaxRequests = o.maxRequests
	}
	if flags.Changed("compression-level") {
		cfg.CompressionLevel = o.compression
	}
	if flags.Changed("flush-bytes") {
		size, err := parseSize(o.flushBytes)
		if err != nil {
			return cfg, fmt.Errorf("--flush-bytes: %w", err)
		}
		cfg.FlushBytes = size
	}
	return cfg, nil
}

func (o *options) logger() *zap.Logger {
	level := zapcore.InfoLevel
	if o.verbose {
		level = zapcore.DebugLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runWrite(ctx context.Context, cfg fileConfig, logger *zap.Logger, in io.Reader, out io.Writer) error {
	if cfg.Index == "" {
		return errors.New("an index is required, set --index or BULKWRITER_INDEX")
	}
	action, err := cfg.action()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	wcfg := cfg.writerConfig()
	wcfg.Logger = logger
	writer, err := bulkwriter.New(wcfg)
	if err != nil {
		return err
	}

	start := time.Now()
	dest := bulkwriter.Destination{Index: cfg.Index}
	readErr := readDocuments(ctx, in, func(line []byte) error {
		return writer.AddRequest(ctx, bulkwriter.WriteRequest{
			Action:      action,
			Destination: dest,
			Body:        bulkwriter.RawDocument(line),
		})
	})

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	closeErr := writer.Close(closeCtx)
	printStats(out, writer.Stats(), time.Since(start))
	return errors.Join(readErr, closeErr)
}

// readDocuments calls add for every non-empty line of in, until in is
// exhausted or ctx is done. The line is only valid during the call.
func readDocuments(ctx context.Context, in io.Reader, add func([]byte) error) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	var n int
	for scanner.Scan() {
		n++
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := add(line); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	return scanner.Err()
}

func printStats(out io.Writer, stats bulkwriter.Stats, took time.Duration) {
	fmt.Fprintf(out, "documents:     %s added, %s acknowledged, %s rejected, %s failed\n",
		humanize.Comma(stats.Added),
		humanize.Comma(stats.Acknowledged),
		humanize.Comma(stats.Rejected),
		humanize.Comma(stats.Failed),
	)
	fmt.Fprintf(out, "bulk requests: %s (%s retries, %s reconnects)\n",
		humanize.Comma(stats.BulkRequests),
		humanize.Comma(stats.Retries),
		humanize.Comma(stats.Reconnects),
	)
	fmt.Fprintf(out, "sent:          %s in %s\n",
		humanize.Bytes(uint64(stats.BytesTotal)),
		took.Round(time.Millisecond),
	)
}

func runPing(ctx context.Context, cfg fileConfig, logger *zap.Logger, out io.Writer) error {
	wcfg := cfg.writerConfig()
	if err := wcfg.Validate(); err != nil {
		return err
	}
	store, err := bulkwriter.NewElasticsearchStore(bulkwriter.StoreConfig{
		Endpoints:    wcfg.Endpoints,
		ClusterName:  wcfg.ClusterName,
		Discovery:    wcfg.Discovery,
		Username:     wcfg.Username,
		Password:     wcfg.Password,
		APIKey:       wcfg.APIKey,
		ProbeTimeout: wcfg.RequestTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	endpoints, err := store.ListReachableEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", bulkwriter.ErrNoEndpointAvailable, err)
	}
	for _, u := range endpoints {
		fmt.Fprintln(out, u.Redacted())
	}
	return nil
}
