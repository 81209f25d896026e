// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd wires magpkg's CLI flags, configuration, logging, metrics,
// and tracing into a store coordinator and dispatches to the requested
// subcommand, mirroring the reference codebase's origin/cmd package shape.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/magpkg/magpkg/graph"
	"github.com/magpkg/magpkg/internal/tracing"
	"github.com/magpkg/magpkg/lib/store"
	"github.com/magpkg/magpkg/manifest"
	"github.com/magpkg/magpkg/metrics"
	"github.com/magpkg/magpkg/utils/configutil"
	"github.com/magpkg/magpkg/utils/log"
)

// Flags defines magpkg CLI flags, populated via kingpin.
type Flags struct {
	ConfigFile   string
	SecretsFile  string
	Command      string
	ManifestFile string
	MissingOnly  bool
	Expiry       time.Duration
}

// ParseFlags parses os.Args into Flags, registering the build/fetch/cleanup
// subcommands.
func ParseFlags() *Flags {
	app := kingpin.New("magpkg", "A source-based package manager")

	var flags Flags
	app.Flag("config", "configuration file path").StringVar(&flags.ConfigFile)
	app.Flag("secrets", "path to a secrets YAML file to load into configuration").StringVar(&flags.SecretsFile)

	build := app.Command("build", "Build every package reachable from a manifest")
	build.Arg("manifest", "manifest file path").Required().StringVar(&flags.ManifestFile)

	fetch := app.Command("fetch", "Warm the fetch cache for a manifest's sources")
	fetch.Arg("manifest", "manifest file path").Required().StringVar(&flags.ManifestFile)
	fetch.Flag("missing-only", "skip packages whose artifact already exists").BoolVar(&flags.MissingOnly)

	cleanup := app.Command("cleanup", "Sweep idle packages, fetches, and torrent mirror entries")
	cleanup.Flag("expiry", "minimum idle duration before an entry is removed").Default("168h").DurationVar(&flags.Expiry)

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	flags.Command = command
	return &flags
}

type options struct {
	config  *Config
	metrics tally.Scope
	logger  *zap.Logger
}

// Option defines an optional Run parameter.
type Option func(*options)

// WithConfig ignores config/secrets flags and directly uses the provided
// config struct.
func WithConfig(c Config) Option {
	return func(o *options) { o.config = &c }
}

// WithMetrics ignores metrics config and directly uses the provided tally
// scope.
func WithMetrics(s tally.Scope) Option {
	return func(o *options) { o.metrics = s }
}

// WithLogger ignores logging config and directly uses the provided logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run sets up configuration, logging, metrics, and tracing, constructs the
// store coordinator, and dispatches to the requested subcommand.
func Run(flags *Flags, opts ...Option) error {
	var overrides options
	for _, o := range opts {
		o(&overrides)
	}

	config, err := setupConfiguration(flags, &overrides)
	if err != nil {
		return err
	}

	logger := setupLogging(config, &overrides)
	defer func() {
		if logger != nil {
			logger.Sync()
		}
	}()

	stats, statsCloser := setupMetrics(config, &overrides)
	defer statsCloser.Close()

	shutdownTracing, err := tracing.InitProvider(context.Background(), config.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	s, err := store.New(config.Store, stats)
	if err != nil {
		return fmt.Errorf("construct store: %w", err)
	}
	defer s.Close()

	ctx := context.Background()

	switch flags.Command {
	case "build":
		return runBuild(ctx, s, flags, config.Parallelism)
	case "fetch":
		return runFetch(ctx, s, flags)
	case "cleanup":
		return runCleanup(s, flags)
	default:
		return fmt.Errorf("unknown command %q", flags.Command)
	}
}

func setupConfiguration(flags *Flags, overrides *options) (Config, error) {
	if overrides.config != nil {
		return overrides.config.applyDefaults(), nil
	}

	var config Config
	if flags.ConfigFile != "" {
		if err := configutil.Load(flags.ConfigFile, &config); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}
	if flags.SecretsFile != "" {
		if err := configutil.Load(flags.SecretsFile, &config); err != nil {
			return Config{}, fmt.Errorf("load secrets: %w", err)
		}
	}
	return config.applyDefaults(), nil
}

func setupLogging(config Config, overrides *options) *zap.Logger {
	if overrides.logger != nil {
		log.SetGlobalLogger(overrides.logger.Sugar())
		return overrides.logger
	}
	if err := log.ConfigureLogger(config.ZapLogging); err != nil {
		fmt.Fprintf(os.Stderr, "configure logger: %s\n", err)
	}
	return nil
}

func setupMetrics(config Config, overrides *options) (tally.Scope, interface{ Close() error }) {
	if overrides.metrics != nil {
		return overrides.metrics, noopCloser{}
	}
	s, closer, err := metrics.New(config.Metrics, "magpkg")
	if err != nil {
		log.Fatalf("failed to init metrics: %s", err)
	}
	return s, closer
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// loadManifest decodes manifestFile as generic JSON and wraps it as a
// manifest.Value, the small embedded evaluator this CLI wires against
// until a real Jsonnet evaluator implements manifest.Value directly.
func loadManifest(manifestFile string) (manifest.Value, error) {
	data, err := os.ReadFile(manifestFile)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return manifest.FromDecoded(decoded), nil
}

func runBuild(ctx context.Context, s *store.Store, flags *Flags, parallelism int) error {
	v, err := loadManifest(flags.ManifestFile)
	if err != nil {
		return err
	}
	roots, err := graph.NewBuilder().BuildFromValue(v)
	if err != nil {
		return fmt.Errorf("build package graph: %w", err)
	}

	artifacts, err := s.BuildPackages(ctx, roots, parallelism)
	if err != nil {
		return fmt.Errorf("build packages: %w", err)
	}
	for _, artifact := range artifacts {
		fmt.Println(artifact)
	}
	return nil
}

func runFetch(ctx context.Context, s *store.Store, flags *Flags) error {
	v, err := loadManifest(flags.ManifestFile)
	if err != nil {
		return err
	}
	roots, err := graph.NewBuilder().BuildFromValue(v)
	if err != nil {
		return fmt.Errorf("build package graph: %w", err)
	}
	return s.FetchPackages(ctx, roots, flags.MissingOnly)
}

func runCleanup(s *store.Store, flags *Flags) error {
	stats, err := s.Cleanup(flags.Expiry)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	log.Infof("cleanup: removed %d package artifacts, %d build dirs, %d package locks, "+
		"%d fetch files, %d fetch partials, %d fetch locks, %d torrent dirs, "+
		"%d torrent work dirs, %d torrent session dirs",
		stats.PackageArtifactsRemoved, stats.PackageBuildDirsRemoved, stats.PackageLockFilesRemoved,
		stats.FetchFilesRemoved, stats.FetchPartialsRemoved, stats.FetchLockFilesRemoved,
		stats.TorrentDirsRemoved, stats.TorrentWorkDirsRemoved, stats.TorrentSessionDirsRemoved)
	return nil
}
