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
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gofrs/flock"
	"github.com/uber-go/tally"

	"github.com/magpkg/magpkg/core"
	"github.com/magpkg/magpkg/lib/fetch"
	"github.com/magpkg/magpkg/magerr"
	"github.com/magpkg/magpkg/utils/log"
)

// Config controls where the store lives and how its fetch transport
// behaves. Root, if empty, falls back to $MAGPKG_STORE, then $HOME/.magpkg.
type Config struct {
	Root      string                `yaml:"root" validate:"-"`
	Transport fetch.TransportConfig `yaml:"transport"`
}

// Store is the package store coordinator: it builds packages into a
// content-addressed artifact cache, fetches external sources through the
// fetch cache, and sweeps idle entries across packages, fetches, and the
// torrent mirror.
type Store struct {
	root        string
	pkgsRoot    string
	fetchRoot   string
	torrentRoot string
	seedRoot    string

	fetchCache *fetch.Cache
	executor   Executor
	clk        clock.Clock
	stats      tally.Scope
}

// New resolves the store root (cfg.Root, then $MAGPKG_STORE, then
// $HOME/.magpkg), creates its subdirectories, and wires the fetch cache and
// default bwrap executor.
func New(cfg Config, stats tally.Scope) (*Store, error) {
	root, err := resolveRoot(cfg.Root)
	if err != nil {
		return nil, err
	}

	pkgsRoot := filepath.Join(root, "pkgs")
	fetchRoot := filepath.Join(root, "fetch")
	torrentRoot := filepath.Join(root, "torrent")
	seedRoot := filepath.Join(root, "seed")

	for _, dir := range []string{pkgsRoot, fetchRoot, torrentRoot, seedRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, magerr.IOErr(fmt.Sprintf("create store dir %s", dir), err)
		}
	}

	transport := fetch.NewTransport(fetchRoot, cfg.Transport)
	fetchCache := fetch.NewCache(fetchRoot, transport, stats)

	return &Store{
		root:        root,
		pkgsRoot:    pkgsRoot,
		fetchRoot:   fetchRoot,
		torrentRoot: torrentRoot,
		seedRoot:    seedRoot,
		fetchCache:  fetchCache,
		executor:    BwrapExecutor{},
		clk:         clock.New(),
		stats:       stats,
	}, nil
}

// SetExecutor replaces the sandbox executor, overriding the default
// BwrapExecutor. It exists because the executor is an external host
// collaborator (per the design note in section 4.7): tests and alternate
// sandbox backends substitute their own Executor here rather than through
// Config, which only describes on-disk layout.
func (s *Store) SetExecutor(e Executor) {
	s.executor = e
}

func resolveRoot(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if env, ok := os.LookupEnv("MAGPKG_STORE"); ok && env != "" {
		return env, nil
	}
	home, ok := os.LookupEnv("HOME")
	if !ok || home == "" {
		return "", magerr.GenericErr("MAGPKG_STORE is unset and HOME could not be determined")
	}
	return filepath.Join(home, ".magpkg"), nil
}

// PackageArtifactPath is the canonical location of p's finalized artifact.
func (s *Store) PackageArtifactPath(p *core.Package) string {
	return filepath.Join(s.pkgsRoot, p.BaseName()+".tar.zst")
}

// SeedRoot is the directory the seeder's cross-process lock lives under.
func (s *Store) SeedRoot() string { return s.seedRoot }

// TorrentRoot is the directory mirror entries live under.
func (s *Store) TorrentRoot() string { return s.torrentRoot }

// Close releases the store's long-lived resources (the fetch cache's
// torrent fetcher worker, if one was ever created).
func (s *Store) Close() {
	s.fetchCache.Close()
}

// BuildPackages builds the full closure of roots, in dependency order, and
// returns each root's resulting artifact path in the same order as roots.
func (s *Store) BuildPackages(ctx context.Context, roots []*core.Package, parallelism int) ([]string, error) {
	if parallelism < 1 {
		parallelism = 1
	}

	for _, p := range core.Closure(roots) {
		if _, err := s.buildSingle(ctx, p, parallelism); err != nil {
			return nil, err
		}
	}

	paths := make([]string, len(roots))
	for i, root := range roots {
		paths[i] = s.PackageArtifactPath(root)
	}
	return paths, nil
}

// FetchPackages warms the fetch cache for every fetch resource reachable
// from roots. If missingOnly is set, packages whose artifact already exists
// are skipped (their own deps are still enumerated, since this call does
// not build anything).
func (s *Store) FetchPackages(ctx context.Context, roots []*core.Package, missingOnly bool) error {
	seen := make(map[string]bool)
	queue := append([]*core.Package{}, roots...)

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if seen[p.Hash] {
			continue
		}
		seen[p.Hash] = true

		queue = append(queue, p.RunDeps...)
		queue = append(queue, p.BuildDeps...)

		if missingOnly && pathExists(s.PackageArtifactPath(p)) {
			continue
		}

		if len(p.Fetch) > 0 {
			log.With("package", p.BaseName()).Infof("fetching sources for %s...", p.BaseName())
		}
		for _, f := range p.Fetch {
			if _, err := s.fetchCache.Get(ctx, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cleanup sweeps packages, fetches, and (if no live seeder holds the lock)
// the torrent mirror for entries older than expiry, returning a count of
// what was removed.
func (s *Store) Cleanup(expiry time.Duration) (core.CleanupStats, error) {
	var stats core.CleanupStats

	if err := s.cleanupPackages(expiry, &stats); err != nil {
		return stats, err
	}
	if err := s.cleanupFetches(expiry, &stats); err != nil {
		return stats, err
	}

	seedLock := flock.New(filepath.Join(s.seedRoot, "seeder.lock"))
	acquired, err := seedLock.TryLock()
	if err != nil {
		return stats, magerr.IOErr("acquire seeder lock", err)
	}
	if !acquired {
		log.Warnf("skipping torrent cleanup; seeder appears to be running")
		return stats, nil
	}
	defer seedLock.Unlock()

	if err := s.cleanupTorrents(expiry, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}
