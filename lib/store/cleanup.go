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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/magpkg/magpkg/core"
	"github.com/magpkg/magpkg/magerr"
)

const (
	fetchLockSuffix    = ".lock"
	tmpSuffixCleanup   = ".tmp"
	torrentWorkMarker  = ".torrent-work-"
	torrentSessionPfx  = ".torrent-session-"
	torrentFetcherLock = ".torrent-fetcher.lock"
)

// cleanupPackages implements section 4.8's package sweep: try-lock each
// base name found in pkgsRoot, removing the expired artifact and any
// lingering build dir unconditionally, then removing the lock file itself
// only once neither remains and the lock has also expired.
func (s *Store) cleanupPackages(expiry time.Duration, stats *core.CleanupStats) error {
	entries, err := os.ReadDir(s.pkgsRoot)
	if err != nil {
		return magerr.IOErr("read pkgs root", err)
	}

	bases := make(map[string]bool)
	for _, e := range entries {
		if base, ok := packageBaseFromEntry(e.Name()); ok {
			bases[base] = true
		}
	}

	for base := range bases {
		artifactPath := filepath.Join(s.pkgsRoot, base+".tar.zst")
		buildPath := filepath.Join(s.pkgsRoot, base+".build")
		lockPath := filepath.Join(s.pkgsRoot, base+".lock")

		lock := flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return magerr.IOErr("try-lock package during cleanup", err)
		}
		if !locked {
			continue
		}

		removed, err := removePathIfExpired(s.clk, artifactPath, expiry)
		if err != nil {
			lock.Unlock()
			return err
		}
		if removed {
			stats.PackageArtifactsRemoved++
		}

		if pathExists(buildPath) {
			if err := os.RemoveAll(buildPath); err != nil {
				lock.Unlock()
				return magerr.IOErr("remove stale package build dir", err)
			}
			stats.PackageBuildDirsRemoved++
		}

		removeLock := false
		if !pathExists(artifactPath) && !pathExists(buildPath) {
			expired, err := isPathExpired(s.clk, lockPath, expiry)
			if err != nil {
				lock.Unlock()
				return err
			}
			removeLock = expired
		}

		lock.Unlock()

		if removeLock && pathExists(lockPath) {
			if err := os.Remove(lockPath); err != nil {
				return magerr.IOErr("remove expired package lock", err)
			}
			stats.PackageLockFilesRemoved++
		}
	}
	return nil
}

func packageBaseFromEntry(name string) (string, bool) {
	for _, suffix := range []string{".tar.zst", ".build", ".lock"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return "", false
}

type fetchGroup struct {
	file     string
	partials []string
	workDirs []string
}

type sessionInfo struct {
	path   string
	lock   *flock.Flock
	locked bool
	active bool
}

// cleanupFetches implements section 4.8's fetch sweep across per-sha
// groups and torrent session directories.
func (s *Store) cleanupFetches(expiry time.Duration, stats *core.CleanupStats) error {
	entries, err := os.ReadDir(s.fetchRoot)
	if err != nil {
		return magerr.IOErr("read fetch root", err)
	}

	groups := make(map[string]*fetchGroup)
	var sessions []*sessionInfo
	var orphanWorkDirs []string
	activeSessionPresent := false

	group := func(base string) *fetchGroup {
		g, ok := groups[base]
		if !ok {
			g = &fetchGroup{}
			groups[base] = g
		}
		return g
	}

	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(s.fetchRoot, name)

		if e.IsDir() {
			if idx := strings.Index(name, torrentWorkMarker); idx >= 0 {
				base := name[:idx]
				group(base).workDirs = append(group(base).workDirs, path)
				orphanWorkDirs = append(orphanWorkDirs, path)
				continue
			}
			if strings.HasPrefix(name, torrentSessionPfx) {
				info := &sessionInfo{path: path}
				lockPath := filepath.Join(path, torrentFetcherLock)
				if pathExists(lockPath) {
					lock := flock.New(lockPath)
					locked, err := lock.TryLock()
					if err != nil {
						return magerr.IOErr("try-lock torrent session during cleanup", err)
					}
					if locked {
						info.lock = lock
						info.locked = true
					} else {
						info.active = true
						activeSessionPresent = true
					}
				}
				sessions = append(sessions, info)
				continue
			}
			continue
		}

		switch {
		case name == torrentFetcherLock:
			removed, err := removePathIfExpired(s.clk, path, expiry)
			if err != nil {
				return err
			}
			if removed {
				stats.FetchLockFilesRemoved++
			}
		case strings.HasSuffix(name, fetchLockSuffix):
			group(strings.TrimSuffix(name, fetchLockSuffix))
		case strings.HasSuffix(name, tmpSuffixCleanup):
			base := strings.TrimSuffix(name, tmpSuffixCleanup)
			group(base).partials = append(group(base).partials, path)
		default:
			group(name).file = path
		}
	}

	for base, g := range groups {
		lockPath := filepath.Join(s.fetchRoot, base+fetchLockSuffix)
		lock := flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return magerr.IOErr("try-lock fetch entry during cleanup", err)
		}
		if !locked {
			continue
		}

		fileExists := false
		if g.file != "" {
			removed, err := removePathIfExpired(s.clk, g.file, expiry)
			if err != nil {
				lock.Unlock()
				return err
			}
			if removed {
				stats.FetchFilesRemoved++
			} else if pathExists(g.file) {
				fileExists = true
			}
		}

		partialsRemaining := false
		for _, partial := range g.partials {
			removed, err := removePathIfExpired(s.clk, partial, expiry)
			if err != nil {
				lock.Unlock()
				return err
			}
			if removed {
				stats.FetchPartialsRemoved++
			} else if pathExists(partial) {
				partialsRemaining = true
			}
		}

		for _, workDir := range g.workDirs {
			if activeSessionPresent {
				if pathExists(workDir) {
					partialsRemaining = true
				}
				continue
			}
			removed, err := removePathIfExpired(s.clk, workDir, expiry)
			if err != nil {
				lock.Unlock()
				return err
			}
			if removed {
				stats.FetchPartialsRemoved++
				stats.TorrentWorkDirsRemoved++
			} else if pathExists(workDir) {
				partialsRemaining = true
			}
		}

		removeLock := false
		if !fileExists && !partialsRemaining {
			expired, err := isPathExpired(s.clk, lockPath, expiry)
			if err != nil {
				lock.Unlock()
				return err
			}
			removeLock = expired
		}

		lock.Unlock()

		if removeLock && pathExists(lockPath) {
			if err := os.Remove(lockPath); err != nil {
				return magerr.IOErr("remove expired fetch lock", err)
			}
			stats.FetchLockFilesRemoved++
		}
	}

	if !activeSessionPresent {
		for _, workDir := range orphanWorkDirs {
			removed, err := removePathIfExpired(s.clk, workDir, expiry)
			if err != nil {
				return err
			}
			if removed {
				stats.FetchPartialsRemoved++
				stats.TorrentWorkDirsRemoved++
			}
		}
	}

	for _, session := range sessions {
		if session.active {
			continue
		}

		downloadsDir := filepath.Join(session.path, "downloads")
		if pathExists(downloadsDir) {
			subEntries, err := os.ReadDir(downloadsDir)
			if err != nil {
				return magerr.IOErr("read torrent session downloads dir", err)
			}
			for _, sub := range subEntries {
				if !sub.IsDir() {
					continue
				}
				removed, err := removePathIfExpired(s.clk, filepath.Join(downloadsDir, sub.Name()), expiry)
				if err != nil {
					return err
				}
				if removed {
					stats.FetchPartialsRemoved++
					stats.TorrentWorkDirsRemoved++
				}
			}
		}

		if session.locked {
			session.lock.Unlock()
		}

		removed, err := removePathIfExpired(s.clk, session.path, expiry)
		if err != nil {
			return err
		}
		if removed {
			stats.TorrentSessionDirsRemoved++
		}
	}

	return nil
}

// cleanupTorrents removes every mirror directory whose mtime is older than
// expiry. Callers must hold the cross-process seeder lock before calling
// this, since a live seeder may be actively reading mirror entries.
func (s *Store) cleanupTorrents(expiry time.Duration, stats *core.CleanupStats) error {
	entries, err := os.ReadDir(s.torrentRoot)
	if err != nil {
		return magerr.IOErr("read torrent root", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(s.torrentRoot, e.Name())
		removed, err := removePathIfExpired(s.clk, path, expiry)
		if err != nil {
			return err
		}
		if removed {
			stats.TorrentDirsRemoved++
		}
	}
	return nil
}
