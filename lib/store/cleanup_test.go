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
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"

	"github.com/magpkg/magpkg/core"
)

const testExpiry = time.Hour

func advance(mock *clock.Mock, d time.Duration) {
	mock.Add(d)
}

func TestCleanupPackagesRemovesExpiredArtifactAndLock(t *testing.T) {
	s, _ := newTestStore(t)
	mock := s.clk.(*clock.Mock)

	base := "pkg-deadbeef"
	require.NoError(t, os.WriteFile(filepath.Join(s.pkgsRoot, base+".tar.zst"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.pkgsRoot, base+".lock"), []byte{}, 0644))

	advance(mock, 2*testExpiry)

	var stats core.CleanupStats
	require.NoError(t, s.cleanupPackages(testExpiry, &stats))

	require.Equal(t, 1, stats.PackageArtifactsRemoved)
	require.Equal(t, 1, stats.PackageLockFilesRemoved)
	require.NoFileExists(t, filepath.Join(s.pkgsRoot, base+".tar.zst"))
	require.NoFileExists(t, filepath.Join(s.pkgsRoot, base+".lock"))
}

func TestCleanupPackagesSkipsEntryHeldByAnotherLock(t *testing.T) {
	s, _ := newTestStore(t)
	mock := s.clk.(*clock.Mock)

	base := "pkg-held"
	artifact := filepath.Join(s.pkgsRoot, base+".tar.zst")
	lockPath := filepath.Join(s.pkgsRoot, base+".lock")
	require.NoError(t, os.WriteFile(artifact, []byte("x"), 0644))

	holder := flock.New(lockPath)
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer holder.Unlock()

	advance(mock, 2*testExpiry)

	var stats core.CleanupStats
	require.NoError(t, s.cleanupPackages(testExpiry, &stats))

	require.Equal(t, 0, stats.PackageArtifactsRemoved)
	require.FileExists(t, artifact)
}

func TestCleanupPackagesRemovesBuildDirUnconditionally(t *testing.T) {
	s, _ := newTestStore(t)

	base := "pkg-stale-build"
	buildDir := filepath.Join(s.pkgsRoot, base+".build")
	require.NoError(t, os.MkdirAll(buildDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(s.pkgsRoot, base+".lock"), []byte{}, 0644))

	var stats core.CleanupStats
	require.NoError(t, s.cleanupPackages(testExpiry, &stats))

	require.Equal(t, 1, stats.PackageBuildDirsRemoved)
	require.NoDirExists(t, buildDir)
}

func TestCleanupFetchesRemovesExpiredFileAndPartials(t *testing.T) {
	s, _ := newTestStore(t)
	mock := s.clk.(*clock.Mock)

	sha := "abc123"
	require.NoError(t, os.WriteFile(filepath.Join(s.fetchRoot, sha), []byte("data"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.fetchRoot, sha+".tmp"), []byte("partial"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.fetchRoot, sha+".lock"), []byte{}, 0644))

	advance(mock, 2*testExpiry)

	var stats core.CleanupStats
	require.NoError(t, s.cleanupFetches(testExpiry, &stats))

	require.Equal(t, 1, stats.FetchFilesRemoved)
	require.Equal(t, 1, stats.FetchPartialsRemoved)
	require.Equal(t, 1, stats.FetchLockFilesRemoved)
}

func TestCleanupFetchesLeavesLiveSessionWorkDirsAlone(t *testing.T) {
	s, _ := newTestStore(t)
	mock := s.clk.(*clock.Mock)

	sessionDir := filepath.Join(s.fetchRoot, ".torrent-session-live")
	require.NoError(t, os.MkdirAll(sessionDir, 0755))
	sessionLockPath := filepath.Join(sessionDir, torrentFetcherLock)

	holder := flock.New(sessionLockPath)
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer holder.Unlock()

	sha := "workingsha"
	workDir := filepath.Join(s.fetchRoot, sha+torrentWorkMarker+"1")
	require.NoError(t, os.MkdirAll(workDir, 0755))

	advance(mock, 2*testExpiry)

	var stats core.CleanupStats
	require.NoError(t, s.cleanupFetches(testExpiry, &stats))

	require.Equal(t, 0, stats.TorrentWorkDirsRemoved)
	require.DirExists(t, workDir)
	require.DirExists(t, sessionDir)
}

func TestCleanupFetchesRemovesDeadSessionAndItsWorkDirs(t *testing.T) {
	s, _ := newTestStore(t)
	mock := s.clk.(*clock.Mock)

	sessionDir := filepath.Join(s.fetchRoot, ".torrent-session-dead")
	downloadsDir := filepath.Join(sessionDir, "downloads")
	workDir := filepath.Join(downloadsDir, "somesha.torrent-work-1")
	require.NoError(t, os.MkdirAll(workDir, 0755))

	advance(mock, 2*testExpiry)

	var stats core.CleanupStats
	require.NoError(t, s.cleanupFetches(testExpiry, &stats))

	require.Equal(t, 1, stats.TorrentWorkDirsRemoved)
	require.Equal(t, 1, stats.TorrentSessionDirsRemoved)
	require.NoDirExists(t, sessionDir)
}

func TestCleanupTorrentsRemovesExpiredMirrorDirs(t *testing.T) {
	s, _ := newTestStore(t)
	mock := s.clk.(*clock.Mock)

	mirrorDir := filepath.Join(s.torrentRoot, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	require.NoError(t, os.MkdirAll(mirrorDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mirrorDir, "resource.torrent"), []byte("x"), 0644))

	advance(mock, 2*testExpiry)

	var stats core.CleanupStats
	require.NoError(t, s.cleanupTorrents(testExpiry, &stats))

	require.Equal(t, 1, stats.TorrentDirsRemoved)
	require.NoDirExists(t, mirrorDir)
}

func TestCleanupDoesNotRemoveFreshEntries(t *testing.T) {
	s, _ := newTestStore(t)

	base := "pkg-fresh"
	require.NoError(t, os.WriteFile(filepath.Join(s.pkgsRoot, base+".tar.zst"), []byte("x"), 0644))

	var stats core.CleanupStats
	require.NoError(t, s.cleanupPackages(testExpiry, &stats))

	require.Equal(t, 0, stats.PackageArtifactsRemoved)
	require.FileExists(t, filepath.Join(s.pkgsRoot, base+".tar.zst"))
}
