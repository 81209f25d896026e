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
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/magpkg/magpkg/core"
	"github.com/magpkg/magpkg/lib/fetch"
)

// fakeExecutor records the last BuildSpec it was asked to run, and lets
// tests control the outcome without invoking bwrap.
type fakeExecutor struct {
	lastSpec BuildSpec
	err      error
}

func (f *fakeExecutor) Run(spec BuildSpec) error {
	f.lastSpec = spec
	return f.err
}

func newTestStore(t *testing.T) (*Store, *fakeExecutor) {
	t.Helper()
	root := t.TempDir()
	pkgsRoot := filepath.Join(root, "pkgs")
	fetchRoot := filepath.Join(root, "fetch")
	torrentRoot := filepath.Join(root, "torrent")
	seedRoot := filepath.Join(root, "seed")
	for _, dir := range []string{pkgsRoot, fetchRoot, torrentRoot, seedRoot} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}

	transport := fetch.NewTransport(fetchRoot, fetch.TransportConfig{})
	exec := &fakeExecutor{}
	mockClock := clock.NewMock()
	mockClock.Set(time.Now())
	s := &Store{
		root:        root,
		pkgsRoot:    pkgsRoot,
		fetchRoot:   fetchRoot,
		torrentRoot: torrentRoot,
		seedRoot:    seedRoot,
		fetchCache:  fetch.NewCache(fetchRoot, transport, tally.NoopScope),
		executor:    exec,
		clk:         mockClock,
		stats:       tally.NoopScope,
	}
	return s, exec
}

func writeSourceFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func fileSHA256(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestBuildSingleUntarUnpacksFetchedArchives(t *testing.T) {
	s, _ := newTestStore(t)

	src := t.TempDir()
	writeSourceFile(t, filepath.Join(src, "payload", "greeting.txt"), "hello\n")
	archive := filepath.Join(src, "payload.tar.zst")
	require.NoError(t, packOutput(filepath.Join(src, "payload"), archive))

	pkg := &core.Package{
		Name:  "greeter",
		Build: "untar",
		Hash:  "deadbeef",
		Fetch: []core.FetchResource{
			{Filename: "payload.tar.zst", SHA256: fileSHA256(t, archive), URLs: []string{archive}},
		},
	}

	artifact, err := s.buildSingle(context.Background(), pkg, 1)
	require.NoError(t, err)
	require.FileExists(t, artifact)
	require.Equal(t, s.PackageArtifactPath(pkg), artifact)

	// Rebuilding the same package must short-circuit on the cached artifact
	// rather than re-running the untar pipeline.
	again, err := s.buildSingle(context.Background(), pkg, 1)
	require.NoError(t, err)
	require.Equal(t, artifact, again)
}

func TestBuildSingleSandboxedInvokesExecutorWithExpectedSpec(t *testing.T) {
	s, exec := newTestStore(t)

	dep := &core.Package{Name: "base", Hash: "depdep"}
	depSrc := t.TempDir()
	writeSourceFile(t, filepath.Join(depSrc, "bin", "tool"), "#!/bin/sh\n")
	require.NoError(t, os.MkdirAll(s.pkgsRoot, 0755))
	require.NoError(t, packOutput(depSrc, s.PackageArtifactPath(dep)))

	pkg := &core.Package{
		Name:      "widget",
		Build:     "make\n",
		Hash:      "widgethash",
		BuildDeps: []*core.Package{dep},
	}

	artifact, err := s.buildSingle(context.Background(), pkg, 4)
	require.NoError(t, err)
	require.FileExists(t, artifact)

	require.NotEmpty(t, exec.lastSpec.Command)
	require.Equal(t, "/build", exec.lastSpec.Chdir)
	foundPathEnv := false
	foundParallelismEnv := false
	for _, kv := range exec.lastSpec.Env {
		if kv == "BUILD_PARALLELISM=4" {
			foundParallelismEnv = true
		}
		if len(kv) > 5 && kv[:5] == "PATH=" {
			foundPathEnv = true
		}
	}
	require.True(t, foundPathEnv)
	require.True(t, foundParallelismEnv)

	foundRootBind := false
	for _, d := range exec.lastSpec.Directives {
		if d.Kind == BindRW && d.Target == "/" {
			foundRootBind = true
		}
	}
	require.True(t, foundRootBind)
}

func TestBuildSingleSandboxedFailsOnMissingDependencyArtifact(t *testing.T) {
	s, _ := newTestStore(t)

	dep := &core.Package{Name: "missing", Hash: "nope"}
	pkg := &core.Package{
		Name:      "widget",
		Build:     "make\n",
		Hash:      "widgethash2",
		BuildDeps: []*core.Package{dep},
	}

	_, err := s.buildSingle(context.Background(), pkg, 1)
	require.Error(t, err)
}

func TestFetchPackagesHonorsMissingOnlyButStillWalksDeps(t *testing.T) {
	s, _ := newTestStore(t)

	depSrc := filepath.Join(t.TempDir(), "dep-src.txt")
	writeSourceFile(t, depSrc, "dep source\n")
	depSHA := fileSHA256(t, depSrc)

	dep := &core.Package{Name: "dep", Hash: "depabc", Fetch: []core.FetchResource{
		{Filename: "dep-src.txt", SHA256: depSHA, URLs: []string{depSrc}},
	}}
	// root's fetch resource has no URLs, so fetching it would fail.
	root := &core.Package{Name: "root", Hash: "rootabc", RunDeps: []*core.Package{dep}, Fetch: []core.FetchResource{
		{Filename: "root-src.txt", SHA256: "0000"},
	}}

	// Pre-create root's artifact so missingOnly should skip fetching its own
	// sources, but dep (which has no artifact) must still be visited.
	require.NoError(t, os.MkdirAll(s.pkgsRoot, 0755))
	require.NoError(t, os.WriteFile(s.PackageArtifactPath(root), []byte("x"), 0644))

	err := s.FetchPackages(context.Background(), []*core.Package{root}, true)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(s.fetchRoot, depSHA))
}
