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

// This file lives in package store_test (rather than package store, like
// the rest of this package's tests) because mocksandbox imports store: an
// internal test importing a mock of its own package's interface is an
// import cycle, but an external test package is not.
package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/magpkg/magpkg/core"
	"github.com/magpkg/magpkg/lib/store"
	mocksandbox "github.com/magpkg/magpkg/mocks/sandbox"
)

// TestBuildPackagesPropagatesExecutorFailure proves a nonzero sandbox
// executor result fails the build without ever invoking the real bwrap
// binary, using a mocksandbox.MockExecutor substituted via SetExecutor.
func TestBuildPackagesPropagatesExecutorFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := t.TempDir()
	s, err := store.New(store.Config{Root: filepath.Join(root, "store")}, tally.NoopScope)
	require.NoError(t, err)
	defer s.Close()

	mockExec := mocksandbox.NewMockExecutor(ctrl)
	mockExec.EXPECT().Run(gomock.Any()).Return(errors.New("sandbox exited nonzero"))
	s.SetExecutor(mockExec)

	pkg := &core.Package{
		Name:  "leaf",
		Build: "echo hi\n",
	}
	pkg.Hash = core.ComputeHash(pkg.Build, pkg.Fetch, pkg.RunDeps, pkg.BuildDeps)

	_, err = s.BuildPackages(context.Background(), []*core.Package{pkg}, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sandbox exited nonzero")

	// The failed build's artifact must not appear, and its .build/ dir
	// must survive for inspection.
	require.NoFileExists(t, s.PackageArtifactPath(pkg))
	require.DirExists(t, filepath.Join(root, "store", "pkgs", pkg.BaseName()+".build"))
}

// TestBuildPackagesInvokesExecutorWithExpectedSpec asserts the BuildSpec
// handed to the executor runs the staged script with /bin/sh from /build
// and carries mount directives, and that a successful exit yields the
// artifact.
func TestBuildPackagesInvokesExecutorWithExpectedSpec(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := t.TempDir()
	s, err := store.New(store.Config{Root: filepath.Join(root, "store")}, tally.NoopScope)
	require.NoError(t, err)
	defer s.Close()

	mockExec := mocksandbox.NewMockExecutor(ctrl)
	mockExec.EXPECT().Run(gomock.Any()).DoAndReturn(func(spec store.BuildSpec) error {
		require.Equal(t, []string{"/bin/sh", "/tmp/.magpkg-build-script"}, spec.Command)
		require.Equal(t, "/build", spec.Chdir)
		require.NotEmpty(t, spec.Directives)
		return nil
	})
	s.SetExecutor(mockExec)

	pkg := &core.Package{
		Name:  "leaf",
		Build: "echo hi\n",
	}
	pkg.Hash = core.ComputeHash(pkg.Build, pkg.Fetch, pkg.RunDeps, pkg.BuildDeps)

	paths, err := s.BuildPackages(context.Background(), []*core.Package{pkg}, 1)
	require.NoError(t, err)
	require.FileExists(t, paths[0])
}
