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
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/magpkg/magpkg/core"
	"github.com/magpkg/magpkg/internal/tracing"
	"github.com/magpkg/magpkg/magerr"
	"github.com/magpkg/magpkg/utils/log"
)

const buildScriptContainerPath = "/tmp/.magpkg-build-script"

// sandboxPath segments injected into every sandboxed build's PATH.
var sandboxPathSegments = []string{
	"/usr/bin", "/bin", "/store/bin", "/store/sbin", "/usr/sbin", "/sbin",
}

// buildSingle builds pkg if its artifact is not already cached, returning
// the artifact path either way. A second caller for the same package
// blocks on the package lock and observes the first caller's completed
// artifact. The build is wrapped in a span tagged with the package's hash
// and base name so a slow or failing build is visible in a trace.
func (s *Store) buildSingle(ctx context.Context, pkg *core.Package, parallelism int) (path string, err error) {
	base := pkg.BaseName()

	ctx, span := tracing.StartSpanWithAttributes(ctx, "store.build",
		tracing.AttrPackageHash.String(pkg.Hash),
		tracing.AttrPackageBase.String(base))
	defer span.End()
	defer func() {
		if err != nil {
			tracing.RecordSpanError(ctx, err)
		} else {
			tracing.SetSpanOK(ctx)
		}
	}()

	artifactPath := s.PackageArtifactPath(pkg)
	lockPath := filepath.Join(s.pkgsRoot, base+".lock")

	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return "", magerr.IOErr("lock package build", err)
	}
	defer lock.Unlock()

	if pathExists(artifactPath) {
		if err := touchPath(artifactPath); err != nil {
			return "", err
		}
		if err := touchPath(lockPath); err != nil {
			return "", err
		}
		return artifactPath, nil
	}

	log.With("package", base).Infof("building %s...", base)

	buildRoot := filepath.Join(s.pkgsRoot, base+".build")
	if err := os.RemoveAll(buildRoot); err != nil {
		return "", magerr.IOErr("clear stale build dir", err)
	}
	if err := os.MkdirAll(buildRoot, 0755); err != nil {
		return "", magerr.IOErr("create build dir", err)
	}

	if pkg.Build == "untar" {
		if err := s.buildUntar(ctx, pkg, buildRoot, artifactPath); err != nil {
			return "", err
		}
	} else if err := s.buildSandboxed(ctx, pkg, buildRoot, artifactPath, parallelism); err != nil {
		return "", err
	}

	if err := touchPath(artifactPath); err != nil {
		return "", err
	}
	if err := touchPath(lockPath); err != nil {
		return "", err
	}
	if err := os.RemoveAll(buildRoot); err != nil {
		return "", magerr.IOErr("remove build dir after success", err)
	}
	return artifactPath, nil
}

func (s *Store) buildUntar(ctx context.Context, pkg *core.Package, buildRoot, artifactPath string) error {
	fetchDir := filepath.Join(buildRoot, "fetch")
	outDir := filepath.Join(buildRoot, "untar-out")
	if err := clearDirectory(fetchDir); err != nil {
		return err
	}

	fetched, err := s.prepareFetches(ctx, pkg.Fetch, fetchDir)
	if err != nil {
		return err
	}
	if err := buildViaUntar(fetched, outDir); err != nil {
		return err
	}
	return packOutput(outDir, artifactPath)
}

func (s *Store) buildSandboxed(ctx context.Context, pkg *core.Package, buildRoot, artifactPath string, parallelism int) error {
	rootfs := filepath.Join(buildRoot, "rootfs")
	if err := os.MkdirAll(rootfs, 0755); err != nil {
		return magerr.IOErr("create rootfs", err)
	}
	if err := s.installDependenciesIntoRoot(pkg, rootfs); err != nil {
		return err
	}
	if err := ensureSandboxPlaceholders(rootfs); err != nil {
		return err
	}

	outDir := filepath.Join(rootfs, "out")
	fetchDir := filepath.Join(rootfs, "fetch")
	storeDir := filepath.Join(rootfs, "store")
	innerBuildDir := filepath.Join(rootfs, "build")
	for _, dir := range []string{outDir, fetchDir, storeDir, innerBuildDir} {
		if err := clearDirectory(dir); err != nil {
			return err
		}
	}

	if err := s.populateBuildStore(pkg, storeDir); err != nil {
		return err
	}
	if _, err := s.prepareFetches(ctx, pkg.Fetch, fetchDir); err != nil {
		return err
	}

	if err := s.runSandboxedBuild(pkg, rootfs, parallelism); err != nil {
		return err
	}

	return packOutput(outDir, artifactPath)
}

// installDependenciesIntoRoot extracts the transitive closure of pkg's
// build and run deps into rootfs, postorder and deduplicated by hash, so a
// dependency's own deps are already present by the time it is extracted
// and later artifacts can override earlier ones' conflicting entries.
func (s *Store) installDependenciesIntoRoot(pkg *core.Package, rootfs string) error {
	seen := make(map[string]bool)
	var order []*core.Package

	var visit func(p *core.Package)
	visit = func(p *core.Package) {
		if seen[p.Hash] {
			return
		}
		seen[p.Hash] = true
		for _, dep := range p.BuildDeps {
			visit(dep)
		}
		for _, dep := range p.RunDeps {
			visit(dep)
		}
		order = append(order, p)
	}
	for _, dep := range pkg.BuildDeps {
		visit(dep)
	}
	for _, dep := range pkg.RunDeps {
		visit(dep)
	}

	for _, dep := range order {
		artifact := s.PackageArtifactPath(dep)
		if !pathExists(artifact) {
			return magerr.GenericErr(fmt.Sprintf("missing artifact for dependency %s", dep.Hash))
		}
		if err := extractTarZst(artifact, rootfs); err != nil {
			return err
		}
	}
	return nil
}

// populateBuildStore extracts each of pkg's build-dep closures into its own
// subdirectory of storeDir, named by base name, so the build script can
// reference /store/<dep-base>/ directly.
func (s *Store) populateBuildStore(pkg *core.Package, storeDir string) error {
	seen := make(map[string]bool)

	for _, dep := range pkg.BuildDeps {
		if seen[dep.Hash] {
			continue
		}
		seen[dep.Hash] = true

		dest := filepath.Join(storeDir, dep.BaseName())
		if pathExists(dest) {
			if err := os.RemoveAll(dest); err != nil {
				return magerr.IOErr("clear stale build-store entry", err)
			}
		}
		if err := os.MkdirAll(dest, 0755); err != nil {
			return magerr.IOErr("create build-store entry", err)
		}
		for _, p := range core.Closure([]*core.Package{dep}) {
			artifact := s.PackageArtifactPath(p)
			if !pathExists(artifact) {
				return magerr.GenericErr(fmt.Sprintf("missing artifact for dependency %s", p.Hash))
			}
			if err := extractTarZst(artifact, dest); err != nil {
				return err
			}
		}
	}
	return nil
}

// prepareFetches caches every fetch resource and copies it into fetchDir
// under its declared filename, returning the copied paths in order.
func (s *Store) prepareFetches(ctx context.Context, fetches []core.FetchResource, fetchDir string) ([]string, error) {
	result := make([]string, 0, len(fetches))
	for _, f := range fetches {
		cached, err := s.fetchCache.Get(ctx, f)
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(fetchDir, f.Filename)
		if err := copyFilePlain(cached, dest); err != nil {
			return nil, err
		}
		result = append(result, dest)
	}
	return result, nil
}

func copyFilePlain(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return magerr.IOErr("open fetch source for staging", err)
	}
	defer in.Close()

	if parent := filepath.Dir(dest); parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return magerr.IOErr("create fetch staging dir", err)
		}
	}
	out, err := os.Create(dest)
	if err != nil {
		return magerr.IOErr("create staged fetch file", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return magerr.IOErr("copy staged fetch file", err)
	}
	return nil
}

// runSandboxedBuild stages pkg's build script on the host, assembles the
// BuildSpec mandated by the store coordinator's sandbox contract, and
// invokes the executor.
func (s *Store) runSandboxedBuild(pkg *core.Package, rootfs string, parallelism int) error {
	if pkg.Build == "" {
		return nil
	}

	buildRoot := filepath.Dir(rootfs)
	scriptHostPath := filepath.Join(buildRoot, fmt.Sprintf(".magpkg-build-script-%s-%d", pkg.Hash, os.Getpid()))

	script := pkg.Build
	if script[len(script)-1] != '\n' {
		script += "\n"
	}
	if err := os.WriteFile(scriptHostPath, []byte(script), 0700); err != nil {
		return magerr.IOErr("write build script", err)
	}
	defer os.Remove(scriptHostPath)

	env := []string{
		"PATH=" + strings.Join(sandboxPathSegments, ":"),
		"SHELL=/bin/sh",
		"CONFIG_SHELL=/bin/sh",
		"BUILD_PARALLELISM=" + strconv.Itoa(parallelism),
		"HOME=/build",
	}
	if term, ok := os.LookupEnv("TERM"); ok {
		env = append(env, "TERM="+term)
	}

	spec := BuildSpec{
		Directives: []Directive{
			{Kind: BindRW, Source: rootfs, Target: "/"},
			{Kind: BindDev, Source: "/dev", Target: "/dev"},
			{Kind: Proc, Source: "/proc", Target: "/proc"},
			{Kind: BindRO, Source: scriptHostPath, Target: buildScriptContainerPath},
		},
		Env:     env,
		Chdir:   "/build",
		Command: []string{"/bin/sh", buildScriptContainerPath},
	}

	return s.executor.Run(spec)
}

// buildViaUntar implements the untar build sentinel for buildUntar: it
// clears outDir and unpacks every staged fetch archive into it, in order.
func buildViaUntar(fetched []string, outDir string) error {
	if len(fetched) == 0 {
		return magerr.GenericErr("untar build script requires at least one fetch resource")
	}
	if err := clearDirectory(outDir); err != nil {
		return err
	}
	for _, f := range fetched {
		if err := unpackFetchArchive(f, outDir); err != nil {
			return err
		}
	}
	return nil
}
