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

// Package store implements the content-addressed package store: the
// coordinator that assembles sandboxes, runs build scripts, packs
// artifacts, and sweeps idle entries when Cleanup is called.
package store

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/magpkg/magpkg/magerr"
)

// DirectiveKind enumerates the sandbox mount/bind operations an Executor
// must support, kept abstract so no host executor's flag names leak into
// this interface (bwrap today, runc or anything else tomorrow).
type DirectiveKind int

const (
	// BindRW mounts Source at Target, read-write.
	BindRW DirectiveKind = iota
	// BindRO mounts Source at Target, read-only.
	BindRO
	// BindDev dev-binds the host's /dev at Target.
	BindDev
	// Proc mounts a fresh procfs at Target.
	Proc
	// Tmpfs mounts a fresh, empty tmpfs at Target.
	Tmpfs
)

// Directive is one element of a sandbox's mount table.
type Directive struct {
	Kind   DirectiveKind
	Source string
	Target string
}

// BuildSpec describes a single sandboxed build invocation.
type BuildSpec struct {
	// Directives lists the sandbox's mount table, in order.
	Directives []Directive
	// Env is the complete environment to run the command with; the caller
	// has already decided exactly what crosses the sandbox boundary.
	Env []string
	// Chdir is the in-sandbox working directory.
	Chdir string
	// Command is the argv to execute inside the sandbox.
	Command []string
}

// Executor runs a sandboxed build and reports its exit status.
type Executor interface {
	// Run executes spec, returning a *magerr.Error of Kind CommandFailed on
	// non-zero exit, or a Kind IO/Generic error if the sandbox itself could
	// not be started.
	Run(spec BuildSpec) error
}

// BwrapExecutor runs builds through bubblewrap, mirroring the reference
// implementation's run_bwrap_build.
type BwrapExecutor struct{}

// Run translates spec's directives into bwrap flags and executes it.
func (BwrapExecutor) Run(spec BuildSpec) error {
	args := make([]string, 0, 4*len(spec.Directives)+16)
	args = append(args, "--unshare-net")

	for _, d := range spec.Directives {
		switch d.Kind {
		case BindRW:
			args = append(args, "--bind", d.Source, d.Target)
		case BindRO:
			args = append(args, "--ro-bind", d.Source, d.Target)
		case BindDev:
			args = append(args, "--dev-bind", d.Source, d.Target)
		case Proc:
			args = append(args, "--proc", d.Target)
		case Tmpfs:
			args = append(args, "--tmpfs", d.Target)
		}
	}

	args = append(args, "--clearenv")
	for _, kv := range spec.Env {
		name, value, ok := splitEnv(kv)
		if !ok {
			continue
		}
		args = append(args, "--setenv", name, value)
	}

	if spec.Chdir != "" {
		args = append(args, "--chdir", spec.Chdir)
	}
	args = append(args, spec.Command...)

	cmd := exec.Command("bwrap", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return magerr.CommandFailedErr(filepath.Base(spec.Chdir), exitErr.ExitCode())
		}
		return magerr.IOErr("start bwrap", err)
	}
	return nil
}

func splitEnv(kv string) (name, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

// sandboxPaths are the placeholder directories a rootfs-based build needs,
// created only if absent so a populated base artifact's own /dev, /proc,
// /sys, /tmp entries are left alone.
var sandboxPaths = []string{"dev", "proc", "sys", "tmp"}

func ensureSandboxPlaceholders(rootfs string) error {
	for _, name := range sandboxPaths {
		path := filepath.Join(rootfs, name)
		if _, err := os.Lstat(path); err == nil {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return magerr.IOErr(fmt.Sprintf("create sandbox placeholder %s", path), err)
		}
	}
	return nil
}
