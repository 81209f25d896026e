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

// Package core defines the value types shared across the graph builder,
// the fetch cache, and the store: packages, fetch resources, and the
// content hash that ties them together.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// FetchResource is a declared external input of a package. Its sha256 is
// its identity; urls are candidate sources tried in priority order.
type FetchResource struct {
	Filename string
	SHA256   string
	URLs     []string
}

// Package is the canonical node of the build DAG. Hash is a pure function
// of Build, Fetch (in order), and the hashes of RunDeps/BuildDeps (in
// order); two packages are equal iff their hashes are equal.
type Package struct {
	Name      string
	Build     string
	Hash      string
	RunDeps   []*Package
	BuildDeps []*Package
	Fetch     []FetchResource
}

// BaseName is "<name>-<hash>" if the package has a name, else "pkg-<hash>".
// Every on-disk path for a package is derived from this string.
func (p *Package) BaseName() string {
	if p.Name != "" {
		return fmt.Sprintf("%s-%s", p.Name, p.Hash)
	}
	return fmt.Sprintf("pkg-%s", p.Hash)
}

// ComputeHash returns the canonical lowercase-hex SHA-256 over build,
// fetch, run-dep hashes, and build-dep hashes, in that order. Separator
// bytes between sections and between repeated fields disambiguate the
// concatenation; there are no length prefixes.
func ComputeHash(build string, fetch []FetchResource, runDeps, buildDeps []*Package) string {
	h := sha256.New()
	h.Write([]byte("build:"))
	h.Write([]byte(build))
	h.Write([]byte("\x00fetch\x00"))
	for _, f := range fetch {
		h.Write([]byte(f.Filename))
		h.Write([]byte{0})
		h.Write([]byte(f.SHA256))
		h.Write([]byte{0})
	}
	h.Write([]byte("\x00run\x00"))
	for _, dep := range runDeps {
		h.Write([]byte(dep.Hash))
	}
	h.Write([]byte("\x00build\x00"))
	for _, dep := range buildDeps {
		h.Write([]byte(dep.Hash))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Closure returns the transitive closure of roots over RunDeps ∪ BuildDeps,
// postorder, deduplicated by hash, so dependencies precede dependents.
func Closure(roots []*Package) []*Package {
	seen := make(map[string]bool)
	var order []*Package

	var visit func(p *Package)
	visit = func(p *Package) {
		if seen[p.Hash] {
			return
		}
		seen[p.Hash] = true
		for _, dep := range p.RunDeps {
			visit(dep)
		}
		for _, dep := range p.BuildDeps {
			visit(dep)
		}
		order = append(order, p)
	}

	for _, root := range roots {
		visit(root)
	}
	return order
}
