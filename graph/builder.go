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

// Package graph turns an evaluated manifest value into a deduplicated DAG
// of core.Package nodes with content hashes, per SPEC_FULL.md 4.6.
package graph

import (
	"fmt"
	"strings"

	"github.com/magpkg/magpkg/core"
	"github.com/magpkg/magpkg/magerr"
	"github.com/magpkg/magpkg/manifest"
)

// Builder deduplicates packages as it walks a manifest value: by_obj
// memoizes re-evaluation of the same source object, by_hash shares nodes
// that are structurally identical even though they came from distinct
// object literals.
type Builder struct {
	byObj  map[uintptr]*core.Package
	byHash map[string]*core.Package
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		byObj:  make(map[uintptr]*core.Package),
		byHash: make(map[string]*core.Package),
	}
}

// BuildFromValue turns a manifest value into a set of root packages. The
// value is either an array of package objects or a single package object.
func (b *Builder) BuildFromValue(v manifest.Value) ([]*core.Package, error) {
	if v.Kind() == manifest.Arr {
		n, err := v.Len()
		if err != nil {
			return nil, err
		}
		packages := make([]*core.Package, 0, n)
		for i := 0; i < n; i++ {
			item, err := v.Index(i)
			if err != nil {
				return nil, magerr.EvalErr(fmt.Sprintf("package at index %d", i), err.Error())
			}
			visiting := make(map[uintptr]bool)
			p, err := b.buildFromVal(item, visiting)
			if err != nil {
				return nil, err
			}
			packages = append(packages, p)
		}
		return packages, nil
	}

	visiting := make(map[uintptr]bool)
	p, err := b.buildFromVal(v, visiting)
	if err != nil {
		return nil, err
	}
	return []*core.Package{p}, nil
}

func (b *Builder) buildFromVal(v manifest.Value, visiting map[uintptr]bool) (*core.Package, error) {
	if v.Kind() != manifest.Obj {
		return nil, magerr.GenericErr("package definitions must be manifest objects")
	}

	key := v.Identity()

	if existing, ok := b.byObj[key]; ok {
		return existing, nil
	}

	if visiting[key] {
		return nil, magerr.CycleErr("a package transitively depends on itself")
	}
	visiting[key] = true
	defer delete(visiting, key)

	name, err := readName(v)
	if err != nil {
		return nil, err
	}

	runDeps, err := b.collectDeps(v, "runDeps", visiting)
	if err != nil {
		return nil, err
	}

	buildDeps, err := b.collectDeps(v, "buildDeps", visiting)
	if err != nil {
		return nil, err
	}

	build, err := readBuildScript(v)
	if err != nil {
		return nil, err
	}

	fetch, err := readFetchList(v)
	if err != nil {
		return nil, err
	}

	hash := core.ComputeHash(build, fetch, runDeps, buildDeps)

	if existing, ok := b.byHash[hash]; ok {
		b.byObj[key] = existing
		return existing, nil
	}

	p := &core.Package{
		Name:      name,
		Build:     build,
		Hash:      hash,
		RunDeps:   runDeps,
		BuildDeps: buildDeps,
		Fetch:     fetch,
	}

	b.byObj[key] = p
	b.byHash[hash] = p

	return p, nil
}

func (b *Builder) collectDeps(v manifest.Value, field string, visiting map[uintptr]bool) ([]*core.Package, error) {
	fv, ok, err := v.Field(field)
	if err != nil {
		return nil, magerr.EvalErr(fmt.Sprintf("field '%s'", field), err.Error())
	}
	if !ok || fv.Kind() == manifest.Null {
		return nil, nil
	}
	if fv.Kind() != manifest.Arr {
		return nil, magerr.GenericErr(fmt.Sprintf("field '%s' must be an array of packages, got %s", field, fv.Kind()))
	}

	n, err := fv.Len()
	if err != nil {
		return nil, err
	}

	deps := make([]*core.Package, 0, n)
	for i := 0; i < n; i++ {
		item, err := fv.Index(i)
		if err != nil {
			return nil, magerr.EvalErr(fmt.Sprintf("dependency %d in field '%s'", i, field), err.Error())
		}
		dep, err := b.buildFromVal(item, visiting)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func readName(v manifest.Value) (string, error) {
	fv, ok, err := v.Field("name")
	if err != nil {
		return "", magerr.EvalErr("field 'name'", err.Error())
	}
	if !ok || fv.Kind() == manifest.Null {
		return "", nil
	}
	if fv.Kind() != manifest.Str {
		return "", magerr.GenericErr(fmt.Sprintf("expected field 'name' to be a string, got %s", fv.Kind()))
	}
	name, err := fv.Str()
	if err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func validateName(name string) error {
	if name == "" {
		return magerr.GenericErr("package name must not be empty when provided")
	}
	if strings.Contains(name, "/") {
		return magerr.GenericErr("package name must not contain '/' characters")
	}
	if strings.ContainsAny(name, "\n\r") {
		return magerr.GenericErr("package name must not contain newline characters")
	}
	return nil
}

func readBuildScript(v manifest.Value) (string, error) {
	fv, ok, err := v.Field("build")
	if err != nil {
		return "", magerr.EvalErr("field 'build'", err.Error())
	}
	if !ok || fv.Kind() == manifest.Null {
		return "", nil
	}
	if fv.Kind() != manifest.Str {
		return "", magerr.GenericErr(fmt.Sprintf("expected field 'build' to be a string, got %s", fv.Kind()))
	}
	return fv.Str()
}

func readFetchList(v manifest.Value) ([]core.FetchResource, error) {
	fv, ok, err := v.Field("fetch")
	if err != nil {
		return nil, magerr.EvalErr("field 'fetch'", err.Error())
	}
	if !ok || fv.Kind() == manifest.Null {
		return nil, nil
	}
	if fv.Kind() != manifest.Arr {
		return nil, magerr.GenericErr(fmt.Sprintf("field 'fetch' must be an array of objects, got %s", fv.Kind()))
	}

	n, err := fv.Len()
	if err != nil {
		return nil, err
	}

	out := make([]core.FetchResource, 0, n)
	for i := 0; i < n; i++ {
		context := fmt.Sprintf("fetch[%d]", i)
		item, err := fv.Index(i)
		if err != nil {
			return nil, magerr.EvalErr(context, err.Error())
		}
		if item.Kind() != manifest.Obj {
			return nil, magerr.GenericErr(fmt.Sprintf("%s must be an object, got %s", context, item.Kind()))
		}

		filename, err := readRequiredString(item, "filename", context)
		if err != nil {
			return nil, err
		}
		sha256, err := readRequiredString(item, "sha256", context)
		if err != nil {
			return nil, err
		}
		urls, err := readStringArray(item, "urls", context)
		if err != nil {
			return nil, err
		}

		out = append(out, core.FetchResource{Filename: filename, SHA256: sha256, URLs: urls})
	}
	return out, nil
}

func readRequiredString(v manifest.Value, field, context string) (string, error) {
	fv, ok, err := v.Field(field)
	if err != nil {
		return "", magerr.EvalErr(context, err.Error())
	}
	if !ok || fv.Kind() == manifest.Null {
		return "", magerr.GenericErr(fmt.Sprintf("%s: missing required field '%s'", context, field))
	}
	if fv.Kind() != manifest.Str {
		return "", magerr.GenericErr(fmt.Sprintf("%s: expected field '%s' to be a string, got %s", context, field, fv.Kind()))
	}
	return fv.Str()
}

func readStringArray(v manifest.Value, field, context string) ([]string, error) {
	fv, ok, err := v.Field(field)
	if err != nil {
		return nil, magerr.EvalErr(context, err.Error())
	}
	if !ok || fv.Kind() == manifest.Null {
		return nil, nil
	}
	if fv.Kind() != manifest.Arr {
		return nil, magerr.GenericErr(fmt.Sprintf("%s: expected field '%s' to be an array of strings, got %s", context, field, fv.Kind()))
	}

	n, err := fv.Len()
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		item, err := fv.Index(i)
		if err != nil {
			return nil, magerr.EvalErr(fmt.Sprintf("%s: urls[%d]", context, i), err.Error())
		}
		if item.Kind() != manifest.Str {
			return nil, magerr.GenericErr(fmt.Sprintf("%s: expected urls[%d] to be a string, got %s", context, i, item.Kind()))
		}
		s, err := item.Str()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
