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

// Package configutil loads and validates YAML configuration files,
// supporting an "extends:" directive for inheriting from a base config.
package configutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// ErrCycleRef is returned by resolveExtends when an extends chain refers
// back to a file already in the chain.
var ErrCycleRef = errors.New("cyclic reference in configuration extends detected")

type extendsStub struct {
	Extends string `yaml:"extends"`
}

// ValidationError wraps a gopkg.in/validator.v2 validation failure with
// access to the per-field error list.
type ValidationError struct {
	errs validator.ErrorMap
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", map[string]validator.ErrorArray(v.errs))
}

// ErrForField returns the validation errors recorded against the given
// exported struct field name, or nil if that field passed validation.
func (v ValidationError) ErrForField(field string) validator.ErrorArray {
	return v.errs[field]
}

// Load reads filename, follows any extends chain from least to most
// specific, merges the resulting YAML documents, and validates the final
// struct.
func Load(filename string, cfg interface{}) error {
	filenames, err := resolveExtends(filename, readExtendsTarget)
	if err != nil {
		return err
	}
	return loadFiles(cfg, filenames)
}

// loadFiles merges filenames in order (later files override earlier ones)
// into cfg and validates once, after the merge.
func loadFiles(cfg interface{}, filenames []string) error {
	for _, fname := range filenames {
		data, err := os.ReadFile(fname)
		if err != nil {
			return fmt.Errorf("read config %s: %w", fname, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("unmarshal config %s: %w", fname, err)
		}
	}

	if err := validator.Validate(cfg); err != nil {
		if errs, ok := err.(validator.ErrorMap); ok {
			return ValidationError{errs: errs}
		}
		return err
	}
	return nil
}

// resolveExtends walks the extends chain starting at fpath, resolving each
// target relative to the directory of the file that named it via lookup,
// and returns filenames ordered from least to most specific (fpath last).
func resolveExtends(fpath string, lookup func(string) (string, error)) ([]string, error) {
	seen := map[string]bool{fpath: true}
	chain := []string{fpath}

	cur := fpath
	for {
		target, err := lookup(cur)
		if err != nil {
			return nil, err
		}
		if target == "" {
			break
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(cur), target)
		}
		if seen[target] {
			return nil, ErrCycleRef
		}
		seen[target] = true
		chain = append(chain, target)
		cur = target
	}

	// Reverse: chain is most-specific-first, we want least-specific-first.
	out := make([]string, len(chain))
	for i, f := range chain {
		out[len(chain)-1-i] = f
	}
	return out, nil
}

func readExtendsTarget(filename string) (string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("read config %s: %w", filename, err)
	}
	var stub extendsStub
	if err := yaml.Unmarshal(data, &stub); err != nil {
		return "", fmt.Errorf("unmarshal config %s: %w", filename, err)
	}
	return stub.Extends, nil
}
