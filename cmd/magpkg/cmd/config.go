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
package cmd

import (
	"github.com/magpkg/magpkg/internal/tracing"
	"github.com/magpkg/magpkg/lib/store"
	"github.com/magpkg/magpkg/metrics"
	"github.com/magpkg/magpkg/utils/log"
)

// Config defines magpkg's top-level configuration, loaded through
// utils/configutil's extends-chain YAML loader.
type Config struct {
	ZapLogging  log.Config     `yaml:"logging"`
	Metrics     metrics.Config `yaml:"metrics"`
	Tracing     tracing.Config `yaml:"tracing"`
	Store       store.Config   `yaml:"store"`
	Parallelism int            `yaml:"parallelism"`
}

func (c Config) applyDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	return c
}
