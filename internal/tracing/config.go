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

// Package tracing wires optional OpenTelemetry tracing around the store
// coordinator's build and fetch operations.
package tracing

// Config controls whether tracing is enabled and where spans are exported.
type Config struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	AgentHost    string  `yaml:"agent_host"`
	AgentPort    int     `yaml:"agent_port"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

func (c Config) applyDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = "magpkg"
	}
	if c.AgentHost == "" {
		c.AgentHost = "localhost"
	}
	if c.AgentPort == 0 {
		c.AgentPort = 4317
	}
	return c
}
