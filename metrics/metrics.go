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

// Package metrics builds the tally.Scope the CLI and the store coordinator
// report through. The only metrics reported on it are the fetch cache's
// hit/miss counters; the cleanup sweep and the build driver report none.
package metrics

import (
	"io"
	"time"

	"github.com/uber-go/tally"
)

// Config controls whether metrics are reported and where a real
// implementation would ship them (left empty here; magpkg only ships a
// disabled/console reporter, matching the reference codebase's shape
// without depending on a statsd/M3 backend nothing in this repo uses).
type Config struct {
	Prefix string `yaml:"prefix"`
}

// New returns a root tally.Scope tagged with service metadata, and an
// io.Closer to flush and release it on shutdown.
func New(cfg Config, service string) (tally.Scope, io.Closer, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "magpkg"
	}
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:   prefix,
		Tags:     map[string]string{"service": service},
		Reporter: disabledReporter{},
	}, time.Second)
	return scope, closer, nil
}

// disabledReporter discards every reported metric. magpkg has no bundled
// statsd/M3 backend; swap this for a real tally.StatsReporter to ship
// metrics somewhere.
type disabledReporter struct{}

func (r disabledReporter) ReportCounter(string, map[string]string, int64)       {}
func (r disabledReporter) ReportGauge(string, map[string]string, float64)       {}
func (r disabledReporter) ReportTimer(string, map[string]string, time.Duration) {}
func (r disabledReporter) ReportHistogramValueSamples(
	string, map[string]string, tally.Buckets, float64, float64, int64) {
}
func (r disabledReporter) ReportHistogramDurationSamples(
	string, map[string]string, tally.Buckets, time.Duration, time.Duration, int64) {
}
func (r disabledReporter) Capabilities() tally.Capabilities { return r }
func (r disabledReporter) Reporting() bool                  { return true }
func (r disabledReporter) Tagging() bool                    { return false }
func (r disabledReporter) Flush()                           {}
