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
package core

// CleanupStats counts the entries removed by a single cleanup sweep, broken
// down by category so callers can report what was reclaimed.
type CleanupStats struct {
	PackageArtifactsRemoved int
	PackageBuildDirsRemoved int
	PackageLockFilesRemoved int

	FetchFilesRemoved      int
	FetchPartialsRemoved   int
	FetchLockFilesRemoved  int

	TorrentDirsRemoved        int
	TorrentWorkDirsRemoved    int
	TorrentSessionDirsRemoved int
}

// Add accumulates other's counters into s.
func (s *CleanupStats) Add(other CleanupStats) {
	s.PackageArtifactsRemoved += other.PackageArtifactsRemoved
	s.PackageBuildDirsRemoved += other.PackageBuildDirsRemoved
	s.PackageLockFilesRemoved += other.PackageLockFilesRemoved
	s.FetchFilesRemoved += other.FetchFilesRemoved
	s.FetchPartialsRemoved += other.FetchPartialsRemoved
	s.FetchLockFilesRemoved += other.FetchLockFilesRemoved
	s.TorrentDirsRemoved += other.TorrentDirsRemoved
	s.TorrentWorkDirsRemoved += other.TorrentWorkDirsRemoved
	s.TorrentSessionDirsRemoved += other.TorrentSessionDirsRemoved
}
