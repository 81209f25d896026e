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
package torrent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateForFileRoundTripsThroughLoadSeedInfo(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "x.bin")
	require.NoError(t, os.WriteFile(payload, []byte("hello torrent world"), 0644))

	created, err := CreateForFile(payload, "x.bin")
	require.NoError(t, err)
	require.NotEmpty(t, created.InfoHash)
	require.Len(t, created.InfoHash, 40)
	require.Equal(t, "x.bin", created.RelativePath)

	torrentPath := filepath.Join(dir, MetaFileName)
	require.NoError(t, os.WriteFile(torrentPath, created.TorrentBytes, 0644))

	loaded, err := LoadSeedInfo(torrentPath)
	require.NoError(t, err)
	require.Equal(t, created.InfoHash, loaded.InfoHash)
	require.Equal(t, created.RelativePath, loaded.RelativePath)
}

func TestInfoHashFromURLHex40(t *testing.T) {
	hash := "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	got, ok, err := InfoHashFromURL("magnet:?xt=urn:btih:" + hash + "&dn=x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hash, got)
}

func TestInfoHashFromURLNonMagnetReturnsFalse(t *testing.T) {
	got, ok, err := InfoHashFromURL("https://example.com/x.tgz")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, got)
}

func TestIsTorrentURL(t *testing.T) {
	require.True(t, IsTorrentURL("magnet:?xt=urn:btih:abc"))
	require.True(t, IsTorrentURL("https://example.com/dir/file.torrent"))
	require.True(t, IsTorrentURL("https://example.com/dir/FILE.TORRENT"))
	require.False(t, IsTorrentURL("https://example.com/dir/file.tar.gz"))
	require.False(t, IsTorrentURL("file:///tmp/x.tar.gz"))
}
