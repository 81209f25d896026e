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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackOutputThenExtractTarZstPreservesTreeAndSymlinks(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "bin", "hello"), []byte("hi\n"), 0755))
	require.NoError(t, os.Symlink("hello", filepath.Join(src, "bin", "hello-link")))

	artifact := filepath.Join(t.TempDir(), "out.tar.zst")
	require.NoError(t, packOutput(src, artifact))
	require.FileExists(t, artifact)

	dest := t.TempDir()
	require.NoError(t, extractTarZst(artifact, dest))

	content, err := os.ReadFile(filepath.Join(dest, "bin", "hello"))
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(content))

	link, err := os.Readlink(filepath.Join(dest, "bin", "hello-link"))
	require.NoError(t, err)
	require.Equal(t, "hello", link)
}

func TestExtractTarZstOverwritesConflictingEntryKinds(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "store", "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "store", "pkg", "file"), []byte("v1"), 0644))

	artifact := filepath.Join(t.TempDir(), "out.tar.zst")
	require.NoError(t, packOutput(src, artifact))

	dest := t.TempDir()
	// Pre-populate dest with a directory where the archive has a file, to
	// exercise the conflict resolution rule.
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "store", "pkg", "file"), 0755))

	require.NoError(t, extractTarZst(artifact, dest))

	info, err := os.Stat(filepath.Join(dest, "store", "pkg", "file"))
	require.NoError(t, err)
	require.False(t, info.IsDir())
}

func TestUnpackFetchArchiveRejectsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "payload.zip")
	require.NoError(t, os.WriteFile(archive, []byte("not a real archive"), 0644))

	err := unpackFetchArchive(archive, t.TempDir())
	require.Error(t, err)
}
