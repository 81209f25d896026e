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
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/magpkg/magpkg/magerr"
)

// packOutput tars src (without following symlinks) and zstd-compresses it
// (level 0) into dest, writing through a .tmp file and renaming into place
// so readers never observe a partial artifact.
func packOutput(src, dest string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		if err := os.MkdirAll(src, 0755); err != nil {
			return magerr.IOErr("create empty build output dir", err)
		}
	}
	if parent := filepath.Dir(dest); parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return magerr.IOErr("create artifact dir", err)
		}
	}

	tmp := dest + ".tmp"
	os.Remove(tmp)

	f, err := os.Create(tmp)
	if err != nil {
		return magerr.IOErr("create artifact temp file", err)
	}

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return magerr.IOErr("create zstd encoder", err)
	}

	tw := tar.NewWriter(zw)
	walkErr := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		name := "./" + filepath.ToSlash(rel)
		if rel == "." {
			name = "./"
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()
			if _, err := io.Copy(tw, file); err != nil {
				return err
			}
		}
		return nil
	})

	if walkErr == nil {
		walkErr = tw.Close()
	}
	if walkErr == nil {
		walkErr = zw.Close()
	}
	if closeErr := f.Close(); walkErr == nil {
		walkErr = closeErr
	}
	if walkErr != nil {
		os.Remove(tmp)
		return magerr.IOErr("pack artifact", walkErr)
	}

	os.Remove(dest)
	if err := os.Rename(tmp, dest); err != nil {
		return magerr.IOErr("rename artifact into place", err)
	}
	return nil
}

// extractTarZst unpacks a zstd-compressed tar archive into dest, resolving
// entry-type conflicts by removing whatever is already at the target path
// when its kind differs from the incoming entry. This lets later artifacts
// override earlier ones during closure assembly.
func extractTarZst(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return magerr.IOErr("open artifact archive", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return magerr.IOErr("create zstd decoder", err)
	}
	defer zr.Close()

	return extractTar(tar.NewReader(zr), dest)
}

// unpackFetchArchive unpacks a fetched archive (zst/gz/plain tar, selected
// by file extension) into dest. Used by the untar build sentinel.
func unpackFetchArchive(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return magerr.IOErr("open fetch archive", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(archivePath)); ext {
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return magerr.IOErr("create zstd decoder", err)
		}
		defer zr.Close()
		return extractTar(tar.NewReader(zr), dest)
	case ".gz":
		gr, err := gzip.NewReader(f)
		if err != nil {
			return magerr.IOErr("create gzip decoder", err)
		}
		defer gr.Close()
		return extractTar(tar.NewReader(gr), dest)
	case ".tar":
		return extractTar(tar.NewReader(f), dest)
	default:
		return magerr.GenericErr(fmt.Sprintf("unsupported archive format for %s", archivePath))
	}
}

func extractTar(tr *tar.Reader, dest string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return magerr.IOErr("read archive entry", err)
		}

		rel := filepath.Clean(hdr.Name)
		if rel == "." || rel == "/" {
			continue
		}
		target := filepath.Join(dest, rel)

		if err := prepareEntryTarget(target, hdr.Typeflag); err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return magerr.IOErr("create archive dir", err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return magerr.IOErr("create archive entry parent dir", err)
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return magerr.IOErr("replace existing archive symlink", err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return magerr.IOErr("create archive symlink", err)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return magerr.IOErr("create archive entry parent dir", err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return magerr.IOErr("create archive entry", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return magerr.IOErr("write archive entry", err)
			}
			out.Close()
		}
	}
}

// entryKind classifies a filesystem entry or tar header by its on-disk
// kind: directory, symlink, or plain file (the default for every other
// tar type, e.g. regular files, hardlinks, devices).
type entryKind int

const (
	entryFile entryKind = iota
	entryDir
	entrySymlink
)

func fileInfoKind(info os.FileInfo) entryKind {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return entrySymlink
	case info.IsDir():
		return entryDir
	default:
		return entryFile
	}
}

func tarEntryKind(typeflag byte) entryKind {
	switch typeflag {
	case tar.TypeDir:
		return entryDir
	case tar.TypeSymlink:
		return entrySymlink
	default:
		return entryFile
	}
}

// prepareEntryTarget removes whatever already exists at target if its kind
// (directory, symlink, or file) differs from the incoming entry's kind, so
// extraction can overwrite a directory with a file, a file with a symlink,
// a symlink with a directory, and so on. A same-kind target is left alone.
func prepareEntryTarget(target string, typeflag byte) error {
	info, err := os.Lstat(target)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return magerr.IOErr("stat archive entry target", err)
	}

	existing := fileInfoKind(info)
	incoming := tarEntryKind(typeflag)

	if existing == incoming {
		return nil
	}

	var removeErr error
	if existing == entryDir {
		removeErr = os.RemoveAll(target)
	} else {
		removeErr = os.Remove(target)
	}
	if removeErr != nil {
		return magerr.IOErr("remove conflicting archive entry target", removeErr)
	}
	return nil
}
