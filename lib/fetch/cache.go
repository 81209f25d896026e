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
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/uber-go/tally"

	"github.com/magpkg/magpkg/core"
	"github.com/magpkg/magpkg/internal/tracing"
	"github.com/magpkg/magpkg/lib/torrent"
	"github.com/magpkg/magpkg/magerr"
	"github.com/magpkg/magpkg/utils/log"
)

const lockSuffix = ".lock"
const tmpSuffix = ".tmp"

// Cache is the content-addressed download cache: cache(FetchResource) ->
// path of a verified, locally cached file, multiplexing HTTP and BitTorrent
// sources and keeping a local torrent mirror fresh for reseeding.
type Cache struct {
	root      string
	transport *Transport
	hits      tally.Counter
	misses    tally.Counter
}

// NewCache returns a Cache rooted at root (normally <store>/fetch), backed
// by transport for the actual byte transfer.
func NewCache(root string, transport *Transport, stats tally.Scope) *Cache {
	scope := stats.Tagged(map[string]string{"module": "fetchcache"})
	return &Cache{
		root:      root,
		transport: transport,
		hits:      scope.Counter("hits"),
		misses:    scope.Counter("misses"),
	}
}

// Close releases the underlying transport's resources (the torrent fetcher
// worker, if one was created).
func (c *Cache) Close() {
	c.transport.Close()
}

// Get returns the path of the locally cached, verified file for res,
// fetching it from one of res.URLs if not already cached.
func (c *Cache) Get(ctx context.Context, res core.FetchResource) (string, error) {
	lockPath := filepath.Join(c.root, res.SHA256+lockSuffix)
	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return "", magerr.IOErr("lock fetch entry", err)
	}
	defer lock.Unlock()

	dest := filepath.Join(c.root, res.SHA256)
	path, err := c.getLocked(ctx, res, dest)
	if touchErr := touchPath(lockPath); touchErr != nil {
		log.With("sha256", res.SHA256).Warnf("touch fetch lock: %s", touchErr)
	}
	return path, err
}

// getLocked does the actual cache-hit check and multi-source fetch, wrapped
// in a span tagged with the resource's digest so a slow or failing fetch is
// visible in a trace alongside the build span that triggered it.
func (c *Cache) getLocked(ctx context.Context, res core.FetchResource, dest string) (path string, err error) {
	ctx, span := tracing.StartSpanWithAttributes(ctx, "fetch.get", tracing.AttrFetchSHA256.String(res.SHA256))
	defer span.End()
	defer func() {
		if err != nil {
			tracing.RecordSpanError(ctx, err)
		} else {
			tracing.SetSpanOK(ctx)
		}
	}()

	if exists(dest) {
		ok, err := verifySHA256(dest, res.SHA256)
		if err != nil {
			return "", err
		}
		if ok {
			c.hits.Inc(1)
			log.With("sha256", res.SHA256).Infof("fetch cache hit: %s", res.Filename)
			if err := touchPath(dest); err != nil {
				return "", err
			}
			if err := c.refreshMirror(res, dest); err != nil {
				log.With("sha256", res.SHA256).Warnf("refresh torrent mirror: %s", err)
			}
			return dest, nil
		}
		if err := os.Remove(dest); err != nil {
			return "", magerr.IOErr("remove corrupt fetch entry", err)
		}
	}

	c.misses.Inc(1)
	if len(res.URLs) == 0 {
		return "", magerr.GenericErr(fmt.Sprintf("no URLs provided for fetch %s", res.Filename))
	}

	var lastErr error
	for _, rawURL := range prioritizeURLs(res.URLs) {
		log.With("sha256", res.SHA256).Infof("fetching %s from %s", res.Filename, rawURL)
		tracing.SetSpanAttributes(ctx, tracing.AttrURL.String(rawURL))

		tmp := dest + tmpSuffix
		torrentInfo, err := c.transport.Fetch(rawURL, tmp)
		if err != nil {
			lastErr = err
			continue
		}

		ok, err := verifySHA256(tmp, res.SHA256)
		if err != nil {
			return "", err
		}
		if !ok {
			lastErr = magerr.HashMismatchErr(fmt.Sprintf("sha mismatch for %s", res.Filename))
			os.Remove(tmp)
			continue
		}

		if exists(dest) {
			if err := os.Remove(dest); err != nil {
				return "", magerr.IOErr("remove stale fetch entry", err)
			}
		}
		if err := os.Rename(tmp, dest); err != nil {
			return "", magerr.IOErr("rename fetch temp file into place", err)
		}
		if err := fsyncPath(dest); err != nil {
			return "", err
		}

		log.With("sha256", res.SHA256).Infof("fetch complete: %s", res.Filename)
		if err := touchPath(dest); err != nil {
			return "", err
		}

		mirrorInfo := torrentInfo
		if mirrorInfo == nil {
			created, err := torrent.CreateForFile(dest, res.Filename)
			if err != nil {
				return "", err
			}
			mirrorInfo = &torrent.DownloadResult{
				RelativePath: created.RelativePath,
				InfoHash:     created.InfoHash,
				TorrentBytes: created.TorrentBytes,
			}
		}
		if err := c.writeMirror(res, dest, mirrorInfo); err != nil {
			return "", err
		}

		return dest, nil
	}

	if lastErr == nil {
		lastErr = magerr.NetworkErr(fmt.Sprintf("failed to fetch %s", res.Filename), nil)
	}
	return "", lastErr
}

// refreshMirror re-touches the mirror entry for a cache hit, creating it if
// it somehow doesn't exist yet (e.g. an older cache entry fetched before the
// mirror was introduced).
func (c *Cache) refreshMirror(res core.FetchResource, dest string) error {
	for _, rawURL := range res.URLs {
		infoHash, ok, err := torrent.InfoHashFromURL(rawURL)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		touched, err := c.touchMirrorDir(infoHash, dest)
		if err != nil {
			return err
		}
		if touched {
			return nil
		}
	}

	if len(res.URLs) == 0 {
		return nil
	}

	created, err := torrent.CreateForFile(dest, res.Filename)
	if err != nil {
		return err
	}
	return c.writeMirror(res, dest, &torrent.DownloadResult{
		RelativePath: created.RelativePath,
		InfoHash:     created.InfoHash,
		TorrentBytes: created.TorrentBytes,
	})
}

func (c *Cache) touchMirrorDir(infoHash, sourcePath string) (bool, error) {
	dir := c.mirrorDir(infoHash)
	if !exists(dir) {
		return false, nil
	}
	torrentPath := filepath.Join(dir, torrent.MetaFileName)
	if !exists(torrentPath) {
		return false, nil
	}
	if err := touchPath(torrentPath); err != nil {
		return false, err
	}

	info, err := torrent.LoadSeedInfo(torrentPath)
	if err != nil {
		return false, err
	}

	dataPath := filepath.Join(dir, info.RelativePath)
	if !exists(dataPath) {
		if err := copyFileAtomically(sourcePath, dataPath); err != nil {
			return false, err
		}
	} else if err := touchPath(dataPath); err != nil {
		return false, err
	}

	return true, touchPath(dir)
}

// writeMirror persists info under <torrent_root>/<info_hash>/ so the file
// can be reseeded, per the torrent mirror invariant.
func (c *Cache) writeMirror(res core.FetchResource, dataPath string, info *torrent.DownloadResult) error {
	dir := c.mirrorDir(info.InfoHash)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return magerr.IOErr("create torrent mirror dir", err)
	}

	torrentPath := filepath.Join(dir, torrent.MetaFileName)
	tmpTorrent := torrentPath + tmpSuffix
	if err := os.WriteFile(tmpTorrent, info.TorrentBytes, 0644); err != nil {
		return magerr.IOErr("write torrent metadata", err)
	}
	if err := fsyncPath(tmpTorrent); err != nil {
		return err
	}
	if err := os.Rename(tmpTorrent, torrentPath); err != nil {
		return magerr.IOErr("rename torrent metadata into place", err)
	}
	if err := touchPath(torrentPath); err != nil {
		return err
	}

	copyPath := filepath.Join(dir, info.RelativePath)
	if err := copyFileAtomically(dataPath, copyPath); err != nil {
		return err
	}
	return touchPath(dir)
}

func (c *Cache) mirrorDir(infoHash string) string {
	return filepath.Join(filepath.Dir(c.root), "torrent", infoHash)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func verifySHA256(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, magerr.IOErr("open fetch entry for verification", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, magerr.IOErr("hash fetch entry", err)
	}

	normalized := strings.ToLower(strings.TrimSpace(expected))
	return hex.EncodeToString(h.Sum(nil)) == normalized, nil
}

func touchPath(path string) error {
	if !exists(path) {
		return nil
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return magerr.IOErr(fmt.Sprintf("touch %s", path), err)
	}
	return nil
}

func fsyncPath(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return magerr.IOErr("open for fsync", err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return magerr.IOErr("fsync", err)
	}
	return nil
}

func copyFileAtomically(src, dest string) error {
	if parent := filepath.Dir(dest); parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return magerr.IOErr("create mirror payload dir", err)
		}
	}

	tmp := dest + tmpSuffix
	in, err := os.Open(src)
	if err != nil {
		return magerr.IOErr("open mirror source", err)
	}
	defer in.Close()

	out, err := os.Create(tmp)
	if err != nil {
		return magerr.IOErr("create mirror payload temp file", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return magerr.IOErr("copy mirror payload", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return magerr.IOErr("sync mirror payload", err)
	}
	out.Close()

	if exists(dest) {
		if err := os.Remove(dest); err != nil {
			return magerr.IOErr("remove stale mirror payload", err)
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		return magerr.IOErr("rename mirror payload into place", err)
	}
	return touchPath(dest)
}
