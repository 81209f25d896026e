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

// Package fetch implements the content-addressed download cache: a
// transport multiplexer over file/http/torrent sources, and the cache that
// coordinates concurrent fetches and the torrent mirror.
package fetch

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/magpkg/magpkg/internal/tracing"
	"github.com/magpkg/magpkg/lib/torrent"
	"github.com/magpkg/magpkg/magerr"
	"github.com/magpkg/magpkg/utils/httputil"
	"github.com/magpkg/magpkg/utils/log"
)

// accepted2xx lists every 2xx status code as an accepted HTTP response;
// the reference fetch path treats any 2xx as success (store.rs), not just
// 200.
var accepted2xx = func() []int {
	codes := make([]int, 0, 100)
	for c := 200; c < 300; c++ {
		codes = append(codes, c)
	}
	return codes
}()

// TransportConfig controls the HTTP client used for http(s) fetches.
type TransportConfig struct {
	Timeout time.Duration                      `yaml:"timeout"`
	Backoff httputil.ExponentialBackOffConfig `yaml:"backoff"`
}

func (c TransportConfig) applyDefaults() TransportConfig {
	if c.Timeout == 0 {
		c.Timeout = 12 * time.Hour
	}
	return c
}

// Transport dispatches a single fetch URL to the appropriate source: local
// file, HTTP(S), or the torrent fetcher worker. The torrent fetcher is
// created lazily on first use and shut down explicitly by Close.
type Transport struct {
	fetchRoot string
	cfg       TransportConfig
	http      http.RoundTripper

	mu     sync.Mutex
	worker *torrent.Fetcher
}

// NewTransport returns a Transport rooted at fetchRoot, where the torrent
// fetcher worker (if ever needed) will allocate its session directory. HTTP
// fetches are traced via tracing.NewHTTPTransport so they show up as child
// spans of the fetch.get span that triggered them.
func NewTransport(fetchRoot string, cfg TransportConfig) *Transport {
	return &Transport{
		fetchRoot: fetchRoot,
		cfg:       cfg.applyDefaults(),
		http:      tracing.NewHTTPTransport(nil),
	}
}

// Fetch retrieves rawURL into dest, returning torrent metadata when the URL
// was torrent-routed so the caller can seed the mirror without recomputing
// it. Returns a Generic error naming the scheme for any scheme that isn't
// file/http(s)/magnet/.torrent.
func (t *Transport) Fetch(rawURL, dest string) (*torrent.DownloadResult, error) {
	if torrent.IsTorrentURL(rawURL) {
		return t.fetchTorrent(rawURL, dest)
	}

	u, parseErr := url.Parse(rawURL)
	scheme := ""
	if parseErr == nil {
		scheme = u.Scheme
	}

	switch scheme {
	case "file":
		return nil, t.fetchFile(u, dest)
	case "http", "https":
		return nil, t.fetchHTTP(rawURL, dest)
	case "":
		// Bare local path, consistent with the reference fetch sources.
		return nil, t.fetchLocalPath(rawURL, dest)
	default:
		return nil, magerr.GenericErr(fmt.Sprintf("unsupported fetch URL scheme: %s", scheme))
	}
}

// Close shuts down the torrent fetcher worker if one was ever created.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.worker != nil {
		t.worker.Shutdown()
		t.worker = nil
	}
}

func (t *Transport) fetchTorrent(rawURL, dest string) (*torrent.DownloadResult, error) {
	worker, err := t.torrentWorker()
	if err != nil {
		return nil, err
	}

	req := torrent.DownloadRequest{
		URL:      rawURL,
		Filename: filepath.Base(dest),
		Dest:     dest,
	}
	result, err := worker.Download(req)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *Transport) torrentWorker() (*torrent.Fetcher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.worker == nil {
		worker, err := torrent.NewFetcher(t.fetchRoot)
		if err != nil {
			return nil, err
		}
		t.worker = worker
	}
	return t.worker, nil
}

func (t *Transport) fetchFile(u *url.URL, dest string) error {
	if u.Host != "" && u.Host != "localhost" {
		return magerr.GenericErr(fmt.Sprintf("unsupported file URL host: %s", u.Host))
	}
	return t.fetchLocalPath(u.Path, dest)
}

func (t *Transport) fetchLocalPath(path, dest string) error {
	in, err := os.Open(path)
	if err != nil {
		return magerr.IOErr(fmt.Sprintf("open fetch source %s", path), err)
	}
	defer in.Close()

	return writeWithFeedback(in, dest, "", 0)
}

func (t *Transport) fetchHTTP(rawURL, dest string) error {
	// SendRetry also retries within this single URL attempt, which layers
	// on top of cache.getLocked's own per-URL fallback loop (section 7
	// describes only the latter); kept as a teacher-stack adaptation since
	// httputil.Get has no no-retry-but-backoff-aware mode to fall back to.
	resp, err := httputil.Get(rawURL,
		httputil.SendTimeout(t.cfg.Timeout),
		httputil.SendTransport(t.http),
		httputil.SendAcceptedCodes(accepted2xx...),
		httputil.SendRetry(httputil.RetryBackoff(t.cfg.Backoff.Build())))
	if err != nil {
		return magerr.NetworkErr(fmt.Sprintf("fetch %s", rawURL), err)
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	return writeWithFeedback(resp.Body, dest, rawURL, total)
}

// writeWithFeedback streams r into dest, logging transfer progress every
// 5 seconds when label is non-empty.
func writeWithFeedback(r io.Reader, dest, label string, total int64) error {
	if parent := filepath.Dir(dest); parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return magerr.IOErr("create fetch destination dir", err)
		}
	}

	f, err := os.Create(dest)
	if err != nil {
		return magerr.IOErr("create fetch temp file", err)
	}
	defer f.Close()

	buf := make([]byte, 8192)
	var transferred int64
	lastReport := time.Now()

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return magerr.IOErr("write fetch temp file", err)
			}
			transferred += int64(n)

			if label != "" && time.Since(lastReport) >= 5*time.Second {
				logTransfer(label, transferred, total, false)
				lastReport = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return magerr.IOErr("read fetch source", readErr)
		}
	}

	if label != "" {
		logTransfer(label, transferred, total, true)
	}

	if err := f.Sync(); err != nil {
		return magerr.IOErr("sync fetch temp file", err)
	}
	return nil
}

func logTransfer(label string, transferred, total int64, done bool) {
	status := "downloading"
	if done {
		status = "complete"
	}
	if total > 0 {
		log.Infof("%s %s: %s / %s", status, label, formatBytes(transferred), formatBytes(total))
	} else {
		log.Infof("%s %s: %s", status, label, formatBytes(transferred))
	}
}

func formatBytes(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(n)
	idx := 0
	for value >= 1024 && idx < len(units)-1 {
		value /= 1024
		idx++
	}
	if idx == 0 {
		return fmt.Sprintf("%d %s", n, units[idx])
	}
	return fmt.Sprintf("%.1f %s", value, units[idx])
}

// prioritizeURLs returns urls with torrent-like URLs (magnet: scheme, or a
// path ending .torrent) moved to the front, preserving relative order
// within each group.
func prioritizeURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if torrent.IsTorrentURL(u) {
			out = append(out, u)
		}
	}
	for _, u := range urls {
		if !torrent.IsTorrentURL(u) {
			out = append(out, u)
		}
	}
	return out
}

