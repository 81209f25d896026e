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

// Package torrent implements the torrent fetcher worker: a long-lived actor
// owning a single torrent session, and the torrent mirror that lets the
// store reseed what it has fetched.
package torrent

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/gofrs/flock"

	"github.com/magpkg/magpkg/magerr"
	"github.com/magpkg/magpkg/utils/log"
)

const (
	sessionPrefix    = ".torrent-session-"
	fetcherLockName  = ".torrent-fetcher.lock"
	workMarker       = ".torrent-work-"
	progressInterval = 5 * time.Second
)

// DownloadRequest asks the fetcher worker to retrieve a single-file torrent
// identified by url and copy it to dest. The worker does not check the
// declared sha256; the caller verifies the copied file.
type DownloadRequest struct {
	URL      string
	SHA256   string
	Filename string
	Dest     string
}

// DownloadResult carries the torrent metadata the mirror needs to seed the
// file once it has been copied into the fetch cache.
type DownloadResult struct {
	RelativePath string
	InfoHash     string
	TorrentBytes []byte
}

type reply struct {
	result DownloadResult
	err    error
}

type request struct {
	req   DownloadRequest
	reply chan reply
}

// Fetcher is the torrent fetcher worker of the store coordinator: a single
// torrent session, created lazily and shared by every torrent URL the
// coordinator encounters, driven by one goroutine that serves requests one
// at a time off an unbuffered channel. Requests are not queued: a caller
// blocks in Download until the worker takes its request.
type Fetcher struct {
	sessionDir string
	lock       *flock.Flock
	client     *torrent.Client
	reqc       chan request
	done       chan struct{}
	workCtr    uint64
}

// NewFetcher allocates a fresh, exclusively-locked session directory under
// fetchRoot and starts the worker goroutine. Session startup is expensive
// and concurrent sessions fight over ports and DHT state, so callers should
// create at most one Fetcher per store instance and reuse it lazily.
func NewFetcher(fetchRoot string) (*Fetcher, error) {
	sessionDir := filepath.Join(fetchRoot, fmt.Sprintf("%s%08x", sessionPrefix, rand.Uint32()))
	downloads := filepath.Join(sessionDir, "downloads")
	if err := os.MkdirAll(downloads, 0755); err != nil {
		return nil, magerr.IOErr("create torrent session dir", err)
	}

	lock := flock.New(filepath.Join(sessionDir, fetcherLockName))
	locked, err := lock.TryLock()
	if err != nil {
		os.RemoveAll(sessionDir)
		return nil, magerr.IOErr("lock torrent session", err)
	}
	if !locked {
		os.RemoveAll(sessionDir)
		return nil, magerr.GenericErr("torrent session lock unexpectedly contended on a freshly allocated directory")
	}

	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = downloads
	client, err := torrent.NewClient(cfg)
	if err != nil {
		lock.Unlock()
		os.RemoveAll(sessionDir)
		return nil, magerr.NetworkErr("create torrent client", err)
	}

	f := &Fetcher{
		sessionDir: sessionDir,
		lock:       lock,
		client:     client,
		reqc:       make(chan request),
		done:       make(chan struct{}),
	}
	go f.run()
	return f, nil
}

// Download submits req to the worker and blocks for its one-shot reply.
func (f *Fetcher) Download(req DownloadRequest) (DownloadResult, error) {
	r := request{req: req, reply: make(chan reply, 1)}
	f.reqc <- r
	rep := <-r.reply
	return rep.result, rep.err
}

// Shutdown drains the session and terminates the worker. Idempotent: a
// second call observes f.done already closed and returns immediately.
func (f *Fetcher) Shutdown() {
	select {
	case <-f.done:
		return
	default:
	}
	close(f.reqc)
	<-f.done
	f.client.Close()
	f.lock.Unlock()
	os.RemoveAll(f.sessionDir)
}

func (f *Fetcher) run() {
	defer close(f.done)
	for r := range f.reqc {
		result, err := f.handleDownload(r.req)
		r.reply <- reply{result: result, err: err}
	}
}

func (f *Fetcher) handleDownload(req DownloadRequest) (DownloadResult, error) {
	ctr := atomic.AddUint64(&f.workCtr, 1)
	workDir := filepath.Join(f.sessionDir, "downloads", fmt.Sprintf("%s%s%d", req.SHA256, workMarker, ctr))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return DownloadResult{}, magerr.IOErr("create torrent work dir", err)
	}

	t, err := f.addTorrent(req.URL)
	if err != nil {
		os.RemoveAll(workDir)
		return DownloadResult{}, err
	}

	<-t.GotInfo()

	stopProgress := f.logProgress(req.SHA256, t)
	t.DownloadAll()
	f.awaitCompletion(t)
	stopProgress()

	files := t.Files()
	if len(files) != 1 {
		t.Drop()
		os.RemoveAll(workDir)
		return DownloadResult{}, magerr.GenericErr(fmt.Sprintf(
			"torrent for %s does not describe exactly one file", req.Filename))
	}

	file := files[0]
	if err := copyFile(filepath.Join(f.sessionDir, "downloads", file.Path()), req.Dest); err != nil {
		t.Drop()
		os.RemoveAll(workDir)
		return DownloadResult{}, err
	}

	var buf bytes.Buffer
	mi := t.Metainfo()
	if err := mi.Write(&buf); err != nil {
		t.Drop()
		os.RemoveAll(workDir)
		return DownloadResult{}, magerr.IOErr("serialize torrent metadata", err)
	}

	result := DownloadResult{
		RelativePath: file.Path(),
		InfoHash:     t.InfoHash().HexString(),
		TorrentBytes: buf.Bytes(),
	}

	t.Drop()
	os.RemoveAll(workDir)
	return result, nil
}

func (f *Fetcher) addTorrent(url string) (*torrent.Torrent, error) {
	if strings.HasPrefix(strings.TrimSpace(url), "magnet:") {
		t, err := f.client.AddMagnet(url)
		if err != nil {
			return nil, magerr.NetworkErr("add magnet", err)
		}
		return t, nil
	}

	resp, err := http.Get(url)
	if err != nil {
		return nil, magerr.NetworkErr(fmt.Sprintf("fetch torrent file %s", url), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, magerr.NetworkErr(fmt.Sprintf("fetch torrent file %s: status %d", url, resp.StatusCode), nil)
	}

	mi, err := metainfo.Load(resp.Body)
	if err != nil {
		return nil, magerr.GenericErr(fmt.Sprintf("parse torrent file from %s: %s", url, err))
	}
	t, err := f.client.AddTorrent(mi)
	if err != nil {
		return nil, magerr.NetworkErr("add torrent", err)
	}
	return t, nil
}

// awaitCompletion blocks until every piece of t has been downloaded.
func (f *Fetcher) awaitCompletion(t *torrent.Torrent) {
	for t.BytesCompleted() < t.Length() {
		time.Sleep(100 * time.Millisecond)
	}
}

// logProgress spawns a goroutine that logs t's download progress every
// 5 seconds until the returned function is called.
func (f *Fetcher) logProgress(sha256 string, t *torrent.Torrent) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.With("sha256", sha256).Infof(
					"torrent progress: %d/%d bytes", t.BytesCompleted(), t.Length())
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return magerr.IOErr("open torrent output", err)
	}
	defer in.Close()

	if parent := filepath.Dir(dest); parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return magerr.IOErr("create fetch destination dir", err)
		}
	}

	out, err := os.Create(dest)
	if err != nil {
		return magerr.IOErr("create fetch destination", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return magerr.IOErr("copy torrent output", err)
	}
	return out.Sync()
}
