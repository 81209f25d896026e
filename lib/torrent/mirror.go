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
	"bytes"
	"crypto/sha1"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/jackpal/bencode-go"

	"github.com/magpkg/magpkg/magerr"
)

const pieceLength = 4 * 1024 * 1024

// MetaFileName is the fixed name of a mirror entry's serialized torrent.
const MetaFileName = "resource.torrent"

// Info is the metadata produced when a mirror entry is created or
// rediscovered: the directory it lives under is keyed by InfoHash.
type Info struct {
	InfoHash     string
	RelativePath string
	TorrentBytes []byte
}

type infoDict struct {
	Name        string `bencode:"name"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Length      int64  `bencode:"length"`
}

type metainfoFile struct {
	Info infoDict `bencode:"info"`
}

// CreateForFile builds a single-file v1 torrent for the file at path, with
// the given display name and a fixed 4 MiB piece length.
func CreateForFile(path, name string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, magerr.IOErr("open file for torrent creation", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Info{}, magerr.IOErr("stat file for torrent creation", err)
	}

	var pieces bytes.Buffer
	buf := make([]byte, pieceLength)
	for {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			sum := sha1.Sum(buf[:n])
			pieces.Write(sum[:])
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return Info{}, magerr.IOErr("read file for torrent creation", readErr)
		}
	}

	info := infoDict{
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      pieces.String(),
		Length:      stat.Size(),
	}

	infoHash, err := hashInfoDict(info)
	if err != nil {
		return Info{}, err
	}

	var out bytes.Buffer
	if err := bencode.Marshal(&out, metainfoFile{Info: info}); err != nil {
		return Info{}, magerr.GenericErr(fmt.Sprintf("serialize torrent metadata: %s", err))
	}

	return Info{
		InfoHash:     infoHash,
		RelativePath: name,
		TorrentBytes: out.Bytes(),
	}, nil
}

func hashInfoDict(info infoDict) (string, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, info); err != nil {
		return "", magerr.GenericErr(fmt.Sprintf("serialize torrent info dict: %s", err))
	}
	sum := sha1.Sum(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// LoadSeedInfo parses a resource.torrent file and returns the info hash and
// the relative path of its single file entry.
func LoadSeedInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, magerr.IOErr("open torrent metadata", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return Info{}, magerr.IOErr("read torrent metadata", err)
	}

	var mi metainfoFile
	if err := bencode.Unmarshal(bytes.NewReader(raw), &mi); err != nil {
		return Info{}, magerr.GenericErr(fmt.Sprintf("parse torrent metadata %s: %s", path, err))
	}

	infoHash, err := hashInfoDict(mi.Info)
	if err != nil {
		return Info{}, err
	}

	return Info{
		InfoHash:     infoHash,
		RelativePath: mi.Info.Name,
		TorrentBytes: raw,
	}, nil
}

// InfoHashFromURL extracts a v1 info hash from a magnet URI, if url is one.
// Returns ("", false, nil) for any URL that is not a magnet link,
// including .torrent URLs.
func InfoHashFromURL(rawURL string) (string, bool, error) {
	trimmed := strings.TrimSpace(rawURL)
	if !strings.HasPrefix(trimmed, "magnet:") {
		return "", false, nil
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", false, magerr.GenericErr(fmt.Sprintf("parse magnet link %s: %s", trimmed, err))
	}

	for _, xt := range u.Query()["xt"] {
		const prefix = "urn:btih:"
		if !strings.HasPrefix(xt, prefix) {
			continue
		}
		hash := xt[len(prefix):]
		switch len(hash) {
		case 40:
			return strings.ToLower(hash), true, nil
		case 32:
			decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(hash))
			if err != nil {
				return "", false, magerr.GenericErr(fmt.Sprintf("decode base32 info hash in %s: %s", trimmed, err))
			}
			return hex.EncodeToString(decoded), true, nil
		}
	}

	return "", false, magerr.GenericErr(fmt.Sprintf("magnet link %s did not contain a supported info hash", trimmed))
}

// IsTorrentURL reports whether url should be routed to the torrent fetcher:
// a magnet link or a URL whose path ends in .torrent.
func IsTorrentURL(rawURL string) bool {
	trimmed := strings.TrimSpace(rawURL)
	if strings.HasPrefix(trimmed, "magnet:") {
		return true
	}
	if u, err := url.Parse(trimmed); err == nil {
		if u.Scheme == "magnet" {
			return true
		}
		if strings.HasSuffix(strings.ToLower(u.Path), ".torrent") {
			return true
		}
	}
	return false
}
