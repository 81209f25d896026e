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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/magpkg/magpkg/magerr"
)

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func touchPath(path string) error {
	if !pathExists(path) {
		return nil
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return magerr.IOErr(fmt.Sprintf("touch %s", path), err)
	}
	return nil
}

// clearDirectory ensures path exists and is empty, creating it if absent.
func clearDirectory(path string) error {
	if !pathExists(path) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return magerr.IOErr(fmt.Sprintf("create %s", path), err)
		}
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return magerr.IOErr(fmt.Sprintf("read %s", path), err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(path, entry.Name())); err != nil {
			return magerr.IOErr(fmt.Sprintf("clear %s", path), err)
		}
	}
	return nil
}

// isMetadataExpired reports whether info's mtime is older than expiry
// relative to clk.Now(), per the cleanup sweeper's age-based policy.
func isMetadataExpired(clk clock.Clock, info os.FileInfo, expiry time.Duration) bool {
	return clk.Now().Sub(info.ModTime()) > expiry
}

// isPathExpired reports whether path's mtime is older than expiry. A
// missing path is never considered expired (there is nothing to remove).
func isPathExpired(clk clock.Clock, path string, expiry time.Duration) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, magerr.IOErr(fmt.Sprintf("stat %s", path), err)
	}
	return isMetadataExpired(clk, info, expiry), nil
}

// removePathIfExpired removes path (file or directory) if it is expired,
// reporting whether it did so.
func removePathIfExpired(clk clock.Clock, path string, expiry time.Duration) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, magerr.IOErr(fmt.Sprintf("stat %s", path), err)
	}
	if !isMetadataExpired(clk, info, expiry) {
		return false, nil
	}

	if info.IsDir() {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return false, magerr.IOErr(fmt.Sprintf("remove %s", path), err)
	}
	return true, nil
}
