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
package graph

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/magpkg/magpkg/manifest"
	mockmanifest "github.com/magpkg/magpkg/mocks/manifest"
)

// TestBuildFromValuePropagatesLazyFieldEvalError exercises a failure mode
// the in-memory literal.Value can never produce (it never fails lazily,
// since the whole tree is already decoded): a manifest.Value whose "name"
// field only fails once actually evaluated, as a real Jsonnet-backed
// evaluator's Value would.
func TestBuildFromValuePropagatesLazyFieldEvalError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	v := mockmanifest.NewMockValue(ctrl)
	v.EXPECT().Kind().Return(manifest.Obj).AnyTimes()
	v.EXPECT().Identity().Return(uintptr(1)).AnyTimes()
	v.EXPECT().Field("name").Return(nil, false, errors.New("manifest evaluation failed: undefined variable"))

	_, err := NewBuilder().BuildFromValue(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "name")
}

// TestBuildFromValueMemoizesByIdentity proves the builder's by-object cache
// short-circuits re-evaluation of a Value it has already visited, which
// only matters when Identity is stable but Field calls are not idempotent
// no-ops (the literal.Value backing ordinary tests can't distinguish a
// memoized return from a genuine second evaluation).
func TestBuildFromValueMemoizesByIdentity(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	leaf := mockmanifest.NewMockValue(ctrl)
	leaf.EXPECT().Kind().Return(manifest.Obj).AnyTimes()
	leaf.EXPECT().Identity().Return(uintptr(42)).AnyTimes()
	leaf.EXPECT().Field("name").Return(nil, false, nil).Times(1)
	leaf.EXPECT().Field("runDeps").Return(nil, false, nil).Times(1)
	leaf.EXPECT().Field("buildDeps").Return(nil, false, nil).Times(1)
	leaf.EXPECT().Field("build").Return(nil, false, nil).Times(1)
	leaf.EXPECT().Field("fetch").Return(nil, false, nil).Times(1)

	b := NewBuilder()
	first, err := b.BuildFromValue(leaf)
	require.NoError(t, err)

	// A second BuildFromValue call against the identical Value must not
	// re-invoke any Field accessor (enforced by the .Times(1) expectations
	// above); gomock.Controller.Finish fails the test otherwise.
	second, err := b.BuildFromValue(leaf)
	require.NoError(t, err)
	require.Same(t, first[0], second[0])
}
