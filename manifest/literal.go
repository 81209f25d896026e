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
package manifest

import (
	"fmt"
	"reflect"
)

// literal is a Value backed by a plain decoded Go value (the result of
// json.Unmarshal or yaml.Unmarshal into interface{}). It never fails
// lazily since the whole tree is already in memory, but still returns
// errors rather than panicking so callers can treat it identically to a
// real evaluator-backed Value.
type literal struct {
	v interface{}
}

// FromDecoded wraps a decoded JSON/YAML value (as produced by
// json.Unmarshal(..., &v) into an interface{}) as a manifest Value.
func FromDecoded(v interface{}) Value {
	return literal{v: v}
}

func (l literal) Kind() Kind {
	switch l.v.(type) {
	case nil:
		return Null
	case bool:
		return Bool
	case float64, int:
		return Num
	case string:
		return Str
	case []interface{}:
		return Arr
	case map[string]interface{}:
		return Obj
	default:
		return Null
	}
}

func (l literal) Bool() (bool, error) {
	b, ok := l.v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %s", l.Kind())
	}
	return b, nil
}

func (l literal) Num() (float64, error) {
	switch n := l.v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %s", l.Kind())
	}
}

func (l literal) Str() (string, error) {
	s, ok := l.v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %s", l.Kind())
	}
	return s, nil
}

func (l literal) Len() (int, error) {
	arr, ok := l.v.([]interface{})
	if !ok {
		return 0, fmt.Errorf("expected array, got %s", l.Kind())
	}
	return len(arr), nil
}

func (l literal) Index(i int) (Value, error) {
	arr, ok := l.v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array, got %s", l.Kind())
	}
	if i < 0 || i >= len(arr) {
		return nil, fmt.Errorf("index %d out of range (len %d)", i, len(arr))
	}
	return literal{v: arr[i]}, nil
}

func (l literal) Field(name string) (Value, bool, error) {
	obj, ok := l.v.(map[string]interface{})
	if !ok {
		return nil, false, fmt.Errorf("expected object, got %s", l.Kind())
	}
	v, ok := obj[name]
	if !ok {
		return nil, false, nil
	}
	return literal{v: v}, true, nil
}

// Identity returns the address of the underlying reference-typed value
// (map or slice) so that re-reading the same manifest node yields the same
// identity. Scalars have no useful notion of shared identity; they return
// 0, which is safe because the graph builder only consults Identity for
// Obj-kind values.
func (l literal) Identity() uintptr {
	switch v := l.v.(type) {
	case map[string]interface{}:
		return reflect.ValueOf(v).Pointer()
	case []interface{}:
		return reflect.ValueOf(v).Pointer()
	default:
		return 0
	}
}
