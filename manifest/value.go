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

// Package manifest hides the manifest language evaluator behind a narrow
// interface so the graph builder never depends on a specific evaluator.
// A real implementation would wrap a Jsonnet evaluator; the literal.go
// implementation in this package is a concrete, in-memory stand-in used
// by the CLI and by tests until that evaluator is wired in.
package manifest

// Kind discriminates the shape of a Value.
type Kind int

const (
	Null Kind = iota
	Bool
	Num
	Str
	Arr
	Obj
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Num:
		return "number"
	case Str:
		return "string"
	case Arr:
		return "array"
	case Obj:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a single node of an evaluated manifest tree. Arr and Obj
// children are accessed lazily: evaluating them can itself fail with a
// diagnostic error, mirroring a lazily-evaluated manifest language.
type Value interface {
	Kind() Kind

	// Bool, Num, Str return the scalar payload of a Bool/Num/Str value.
	// Calling the wrong accessor is a programming error in the caller
	// (the graph builder always checks Kind first) and returns an error
	// rather than panicking.
	Bool() (bool, error)
	Num() (float64, error)
	Str() (string, error)

	// Len and Index operate on Arr values.
	Len() (int, error)
	Index(i int) (Value, error)

	// Field looks up an object field. ok is false when the field is
	// absent (as opposed to present with a null value).
	Field(name string) (v Value, ok bool, err error)

	// Identity returns a value stable for the lifetime of the underlying
	// evaluated node, used by the graph builder's identity cache and
	// cycle-detection visiting set. Two Values obtained by re-reading the
	// same manifest object (e.g. the same dependency referenced from two
	// places) must return the same Identity; unrelated Values need not be
	// distinct, but in practice are.
	Identity() uintptr
}
