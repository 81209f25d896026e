package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) Value {
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return FromDecoded(v)
}

func TestLiteralScalarKinds(t *testing.T) {
	require.Equal(t, Str, decode(t, `"hi"`).Kind())
	require.Equal(t, Num, decode(t, `3`).Kind())
	require.Equal(t, Bool, decode(t, `true`).Kind())
	require.Equal(t, Null, decode(t, `null`).Kind())
	require.Equal(t, Arr, decode(t, `[1,2]`).Kind())
	require.Equal(t, Obj, decode(t, `{"a":1}`).Kind())
}

func TestLiteralFieldMissingVsNull(t *testing.T) {
	v := decode(t, `{"name": null}`)

	_, ok, err := v.Field("missing")
	require.NoError(t, err)
	require.False(t, ok)

	nameVal, ok, err := v.Field("name")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Null, nameVal.Kind())
}

func TestLiteralArrIndex(t *testing.T) {
	v := decode(t, `["a","b","c"]`)
	n, err := v.Len()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	item, err := v.Index(1)
	require.NoError(t, err)
	s, err := item.Str()
	require.NoError(t, err)
	require.Equal(t, "b", s)

	_, err = v.Index(10)
	require.Error(t, err)
}

func TestLiteralIdentityStableAcrossRereads(t *testing.T) {
	v := decode(t, `{"dep": {"name": "b"}}`)

	dep1, _, err := v.Field("dep")
	require.NoError(t, err)
	dep2, _, err := v.Field("dep")
	require.NoError(t, err)

	require.Equal(t, dep1.Identity(), dep2.Identity())
	require.NotZero(t, dep1.Identity())
}

func TestLiteralWrongAccessor(t *testing.T) {
	v := decode(t, `"hi"`)
	_, err := v.Num()
	require.Error(t, err)
}
