package magerr

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	require.Equal(t, "DependencyCycle", Cycle.String())
	require.Equal(t, "Unknown", Kind(99).String())
}

func TestIs(t *testing.T) {
	err := CycleErr("a -> b -> a")
	require.True(t, Is(err, Cycle))
	require.False(t, Is(err, Eval))
	require.False(t, Is(errors.New("plain"), Cycle))
}

func TestUnwrap(t *testing.T) {
	err := IOErr("read fetch entry", io.ErrUnexpectedEOF)
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestCommandFailedMessage(t *testing.T) {
	err := CommandFailedErr("build hello-abc123", 42)
	require.Contains(t, err.Error(), "exit status 42")
}
