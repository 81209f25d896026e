package log

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfigureLoggerInvalidLevel(t *testing.T) {
	err := ConfigureLogger(Config{Level: "not-a-level"})
	require.Error(t, err)
}

func TestSetGlobalLoggerCapturesOutput(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetGlobalLogger(zap.New(core).Sugar())
	defer SetGlobalLogger(zap.NewNop().Sugar())

	With("sha256", "deadbeef").Infof("fetch cache hit")

	require.Equal(t, 1, logs.Len())
	require.Contains(t, logs.All()[0].Message, "fetch cache hit")
}
