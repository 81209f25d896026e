package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartSpanDoesNotPanicWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "build_single")
	require.NotNil(t, span)

	SetSpanAttributes(ctx, AttrPackageHash.String("abc123"))
	RecordSpanError(ctx, errors.New("boom"))
	SetSpanOK(ctx)
	span.End()
}

func TestNewHTTPClientIsTraced(t *testing.T) {
	client := NewHTTPClient()
	require.NotNil(t, client.Transport)
}
