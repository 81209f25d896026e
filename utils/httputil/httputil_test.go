package httputil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/require"
)

func sequenceServer(t *testing.T, statuses []int) *httptest.Server {
	var i int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(atomic.AddInt32(&i, 1)) - 1
		require.Less(t, idx, len(statuses), "more requests than expected")
		w.WriteHeader(statuses[idx])
	}))
}

func constantBackoff(maxRetries uint64) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), maxRetries)
}

func TestGetAcceptedCode(t *testing.T) {
	srv := sequenceServer(t, []int{499})
	defer srv.Close()

	_, err := Get(srv.URL, SendAcceptedCodes(200, 499))
	require.NoError(t, err)
}

func TestGetUnacceptedCodeNoRetry(t *testing.T) {
	srv := sequenceServer(t, []int{503})
	defer srv.Close()

	_, err := Get(srv.URL)
	require.Error(t, err)
	require.Equal(t, 503, err.(StatusError).Status)
}

func TestGetRetryEventualSuccess(t *testing.T) {
	srv := sequenceServer(t, []int{503, 502, 200})
	defer srv.Close()

	_, err := Get(srv.URL, SendRetry(RetryBackoff(constantBackoff(4))))
	require.NoError(t, err)
}

func TestGetRetryExhausted(t *testing.T) {
	srv := sequenceServer(t, []int{503, 503, 503})
	defer srv.Close()

	_, err := Get(srv.URL, SendRetry(RetryBackoff(constantBackoff(2))))
	require.Error(t, err)
	require.Equal(t, 503, err.(StatusError).Status)
}

func TestGetRetryWithExtraCodes(t *testing.T) {
	srv := sequenceServer(t, []int{400, 503, 404})
	defer srv.Close()

	_, err := Get(srv.URL, SendRetry(RetryBackoff(constantBackoff(2)), RetryCodes(400, 404)))
	require.Error(t, err)
	require.Equal(t, 404, err.(StatusError).Status)
}

func TestIsNotFound(t *testing.T) {
	require.True(t, IsNotFound(StatusError{Status: 404}))
	require.False(t, IsNotFound(StatusError{Status: 500}))
}

func TestPollAcceptedEventualSuccess(t *testing.T) {
	srv := sequenceServer(t, []int{202, 202, 200})
	defer srv.Close()

	_, err := PollAccepted(srv.URL, constantBackoff(4))
	require.NoError(t, err)
}

func TestPollAcceptedStatusError(t *testing.T) {
	srv := sequenceServer(t, []int{202, 404})
	defer srv.Close()

	_, err := PollAccepted(srv.URL, constantBackoff(4))
	require.Error(t, err)
	require.Equal(t, 404, err.(StatusError).Status)
}

func TestExponentialBackOffConfigBuild(t *testing.T) {
	cfg := ExponentialBackOffConfig{}
	b := cfg.Build()
	require.NotZero(t, b.NextBackOff())
}
