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

// Package httputil provides a small functional-options HTTP client used
// by the fetch transport multiplexer, with retry/backoff on transport
// errors and configurable retryable status codes.
package httputil

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

// ExponentialBackOffConfig configures a backoff.ExponentialBackOff via YAML,
// matching the shape embedded in transport configs throughout the store.
type ExponentialBackOffConfig struct {
	InitialInterval     time.Duration `yaml:"initial_interval"`
	RandomizationFactor float64       `yaml:"randomization_factor"`
	Multiplier          float64       `yaml:"multiplier"`
	MaxInterval         time.Duration `yaml:"max_interval"`
	MaxElapsedTime      time.Duration `yaml:"max_elapsed_time"`
}

func (c ExponentialBackOffConfig) applyDefaults() ExponentialBackOffConfig {
	if c.InitialInterval == 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.RandomizationFactor == 0 {
		c.RandomizationFactor = 0.5
	}
	if c.Multiplier == 0 {
		c.Multiplier = 1.5
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 60 * time.Second
	}
	if c.MaxElapsedTime == 0 {
		c.MaxElapsedTime = 15 * time.Minute
	}
	return c
}

// Build constructs the backoff.BackOff described by c.
func (c ExponentialBackOffConfig) Build() backoff.BackOff {
	c = c.applyDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.RandomizationFactor = c.RandomizationFactor
	b.Multiplier = c.Multiplier
	b.MaxInterval = c.MaxInterval
	b.MaxElapsedTime = c.MaxElapsedTime
	return b
}

// StatusError is returned when a response's status code was not accepted.
type StatusError struct {
	Status int
	Header http.Header
	URL    string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// IsNotFound reports whether err is a StatusError carrying a 404.
func IsNotFound(err error) bool {
	se, ok := err.(StatusError)
	return ok && se.Status == http.StatusNotFound
}

type sendOptions struct {
	timeout       time.Duration
	transport     http.RoundTripper
	acceptedCodes map[int]bool
	retry         *retryOptions
}

type retryOptions struct {
	backoff    backoff.BackOff
	extraCodes map[int]bool
}

// SendOption configures a Get call.
type SendOption func(*sendOptions)

func SendTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = d }
}

func SendTransport(t http.RoundTripper) SendOption {
	return func(o *sendOptions) { o.transport = t }
}

func SendAcceptedCodes(codes ...int) SendOption {
	return func(o *sendOptions) {
		for _, c := range codes {
			o.acceptedCodes[c] = true
		}
	}
}

func SendRetry(retryOpts ...RetryOption) SendOption {
	return func(o *sendOptions) {
		r := &retryOptions{extraCodes: make(map[int]bool)}
		for _, ro := range retryOpts {
			ro(r)
		}
		o.retry = r
	}
}

// RetryOption configures the retry behavior passed to SendRetry.
type RetryOption func(*retryOptions)

// RetryBackoff sets the backoff.BackOff strategy used between retries.
func RetryBackoff(b backoff.BackOff) RetryOption {
	return func(r *retryOptions) { r.backoff = b }
}

// RetryCodes adds extra status codes (beyond the default 5xx) that should
// trigger a retry.
func RetryCodes(codes ...int) RetryOption {
	return func(r *retryOptions) {
		for _, c := range codes {
			r.extraCodes[c] = true
		}
	}
}

func newSendOptions(opts []SendOption) *sendOptions {
	o := &sendOptions{
		timeout:       180 * time.Second,
		transport:     http.DefaultTransport,
		acceptedCodes: map[int]bool{http.StatusOK: true},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *sendOptions) isRetryable(status int) bool {
	if status >= 500 {
		return true
	}
	return o.retry != nil && o.retry.extraCodes[status]
}

// retryWithData runs op until it succeeds, returns a *backoff.PermanentError,
// or b is exhausted. cenkalti/backoff v2 predates the generic
// RetryNotifyWithData helper added in v4, so this small loop fills that gap.
func retryWithData(op func() (*http.Response, error), b backoff.BackOff) (*http.Response, error) {
	b.Reset()
	for {
		resp, err := op()
		if err == nil {
			return resp, nil
		}
		if perm, ok := err.(*backoff.PermanentError); ok {
			return nil, perm.Err
		}
		d := b.NextBackOff()
		if d == backoff.Stop {
			return nil, err
		}
		time.Sleep(d)
	}
}

// Get issues an HTTP GET, retrying per SendRetry until a status in
// SendAcceptedCodes is observed or the backoff is exhausted.
func Get(url string, opts ...SendOption) (*http.Response, error) {
	o := newSendOptions(opts)
	client := &http.Client{Timeout: o.timeout, Transport: o.transport}

	do := func() (*http.Response, error) {
		resp, err := client.Get(url)
		if err != nil {
			return nil, err
		}
		if o.acceptedCodes[resp.StatusCode] {
			return resp, nil
		}
		se := StatusError{Status: resp.StatusCode, Header: resp.Header, URL: url}
		resp.Body.Close()
		return nil, se
	}

	if o.retry == nil {
		return do()
	}

	retryable := func() (*http.Response, error) {
		resp, err := do()
		if err == nil {
			return resp, nil
		}
		if se, ok := err.(StatusError); ok && !o.isRetryable(se.Status) {
			return nil, backoff.Permanent(se)
		}
		return nil, err
	}
	return retryWithData(retryable, o.retry.backoff)
}

// PollAccepted repeatedly GETs url until a non-202 response is observed or
// b is exhausted, for polling an asynchronous operation's completion.
func PollAccepted(url string, b backoff.BackOff, opts ...SendOption) (*http.Response, error) {
	o := newSendOptions(opts)
	client := &http.Client{Timeout: o.timeout, Transport: o.transport}

	op := func() (*http.Response, error) {
		resp, err := client.Get(url)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusAccepted {
			resp.Body.Close()
			return nil, fmt.Errorf("still processing")
		}
		if o.acceptedCodes[resp.StatusCode] {
			return resp, nil
		}
		se := StatusError{Status: resp.StatusCode, Header: resp.Header, URL: url}
		resp.Body.Close()
		return nil, backoff.Permanent(se)
	}

	return retryWithData(op, b)
}
