// Package retry wraps outbound calls in bounded exponential backoff,
// retrying only errors that look transient.
package retry

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Options tunes a retry sequence. The zero value gets [DefaultOptions].
type Options struct {
	Attempts    int
	Delay       time.Duration
	Factor      float64
	MaxDelay    time.Duration
	IsTransient func(error) bool
}

func DefaultOptions() Options {
	return Options{
		Attempts: 3,
		Delay:    500 * time.Millisecond,
		Factor:   2,
		MaxDelay: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Attempts <= 0 {
		o.Attempts = def.Attempts
	}
	if o.Delay <= 0 {
		o.Delay = def.Delay
	}
	if o.Factor <= 1 {
		o.Factor = def.Factor
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.IsTransient == nil {
		o.IsTransient = IsTransient
	}
	return o
}

// transientMarkers are matched case-insensitively against the stringified
// error to classify it as worth retrying.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"econnreset",
	"fetch failed",
	"no such host",
	"dns",
	"temporarily unavailable",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"502",
	"503",
	"504",
}

// IsTransient is the default transient classifier.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// backoff implements delay * factor^attempt capped at max, as a
// [retry.Backoff]. sethvargo's exponential backoff is hardwired to factor 2,
// so arbitrary factors need a custom one.
func backoff(opts Options) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d := time.Duration(float64(opts.Delay) * math.Pow(opts.Factor, float64(attempt)))
		attempt++
		if d > opts.MaxDelay || d < 0 {
			d = opts.MaxDelay
		}
		return d, false
	})
}

// Do calls fn, retrying transient failures with exponential backoff until it
// succeeds or attempts are exhausted. Non-transient errors are returned
// immediately without waiting. The last error is returned after exhaustion.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var value T
	b := retry.WithMaxRetries(uint64(opts.Attempts-1), backoff(opts))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			if opts.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		value = v
		return nil
	})
	return value, err
}

// Result is one task's outcome from [DoAll].
type Result[T any] struct {
	Value T
	Err   error
}

// DoAll runs every task in parallel under the same retry options and
// collects each one's result or final error, index-aligned with tasks.
func DoAll[T any](ctx context.Context, opts Options, tasks []func(ctx context.Context) (T, error)) []Result[T] {
	results := make([]Result[T], len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i].Value, results[i].Err = Do(ctx, opts, task)
		}()
	}
	wg.Wait()
	return results
}

// DoWithTimeout races the retry sequence against a hard deadline.
func DoWithTimeout[T any](ctx context.Context, timeout time.Duration, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return Do(ctx, opts, fn)
}
