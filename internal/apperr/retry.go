package apperr

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Limits caps retry attempts per status bucket. A limit of n allows n
// retries after the initial attempt.
type Limits struct {
	Default     uint64
	NotFound    uint64
	ServerError uint64
	RateLimited uint64
}

// Delay holds the exponential-backoff parameters of one bucket.
// The delay before retry attempt i is min(Initial << i, Max).
type Delay struct {
	Initial time.Duration
	Max     time.Duration
}

// Delays keys backoff parameters by status bucket.
type Delays struct {
	Default     Delay
	NotFound    Delay
	ServerError Delay
	RateLimited Delay
}

// RetryPolicy is the declarative retry configuration consumed by the
// request clients.
type RetryPolicy struct {
	// NonRetryable lists codes that must never be retried, per category.
	NonRetryable map[Category][]Code
	Limits       Limits
	Delays       Delays
}

// DefaultRetryPolicy is the engine-wide baseline: three retries with a
// 250ms..4s exponential backoff, a single extra look for 404s (the indexer
// may simply not have caught up), and slower retries when rate limited.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		NonRetryable: map[Category][]Code{
			CategoryValidation: {CodeInvalidInput, CodeMissingField},
			CategoryAuth:       {CodeForbidden},
		},
		Limits: Limits{Default: 3, NotFound: 1, ServerError: 3, RateLimited: 2},
		Delays: Delays{
			Default:     Delay{Initial: 250 * time.Millisecond, Max: 4 * time.Second},
			NotFound:    Delay{Initial: time.Second, Max: 4 * time.Second},
			ServerError: Delay{Initial: 500 * time.Millisecond, Max: 8 * time.Second},
			RateLimited: Delay{Initial: 2 * time.Second, Max: 30 * time.Second},
		},
	}
}

type bucket int

const (
	bucketDefault bucket = iota
	bucketNotFound
	bucketServerError
	bucketRateLimited
	bucketNever
)

func (p *RetryPolicy) bucketFor(e *Error) bucket {
	for _, code := range p.NonRetryable[e.Category] {
		if e.Code == code {
			return bucketNever
		}
	}
	switch {
	case e.Code == CodeNotFound:
		return bucketNotFound
	case e.Code == CodeTooManyRequests:
		return bucketRateLimited
	case e.Category == CategoryServer:
		return bucketServerError
	case e.Category == CategoryClient, e.Category == CategoryAuth, e.Category == CategoryValidation:
		// Other 4xx-equivalent failures are never retried.
		return bucketNever
	default:
		return bucketDefault
	}
}

// ShouldRetry decides whether the zero-based retry attempt may proceed for
// the given classified error.
func (p *RetryPolicy) ShouldRetry(e *Error, attempt uint64) bool {
	switch p.bucketFor(e) {
	case bucketNever:
		return false
	case bucketNotFound:
		return attempt < p.Limits.NotFound
	case bucketRateLimited:
		limit := p.Limits.RateLimited
		if limit == 0 {
			limit = p.Limits.ServerError
		}
		return attempt < limit
	case bucketServerError:
		return attempt < p.Limits.ServerError
	default:
		return attempt < p.Limits.Default
	}
}

// RetryDelay computes the backoff before the zero-based retry attempt,
// using the bucket matching the error, else the default bucket.
func (p *RetryPolicy) RetryDelay(e *Error, attempt uint64) time.Duration {
	var d Delay
	switch p.bucketFor(e) {
	case bucketNotFound:
		d = p.Delays.NotFound
	case bucketServerError:
		d = p.Delays.ServerError
	case bucketRateLimited:
		d = p.Delays.RateLimited
	default:
		d = p.Delays.Default
	}
	if d.Initial <= 0 {
		d = p.Delays.Default
	}
	delay := d.Initial << attempt
	if delay > d.Max || delay <= 0 {
		delay = d.Max
	}
	return delay
}

// Do runs op with policy-driven retries. Failures must already be classified
// (op returning a non-*Error failure is terminal). The retry loop itself is
// driven by go-retry; the policy supplies the stop decision and the
// per-bucket delay.
func Do(ctx context.Context, p *RetryPolicy, op func(ctx context.Context) error) error {
	var attempt uint64
	var last *Error

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		if last == nil {
			return 0, true
		}
		delay := p.RetryDelay(last, attempt)
		attempt++
		return delay, false
	})

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		ae, ok := As(err)
		if !ok {
			return err
		}
		if !p.ShouldRetry(ae, attempt) {
			return err
		}
		last = ae
		return retry.RetryableError(err)
	})
}
