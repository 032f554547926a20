// Package waiter implements the generic condition-polling primitive
// behind the cluster wrappers' readiness and deletion waits, including
// canary readiness. The rollout observer and the settlement monitor run
// their own poll loops and do not use it.
package waiter

import (
	"context"
	"errors"
	"time"

	"github.com/opsani/kubecore/pkg/errs"
)

// Check is evaluated on each poll. It returns (true, nil) when the
// condition is met, (false, nil) to keep polling, and a non-nil error
// either to abort immediately or, for ClusterAPIError, to be logged and
// ignored depending on FailOnAPIError.
type Check func(ctx context.Context) (bool, error)

// Options configures a single Wait call.
type Options struct {
	// Name identifies the condition being waited on, for error messages.
	Name string
	// Timeout bounds the total wall-clock time spent waiting. Zero
	// means wait indefinitely (until ctx is done).
	Timeout time.Duration
	// Interval is the delay between polls. Defaults to one second.
	Interval time.Duration
	// FailOnAPIError controls whether a *errs.ClusterAPIError returned
	// by Check aborts the wait (true) or is logged by the caller and
	// the poll continues (false).
	FailOnAPIError bool
}

// OnAPIError, when set, is invoked for every *errs.ClusterAPIError
// observed while FailOnAPIError is false, so callers can log it without
// the waiter taking a logging dependency.
type OnAPIError func(err error)

// Wait polls check at the configured interval until it reports success,
// the context is cancelled, or the timeout elapses. It is cooperative:
// it never busy-loops, sleeping the full interval between checks, and
// it returns promptly when ctx is cancelled.
func Wait(ctx context.Context, opts Options, check Check, onAPIError OnAPIError) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check1 := func() (bool, error) {
		ok, err := check(ctx)
		if err != nil {
			var apiErr *errs.ClusterAPIError
			if errors.As(err, &apiErr) {
				if onAPIError != nil {
					onAPIError(err)
				}
				if opts.FailOnAPIError {
					return false, err
				}
				return false, nil
			}
			return false, err
		}
		return ok, nil
	}

	// Check immediately before entering the poll loop so a
	// condition that is already satisfied doesn't pay the first
	// interval's latency.
	if ok, err := check1(); err != nil {
		return err
	} else if ok {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errs.NewTimeout(opts.Name)
		case <-ticker.C:
			ok, err := check1()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}
