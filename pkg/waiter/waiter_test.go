package waiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsani/kubecore/pkg/errs"
)

func TestWaitSucceedsImmediately(t *testing.T) {
	err := Wait(context.Background(), Options{Name: "immediate"}, func(ctx context.Context) (bool, error) {
		return true, nil
	}, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestWaitSucceedsAfterPolls(t *testing.T) {
	count := 0
	err := Wait(context.Background(), Options{Name: "eventual", Interval: 5 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		count++
		return count >= 3, nil
	}, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if count < 3 {
		t.Errorf("expected at least 3 checks, got %d", count)
	}
}

func TestWaitTimesOut(t *testing.T) {
	err := Wait(context.Background(), Options{Name: "never", Timeout: 20 * time.Millisecond, Interval: 5 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		return false, nil
	}, nil)
	var timeout *errs.Timeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected *errs.Timeout, got %v", err)
	}
}

func TestWaitPropagatesAPIErrorWhenFailOnAPIError(t *testing.T) {
	apiErr := errs.NewClusterAPIError("refresh", errors.New("boom"))
	err := Wait(context.Background(), Options{Name: "api-error", FailOnAPIError: true}, func(ctx context.Context) (bool, error) {
		return false, apiErr
	}, nil)
	if !errors.Is(err, apiErr) && err != apiErr {
		var got *errs.ClusterAPIError
		if !errors.As(err, &got) {
			t.Fatalf("expected ClusterAPIError, got %v", err)
		}
	}
}

func TestWaitIgnoresAPIErrorWhenNotFailOnAPIError(t *testing.T) {
	var seen int
	onErr := func(err error) { seen++ }
	apiErr := errs.NewClusterAPIError("refresh", errors.New("boom"))
	calls := 0
	err := Wait(context.Background(), Options{Name: "api-error-ignored", Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, apiErr
		}
		return true, nil
	}, onErr)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if seen == 0 {
		t.Errorf("expected onAPIError to be invoked")
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, Options{Name: "cancelled", Interval: 5 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		return false, nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitNonAPIErrorAbortsImmediately(t *testing.T) {
	boom := errors.New("boom")
	err := Wait(context.Background(), Options{Name: "fatal"}, func(ctx context.Context) (bool, error) {
		return false, boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}
}
