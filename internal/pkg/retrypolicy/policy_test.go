package retrypolicy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_StopsOnSuccess(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts=%d calls=%d, want 1/1", attempts, calls)
	}
}

func TestDo_RetriesRetryableUntilCeiling(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		return Retryable(errors.New("429"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts=%d calls=%d, want 3/3", attempts, calls)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		return errors.New("400 bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts=%d calls=%d, want 1/1", attempts, calls)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fastPolicy(3).Do(ctx, func() error { return Retryable(errors.New("x")) })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
