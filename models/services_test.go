package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(time.Hour, 2, 0, time.Minute)

	limiter := rl.GetLimiter("10.0.0.1")
	if !limiter.Allow() || !limiter.Allow() {
		t.Fatal("Expected the first two requests to be allowed by a burst of 2")
	}
	if limiter.Allow() {
		t.Error("Expected the third request to be rejected")
	}
	if rl.GetLimiter("10.0.0.1") != limiter {
		t.Error("Expected the same limiter to be returned for the same IP")
	}

	removed := rl.Prune(time.Now().Add(2 * time.Minute))
	if removed != 1 {
		t.Errorf("Expected 1 expired limiter to be pruned, got %d", removed)
	}
	if !rl.GetLimiter("10.0.0.1").Allow() {
		t.Error("Expected a fresh limiter after pruning")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		target    error
		retryable bool
	}{
		{"Board not found is a not found", fmt.Errorf("resolve: %w", ErrBoardNotFound), ErrNotFound, false},
		{"Thread not found is a not found", ErrThreadNotFound, ErrNotFound, false},
		{"Validation message keeps sentinel", Validationf("content is required"), ErrValidation, false},
		{"Lock timeout is retryable", fmt.Errorf("alloc: %w", ErrLockTimeout), ErrLockTimeout, true},
		{"Busy storage is retryable", &StorageError{Op: "insert", Err: errors.New("database is locked"), Retryable: true}, nil, true},
		{"Exhausted is not retryable", ErrPartitionExhausted, ErrPartitionExhausted, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.target != nil && !errors.Is(tc.err, tc.target) {
				t.Errorf("Expected %v to match %v", tc.err, tc.target)
			}
			if IsRetryable(tc.err) != tc.retryable {
				t.Errorf("Expected IsRetryable(%v) to be %v", tc.err, tc.retryable)
			}
		})
	}
}
