package service

import (
	"testing"
	"time"
)

func TestRetryPolicyNextAttempt(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := NewRetryPolicy()
	policy.now = func() time.Time { return now }

	tests := []struct {
		retryCount int
		wantDelay  time.Duration
	}{
		{retryCount: 0, wantDelay: time.Minute},
		{retryCount: 1, wantDelay: 2 * time.Minute},
		{retryCount: 2, wantDelay: 4 * time.Minute},
		{retryCount: -1, wantDelay: time.Minute},
	}

	for _, tt := range tests {
		got := policy.NextAttempt(tt.retryCount)
		if want := now.Add(tt.wantDelay); !got.Equal(want) {
			t.Fatalf("NextAttempt(%d) = %v, want %v", tt.retryCount, got, want)
		}
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy()

	if !policy.ShouldRetry(2, 3) {
		t.Fatal("ShouldRetry(2, 3) = false, want true")
	}
	if policy.ShouldRetry(3, 3) {
		t.Fatal("ShouldRetry(3, 3) = true, want false")
	}
}
