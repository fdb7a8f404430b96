package service

import "time"

const baseRetryDelay = time.Minute

// RetryPolicy computes retry eligibility and next-attempt times for failed
// channel sends: 2^retryCount minutes of delay (0 -> 1min, 1 -> 2min,
// 2 -> 4min).
type RetryPolicy struct {
	base time.Duration
	now  func() time.Time
}

func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{base: baseRetryDelay, now: time.Now}
}

func (p *RetryPolicy) NextAttempt(retryCount int) time.Time {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := p.base
	for i := 0; i < retryCount; i++ {
		delay *= 2
	}

	return p.now().Add(delay)
}

func (p *RetryPolicy) ShouldRetry(retryCount, maxRetries int) bool {
	return retryCount < maxRetries
}
