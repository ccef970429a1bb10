package model

const DefaultMaxAttempts = 5

// RetryPolicy decides whether a failed job gets another attempt.
type RetryPolicy struct {
	MaxAttempts int
}

func (p RetryPolicy) Max() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// ShouldRetry is a pure function of the job's attempt count.
func (p RetryPolicy) ShouldRetry(job Job) bool {
	return job.Attempts < p.Max()
}
