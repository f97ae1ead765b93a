package resilience

import "time"

type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// RetryPolicy says how often and how patiently a failed call is retried.
type RetryPolicy struct {
	MaxAttempts  int             `json:"maxAttempts"`
	Backoff      BackoffStrategy `json:"backoff"`
	InitialDelay time.Duration   `json:"initialDelay"`
	MaxDelay     time.Duration   `json:"maxDelay"`
}

// Delay returns the wait before attempt n+1, where n >= 1 is the attempt that just failed.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	var d time.Duration
	switch p.Backoff {
	case BackoffExponential:
		// cap the shift so large attempt numbers cannot overflow
		shift := min(n-1, 30)
		d = p.InitialDelay * time.Duration(1<<shift)
	case BackoffLinear:
		d = p.InitialDelay * time.Duration(n)
	default:
		d = p.InitialDelay
	}
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		return p.MaxDelay
	}
	return d
}

// DefaultPolicies are the retry policies per failure class.
var DefaultPolicies = map[ErrorType]RetryPolicy{
	ErrorNetwork:   {MaxAttempts: 3, Backoff: BackoffExponential, InitialDelay: time.Second, MaxDelay: 10 * time.Second},
	ErrorAPI:       {MaxAttempts: 3, Backoff: BackoffExponential, InitialDelay: 2 * time.Second, MaxDelay: 15 * time.Second},
	ErrorRateLimit: {MaxAttempts: 3, Backoff: BackoffExponential, InitialDelay: 5 * time.Second, MaxDelay: 30 * time.Second},
	ErrorModel:     {MaxAttempts: 1, Backoff: BackoffFixed, InitialDelay: 2 * time.Second, MaxDelay: 5 * time.Second},
	ErrorStream:    {MaxAttempts: 2, Backoff: BackoffLinear, InitialDelay: time.Second, MaxDelay: 5 * time.Second},
	ErrorTimeout:   {MaxAttempts: 2, Backoff: BackoffLinear, InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second},
}
