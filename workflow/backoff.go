package workflow

import (
	"math"
	"os"
	"strconv"
	"time"
)

// RetryConfig governs the collection retry schedule. The defaults give
// 1h / 2h / 4h between attempts with three attempts total; production ACH
// deployments raise the base via env to cover settlement timing.
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// StaleProcessingAfter is how long a PROCESSING record with no gateway
	// transaction id may sit before the scheduler treats the attempt as lost
	// (crashed between claim and gateway call) and requeues it.
	StaleProcessingAfter time.Duration
}

func GetRetryConfig() RetryConfig {
	cfg := RetryConfig{
		MaxRetries:           3,
		BaseBackoff:          time.Hour,
		MaxBackoff:           24 * time.Hour,
		StaleProcessingAfter: 30 * time.Minute,
	}

	if v := os.Getenv("COLLECTION_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("COLLECTION_BASE_BACKOFF_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BaseBackoff = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("COLLECTION_MAX_BACKOFF_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBackoff = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("COLLECTION_STALE_PROCESSING_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StaleProcessingAfter = time.Duration(n) * time.Minute
		}
	}

	return cfg
}

// Backoff returns the wait before the next attempt, given how many attempts
// have already run. base * 2^(attempt-1), capped.
func (cfg RetryConfig) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return cfg.BaseBackoff
	}
	exp := float64(attempt - 1)
	delay := time.Duration(float64(cfg.BaseBackoff) * math.Pow(2, exp))
	if delay > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return delay
}
