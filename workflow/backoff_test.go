package workflow

import (
	"testing"
	"time"
)

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseBackoff: time.Hour, MaxBackoff: 24 * time.Hour}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Hour},
		{2, 2 * time.Hour},
		{3, 4 * time.Hour},
		{4, 8 * time.Hour},
	}
	for _, tc := range cases {
		if got := cfg.Backoff(tc.attempt); got != tc.want {
			t.Fatalf("attempt=%d: expected %s, got %s", tc.attempt, tc.want, got)
		}
	}
}

func TestBackoff_Capped(t *testing.T) {
	cfg := RetryConfig{BaseBackoff: time.Hour, MaxBackoff: 6 * time.Hour}
	if got := cfg.Backoff(10); got != 6*time.Hour {
		t.Fatalf("expected cap at 6h, got %s", got)
	}
}

func TestBackoff_StrictlyIncreasingBelowCap(t *testing.T) {
	cfg := RetryConfig{BaseBackoff: time.Hour, MaxBackoff: 24 * time.Hour}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		got := cfg.Backoff(attempt)
		if got <= prev {
			t.Fatalf("attempt=%d: backoff %s not greater than previous %s", attempt, got, prev)
		}
		prev = got
	}
}

func TestBackoff_NonPositiveAttempt(t *testing.T) {
	cfg := RetryConfig{BaseBackoff: time.Hour, MaxBackoff: 24 * time.Hour}
	if got := cfg.Backoff(0); got != time.Hour {
		t.Fatalf("expected base backoff for attempt 0, got %s", got)
	}
}

func TestGetRetryConfig_EnvOverrides(t *testing.T) {
	t.Setenv("COLLECTION_MAX_RETRIES", "5")
	t.Setenv("COLLECTION_BASE_BACKOFF_MINUTES", "30")
	t.Setenv("COLLECTION_MAX_BACKOFF_MINUTES", "120")
	t.Setenv("COLLECTION_STALE_PROCESSING_MINUTES", "10")

	cfg := GetRetryConfig()
	if cfg.MaxRetries != 5 {
		t.Fatalf("expected MaxRetries=5, got %d", cfg.MaxRetries)
	}
	if cfg.BaseBackoff != 30*time.Minute {
		t.Fatalf("expected 30m base, got %s", cfg.BaseBackoff)
	}
	if cfg.MaxBackoff != 2*time.Hour {
		t.Fatalf("expected 2h cap, got %s", cfg.MaxBackoff)
	}
	if cfg.StaleProcessingAfter != 10*time.Minute {
		t.Fatalf("expected 10m stale window, got %s", cfg.StaleProcessingAfter)
	}
}

func TestGetRetryConfig_Defaults(t *testing.T) {
	t.Setenv("COLLECTION_MAX_RETRIES", "")
	t.Setenv("COLLECTION_BASE_BACKOFF_MINUTES", "")
	t.Setenv("COLLECTION_MAX_BACKOFF_MINUTES", "")
	t.Setenv("COLLECTION_STALE_PROCESSING_MINUTES", "")

	cfg := GetRetryConfig()
	if cfg.MaxRetries != 3 || cfg.BaseBackoff != time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
