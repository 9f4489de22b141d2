package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	policy := BackoffPolicy{Base: 30 * time.Second, Cap: 30 * time.Minute}

	tests := []struct {
		name     string
		failures int
		want     time.Duration
	}{
		{name: "zero failures yields base", failures: 0, want: 30 * time.Second},
		{name: "negative failures yields base", failures: -1, want: 30 * time.Second},
		{name: "one failure doubles once", failures: 1, want: time.Minute},
		{name: "three failures", failures: 3, want: 4 * time.Minute},
		{name: "capped at maximum", failures: 10, want: 30 * time.Minute},
		{name: "stays capped far past maximum", failures: 1000, want: 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Delay(tt.failures))
		})
	}
}

func TestBackoffPolicy_Delay_NonDecreasing(t *testing.T) {
	policy := DefaultFeedBackoff

	prev := policy.Delay(0)
	for n := 1; n <= 64; n++ {
		cur := policy.Delay(n)
		assert.GreaterOrEqual(t, cur, prev, "delay must not decrease between %d and %d failures", n-1, n)
		assert.LessOrEqual(t, cur, policy.Cap)
		prev = cur
	}
}

func TestFeed_PollInterval(t *testing.T) {
	policy := DefaultFeedBackoff

	tests := []struct {
		name string
		feed Feed
		want time.Duration
	}{
		{
			name: "healthy feed polls at normal cadence",
			feed: Feed{},
			want: policy.Base,
		},
		{
			name: "push-active feed polls at reduced cadence",
			feed: Feed{PushActive: true},
			want: PushPollInterval,
		},
		{
			name: "failing feed backs off even with push active",
			feed: Feed{PushActive: true, ConsecutiveFailures: 2},
			want: policy.Delay(2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.feed.PollInterval(policy))
		})
	}
}
