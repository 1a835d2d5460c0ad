package timeutil

import (
	"testing"
	"time"
)

func TestRelativeTo(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"just now", now.Add(-500 * time.Millisecond), "just now"},
		{"seconds ago", now.Add(-30 * time.Second), "30 seconds ago"},
		{"one minute", now.Add(-1 * time.Minute), "1 minute ago"},
		{"minutes ago", now.Add(-5 * time.Minute), "5 minutes ago"},
		{"hours ago", now.Add(-3 * time.Hour), "3 hours ago"},
		{"one hour", now.Add(-90 * time.Minute), "1 hour ago"},
		{"days ago", now.Add(-49 * time.Hour), "2 days ago"},
		{"future minutes", now.Add(10 * time.Minute), "in 10 minutes"},
		{"future hours", now.Add(2 * time.Hour), "in 2 hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelativeTo(tt.t, now); got != tt.want {
				t.Errorf("RelativeTo = %q, want %q", got, tt.want)
			}
		})
	}
}
