package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPause(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		minTime  time.Duration
		maxTime  time.Duration
	}{
		{
			name:     "pause for 100 milliseconds",
			interval: 100 * time.Millisecond,
			minTime:  90 * time.Millisecond,
			maxTime:  500 * time.Millisecond,
		},
		{
			name:     "pause for zero duration",
			interval: 0,
			minTime:  0,
			maxTime:  50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			if err := Pause(context.Background(), tt.interval); err != nil {
				t.Fatalf("Pause() error: %v", err)
			}
			elapsed := time.Since(start)
			if elapsed < tt.minTime || elapsed > tt.maxTime {
				t.Errorf("Pause(%v) took %v, want between %v and %v", tt.interval, elapsed, tt.minTime, tt.maxTime)
			}
		})
	}
}

func TestPauseCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Pause(ctx, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Pause() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Pause() did not return promptly after cancellation")
	}
}
