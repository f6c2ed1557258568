package collector

import (
	"testing"
	"time"
)

func TestBackoffStartsAtFloor(t *testing.T) {
	b := NewBackoff(1*time.Second, 300*time.Second)
	if b.Delay() != 1*time.Second {
		t.Errorf("initial delay = %v, want 1s", b.Delay())
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Delay() != DefaultBackoffFloor {
		t.Errorf("delay = %v, want %v", b.Delay(), DefaultBackoffFloor)
	}
	for i := 0; i < 20; i++ {
		b.Grow()
	}
	if b.Delay() != DefaultBackoffCeiling {
		t.Errorf("delay after 20 grows = %v, want ceiling %v", b.Delay(), DefaultBackoffCeiling)
	}
}

func TestBackoffGrowDoublesUpToCeiling(t *testing.T) {
	b := NewBackoff(1*time.Second, 300*time.Second)

	prev := b.Delay()
	for i := 0; i < 15; i++ {
		got := b.Grow()
		want := prev * 2
		if want > 300*time.Second {
			want = 300 * time.Second
		}
		if got != want {
			t.Fatalf("grow %d: delay = %v, want %v", i, got, want)
		}
		prev = got
	}
	if b.Delay() != 300*time.Second {
		t.Errorf("delay = %v, want pinned at ceiling", b.Delay())
	}
}

func TestBackoffRelaxHalvesDownToFloor(t *testing.T) {
	b := NewBackoff(1*time.Second, 300*time.Second)
	for i := 0; i < 6; i++ {
		b.Grow()
	}
	if b.Delay() != 64*time.Second {
		t.Fatalf("delay = %v, want 64s", b.Delay())
	}

	prev := b.Delay()
	for i := 0; i < 10; i++ {
		got := b.Relax()
		want := prev / 2
		if want < 1*time.Second {
			want = 1 * time.Second
		}
		if got != want {
			t.Fatalf("relax %d: delay = %v, want %v", i, got, want)
		}
		prev = got
	}
	if b.Delay() != 1*time.Second {
		t.Errorf("delay = %v, want pinned at floor", b.Delay())
	}
}

func TestAttemptDelayEscalates(t *testing.T) {
	b := NewBackoff(1*time.Second, 300*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{-1, 1 * time.Second},
		{30, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := b.AttemptDelay(tt.attempt); got != tt.want {
			t.Errorf("AttemptDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
