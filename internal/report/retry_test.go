package report

import (
	"math/rand"
	"testing"
	"time"
)

func TestRetryStateBound(t *testing.T) {
	t.Parallel()

	r := newRetryState(retryPolicy{Max: 2, Base: time.Millisecond, MaxDelay: time.Second}, nil)

	if _, ok := r.next(); !ok {
		t.Fatal("first retry should be allowed")
	}
	if _, ok := r.next(); !ok {
		t.Fatal("second retry should be allowed")
	}
	if _, ok := r.next(); ok {
		t.Fatal("third retry should be refused")
	}
	if r.attempt != 2 {
		t.Fatalf("attempt = %d", r.attempt)
	}
}

func TestRetryStateZeroMax(t *testing.T) {
	t.Parallel()

	r := newRetryState(retryPolicy{Max: -3}, nil)
	if _, ok := r.next(); ok {
		t.Fatal("negative max should clamp to no retries")
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := retryPolicy{Max: 10, Base: 2 * time.Second, MaxDelay: 30 * time.Second}.withDefaults()

	// Without jitter the progression is 2s, 4s, 8s, 16s, 30s (capped), 30s...
	prev := time.Duration(0)
	for i := 1; i <= 6; i++ {
		d := p.delay(i, nil)
		if d > p.MaxDelay {
			t.Fatalf("delay(%d) = %v exceeds cap %v", i, d, p.MaxDelay)
		}
		if i <= 4 && d <= prev {
			t.Fatalf("delay(%d) = %v should grow past %v", i, d, prev)
		}
		prev = d
	}
	if d := p.delay(6, nil); d != p.MaxDelay {
		t.Fatalf("capped delay = %v, want %v", d, p.MaxDelay)
	}
}

func TestRetryDelayJitterStaysInBounds(t *testing.T) {
	t.Parallel()

	p := retryPolicy{Max: 5, Base: time.Second, MaxDelay: 10 * time.Second, Jitter: 0.2}
	rng := rand.New(rand.NewSource(1))
	for i := 1; i <= 5; i++ {
		for trial := 0; trial < 100; trial++ {
			d := p.delay(i, rng)
			if d < 0 || d > p.MaxDelay {
				t.Fatalf("delay(%d) = %v out of [0, %v]", i, d, p.MaxDelay)
			}
		}
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := retryPolicy{}.withDefaults()
	if p.Base != 2*time.Second || p.MaxDelay != 30*time.Second || p.Jitter != 0.2 {
		t.Fatalf("defaults = %+v", p)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeRendered},
		{in: "rendered", want: ModeRendered},
		{in: "TEXT-ONLY", want: ModeTextOnly},
		{in: "text", want: ModeTextOnly},
		{in: "video", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run("in="+tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMode(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMode(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseMode(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []Status{StatusSucceeded, StatusFailed, StatusSkippedOverlap, StatusSkippedMissed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
