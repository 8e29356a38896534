package format

import (
	"testing"
	"time"
)

func TestBytes(t *testing.T) {
	cases := map[uint64]string{
		0:                "0 B",
		1023:             "1023 B",
		1024:             "1.00 KB",
		1536:             "1.50 KB",
		1024 * 1024:      "1.00 MB",
		1024 * 1024 * 1024: "1.00 GB",
	}
	for in, want := range cases {
		if got := Bytes(in); got != want {
			t.Errorf("Bytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h2m3s"},
	}
	for _, c := range cases {
		if got := Duration(c.in); got != c.want {
			t.Errorf("Duration(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPercentage(t *testing.T) {
	if got := Percentage(0); got != "0%" {
		t.Errorf("Percentage(0) = %q, want 0%%", got)
	}
	if got := Percentage(100); got != "100%" {
		t.Errorf("Percentage(100) = %q, want 100%%", got)
	}
	if got := Percentage(33.333); got != "33.3%" {
		t.Errorf("Percentage(33.333) = %q, want 33.3%%", got)
	}
}

func TestLatency(t *testing.T) {
	cases := map[int64]string{
		0:    "0ms",
		5:    "5ms",
		42:   "42ms",
		1500: "1.5s",
	}
	for in, want := range cases {
		if got := Latency(in); got != want {
			t.Errorf("Latency(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTimeAgo(t *testing.T) {
	if got := TimeAgo(time.Time{}); got != "never" {
		t.Errorf("TimeAgo(zero) = %q, want never", got)
	}
	past := time.Now().Add(-5 * time.Second)
	if got := TimeAgo(past); got == "never" {
		t.Errorf("TimeAgo(past) should not be 'never', got %q", got)
	}
}

func TestTimeUntil(t *testing.T) {
	if got := TimeUntil(time.Time{}); got != "unknown" {
		t.Errorf("TimeUntil(zero) = %q, want unknown", got)
	}
	if got := TimeUntil(time.Now().Add(-time.Second)); got != "now" {
		t.Errorf("TimeUntil(past) = %q, want now", got)
	}
	future := time.Now().Add(65 * time.Second)
	if got := TimeUntil(future); got != "in 1m" {
		t.Errorf("TimeUntil(future) = %q, want 'in 1m'", got)
	}
}

func TestEndpointsUp(t *testing.T) {
	if got := EndpointsUp(3, 5); got != "3/5" {
		t.Errorf("EndpointsUp(3,5) = %q, want 3/5", got)
	}
	if got := EndpointsUp(12, 15); got != "12/15" {
		t.Errorf("EndpointsUp(12,15) = %q, want 12/15", got)
	}
}
