package nerdstats

import (
	"testing"
	"time"
)

func TestSnapshot_PopulatesRuntimeFields(t *testing.T) {
	start := time.Now().Add(-time.Second)
	stats := Snapshot(start)

	if stats.NumCPU <= 0 {
		t.Fatalf("expected NumCPU > 0, got %d", stats.NumCPU)
	}
	if stats.GoVersion == "" {
		t.Fatal("expected a non-empty Go version")
	}
	if stats.Uptime <= 0 {
		t.Fatalf("expected a positive uptime, got %v", stats.Uptime)
	}
}

func TestGetMemoryPressure_LowWhenFreshlyAllocated(t *testing.T) {
	stats := &NerdStats{HeapInuse: 10, HeapSys: 100, Mallocs: 1, Frees: 1}
	if got := stats.GetMemoryPressure(); got != "LOW" {
		t.Fatalf("expected LOW, got %q", got)
	}
}

func TestGetMemoryPressure_HighWhenSaturated(t *testing.T) {
	stats := &NerdStats{HeapInuse: 95, HeapSys: 100, Mallocs: 200, Frees: 10}
	if got := stats.GetMemoryPressure(); got != "HIGH" {
		t.Fatalf("expected HIGH, got %q", got)
	}
}

func TestGetGoroutineHealthStatus_Thresholds(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{10, "HEALTHY"},
		{150, "NORMAL"},
		{600, "ELEVATED"},
		{1500, "CONCERNING"},
	}
	for _, c := range cases {
		stats := &NerdStats{NumGoroutines: c.n}
		if got := stats.GetGoroutineHealthStatus(); got != c.want {
			t.Errorf("GetGoroutineHealthStatus(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}

func TestGetBuildInfoSummary_NilBuildInfoReturnsEmptyMap(t *testing.T) {
	stats := &NerdStats{}
	summary := stats.GetBuildInfoSummary()
	if len(summary) != 0 {
		t.Fatalf("expected an empty summary when BuildInfo is nil, got %v", summary)
	}
}

func TestCalculateAverageGCPause_NoGCReturnsNA(t *testing.T) {
	stats := &NerdStats{NumGC: 0}
	if got := CalculateAverageGCPause(stats); got != "N/A" {
		t.Fatalf("expected N/A, got %q", got)
	}
}

func TestCalculateAverageGCPause_DividesTotalByCount(t *testing.T) {
	stats := &NerdStats{NumGC: 2, TotalGCTime: 2 * time.Second}
	if got := CalculateAverageGCPause(stats); got != "1s" {
		t.Fatalf("expected 1s average pause, got %q", got)
	}
}
