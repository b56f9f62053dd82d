package metricsstore

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Append(MetricsRun{ID: "r1", Metrics: map[string]float64{"durationSec": 1.2}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	runs := reopened.All()
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Fatalf("unexpected runs after reopen: %+v", runs)
	}
}

func TestGetByIDIndexAndPrefix(t *testing.T) {
	s, _ := Open("")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.Append(MetricsRun{ID: "a", Timestamp: base, Metrics: map[string]float64{"x": 1}})
	_ = s.Append(MetricsRun{ID: "b", Timestamp: base.Add(time.Hour), Metrics: map[string]float64{"x": 2}})
	_ = s.Append(MetricsRun{ID: "c", Timestamp: base.Add(2 * time.Hour), Metrics: map[string]float64{"x": 3}})

	last, err := s.GetByID("-1", "")
	if err != nil || last.ID != "c" {
		t.Fatalf("GetByID(-1): %v %+v", err, last)
	}

	first, err := s.GetByID("0", "")
	if err != nil || first.ID != "a" {
		t.Fatalf("GetByID(0): %v %+v", err, first)
	}

	byID, err := s.GetByID("b", "")
	if err != nil || byID.ID != "b" {
		t.Fatalf("GetByID(b): %v %+v", err, byID)
	}

	byPrefix, err := s.GetByID("2026-01-01", "")
	if err != nil || byPrefix.ID != "c" {
		t.Fatalf("GetByID(prefix) should return latest match, got %v %+v", err, byPrefix)
	}
}

func TestCompareRunsComputesChangePct(t *testing.T) {
	oldRun := MetricsRun{Metrics: map[string]float64{"durationSec": 10, "successRate": 0.9}}
	newRun := MetricsRun{Metrics: map[string]float64{"durationSec": 12, "successRate": 0.8}}

	deltas := CompareRuns(oldRun, newRun)

	d := deltas["durationSec"]
	if d.ChangePct < 0.19 || d.ChangePct > 0.21 {
		t.Fatalf("expected ~0.2 changePct for durationSec, got %v", d.ChangePct)
	}
	if d.Direction != DirectionUp {
		t.Fatalf("expected up direction, got %v", d.Direction)
	}

	sr := deltas["successRate"]
	if sr.Direction != DirectionDown {
		t.Fatalf("expected down direction for successRate, got %v", sr.Direction)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s, _ := Open("")
	_, err := s.GetByID("missing", "")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
