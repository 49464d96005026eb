package stats

import (
	"encoding/json"
	"testing"
)

func TestScopedNames(t *testing.T) {
	s := DefaultStatsReceiver()
	s.Scope("pool", "default").Counter("acceptedCounter").Inc(2)
	s.Gauge("topGauge").Update(7)

	rendered := map[string]int64{}
	if err := json.Unmarshal(s.Render(false), &rendered); err != nil {
		t.Fatalf("render did not produce json: %v", err)
	}
	if rendered["pool/default/acceptedCounter"] != 2 {
		t.Fatalf("expected scoped counter=2, got %v", rendered)
	}
	if rendered["topGauge"] != 7 {
		t.Fatalf("expected topGauge=7, got %v", rendered)
	}
}

func TestSlashReplacement(t *testing.T) {
	s := DefaultStatsReceiver()
	s.Scope("a/b").Counter("c").Inc(1)
	rendered := map[string]int64{}
	if err := json.Unmarshal(s.Render(false), &rendered); err != nil {
		t.Fatalf("render did not produce json: %v", err)
	}
	if rendered["a_SLASH_b/c"] != 1 {
		t.Fatalf("expected slash-escaped name, got %v", rendered)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	s := NilStatsReceiver()
	s.Scope("x").Counter("c").Inc(1)
	s.Gauge("g").Update(1)
	if string(s.Render(true)) != "{}" {
		t.Fatalf("nil receiver should render empty object")
	}
}
