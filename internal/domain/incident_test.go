package domain

import "testing"

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("expected %s to outrank %s", order[i], order[i-1])
		}
	}
	if Severity("urgent").Rank() != 0 {
		t.Fatal("expected unknown severity to rank 0")
	}
	if ValidSeverity("High") {
		t.Fatal("expected severities to be case-sensitive")
	}
}

func TestSeverityAtLeast(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Fatal("expected critical to be at least high")
	}
	if SeverityMedium.AtLeast(SeverityHigh) {
		t.Fatal("expected medium to be below high")
	}
	if !SeverityLow.AtLeast(SeverityLow) {
		t.Fatal("expected severity to be at least itself")
	}
}

func TestCorridorContainsBounds(t *testing.T) {
	c := DefaultCorridor()
	if !c.Contains(CorridorLow) || !c.Contains(CorridorHigh) {
		t.Fatal("expected corridor bounds to be inclusive")
	}
	if c.Contains(0.55) || c.Contains(0.7) {
		t.Fatal("expected scores outside the corridor to be excluded")
	}
}

func TestCorridorBoundsAreFixed(t *testing.T) {
	// Both bounds must stay compile-time constants.
	const low, high = CorridorLow, CorridorHigh
	if low < 0.618033 || low > 0.618035 {
		t.Fatalf("expected lower bound 1/phi, got %f", low)
	}
	if high < 0.666666 || high > 0.666667 {
		t.Fatalf("expected upper bound 2/3, got %f", high)
	}
}

func TestReturnMappingSameOutcome(t *testing.T) {
	reason := "no active checkpoint"
	other := "coherence within 0.005 of corridor boundary"
	a := ReturnMapping{Status: ReturnWeak, FailureReason: &reason}
	b := ReturnMapping{Status: ReturnWeak, FailureReason: &reason}
	c := ReturnMapping{Status: ReturnWeak, FailureReason: &other}

	if !a.SameOutcome(b) {
		t.Fatal("expected identical judgments to match")
	}
	if a.SameOutcome(c) {
		t.Fatal("expected different reasons to differ")
	}
}
