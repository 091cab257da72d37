package allocation

import "testing"

func TestPriorityForSource(t *testing.T) {
	tests := []struct {
		source TokenSource
		want   int
	}{
		{SourcePaidPriority, 1},
		{SourceFollowUp, 2},
		{SourceOnlineBooking, 2},
		{SourceWalkIn, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			if got := PriorityForSource(tt.source); got != tt.want {
				t.Fatalf("PriorityForSource(%s) = %d, want %d", tt.source, got, tt.want)
			}
			if PriorityForSource(tt.source) == EmergencyPriority {
				t.Fatalf("emergency priority must be reserved")
			}
		})
	}
}

func TestComparePriority(t *testing.T) {
	if ComparePriority(1, 3) >= 0 {
		t.Fatalf("expected 1 to sort before 3")
	}
	if ComparePriority(3, 1) <= 0 {
		t.Fatalf("expected 3 to sort after 1")
	}
	if ComparePriority(2, 2) != 0 {
		t.Fatalf("expected equal priorities to compare as 0")
	}
}

func TestHasHigherPriority(t *testing.T) {
	if !HasHigherPriority(SourcePaidPriority, SourceWalkIn) {
		t.Fatalf("paid priority must outrank walk-in")
	}
	if HasHigherPriority(SourceFollowUp, SourceOnlineBooking) {
		t.Fatalf("follow-up and online booking share a class")
	}
	if HasHigherPriority(SourceWalkIn, SourceFollowUp) {
		t.Fatalf("walk-in must not outrank follow-up")
	}
}

func TestParseTokenSource(t *testing.T) {
	for _, s := range TokenSources {
		got, err := ParseTokenSource(string(s))
		if err != nil || got != s {
			t.Fatalf("ParseTokenSource(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseTokenSource("vip"); err == nil {
		t.Fatalf("expected unknown source to be rejected")
	}
}
