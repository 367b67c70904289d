package campaigns

import "testing"

func TestPercentComplete_Clamps(t *testing.T) {
	cases := []struct {
		name   string
		placed int
		total  int
		want   float64
	}{
		{"zero total", 5, 0, 0},
		{"half", 5, 10, 50},
		{"overshoot clamps", 15, 10, 100},
		{"done", 10, 10, 100},
	}
	for _, tc := range cases {
		p := Progress{CallsPlaced: tc.placed, TotalContacts: tc.total}
		if got := p.PercentComplete(); got != tc.want {
			t.Errorf("%s: PercentComplete() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMergeCounts_NeverRegresses(t *testing.T) {
	p := Progress{CallsPlaced: 10, CallsAnswered: 6}

	regressed := p.MergeCounts(Counts{CallsPlaced: 8, CallsAnswered: 7})
	if !regressed {
		t.Fatalf("expected regression to be reported")
	}
	if p.CallsPlaced != 10 {
		t.Fatalf("CallsPlaced regressed to %d", p.CallsPlaced)
	}
	if p.CallsAnswered != 7 {
		t.Fatalf("CallsAnswered = %d, want 7", p.CallsAnswered)
	}
}

func TestMergeCounts_ZeroIsNotRegression(t *testing.T) {
	// Sparse payloads omit counters; an absent counter decodes to zero and
	// must not count as a stale arrival.
	p := Progress{CallsPlaced: 10}
	if p.MergeCounts(Counts{CallsCompleted: 3}) {
		t.Fatalf("zero-valued counters should not report regression")
	}
	if p.CallsPlaced != 10 || p.CallsCompleted != 3 {
		t.Fatalf("merge result wrong: %+v", p)
	}
}

func TestFrozen(t *testing.T) {
	if (Progress{Status: StatusInProgress}).Frozen() {
		t.Fatalf("in-progress should not be frozen")
	}
	if !(Progress{Status: StatusCompleted}).Frozen() {
		t.Fatalf("completed should be frozen")
	}
}
