package territory

import "testing"

func TestClosureDetector_Closable(t *testing.T) {
	d := NewClosureDetector(DefaultThresholds())
	square := rect(origin, 50, 50)
	back := DestinationPoint(origin, 0, 8)

	tests := []struct {
		name  string
		trace Trace
		want  bool
	}{
		{"full loop back near start", append(square.Clone(), back), true},
		{"three sides only", square.Clone(), false},
		{"single point", Trace{origin}, false},
		{"short out and back", Trace{origin, DestinationPoint(origin, 0, 30), DestinationPoint(origin, 0, 5)}, false},
		{"long loop ending outside radius", append(square.Clone(), DestinationPoint(origin, 0, 30)), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := d.ClosableTrace(tc.trace); got != tc.want {
				t.Errorf("ClosableTrace() = %v, want %v (walked %.1f m)", got, tc.want, TraceLengthMeters(tc.trace))
			}
		})
	}
}

func TestClosureDetector_Boundaries(t *testing.T) {
	d := ClosureDetector{Radius: 25, MinLoopLength: 100}
	near := DestinationPoint(origin, 180, 10)

	if d.Closable(origin, near, 100) {
		t.Error("traversed exactly the minimum loop length should not be closable")
	}
	if !d.Closable(origin, near, 100.5) {
		t.Error("traversed past the minimum with last point inside radius should be closable")
	}
	if d.Closable(origin, DestinationPoint(origin, 180, 25.01), 500) {
		t.Error("last point outside the radius should not be closable")
	}
}

func TestClosureDetector_NoMemory(t *testing.T) {
	d := NewClosureDetector(DefaultThresholds())
	tr := append(rect(origin, 50, 50), DestinationPoint(origin, 0, 8))
	if !d.ClosableTrace(tr) {
		t.Fatal("loop should be closable")
	}

	// walking away again clears the flag
	tr = append(tr, DestinationPoint(origin, 90, 60))
	if d.ClosableTrace(tr) {
		t.Error("trace that drifted away should no longer be closable")
	}
}
