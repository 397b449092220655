package territory

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// geometry fixtures
// ---------------------------------------------------------------------------

// origin is a city block in Lisbon.
var origin = GeoPoint{Lat: 38.7223, Lng: -9.1393}

// rect returns the four corners of a width x height meter rectangle whose
// south-west corner is sw, walked counter-clockwise.
func rect(sw GeoPoint, width, height float64) Trace {
	se := DestinationPoint(sw, 90, width)
	ne := DestinationPoint(se, 0, height)
	nw := DestinationPoint(sw, 0, height)
	return Trace{sw, se, ne, nw}
}

// offset moves p east then north by the given meters.
func offset(p GeoPoint, east, north float64) GeoPoint {
	return DestinationPoint(DestinationPoint(p, 90, east), 0, north)
}

// line returns n+1 points spaced step meters apart along bearing.
func line(start GeoPoint, bearing, step float64, n int) Trace {
	t := Trace{start}
	for i := 0; i < n; i++ {
		t = append(t, DestinationPoint(t[len(t)-1], bearing, step))
	}
	return t
}

// densify inserts points every step meters between consecutive points. No
// inserted point lands closer than step/2 to the next corner.
func densify(t Trace, step float64) Trace {
	if len(t) == 0 {
		return nil
	}
	out := Trace{t[0]}
	for i := 1; i < len(t); i++ {
		a, b := t[i-1], t[i]
		d := HaversineDistanceMeters(a, b)
		bearing := BearingDegrees(a, b)
		for s := step; s < d-step/2; s += step {
			out = append(out, DestinationPoint(a, bearing, s))
		}
		out = append(out, b)
	}
	return out
}

func accurate(p GeoPoint) RawFix {
	f := NewRawFix(p.Lat, p.Lng)
	f.Accuracy = 5
	f.Timestamp = time.Now()
	return f
}

func within(t *testing.T, name string, got, want, tolerance float64) {
	t.Helper()
	if got < want-tolerance || got > want+tolerance {
		t.Errorf("%s = %v, want %v ± %v", name, got, want, tolerance)
	}
}

// ---------------------------------------------------------------------------
// fakeProvider
// ---------------------------------------------------------------------------

type fakeProvider struct {
	mu           sync.Mutex
	current      RawFix
	err          error
	subscribeErr error
	handlers     map[int]FixHandler
	next         int
	unsubscribed int
}

func newFakeProvider(current RawFix) *fakeProvider {
	return &fakeProvider{current: current, handlers: make(map[int]FixHandler)}
}

func (p *fakeProvider) Subscribe(h FixHandler) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribeErr != nil {
		return nil, p.subscribeErr
	}
	id := p.next
	p.next++
	p.handlers[id] = h
	return &fakeSubscription{p: p, id: id}, nil
}

func (p *fakeProvider) CurrentFix(ctx context.Context) (RawFix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return RawFix{}, p.err
	}
	return p.current, nil
}

func (p *fakeProvider) setCurrent(fix RawFix, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current, p.err = fix, err
}

// push delivers fix to every subscriber synchronously.
func (p *fakeProvider) push(fix RawFix) {
	p.mu.Lock()
	handlers := make([]FixHandler, 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(fix)
	}
}

func (p *fakeProvider) walk(points Trace) {
	for _, pt := range points {
		p.push(accurate(pt))
	}
}

func (p *fakeProvider) subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

type fakeSubscription struct {
	p  *fakeProvider
	id int
}

func (s *fakeSubscription) Unsubscribe() {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if _, ok := s.p.handlers[s.id]; ok {
		delete(s.p.handlers, s.id)
		s.p.unsubscribed++
	}
}
