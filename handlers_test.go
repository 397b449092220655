package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb/geojson"

	"github.com/kwv/turfwar/territory"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// stubProvider is a LocationProvider driven by the test.
type stubProvider struct {
	mu      sync.Mutex
	current territory.RawFix
	err     error
	handler territory.FixHandler
}

type stubSubscription struct{ p *stubProvider }

func (s stubSubscription) Unsubscribe() {
	s.p.mu.Lock()
	s.p.handler = nil
	s.p.mu.Unlock()
}

func (p *stubProvider) Subscribe(h territory.FixHandler) (territory.Subscription, error) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	return stubSubscription{p}, nil
}

func (p *stubProvider) CurrentFix(_ context.Context) (territory.RawFix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return territory.RawFix{}, p.err
	}
	return p.current, nil
}

func (p *stubProvider) set(fix territory.RawFix, err error) {
	p.mu.Lock()
	p.current, p.err = fix, err
	p.mu.Unlock()
}

// walk delivers every point as an accurate fix to the subscriber.
func (p *stubProvider) walk(points []territory.GeoPoint) {
	for _, pt := range points {
		fix := territory.NewRawFix(pt.Lat, pt.Lng)
		fix.Accuracy = 5
		p.mu.Lock()
		h := p.handler
		p.current = fix
		p.mu.Unlock()
		if h != nil {
			h(fix)
		}
	}
}

type testServer struct {
	handler   http.Handler
	store     *territory.MemoryStore
	sessions  *territory.SessionManager
	providers map[string]*stubProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		store: territory.NewMemoryStore(),
		providers: map[string]*stubProvider{
			"alice": {},
			"bob":   {},
		},
	}
	lookup := func(ownerID string) (territory.LocationProvider, error) {
		p, ok := ts.providers[ownerID]
		if !ok {
			return nil, fmt.Errorf("player %s: %w", ownerID, territory.ErrNotFound)
		}
		return p, nil
	}
	svc := territory.NewConquestService(ts.store, ts.store, territory.DefaultThresholds(), nil)
	ts.sessions = territory.NewSessionManager(lookup, svc, territory.SessionOptions{})
	t.Cleanup(ts.sessions.Close)
	ts.handler = newHTTPServer(ts.store, ts.sessions, nil)
	return ts
}

func (ts *testServer) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func squareRing(sw territory.GeoPoint, side float64) territory.Ring {
	se := territory.DestinationPoint(sw, 90, side)
	ne := territory.DestinationPoint(se, 0, side)
	nw := territory.DestinationPoint(sw, 0, side)
	return territory.CloseRing(territory.Trace{sw, se, ne, nw})
}

func (ts *testServer) seed(t *testing.T, owner string, sw territory.GeoPoint, side float64) territory.Conquest {
	t.Helper()
	ring := squareRing(sw, side)
	c, err := ts.store.Create(context.Background(), territory.ConquestDraft{
		OwnerID: owner, Mode: territory.ModeDominio, Path: ring, Area: territory.LoopArea(ring),
	})
	if err != nil {
		t.Fatalf("seeding conquest: %v", err)
	}
	return c
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
}

func accurateFix(p territory.GeoPoint) territory.RawFix {
	fix := territory.NewRawFix(p.Lat, p.Lng)
	fix.Accuracy = 5
	return fix
}

// ---------------------------------------------------------------------------
// statusFor
// ---------------------------------------------------------------------------

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("conquest x: %w", territory.ErrNotFound), http.StatusNotFound},
		{"permission", territory.ErrPermissionDenied, http.StatusForbidden},
		{"no fix", fmt.Errorf("%w: current fix accuracy", territory.ErrNoFix), http.StatusServiceUnavailable},
		{"already recording", territory.ErrAlreadyRecording, http.StatusConflict},
		{"not recording", territory.ErrNotRecording, http.StatusConflict},
		{"not closable", territory.ErrNotClosable, http.StatusConflict},
		{"too short", territory.ErrTooShort, http.StatusConflict},
		{"invalid polygon", territory.ErrInvalidPolygon, http.StatusUnprocessableEntity},
		{"anything else", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// read endpoints
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do("GET", "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Status        string `json:"status"`
		MQTTConnected bool   `json:"mqttConnected"`
	}
	decode(t, w, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.MQTTConnected {
		t.Error("mqttConnected should be false without a client")
	}
}

func TestHealth_MQTTNotYetConnected(t *testing.T) {
	client := territory.NewMQTTClient(territory.NewMockClient(), &territory.Config{})

	h := newHTTPServer(territory.NewMemoryStore(), nil, client)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	var body struct {
		MQTTConnected bool `json:"mqttConnected"`
	}
	decode(t, w, &body)
	if body.MQTTConnected {
		t.Error("mqttConnected should stay false until the broker accepts the connection")
	}
}

func TestListConquests(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("GET", "/conquests")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty store should list [], got %s", w.Body.String())
	}

	a := ts.seed(t, "alice", testOrigin, 50)
	ts.seed(t, "bob", territory.DestinationPoint(testOrigin, 90, 200), 50)

	var all []territory.Conquest
	decode(t, ts.do("GET", "/conquests"), &all)
	if len(all) != 2 {
		t.Fatalf("got %d conquests, want 2", len(all))
	}

	var mine []territory.Conquest
	decode(t, ts.do("GET", "/conquests?owner=alice"), &mine)
	if len(mine) != 1 || mine[0].ID != a.ID {
		t.Errorf("owner filter returned %+v", mine)
	}
}

func TestGetConquest(t *testing.T) {
	ts := newTestServer(t)
	c := ts.seed(t, "alice", testOrigin, 50)

	w := ts.do("GET", "/conquests/"+c.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got territory.Conquest
	decode(t, w, &got)
	if got.OwnerID != "alice" || got.Area != c.Area {
		t.Errorf("got %+v", got)
	}

	w = ts.do("GET", "/conquests/nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing conquest status = %d, want 404", w.Code)
	}
	var body errorBody
	decode(t, w, &body)
	if body.Error == "" {
		t.Error("error body should carry a message")
	}
}

func TestConquestsGeoJSON(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "alice", testOrigin, 100)
	loc := territory.DestinationPoint(testOrigin, 45, 30)
	if err := ts.store.CreateBatch(context.Background(), []territory.TerritoryConflict{
		{InvaderID: "bob", VictimID: "alice", ConquestID: "c", AreaInvaded: 100, Location: &loc},
	}); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"conquests only", "/conquests.geojson", 1},
		{"with victim conflicts", "/conquests.geojson?victim=alice", 2},
		{"victim without conflicts", "/conquests.geojson?victim=bob", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do("GET", tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
				t.Errorf("Content-Type = %q", ct)
			}
			fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
			if err != nil {
				t.Fatalf("invalid GeoJSON: %v", err)
			}
			if len(fc.Features) != tt.want {
				t.Errorf("got %d features, want %d", len(fc.Features), tt.want)
			}
		})
	}
}

func TestConflicts(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do("GET", "/conflicts"); w.Code != http.StatusBadRequest {
		t.Errorf("missing victim status = %d, want 400", w.Code)
	}

	var none []territory.TerritoryConflict
	w := ts.do("GET", "/conflicts?victim=alice")
	decode(t, w, &none)
	if none == nil || len(none) != 0 {
		t.Errorf("expected an empty list, got %s", w.Body.String())
	}

	conflicts := []territory.TerritoryConflict{
		{InvaderID: "bob", VictimID: "alice", ConquestID: "c1", AreaInvaded: 120},
	}
	if err := ts.store.CreateBatch(context.Background(), conflicts); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	var got []territory.TerritoryConflict
	decode(t, ts.do("GET", "/conflicts?victim=alice"), &got)
	if len(got) != 1 || got[0].AreaInvaded != 120 {
		t.Fatalf("got %+v", got)
	}

	id := conflicts[0].ID
	if w := ts.do("POST", "/conflicts/"+id+"/read"); w.Code != http.StatusNoContent {
		t.Errorf("mark read status = %d, want 204", w.Code)
	}
	if w := ts.do("POST", "/conflicts/"+id+"/read?by=system"); w.Code != http.StatusNoContent {
		t.Errorf("mark read by system status = %d, want 204", w.Code)
	}
	decode(t, ts.do("GET", "/conflicts?victim=alice"), &got)
	if !got[0].ReadByVictim || !got[0].ReadBySystem {
		t.Errorf("read flags not set: %+v", got[0])
	}

	if w := ts.do("POST", "/conflicts/nope/read"); w.Code != http.StatusNotFound {
		t.Errorf("unknown conflict status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// sessions
// ---------------------------------------------------------------------------

func TestSessionStart_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		fix        territory.RawFix
		err        error
		wantCode   int
		wantStatus territory.GPSStatus
	}{
		{"bad mode", "/sessions/alice/start?mode=sprint", accurateFix(testOrigin), nil, http.StatusBadRequest, ""},
		{"no fix", "/sessions/alice/start", territory.RawFix{}, territory.ErrNoFix, http.StatusServiceUnavailable, territory.StatusSearching},
		{"blocked", "/sessions/alice/start", territory.RawFix{}, territory.ErrPermissionDenied, http.StatusForbidden, territory.StatusBlocked},
		{"inaccurate fix", "/sessions/alice/start", territory.NewRawFix(testOrigin.Lat, testOrigin.Lng), nil, http.StatusServiceUnavailable, territory.StatusSearching},
		{"unknown player", "/sessions/mallory/start", territory.RawFix{}, nil, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.providers["alice"].set(tt.fix, tt.err)

			w := ts.do("POST", tt.target)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantStatus == "" {
				return
			}
			var body errorBody
			decode(t, w, &body)
			if body.Session == nil || body.Session.Status != tt.wantStatus {
				t.Errorf("session = %+v, want status %s", body.Session, tt.wantStatus)
			}
			if body.Session.State != territory.StateIdle {
				t.Errorf("state = %s, want idle", body.Session.State)
			}
		})
	}
}

func TestSessionLifecycle_Dominio(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.providers["alice"]
	alice.set(accurateFix(testOrigin), nil)

	w := ts.do("POST", "/sessions/alice/start?mode=dominio")
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d (%s)", w.Code, w.Body.String())
	}
	var snap territory.Snapshot
	decode(t, w, &snap)
	if snap.State != territory.StateRecording || snap.Status != territory.StatusReady {
		t.Errorf("after start: %+v", snap)
	}

	if w := ts.do("POST", "/sessions/alice/start"); w.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", w.Code)
	}
	if w := ts.do("POST", "/sessions/alice/finalize"); w.Code != http.StatusConflict {
		t.Errorf("early finalize status = %d, want 409", w.Code)
	}

	alice.walk(squareWalk()[1:])

	decode(t, ts.do("GET", "/sessions/alice"), &snap)
	if snap.State != territory.StateClosable || !snap.CanFinalize {
		t.Errorf("after the loop: state %s canFinalize %v", snap.State, snap.CanFinalize)
	}
	if snap.Points != len(squareWalk()) {
		t.Errorf("points = %d, want %d", snap.Points, len(squareWalk()))
	}

	w = ts.do("POST", "/sessions/alice/finalize")
	if w.Code != http.StatusCreated {
		t.Fatalf("finalize status = %d (%s)", w.Code, w.Body.String())
	}
	var res territory.SubmitResult
	decode(t, w, &res)
	if res.Conquest.OwnerID != "alice" || res.Conquest.Area < 2250 || res.Conquest.Area > 2750 {
		t.Errorf("conquest = %+v", res.Conquest)
	}
	if res.Conflicts == nil {
		t.Error("conflicts should be an empty list, not null")
	}

	decode(t, ts.do("GET", "/sessions/alice"), &snap)
	if snap.State != territory.StateIdle {
		t.Errorf("after finalize state = %s, want idle", snap.State)
	}

	var stored []territory.Conquest
	decode(t, ts.do("GET", "/conquests?owner=alice"), &stored)
	if len(stored) != 1 {
		t.Errorf("stored %d conquests, want 1", len(stored))
	}
}

func TestSessionFinalize_RecordsConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "bob", territory.DestinationPoint(territory.DestinationPoint(testOrigin, 90, 35), 0, 35), 50)

	alice := ts.providers["alice"]
	alice.set(accurateFix(testOrigin), nil)
	if w := ts.do("POST", "/sessions/alice/start"); w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}
	alice.walk(squareWalk()[1:])

	w := ts.do("POST", "/sessions/alice/finalize")
	if w.Code != http.StatusCreated {
		t.Fatalf("finalize status = %d (%s)", w.Code, w.Body.String())
	}
	var res territory.SubmitResult
	decode(t, w, &res)
	if len(res.Conflicts) != 1 || res.Conflicts[0].VictimID != "bob" {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}

	var bobs []territory.TerritoryConflict
	decode(t, ts.do("GET", "/conflicts?victim=bob"), &bobs)
	if len(bobs) != 1 || bobs[0].InvaderID != "alice" {
		t.Errorf("bob's conflicts = %+v", bobs)
	}
}

func TestSessionStop(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do("POST", "/sessions/alice/stop"); w.Code != http.StatusConflict {
		t.Errorf("stop while idle status = %d, want 409", w.Code)
	}

	ts.providers["alice"].set(accurateFix(testOrigin), nil)
	if w := ts.do("POST", "/sessions/alice/start?mode=livre"); w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}
	ts.providers["alice"].walk(squareWalk()[1:4])

	if w := ts.do("POST", "/sessions/alice/stop"); w.Code != http.StatusNoContent {
		t.Errorf("stop status = %d, want 204", w.Code)
	}

	var snap territory.Snapshot
	decode(t, ts.do("GET", "/sessions/alice"), &snap)
	if snap.State != territory.StateIdle || snap.Points != 0 {
		t.Errorf("after stop: %+v", snap)
	}

	var stored []territory.Conquest
	decode(t, ts.do("GET", "/conquests"), &stored)
	if len(stored) != 0 {
		t.Errorf("a stopped recording must not be saved, got %d", len(stored))
	}
}

func TestSessionSnapshot_UnknownPlayer(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do("GET", "/sessions/mallory"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
