package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwv/turfwar/store"
	"github.com/kwv/turfwar/territory"
)

var testOrigin = territory.GeoPoint{Lat: 38.7223, Lng: -9.1393}

// squareWalk walks 50 m east, north and west, then 40 m back south, in 10 m steps.
func squareWalk() []territory.GeoPoint {
	walk := []territory.GeoPoint{testOrigin}
	legs := []struct {
		bearing float64
		steps   int
	}{{90, 5}, {0, 5}, {270, 5}, {180, 4}}
	for _, leg := range legs {
		for i := 0; i < leg.steps; i++ {
			walk = append(walk, territory.DestinationPoint(walk[len(walk)-1], leg.bearing, 10))
		}
	}
	return walk
}

// writeWalk saves a walk in the replay JSON format.
func writeWalk(t *testing.T, dir string, walk []territory.GeoPoint) string {
	t.Helper()
	rows := make([]map[string]interface{}, len(walk))
	for i, p := range walk {
		rows[i] = map[string]interface{}{
			"lat":       p.Lat,
			"lng":       p.Lng,
			"accuracy":  5,
			"timestamp": int64(1714557600000) + int64(i)*5000,
		}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		t.Fatalf("marshal walk: %v", err)
	}
	path := filepath.Join(dir, "walk.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write walk: %v", err)
	}
	return path
}

func writeTestConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	if app == nil {
		t.Fatal("NewApp returned nil")
		return
	}
	if app.Store != nil || app.Sessions != nil {
		t.Error("NewApp should not open anything yet")
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	opts := AppOptions{
		DataDir:    "/test/data",
		ConfigFile: "test-config.yaml",
		HttpPort:   8081,
		MqttMode:   true,
		HttpMode:   false,
		ReplayFile: "walk.json",
		Owner:      "alice",
		Mode:       "livre",
		Smooth:     true,
	}

	app.ApplyOptions(opts)

	if app.DataDir != "/test/data" {
		t.Errorf("DataDir = %s, want /test/data", app.DataDir)
	}
	if app.ConfigFile != "test-config.yaml" {
		t.Errorf("ConfigFile = %s, want test-config.yaml", app.ConfigFile)
	}
	if app.HttpPort != 8081 {
		t.Errorf("HttpPort = %d, want 8081", app.HttpPort)
	}
	if !app.MqttMode {
		t.Error("MqttMode should be true")
	}
	if app.HttpMode {
		t.Error("HttpMode should be false")
	}
	if app.Owner != "alice" {
		t.Errorf("Owner = %s, want alice", app.Owner)
	}
	if app.Mode != "livre" {
		t.Errorf("Mode = %s, want livre", app.Mode)
	}
	if !app.Smooth {
		t.Error("Smooth should be true")
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		dataDir string
		config  string
		want    string
	}{
		{"default data dir", ".", "config.yaml", "config.yaml"},
		{"empty data dir", "", "config.yaml", "config.yaml"},
		{"default file under data dir", "/data", "config.yaml", filepath.Join("/data", "config.yaml")},
		{"explicit file wins", "/data", "/etc/turfwar.yaml", "/etc/turfwar.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &App{DataDir: tt.dataDir, ConfigFile: tt.config}
			if got := app.resolveConfigPath(); got != tt.want {
				t.Errorf("resolveConfigPath() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TURFWAR_DB", "")

	t.Run("missing file is optional", func(t *testing.T) {
		app := &App{DataDir: t.TempDir(), ConfigFile: "config.yaml"}
		if err := app.loadConfig(true); err != nil {
			t.Fatalf("loadConfig(true) failed: %v", err)
		}
		if app.Config == nil || app.Config.Thresholds.AccuracyMeters != 20 {
			t.Errorf("expected default config, got %+v", app.Config)
		}
	})

	t.Run("missing file is required", func(t *testing.T) {
		app := &App{DataDir: t.TempDir(), ConfigFile: "config.yaml"}
		err := app.loadConfig(false)
		if err == nil {
			t.Fatal("expected an error")
		}
		if !strings.Contains(err.Error(), "looked at") {
			t.Errorf("error should name the path, got: %v", err)
		}
	})

	t.Run("invalid file is never optional", func(t *testing.T) {
		dir := t.TempDir()
		writeTestConfig(t, dir, "players:\n  - id: alice\n")
		app := &App{DataDir: dir, ConfigFile: "config.yaml"}
		if err := app.loadConfig(true); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("loads from data dir", func(t *testing.T) {
		dir := t.TempDir()
		writeTestConfig(t, dir, "database:\n  path: game.db\nthresholds:\n  closureRadiusMeters: 20\n")
		app := &App{DataDir: dir, ConfigFile: "config.yaml"}
		if err := app.loadConfig(false); err != nil {
			t.Fatalf("loadConfig failed: %v", err)
		}
		if app.Config.Database.Path != "game.db" {
			t.Errorf("Database.Path = %s, want game.db", app.Config.Database.Path)
		}
		if app.Config.Thresholds.ClosureRadiusMeters != 20 {
			t.Errorf("ClosureRadiusMeters = %g, want 20", app.Config.Thresholds.ClosureRadiusMeters)
		}
	})
}

func TestOpenStore_Memory(t *testing.T) {
	app := &App{Config: territory.DefaultConfig()}
	if err := app.openStore(); err != nil {
		t.Fatalf("openStore failed: %v", err)
	}
	if _, ok := app.Store.(*territory.MemoryStore); !ok {
		t.Errorf("expected a MemoryStore, got %T", app.Store)
	}
	if err := app.closeStore(); err != nil {
		t.Errorf("closeStore: %v", err)
	}
}

func TestOpenStore_SQLiteUnderDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := territory.DefaultConfig()
	cfg.Database.Path = "turfwar.db"
	app := &App{Config: cfg, DataDir: dir}

	if err := app.openStore(); err != nil {
		t.Fatalf("openStore failed: %v", err)
	}
	defer app.closeStore()

	if _, ok := app.Store.(*store.DB); !ok {
		t.Errorf("expected a *store.DB, got %T", app.Store)
	}
	if _, err := os.Stat(filepath.Join(dir, "turfwar.db")); err != nil {
		t.Errorf("database file not created under data dir: %v", err)
	}
}

func TestWire_SessionsNeedMQTT(t *testing.T) {
	app := &App{Config: territory.DefaultConfig()}
	if err := app.openStore(); err != nil {
		t.Fatalf("openStore failed: %v", err)
	}
	app.wire()
	if app.Service == nil || app.Sessions == nil {
		t.Fatal("wire should build the service and the session manager")
	}

	_, err := app.Sessions.Start(context.Background(), "alice", territory.ModeDominio)
	if err == nil || !strings.Contains(err.Error(), "--mqtt") {
		t.Errorf("expected a missing location source error, got %v", err)
	}
	app.shutdown(nil)
}

func TestRunReplay_PrintOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeWalk(t, dir, squareWalk())

	app := &App{DataDir: dir, ConfigFile: "config.yaml", Mode: "dominio"}
	app.RunReplay(path)

	if app.Store != nil {
		t.Error("no store should be opened without --owner")
	}
}

func TestRunReplay_SavesClaim(t *testing.T) {
	t.Setenv("TURFWAR_DB", "")
	dir := t.TempDir()
	writeTestConfig(t, dir, "database:\n  path: turfwar.db\n")
	path := writeWalk(t, dir, squareWalk())

	app := &App{DataDir: dir, ConfigFile: "config.yaml", Mode: "dominio", Owner: "alice"}
	app.RunReplay(path)

	db, err := store.Open(filepath.Join(dir, "turfwar.db"))
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer db.Close()

	conquests, err := db.ListByOwner(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(conquests) != 1 {
		t.Fatalf("expected 1 saved conquest, got %d", len(conquests))
	}
	c := conquests[0]
	if c.Mode != territory.ModeDominio {
		t.Errorf("Mode = %s, want dominio", c.Mode)
	}
	if c.Area < 2250 || c.Area > 2750 {
		t.Errorf("Area = %d, want about 2500", c.Area)
	}
	if c.Duration == nil || *c.Duration != int64(5*(len(squareWalk())-1)) {
		t.Errorf("Duration = %v, want %d", c.Duration, 5*(len(squareWalk())-1))
	}
}
