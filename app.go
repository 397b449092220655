package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/kwv/turfwar/store"
	"github.com/kwv/turfwar/territory"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *territory.Config
	Store      territory.Store
	Service    *territory.ConquestService
	Sessions   *territory.SessionManager
	MQTTClient *territory.MQTTClient
	Publisher  *territory.Publisher

	closeStore func() error

	// CLI Flags (effectively dependencies)
	ConfigFile string
	DataDir    string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool
	Owner      string
	Mode       string
	Smooth     bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.Owner = opts.Owner
	a.Mode = opts.Mode
	a.Smooth = opts.Smooth
}

// resolveConfigPath puts a default config path under data-dir.
func (a *App) resolveConfigPath() string {
	if a.DataDir != "" && a.DataDir != "." && a.ConfigFile == "config.yaml" {
		return filepath.Join(a.DataDir, "config.yaml")
	}
	return a.ConfigFile
}

// loadConfig reads the config file. When optional is set a missing file
// falls back to the defaults.
func (a *App) loadConfig(optional bool) error {
	path := a.resolveConfigPath()
	config, err := territory.LoadConfig(path)
	if err != nil {
		if _, statErr := os.Stat(path); optional && os.IsNotExist(statErr) {
			log.Printf("No config at %s, using defaults", path)
			a.Config = territory.DefaultConfig()
			return nil
		}
		return fmt.Errorf("%w (looked at %s)", err, path)
	}
	a.Config = config
	log.Printf("Loaded config from %s", path)
	return nil
}

// openStore opens the sqlite database when one is configured, otherwise an
// in-memory store.
func (a *App) openStore() error {
	path := a.Config.Database.Path
	if path == "" {
		log.Println("[STORE] no database configured, conquests are kept in memory")
		a.Store = territory.NewMemoryStore()
		a.closeStore = func() error { return nil }
		return nil
	}
	if !filepath.IsAbs(path) && a.DataDir != "" {
		path = filepath.Join(a.DataDir, path)
	}
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	a.Store = db
	a.closeStore = db.Close
	return nil
}

// wire builds the conquest service and session manager on top of the store.
func (a *App) wire() {
	var notifier territory.Notifier
	if a.Publisher != nil {
		notifier = a.Publisher
	}
	a.Service = territory.NewConquestService(a.Store, a.Store, a.Config.Thresholds, notifier)

	providers := func(ownerID string) (territory.LocationProvider, error) {
		if a.MQTTClient == nil {
			return nil, errors.New("no location source: start with --mqtt")
		}
		return a.MQTTClient.Provider(ownerID)
	}
	a.Sessions = territory.NewSessionManager(providers, a.Service, territory.SessionOptions{
		Thresholds:   a.Config.Thresholds,
		TickInterval: a.Config.TickInterval(),
		Smooth:       a.Smooth,
		OnEvent: func(ev territory.SessionEvent) {
			log.Printf("[SESSION] %s -> %s (%.0f m, %d points)",
				ev.Snapshot.OwnerID, ev.State, ev.Snapshot.DistanceMeters, ev.Snapshot.Points)
		},
	})
}

// RunService runs MQTT tracking and/or the HTTP API until interrupted.
func (a *App) RunService() {
	fmt.Println("Starting turfwar service...")

	if err := a.loadConfig(!a.MqttMode); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := a.openStore(); err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	if a.MqttMode {
		mqttClient, err := territory.InitMQTT(a.Config)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		if mqttClient == nil {
			log.Fatal("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient
		a.Publisher = territory.NewPublisher(mqttClient.GetClient(), a.Config.MQTT.PublishPrefix)
		fmt.Println("MQTT event publisher initialized")
	}

	a.wire()

	var srv *http.Server
	if a.HttpMode {
		srv = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.Store, a.Sessions, a.MQTTClient),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Location topics:")
		for _, p := range a.Config.Players {
			fmt.Printf("    - %s (%s)\n", p.Topic, p.ID)
		}
		prefix := a.Config.MQTT.PublishPrefix
		if prefix == "" {
			prefix = "turfwar"
		}
		fmt.Printf("  Conquests: %s/conquests/{ownerId}\n", prefix)
		fmt.Printf("  Conflicts: %s/conflicts/{victimId}\n", prefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET  /health                     - Health check")
		fmt.Println("  GET  /conquests[?owner=]         - Stored conquests")
		fmt.Println("  GET  /conquests.geojson          - Conquests and conflicts as GeoJSON")
		fmt.Println("  GET  /conflicts?victim=          - Conflicts suffered by a player")
		fmt.Println("  POST /conflicts/{id}/read        - Mark a conflict read")
		fmt.Println("  POST /sessions/{owner}/start     - Start recording (?mode=livre|dominio)")
		fmt.Println("  POST /sessions/{owner}/finalize  - Finalize and save the claim")
		fmt.Println("  POST /sessions/{owner}/stop      - Discard the recording")
		fmt.Println("  GET  /sessions/{owner}           - Session state")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down service...")
	a.shutdown(srv)
	fmt.Println("Service stopped")
}

func (a *App) shutdown(srv *http.Server) {
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[HTTP] shutdown: %v", err)
		}
	}
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			log.Printf("[STORE] close: %v", err)
		}
	}
}

// RunReplay runs a recorded walk through the engine and prints the claim.
// With --owner the claim is saved and checked for conflicts.
func (a *App) RunReplay(path string) {
	mode, ok := territory.ParseCaptureMode(a.Mode)
	if !ok {
		log.Fatalf("Unknown mode %q (want dominio or livre)", a.Mode)
	}
	if err := a.loadConfig(true); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fixes, err := territory.LoadFixes(path)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", path, err)
	}

	res := territory.Replay(fixes, mode, a.Config.Thresholds, a.Smooth)
	printReplay(path, len(fixes), res)

	if a.Owner == "" || res.Eligible != nil {
		return
	}

	draft, err := res.Draft(a.Owner)
	if err != nil {
		log.Fatalf("Cannot save claim: %v", err)
	}
	if err := a.openStore(); err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer a.closeStore()
	a.wire()

	saved, err := a.Service.Submit(context.Background(), draft)
	if err != nil {
		log.Fatalf("Failed to save claim: %v", err)
	}
	fmt.Printf("\nSaved conquest %s for %s\n", saved.Conquest.ID, saved.Conquest.OwnerID)
	for _, c := range saved.Conflicts {
		fmt.Printf("  Conflict: %d m² of %s\n", c.AreaInvaded, c.Label)
	}
}

func printReplay(path string, total int, res territory.ReplayResult) {
	fmt.Printf("=== %s ===\n", filepath.Base(path))
	fmt.Printf("Mode: %s\n", res.Mode)
	fmt.Printf("Fixes: %d total, %d accepted\n", total, res.Accepted)

	reasons := make([]territory.FilterResult, 0, len(res.Rejected))
	for r := range res.Rejected {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	for _, r := range reasons {
		fmt.Printf("  %s: %d\n", r, res.Rejected[r])
	}

	fmt.Printf("Distance: %.1f m\n", res.Distance)
	if res.Mode == territory.ModeDominio {
		fmt.Printf("Closable: %v\n", res.Closable)
	}
	if res.Duration != nil {
		fmt.Printf("Duration: %ds\n", *res.Duration)
	}
	if res.Eligible != nil {
		fmt.Printf("Not finalizable: %v\n", res.Eligible)
		return
	}
	fmt.Printf("Claim: %s strategy, %d vertices, %d m²\n", res.Claim.Strategy, len(res.Claim.Path), res.Claim.Area)
}
