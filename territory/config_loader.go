package territory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns a config with no players, an in-memory store and
// default thresholds.
func DefaultConfig() *Config {
	return &Config{
		MQTT:       MQTTConfig{PublishPrefix: "turfwar", ClientID: "turfwar"},
		Thresholds: DefaultThresholds(),
	}
}

// LoadConfig loads the unified configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	config.Thresholds = config.Thresholds.WithDefaults()
	if dbPath := os.Getenv("TURFWAR_DB"); dbPath != "" {
		config.Database.Path = dbPath
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	seen := make(map[string]bool, len(config.Players))
	for i, pc := range config.Players {
		if pc.ID == "" {
			return fmt.Errorf("players[%d].id is required", i)
		}
		if pc.Topic == "" {
			return fmt.Errorf("players[%d].topic is required for %s", i, pc.ID)
		}
		if seen[pc.ID] {
			return fmt.Errorf("players[%d].id %q is duplicated", i, pc.ID)
		}
		seen[pc.ID] = true
	}

	// MQTT players make no sense without a broker unless the env var provides one
	if len(config.Players) > 0 && config.MQTT.Broker == "" && os.Getenv("MQTT_BROKER") == "" {
		return fmt.Errorf("mqtt.broker is required when players are configured")
	}

	th := config.Thresholds
	checks := []struct {
		name  string
		value float64
	}{
		{"accuracyMeters", th.AccuracyMeters},
		{"movementMeters", th.MovementMeters},
		{"closureRadiusMeters", th.ClosureRadiusMeters},
		{"minLoopMeters", th.MinLoopMeters},
		{"finalizeMinMeters", th.FinalizeMinMeters},
		{"livreUnlockMeters", th.LivreUnlockMeters},
		{"corridorRadiusMeters", th.CorridorRadiusMeters},
		{"conflictMinAreaSqm", th.ConflictMinAreaSqm},
		{"metersPerDegree", th.MetersPerDegree},
		{"smoothingWindow", float64(th.SmoothingWindow)},
		{"simplifyToleranceMeters", th.SimplifyToleranceMeters},
	}
	for _, c := range checks {
		if c.value < 0 {
			return fmt.Errorf("thresholds.%s must not be negative (got %g)", c.name, c.value)
		}
	}

	if config.Tracking.TickInterval < 0 {
		return fmt.Errorf("tracking.tickInterval must not be negative")
	}

	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
