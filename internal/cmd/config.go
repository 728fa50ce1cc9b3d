package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// Config is the yaml application config. It carries the match-domain
// defaults a created match falls back to when the pre-match report
// leaves them out.
type Config struct {
	Match struct {
		HalfLengthMin int `yaml:"half_length_min"`
		Actions       []struct {
			Ref  string `yaml:"ref"`
			Name string `yaml:"name"`
			Goal string `yaml:"goal,omitempty"`
		} `yaml:"actions"`
	} `yaml:"match"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// matchDefaults converts yaml config to the domain default settings.
func matchDefaults(config *Config) models.MatchSettings {
	settings := models.MatchSettings{
		HalfLengthMin: config.Match.HalfLengthMin,
	}
	if settings.HalfLengthMin == 0 {
		settings.HalfLengthMin = 45
	}
	for _, action := range config.Match.Actions {
		settings.Actions = append(settings.Actions, models.TrackedAction{
			Ref:  action.Ref,
			Name: action.Name,
			Goal: action.Goal,
		})
	}
	return settings
}
