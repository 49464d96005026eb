// Package config parses scheduler and agent configuration from JSON, the
// same shape we pass on the command line or read from a file.
package config

import (
	"encoding/json"
	"io/ioutil"

	"github.com/pkg/errors"
)

type SchedulerConfig struct {
	Addr             string   `json:"addr"`
	AdminAddr        string   `json:"adminAddr"`
	DBPath           string   `json:"dbPath"`
	Pools            []string `json:"pools"`
	CacheTTLHours    int      `json:"cacheTtlHours"`
	SweepSchedule    string   `json:"sweepSchedule"`
	SubmitRatePerSec float64  `json:"submitRatePerSec"`
	LogLevel         string   `json:"logLevel"`
	LogJSON          bool     `json:"logJson"`
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Addr:          ":9090",
		AdminAddr:     ":9091",
		DBPath:        "kiln.db",
		Pools:         []string{"default"},
		SweepSchedule: "@hourly",
		LogLevel:      "info",
	}
}

type AgentConfig struct {
	SchedulerURL string `json:"schedulerUrl"`
	Pool         string `json:"pool"`
	Name         string `json:"name"`
	LogLevel     string `json:"logLevel"`
	LogJSON      bool   `json:"logJson"`
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		SchedulerURL: "http://localhost:9090",
		Pool:         "default",
		LogLevel:     "info",
	}
}

// ParseSchedulerConfig overlays the JSON text, if any, on the defaults.
func ParseSchedulerConfig(text string) (SchedulerConfig, error) {
	cfg := DefaultSchedulerConfig()
	if text == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing scheduler config")
	}
	return cfg, nil
}

func LoadSchedulerConfig(path string) (SchedulerConfig, error) {
	if path == "" {
		return DefaultSchedulerConfig(), nil
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return DefaultSchedulerConfig(), errors.Wrapf(err, "reading config %s", path)
	}
	return ParseSchedulerConfig(string(raw))
}

func ParseAgentConfig(text string) (AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if text == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing agent config")
	}
	return cfg, nil
}
