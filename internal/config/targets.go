package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// targetsFile is the on-disk layout of MONITOR_TARGETS_FILE:
//
//	targets:
//	  - name: api
//	    url: https://api.example.com/health
//	    cloud_run_service: chatterfix-api
//	    recovery: gcloud
type targetsFile struct {
	Targets []TargetConfig `yaml:"targets"`
}

// LoadTargetsFile reads monitored services from a YAML file
func LoadTargetsFile(path string) ([]TargetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}

	var tf targetsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse targets file: %w", err)
	}

	for i, t := range tf.Targets {
		if t.Name == "" || t.URL == "" {
			return nil, fmt.Errorf("target %d: name and url are required", i)
		}
	}
	return tf.Targets, nil
}

// ApplyTargetsFile replaces the configured targets with those from TargetsFile, if set.
func (c *Config) ApplyTargetsFile() error {
	if c.Monitor.TargetsFile == "" {
		return nil
	}
	targets, err := LoadTargetsFile(c.Monitor.TargetsFile)
	if err != nil {
		return err
	}
	if len(targets) > 0 {
		c.Monitor.Targets = targets
	}
	return nil
}
