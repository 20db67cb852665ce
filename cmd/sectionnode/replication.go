package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sectionnet/core"
)

const defaultReplicationConfigPath = "cmd/sectionnode/config/replication.yaml"

// loadReplicationConfig reads the ReplicationConfig YAML file, matching the
// teacher's testnetStart pattern of unmarshalling a domain config straight
// from disk (no viper/mapstructure involved — this one is small and
// operator-editable independently of the rest of the node config). Falls
// back to a conservative default if the file is absent.
func loadReplicationConfig(path string) (*core.ReplicationConfig, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &core.ReplicationConfig{
			MaxConcurrent:  8,
			RetryBackoff:   2 * time.Second,
			Fanout:         3,
			RequestTimeout: 5 * time.Second,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read replication config: %w", err)
	}
	var cfg core.ReplicationConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse replication config: %w", err)
	}
	return &cfg, nil
}
