// Package config provides a reusable loader for section-node configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"sectionnet/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a section node. It mirrors
// the structure of the YAML files under cmd/sectionnode/config.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
	} `mapstructure:"network" json:"network"`

	Membership struct {
		ElderSize           int `mapstructure:"elder_size" json:"elder_size"`
		JoinTimeoutSeconds  int `mapstructure:"join_timeout_seconds" json:"join_timeout_seconds"`
		DKGTimeoutSeconds   int `mapstructure:"dkg_timeout_seconds" json:"dkg_timeout_seconds"`
		ResourceProofRounds int `mapstructure:"resource_proof_rounds" json:"resource_proof_rounds"`
	} `mapstructure:"membership" json:"membership"`

	AntiEntropy struct {
		MaxRounds            int `mapstructure:"max_rounds" json:"max_rounds"`
		BackoffInitialMillis int `mapstructure:"backoff_initial_millis" json:"backoff_initial_millis"`
		BackoffCapSeconds    int `mapstructure:"backoff_cap_seconds" json:"backoff_cap_seconds"`
		BackoffResetSeconds  int `mapstructure:"backoff_reset_seconds" json:"backoff_reset_seconds"`
	} `mapstructure:"anti_entropy" json:"anti_entropy"`

	Messaging struct {
		QuerySubsetSize    int `mapstructure:"query_subset_size" json:"query_subset_size"`
		QueryTimeoutSecond int `mapstructure:"query_timeout_seconds" json:"query_timeout_seconds"`
		AggregationTTLSec  int `mapstructure:"aggregation_ttl_seconds" json:"aggregation_ttl_seconds"`
	} `mapstructure:"messaging" json:"messaging"`

	Storage struct {
		MinEncryptableBytes      int `mapstructure:"min_encryptable_bytes" json:"min_encryptable_bytes"`
		ReplicationFactor        int `mapstructure:"replication_factor" json:"replication_factor"`
		DataBatchIntervalMillis  int `mapstructure:"data_batch_interval_millis" json:"data_batch_interval_millis"`
		ClientCacheEntries       int `mapstructure:"client_cache_entries" json:"client_cache_entries"`
		MaxConcurrentPerSource   int `mapstructure:"max_concurrent_replications_per_source" json:"max_concurrent_replications_per_source"`
	} `mapstructure:"storage" json:"storage"`

	Gateway struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"gateway" json:"gateway"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/sectionnode/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // environment variables named after config keys; no prefix, no .env file

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SECTIONNET_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SECTIONNET_ENV", ""))
}
