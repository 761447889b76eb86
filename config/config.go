package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GenesisConfig describes the registry's initial state.
type GenesisConfig struct {
	ChainID string            `json:"chain_id" yaml:"chain_id"`
	Alloc   map[string]uint64 `json:"alloc" yaml:"alloc"`     // address → initial system-token balance
	Issuers []string          `json:"issuers" yaml:"issuers"` // accounts allowed to mint system fungibles
	Brands  []string          `json:"brands" yaml:"brands"`   // accounts whose brand token exists from genesis
}

// TLSConfig holds the PEM paths for serving RPC over TLS. CACert is optional;
// when set, clients must present a certificate it signed.
type TLSConfig struct {
	CACert   string `json:"ca_cert" yaml:"ca_cert"`
	NodeCert string `json:"node_cert" yaml:"node_cert"`
	NodeKey  string `json:"node_key" yaml:"node_key"`
}

// Config holds all node configuration.
type Config struct {
	NodeID       string        `json:"node_id" yaml:"node_id"`
	DataDir      string        `json:"data_dir" yaml:"data_dir"`
	RPCPort      int           `json:"rpc_port" yaml:"rpc_port"`
	RPCAuthToken string        `json:"rpc_auth_token" yaml:"rpc_auth_token"` // empty → write methods open
	SealMS       int           `json:"seal_ms" yaml:"seal_ms"`               // sealing interval; 0 → 1000
	MaxBlockTxs  int           `json:"max_block_txs" yaml:"max_block_txs"`   // max transactions per block; 0 → 500
	TLS          *TLSConfig    `json:"tls,omitempty" yaml:"tls,omitempty"`
	Genesis      GenesisConfig `json:"genesis" yaml:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "node0",
		DataDir:     "./data",
		RPCPort:     8545,
		SealMS:      1000,
		MaxBlockTxs: 500,
		Genesis: GenesisConfig{
			ChainID: "tradepost-dev",
			Alloc:   map[string]uint64{},
		},
	}
}

// Load reads a config file from path. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON. Missing fields keep defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
