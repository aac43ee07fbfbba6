package config

import (
	"github.com/spf13/pflag"
)

// ScanConfig holds configuration for the scan command.
type ScanConfig struct {
	RPC               RPCConfig
	PositionManager   string
	TokenIDs          []string
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Out               string
	Checkpoint        string
	CheckpointEnabled bool
	PGDSN             string
	LogLevel          string
}

// LoadScan merges config file, environment variables, and flags into ScanConfig.
func LoadScan(cfgFile string, flags *pflag.FlagSet) (ScanConfig, error) {
	v, err := newViper(cfgFile, flags, rpcDefaults(map[string]interface{}{
		"position-manager":   DefaultPositionManager,
		"batch-size":         uint64(2000),
		"out":                "./data/logs.jsonl",
		"checkpoint":         "./data/checkpoint.json",
		"checkpoint-enabled": true,
	}))
	if err != nil {
		return ScanConfig{}, err
	}

	return ScanConfig{
		RPC:               loadRPC(v),
		PositionManager:   v.GetString("position-manager"),
		TokenIDs:          getStringSlice(v, "token-id"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Out:               v.GetString("out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		PGDSN:             v.GetString("pg-dsn"),
		LogLevel:          v.GetString("log-level"),
	}, nil
}
