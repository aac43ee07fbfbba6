package config

import (
	"github.com/spf13/pflag"
)

// LedgerConfig holds configuration for the ledger command.
type LedgerConfig struct {
	In        string
	ChainID   uint64
	Store     StoreConfig
	BatchSize int
	Recompute bool
	LogLevel  string
}

// LoadLedger merges config file, environment variables, and flags into LedgerConfig.
func LoadLedger(cfgFile string, flags *pflag.FlagSet) (LedgerConfig, error) {
	v, err := newViper(cfgFile, flags, storeDefaults(map[string]interface{}{
		"in":         "./data/typed_events.jsonl",
		"batch-size": 500,
		"chain-id":   uint64(1),
	}, StoreFile))
	if err != nil {
		return LedgerConfig{}, err
	}

	return LedgerConfig{
		In:        v.GetString("in"),
		ChainID:   v.GetUint64("chain-id"),
		Store:     loadStore(v),
		BatchSize: v.GetInt("batch-size"),
		Recompute: v.GetBool("recompute"),
		LogLevel:  v.GetString("log-level"),
	}, nil
}
