package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// DefaultPositionManager is the Uniswap V3 NonfungiblePositionManager on Ethereum mainnet.
const DefaultPositionManager = "0xC36442b4a4522E871399CD717aBDD847Ab11FE88"

// FeesConfig holds configuration for the fees command.
type FeesConfig struct {
	RPC               RPCConfig
	PositionManager   string
	Factory           string
	TokenIDs          []string
	PoolPositions     []string
	Block             uint64
	Concurrency       int
	SanityCeilingBits uint
	ProtocolLaunch    string
	Store             StoreConfig
	Out               string
	LogLevel          string
}

// LoadFees merges config file, environment variables, and flags into FeesConfig.
func LoadFees(cfgFile string, flags *pflag.FlagSet) (FeesConfig, error) {
	v, err := newViper(cfgFile, flags, storeDefaults(rpcDefaults(map[string]interface{}{
		"position-manager":    DefaultPositionManager,
		"concurrency":         8,
		"sanity-ceiling-bits": uint(200),
	}), StoreFile))
	if err != nil {
		return FeesConfig{}, err
	}

	return FeesConfig{
		RPC:               loadRPC(v),
		PositionManager:   v.GetString("position-manager"),
		Factory:           v.GetString("factory"),
		TokenIDs:          getStringSlice(v, "token-id"),
		PoolPositions:     getStringSlice(v, "pool-position"),
		Block:             v.GetUint64("block"),
		Concurrency:       v.GetInt("concurrency"),
		SanityCeilingBits: v.GetUint("sanity-ceiling-bits"),
		ProtocolLaunch:    v.GetString("protocol-launch"),
		Store:             loadStore(v),
		Out:               v.GetString("out"),
		LogLevel:          v.GetString("log-level"),
	}, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, nil
	}

	if isNumeric(input) {
		return strconv.ParseUint(input, 10, 64)
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
