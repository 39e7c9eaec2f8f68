package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreMemory  = "memory"
	StoreLevelDB = "leveldb"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Listen            string
	MetricsListen     string
	AllowedOrigins    []string
	Store             string
	DataDir           string
	LevelDBCacheMB    int
	LevelDBSync       bool
	MaxSwapIterations int
	EventBuffer       uint
	Fund              []Grant
	LogLevel          string
	ServerURL         string
}

// Grant is a balance credited to an account when the server starts.
type Grant struct {
	Account common.Address
	Token   common.Address
	Amount  uint64
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", "127.0.0.1:8545")
	v.SetDefault("metrics-listen", "127.0.0.1:9090")
	v.SetDefault("allowed-origins", []string{"*"})
	v.SetDefault("store", StoreMemory)
	v.SetDefault("data-dir", "./data/clmm")
	v.SetDefault("leveldb-cache-mb", 16)
	v.SetDefault("leveldb-sync", false)
	v.SetDefault("max-swap-iterations", 64)
	v.SetDefault("event-buffer", 256)
	v.SetDefault("log-level", "info")
	v.SetDefault("server", "ws://127.0.0.1:8545")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("clmm")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	grants, err := parseGrants(getStringSlice(v, "fund"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Listen:            v.GetString("listen"),
		MetricsListen:     v.GetString("metrics-listen"),
		AllowedOrigins:    getStringSlice(v, "allowed-origins"),
		Store:             strings.ToLower(v.GetString("store")),
		DataDir:           v.GetString("data-dir"),
		LevelDBCacheMB:    v.GetInt("leveldb-cache-mb"),
		LevelDBSync:       v.GetBool("leveldb-sync"),
		MaxSwapIterations: v.GetInt("max-swap-iterations"),
		EventBuffer:       v.GetUint("event-buffer"),
		Fund:              grants,
		LogLevel:          v.GetString("log-level"),
		ServerURL:         v.GetString("server"),
	}
	return cfg, nil
}

// Validate checks the values the server needs.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreLevelDB:
		if c.DataDir == "" {
			return errors.New("config: data-dir is required for the leveldb store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if c.MaxSwapIterations < 0 {
		return errors.New("config: max-swap-iterations cannot be negative")
	}
	if c.EventBuffer < 1 {
		return errors.New("config: event-buffer must be greater than 0")
	}
	return nil
}

// parseGrants reads "account:token:amount" entries.
func parseGrants(items []string) ([]Grant, error) {
	grants := make([]Grant, 0, len(items))
	for _, item := range items {
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("fund %q: want account:token:amount", item)
		}
		if !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("fund %q: invalid address", item)
		}
		amount, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("fund %q: %w", item, err)
		}
		grants = append(grants, Grant{
			Account: common.HexToAddress(parts[0]),
			Token:   common.HexToAddress(parts[1]),
			Amount:  amount,
		})
	}
	return grants, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
