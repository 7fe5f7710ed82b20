package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// GenesisAllocation seeds an account balance at first start so contracts can
// be funded on a fresh data directory.
type GenesisAllocation struct {
	Address string `toml:"Address"`
	Asset   string `toml:"Asset"`
	Amount  uint64 `toml:"Amount"`
}

type Config struct {
	RPCAddress     string              `toml:"RPCAddress"`
	DataDir        string              `toml:"DataDir"`
	NetworkName    string              `toml:"NetworkName"`
	Environment    string              `toml:"Environment"`
	RPCAuthToken   string              `toml:"RPCAuthToken"`
	LogFile        string              `toml:"LogFile"`
	LogMaxSizeMB   int                 `toml:"LogMaxSizeMB"`
	LogMaxBackups  int                 `toml:"LogMaxBackups"`
	GenesisBalance []GenesisAllocation `toml:"GenesisBalance"`
}

// Load reads the configuration from the given path, creating a commented
// default file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "payguard-local"
	}
	if cfg.GenesisBalance == nil {
		cfg.GenesisBalance = []GenesisAllocation{}
	}

	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     "127.0.0.1:8645",
		DataDir:        "./payguard-data",
		NetworkName:    "payguard-local",
		Environment:    "dev",
		GenesisBalance: []GenesisAllocation{},
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("could not create default config: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(defaultConfigHeader); err != nil {
		return nil, err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultConfigHeader = `# PayGuard node configuration.
# RPCAuthToken guards mutating RPC methods; leave empty to disable writes.
# GenesisBalance entries seed balances on a fresh data directory, e.g.
#   [[GenesisBalance]]
#   Address = "pg1..."
#   Asset = "PGC"
#   Amount = 1000000
`
