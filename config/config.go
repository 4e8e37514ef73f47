package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gigescrow/crypto"
	"gigescrow/native/gig"

	"github.com/BurntSushi/toml"
)

// GenesisAlloc is one balance credited on first start, before any contract
// exists. Used to fund platform and test accounts.
type GenesisAlloc struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  uint64 `toml:"Amount"`
}

type Config struct {
	RPCAddress           string         `toml:"RPCAddress"`
	DataDir              string         `toml:"DataDir"`
	Env                  string         `toml:"Env"`
	PayToken             string         `toml:"PayToken"`
	ArbiterAddress       string         `toml:"ArbiterAddress"`
	ArbiterKeystorePath  string         `toml:"ArbiterKeystorePath"`
	RPCRequestsPerMinute float64        `toml:"RPCRequestsPerMinute"`
	RPCBurst             int            `toml:"RPCBurst"`
	GenesisAlloc         []GenesisAlloc `toml:"GenesisAlloc,omitempty"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists. When no arbiter address is configured a fresh key is
// generated, written to the keystore and its address persisted back into the
// file, so every deployment carries an explicit arbitration identity.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ArbiterAddress) == "" {
		if err := ensureArbiter(path, cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./gigescrow-data"
	}
	if strings.TrimSpace(cfg.PayToken) == "" {
		cfg.PayToken = "GIG"
	}
}

// Validate rejects configurations that cannot serve the protocol: an
// unsupported pay token or a malformed arbiter address.
func (c *Config) Validate() error {
	if _, err := gig.NormalizeToken(c.PayToken); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.Arbiter(); err != nil {
		return err
	}
	for i, alloc := range c.GenesisAlloc {
		if _, err := crypto.DecodeAddress(alloc.Address); err != nil {
			return fmt.Errorf("config: genesis alloc %d: %w", i, err)
		}
		if _, err := gig.NormalizeToken(alloc.Token); err != nil {
			return fmt.Errorf("config: genesis alloc %d: %w", i, err)
		}
	}
	return nil
}

// Arbiter decodes the configured arbitration identity.
func (c *Config) Arbiter() ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(c.ArbiterAddress))
	if err != nil {
		return [20]byte{}, fmt.Errorf("config: invalid arbiter address: %w", err)
	}
	return addr.Array(), nil
}

func ensureArbiter(configPath string, cfg *Config) error {
	keystorePath := cfg.ArbiterKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
		cfg.ArbiterAddress = key.PubKey().Address().String()
	} else if err != nil {
		return err
	} else {
		key, loadErr := crypto.LoadFromKeystore(keystorePath, "")
		if loadErr != nil {
			return loadErr
		}
		cfg.ArbiterAddress = key.PubKey().Address().String()
	}

	cfg.ArbiterKeystorePath = keystorePath
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file with a freshly
// generated arbiter identity.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress: ":8080",
		DataDir:    "./gigescrow-data",
		PayToken:   "GIG",
	}
	if err := ensureArbiter(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	return filepath.Join(dir, "arbiter.keystore")
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
