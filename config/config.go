package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"dealchain/crypto"
)

// ErrMissingPassphrase is returned when a keystore must be created but no
// passphrase was supplied.
var ErrMissingPassphrase = errors.New("config: keystore passphrase required")

type Config struct {
	RPCAddress         string            `toml:"RPCAddress" yaml:"rpc_address"`
	DataDir            string            `toml:"DataDir" yaml:"data_dir"`
	AuditDBPath        string            `toml:"AuditDBPath" yaml:"audit_db_path"`
	LogFile            string            `toml:"LogFile" yaml:"log_file"`
	Env                string            `toml:"Env" yaml:"env"`
	OperatorKeystore   string            `toml:"OperatorKeystore" yaml:"operator_keystore"`
	ChainID            int64             `toml:"ChainID" yaml:"chain_id"`
	ClaimPeriod        int64             `toml:"ClaimPeriod" yaml:"claim_period"`
	ProtocolFee        uint8             `toml:"ProtocolFee" yaml:"protocol_fee"`
	RetailerFee        uint8             `toml:"RetailerFee" yaml:"retailer_fee"`
	FeeRecipient       string            `toml:"FeeRecipient" yaml:"fee_recipient"`
	DepositAsset       string            `toml:"DepositAsset" yaml:"deposit_asset"`
	EscrowAccount      string            `toml:"EscrowAccount" yaml:"escrow_account"`
	MinDeposits        map[string]string `toml:"MinDeposits" yaml:"min_deposits"`
	RPCToken           string            `toml:"RPCToken" yaml:"rpc_token"`
	RPCAllowedOrigins  []string          `toml:"RPCAllowedOrigins" yaml:"rpc_allowed_origins"`
	RPCJWT             RPCJWT            `toml:"rpc_jwt" yaml:"rpc_jwt"`
	RateLimitPerMinute float64           `toml:"RateLimitPerMinute" yaml:"rate_limit_per_minute"`
	RateLimitBurst     int               `toml:"RateLimitBurst" yaml:"rate_limit_burst"`
	AllowMigrate       bool              `toml:"AllowMigrate" yaml:"allow_migrate"`
	AllowLedgerMint    bool              `toml:"AllowLedgerMint" yaml:"allow_ledger_mint"`
	Telemetry          Telemetry         `toml:"telemetry" yaml:"telemetry"`
	SignerPolicies     []SignerPolicy    `toml:"SignerPolicies,omitempty" yaml:"signer_policies,omitempty"`
	keystorePassphrase string
}

// Option customises Load.
type Option func(*Config)

// WithKeystorePassphrase sets the passphrase protecting the operator keystore.
func WithKeystorePassphrase(passphrase string) Option {
	return func(cfg *Config) { cfg.keystorePassphrase = passphrase }
}

// KeystorePassphrase returns the passphrase supplied through Load options.
func (c *Config) KeystorePassphrase() string { return c.keystorePassphrase }

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Load loads the configuration from the given path. A missing file is created
// with defaults and a fresh operator keystore.
func Load(path string, opts ...Option) (*Config, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, cfg.keystorePassphrase)
	}

	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
		}
	}

	applyDefaults(cfg)
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration written for a new node.
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./deal-data"
	}
	if strings.TrimSpace(cfg.AuditDBPath) == "" {
		cfg.AuditDBPath = filepath.Join(cfg.DataDir, "audit.db")
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "local"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.ClaimPeriod == 0 {
		cfg.ClaimPeriod = 24 * 60 * 60
	}
	if cfg.MinDeposits == nil {
		cfg.MinDeposits = map[string]string{
			"supplier": "1000",
			"retailer": "500",
		}
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 600
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 60
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = "dealsd"
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystore
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		if cfg.keystorePassphrase == "" {
			return ErrMissingPassphrase
		}
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, cfg.keystorePassphrase); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if cfg.OperatorKeystore != keystorePath {
		cfg.OperatorKeystore = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path, passphrase string) (*Config, error) {
	if passphrase == "" {
		return nil, ErrMissingPassphrase
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := Defaults()
	cfg.keystorePassphrase = passphrase
	cfg.OperatorKeystore = keystorePath
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "operator.keystore")
}
