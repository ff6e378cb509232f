package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultNetwork        = "sepolia"
	DefaultRPCURLTemplate = "https://{network}.infura.io/v3/{apiKey}"
	DefaultKeysPath       = "./keys"
	DefaultCompilerURL    = "https://solc-bin.ethereum.org/api/compiler"

	networkPlaceholder = "{network}"
	apiKeyPlaceholder  = "{apiKey}"
)

// Config is the process-wide configuration. It is built once by Load and
// shared by pointer; nothing mutates it afterwards.
type Config struct {
	InfuraAPIKey   string
	DefaultNetwork string
	RPCURLTemplate string
	CompilerURL    string
	LogLevel       string

	Keys KeysConfig
}

// KeysConfig controls where and how wallet records are persisted.
type KeysConfig struct {
	Path     string
	Encrypt  bool
	Password string
	LightKDF bool
}

var defaults = map[string]any{
	"infura_api_key":   "",
	"default_network":  DefaultNetwork,
	"rpc_url_template": DefaultRPCURLTemplate,
	"compiler_url":     DefaultCompilerURL,
	"log_level":        "info",
	"keys_path":        DefaultKeysPath,
	"encrypt_keys":     false,
	"key_password":     "",
	"light_kdf":        false,
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"api-key":   "infura_api_key",
	"network":   "default_network",
	"rpc-url":   "rpc_url_template",
	"keys-path": "keys_path",
	"log-level": "log_level",
}

// Load reads configuration from an optional file, the environment and the
// given flag set, in increasing order of precedence, and validates it.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Config{
		InfuraAPIKey:   v.GetString("infura_api_key"),
		DefaultNetwork: strings.ToLower(strings.TrimSpace(v.GetString("default_network"))),
		RPCURLTemplate: v.GetString("rpc_url_template"),
		CompilerURL:    v.GetString("compiler_url"),
		LogLevel:       v.GetString("log_level"),
		Keys: KeysConfig{
			Path:     v.GetString("keys_path"),
			Encrypt:  v.GetBool("encrypt_keys"),
			Password: v.GetString("key_password"),
			LightKDF: v.GetBool("light_kdf"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration that must stop the process at startup.
func (c *Config) Validate() error {
	var errs []error

	if c.InfuraAPIKey == "" {
		errs = append(errs, errors.New("INFURA_API_KEY is not set"))
	}
	if c.Keys.Encrypt && c.Keys.Password == "" {
		errs = append(errs, errors.New("KEY_PASSWORD is required when ENCRYPT_KEYS=true"))
	}
	if c.Keys.Path == "" {
		errs = append(errs, errors.New("KEYS_PATH must not be empty"))
	}
	if c.DefaultNetwork == "" {
		errs = append(errs, errors.New("DEFAULT_NETWORK must not be empty"))
	}
	if c.RPCURLTemplate == "" {
		errs = append(errs, errors.New("RPC_URL_TEMPLATE must not be empty"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// RPCURL expands the endpoint template for a network. An empty network
// selects the configured default.
func (c *Config) RPCURL(network string) string {
	return strings.NewReplacer(
		networkPlaceholder, c.Network(network),
		apiKeyPlaceholder, c.InfuraAPIKey,
	).Replace(c.RPCURLTemplate)
}

// Network returns network, or the default network when it is empty.
func (c *Config) Network(network string) string {
	if network == "" {
		return c.DefaultNetwork
	}
	return network
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	return level, nil
}
