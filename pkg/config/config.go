package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the resolved application configuration. Values come from the
// config file when one is given, then from environment variables, then from
// defaults.
type Config struct {
	DataDir        string // master key file and account registry live here
	DefaultAccount string // account used when a command names none

	LogLevel string
	LogFile  string

	RecvWindowMS  int  // signed request validity window
	SettleDelayMS int  // pause between chained transfer legs
	SpotBypass    bool // route unified spot orders through the plain spot surface

	// PartnerCodes overrides the built-in broker codes per segment.
	PartnerCodes map[string]string
}

var globalConfig *Config
var configFilePath string

// SetConfigPath sets the file Load reads from.
func SetConfigPath(path string) {
	configFilePath = path
	globalConfig = nil
}

func GetConfigPath() string {
	return configFilePath
}

// ConfigFile mirrors the YAML/JSON config file layout.
type ConfigFile struct {
	DataDir        string            `yaml:"data_dir" json:"data_dir"`
	DefaultAccount string            `yaml:"default_account" json:"default_account"`
	LogLevel       string            `yaml:"log_level" json:"log_level"`
	LogFile        string            `yaml:"log_file" json:"log_file"`
	RecvWindowMS   int               `yaml:"recv_window_ms" json:"recv_window_ms"`
	SettleDelayMS  int               `yaml:"settle_delay_ms" json:"settle_delay_ms"`
	SpotBypass     *bool             `yaml:"spot_bypass" json:"spot_bypass"`
	PartnerCodes   map[string]string `yaml:"partner_codes" json:"partner_codes"`
}

// Load loads and caches the configuration.
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile loads the configuration, reading filePath when non-empty.
func LoadFromFile(filePath string) (*Config, error) {
	if globalConfig != nil && configFilePath == filePath {
		return globalConfig, nil
	}

	var configFile *ConfigFile
	if filePath != "" {
		var err error
		configFile, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
	}

	config := &Config{
		DataDir:        stringValue(configFile, func(cf *ConfigFile) string { return cf.DataDir }, getEnv("BINANCE_VAULT_DATA_DIR", DefaultDataDir())),
		DefaultAccount: stringValue(configFile, func(cf *ConfigFile) string { return cf.DefaultAccount }, getEnv("BINANCE_VAULT_DEFAULT_ACCOUNT", "")),
		LogLevel:       stringValue(configFile, func(cf *ConfigFile) string { return cf.LogLevel }, getEnv("LOG_LEVEL", "info")),
		LogFile:        stringValue(configFile, func(cf *ConfigFile) string { return cf.LogFile }, getEnv("LOG_FILE", "")),
		RecvWindowMS:   intValue(configFile, func(cf *ConfigFile) int { return cf.RecvWindowMS }, parseIntEnv("BINANCE_VAULT_RECV_WINDOW_MS", 5000)),
		SettleDelayMS:  intValue(configFile, func(cf *ConfigFile) int { return cf.SettleDelayMS }, parseIntEnv("BINANCE_VAULT_SETTLE_DELAY_MS", 2000)),
		SpotBypass: func() bool {
			if configFile != nil && configFile.SpotBypass != nil {
				return *configFile.SpotBypass
			}
			return parseBoolEnv("BINANCE_VAULT_SPOT_BYPASS", true)
		}(),
		PartnerCodes: func() map[string]string {
			if configFile != nil && len(configFile.PartnerCodes) > 0 {
				return configFile.PartnerCodes
			}
			return nil
		}(),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// DefaultDataDir is ~/.config/binance-vault, falling back to a relative
// directory when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".binance-vault"
	}
	return filepath.Join(home, ".config", "binance-vault")
}

var validSegments = map[string]bool{
	"spot": true, "margin": true, "linear": true,
	"inverse": true, "swap": true, "option": true,
}

// Validate checks value ranges and partner code segment names.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is empty")
	}
	if c.RecvWindowMS <= 0 || c.RecvWindowMS > 60000 {
		return fmt.Errorf("recv_window_ms %d out of range (1..60000)", c.RecvWindowMS)
	}
	if c.SettleDelayMS < 0 {
		return fmt.Errorf("settle_delay_ms %d is negative", c.SettleDelayMS)
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	for seg := range c.PartnerCodes {
		if !validSegments[strings.ToLower(seg)] {
			return fmt.Errorf("partner_codes: unknown segment %q", seg)
		}
	}
	return nil
}

// loadConfigFile parses a YAML or JSON config file by extension.
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %s (want .yaml, .yml or .json)", ext)
	}

	return &configFile, nil
}

func stringValue(cf *ConfigFile, get func(*ConfigFile) string, fallback string) string {
	if cf != nil {
		if v := get(cf); v != "" {
			return v
		}
	}
	return fallback
}

func intValue(cf *ConfigFile, get func(*ConfigFile) int, fallback int) int {
	if cf != nil {
		if v := get(cf); v > 0 {
			return v
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
