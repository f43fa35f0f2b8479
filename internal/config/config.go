// Package config loads service configuration from the environment (with an
// optional .env file) and ledger settings from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Depreciation cap policies.
const (
	CapRemainder = "cap"
	CapReject    = "reject"
)

// Config is the top-level service configuration.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	PolicyFile  string
	DevSeed     bool
	JWT         JWTConfig
	Ledger      LedgerConfig
}

// JWTConfig enables HS256 bearer auth when Secret is set.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// LedgerConfig holds the posting rules left to configuration.
type LedgerConfig struct {
	// Currency is the book currency every voucher must use.
	Currency string `yaml:"currency"`
	// BalanceToleranceMinor is the allowed |debits-credits| in minor units.
	BalanceToleranceMinor int64 `yaml:"balance_tolerance_minor"`
	// DepreciationCap is "cap" (post the remainder in the last period) or "reject".
	DepreciationCap     string `yaml:"depreciation_cap"`
	DepreciationWorkers int    `yaml:"depreciation_workers"`
}

// DefaultLedger returns the ledger settings used when no file is given.
func DefaultLedger() LedgerConfig {
	return LedgerConfig{
		Currency:            "USD",
		DepreciationCap:     CapRemainder,
		DepreciationWorkers: 4,
	}
}

// Load reads configuration from environment variables.
// It loads .env from the working directory when present, or envPath when given.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		HTTPAddr:    getEnvOrDefault("HTTP_ADDR", ":8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		LogFormat:   strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
		PolicyFile:  strings.TrimSpace(os.Getenv("POLICY_FILE")),
		DevSeed:     parseBool(os.Getenv("DEV_SEED")),
		JWT: JWTConfig{
			Secret:   strings.TrimSpace(os.Getenv("JWT_HS256_SECRET")),
			Issuer:   strings.TrimSpace(os.Getenv("JWT_ISSUER")),
			Audience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		},
		Ledger: DefaultLedger(),
	}

	if path := strings.TrimSpace(os.Getenv("LEDGER_CONFIG")); path != "" {
		lc, err := LoadLedger(path)
		if err != nil {
			return nil, err
		}
		cfg.Ledger = lc
	}
	if v := os.Getenv("LEDGER_CURRENCY"); v != "" {
		cfg.Ledger.Currency = strings.ToUpper(strings.TrimSpace(v))
	}
	if err := cfg.Ledger.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLedger reads a ledger settings YAML file, filling unset fields with defaults.
func LoadLedger(path string) (LedgerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LedgerConfig{}, fmt.Errorf("reading ledger config: %w", err)
	}
	lc := DefaultLedger()
	if err := yaml.Unmarshal(data, &lc); err != nil {
		return LedgerConfig{}, fmt.Errorf("parsing ledger config: %w", err)
	}
	lc.Currency = strings.ToUpper(strings.TrimSpace(lc.Currency))
	lc.DepreciationCap = strings.ToLower(strings.TrimSpace(lc.DepreciationCap))
	return lc, lc.Validate()
}

// Validate checks the ledger settings.
func (lc LedgerConfig) Validate() error {
	if len(lc.Currency) != 3 {
		return fmt.Errorf("ledger currency must be a 3-letter code, got %q", lc.Currency)
	}
	if lc.BalanceToleranceMinor < 0 {
		return fmt.Errorf("balance_tolerance_minor must be >= 0")
	}
	switch lc.DepreciationCap {
	case CapRemainder, CapReject:
	default:
		return fmt.Errorf("depreciation_cap must be %q or %q, got %q", CapRemainder, CapReject, lc.DepreciationCap)
	}
	if lc.DepreciationWorkers < 1 {
		return fmt.Errorf("depreciation_workers must be >= 1")
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err == nil {
		return b
	}
	return strings.EqualFold(strings.TrimSpace(s), "yes")
}
