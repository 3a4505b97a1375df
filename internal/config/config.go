package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	LedgerNone     = "none"
	LedgerContract = "contract"
	LedgerMemory   = "memory"

	ContentPinata = "pinata"
	ContentMemory = "memory"
)

// Config holds all configuration for the coordinator.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Content  ContentConfig  `yaml:"content"`
	Cache    CacheConfig    `yaml:"cache"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Pause    PauseConfig    `yaml:"pause"`
	Logging  LoggingConfig  `yaml:"logging"`

	// TrustedIssuers are accredited at startup and stay accredited across restarts.
	TrustedIssuers []IssuerConfig `yaml:"trusted_issuers" ignored:"true"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" split_words:"true"`
	GRPCAddr string `yaml:"grpc_addr" split_words:"true"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" split_words:"true"`
}

// SessionConfig describes who this instance acts as.
type SessionConfig struct {
	Role   string `yaml:"role" split_words:"true"`
	Wallet string `yaml:"wallet" split_words:"true"`
	Demo   bool   `yaml:"demo" split_words:"true"`
}

type LedgerConfig struct {
	Backend         string `yaml:"backend" split_words:"true"`
	RPCURL          string `yaml:"rpc_url" split_words:"true"`
	ContractAddress string `yaml:"contract_address" split_words:"true"`
	PrivateKey      string `yaml:"private_key" split_words:"true"`
	// Account is the admin and signer of the in-memory ledger.
	Account string `yaml:"account" split_words:"true"`
}

type ContentConfig struct {
	Backend        string        `yaml:"backend" split_words:"true"`
	APIURL         string        `yaml:"api_url" split_words:"true"`
	JWT            string        `yaml:"jwt" split_words:"true"`
	Gateways       []string      `yaml:"gateways" split_words:"true"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" split_words:"true"`
	UploadTimeout  time.Duration `yaml:"upload_timeout" split_words:"true"`
	CacheSize      int           `yaml:"cache_size" split_words:"true"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" split_words:"true"`
}

type ScheduleConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval" split_words:"true"`
	PurgeInterval     time.Duration `yaml:"purge_interval" split_words:"true"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" split_words:"true"`
}

// PauseConfig holds the operator keys of the pause switch. Both keys are required to
// enable the keyed endpoints.
type PauseConfig struct {
	Key       string        `yaml:"key" split_words:"true"`
	ResumeKey string        `yaml:"resume_key" split_words:"true"`
	Threshold int           `yaml:"threshold" split_words:"true"`
	Window    time.Duration `yaml:"window" split_words:"true"`
}

// Enabled reports whether both operator keys are configured.
func (p PauseConfig) Enabled() bool {
	return p.Key != "" && p.ResumeKey != ""
}

type LoggingConfig struct {
	Level      string `yaml:"level" split_words:"true"`
	Format     string `yaml:"format" split_words:"true"`
	File       string `yaml:"file" split_words:"true"`
	MaxSizeMB  int    `yaml:"max_size_mb" split_words:"true"`
	MaxBackups int    `yaml:"max_backups" split_words:"true"`
	MaxAgeDays int    `yaml:"max_age_days" split_words:"true"`
}

type IssuerConfig struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":50051",
		},
		Database: DatabaseConfig{Path: "credentials.db"},
		Session:  SessionConfig{Role: "verifier"},
		Ledger:   LedgerConfig{Backend: LedgerNone},
		Content: ContentConfig{
			Backend:        ContentMemory,
			AttemptTimeout: 10 * time.Second,
			UploadTimeout:  30 * time.Second,
			CacheSize:      512,
		},
		Cache: CacheConfig{TTL: 24 * time.Hour},
		Schedule: ScheduleConfig{
			ReconcileInterval: 5 * time.Minute,
			PurgeInterval:     time.Hour,
			CleanupInterval:   time.Minute,
		},
		Pause: PauseConfig{
			Threshold: 1,
			Window:    time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch strings.ToLower(c.Session.Role) {
	case "issuer", "authority", "holder", "verifier":
	default:
		return fmt.Errorf("session.role must be one of: issuer, authority, holder, verifier")
	}

	switch c.Ledger.Backend {
	case LedgerNone:
	case LedgerContract:
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("ledger.rpc_url is required for the contract backend")
		}
		if !common.IsHexAddress(c.Ledger.ContractAddress) {
			return fmt.Errorf("ledger.contract_address must be a hex address")
		}
	case LedgerMemory:
		if !common.IsHexAddress(c.Ledger.Account) {
			return fmt.Errorf("ledger.account must be a hex address for the memory backend")
		}
	default:
		return fmt.Errorf("ledger.backend must be one of: none, contract, memory")
	}

	switch c.Content.Backend {
	case ContentMemory:
	case ContentPinata:
		if c.Content.JWT == "" {
			return fmt.Errorf("content.jwt is required for the pinata backend")
		}
		if len(c.Content.Gateways) == 1 {
			return fmt.Errorf("content.gateways needs at least 2 entries")
		}
	default:
		return fmt.Errorf("content.backend must be one of: pinata, memory")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if (c.Pause.Key == "") != (c.Pause.ResumeKey == "") {
		return fmt.Errorf("pause.key and pause.resume_key must be set together")
	}
	if c.Pause.Threshold <= 0 {
		return fmt.Errorf("pause.threshold must be positive")
	}

	for i, iss := range c.TrustedIssuers {
		if strings.TrimSpace(iss.Address) == "" {
			return fmt.Errorf("trusted_issuers[%d].address is required", i)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	return nil
}
