package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, LedgerNone, cfg.Ledger.Backend)
	assert.Equal(t, ContentMemory, cfg.Content.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.False(t, cfg.Pause.Enabled())
}

func Test_Load_File(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
session:
  role: issuer
  wallet: "0xABC"
  demo: true
ledger:
  backend: memory
  account: "0x00000000000000000000000000000000000000aa"
content:
  backend: pinata
  jwt: token
  gateways:
    - https://a.example/ipfs/
    - https://b.example/ipfs/
  attempt_timeout: 3s
cache:
  ttl: 1h
trusted_issuers:
  - address: "0xABC"
    name: Demo University
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, ":50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "issuer", cfg.Session.Role)
	assert.True(t, cfg.Session.Demo)
	assert.Equal(t, LedgerMemory, cfg.Ledger.Backend)
	assert.Equal(t, 3*time.Second, cfg.Content.AttemptTimeout)
	assert.Len(t, cfg.Content.Gateways, 2)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, []IssuerConfig{{Address: "0xABC", Name: "Demo University"}}, cfg.TrustedIssuers)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func Test_LoadWithEnv_Overrides(t *testing.T) {
	path := writeConfig(t, `
session:
  role: verifier
`)
	t.Setenv("CREDCOORD_SESSION_ROLE", "authority")
	t.Setenv("CREDCOORD_CACHE_TTL", "90m")
	t.Setenv("CREDCOORD_PAUSE_KEY", "pause-key")
	t.Setenv("CREDCOORD_PAUSE_RESUME_KEY", "resume-key")
	t.Setenv("CREDCOORD_CONTENT_GATEWAYS", "https://a.example/ipfs/,https://b.example/ipfs/")

	cfg, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "authority", cfg.Session.Role)
	assert.Equal(t, 90*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Pause.Enabled())
	assert.Equal(t, []string{"https://a.example/ipfs/", "https://b.example/ipfs/"}, cfg.Content.Gateways)
	assert.Equal(t, "credentials.db", cfg.Database.Path)
}

func Test_Validate(t *testing.T) {
	var tests = map[string]struct {
		mutate  func(c *Config)
		wantErr string
	}{
		"defaults are valid": {
			mutate: func(*Config) {},
		},
		"unknown role": {
			mutate:  func(c *Config) { c.Session.Role = "student" },
			wantErr: "session.role",
		},
		"contract without rpc": {
			mutate: func(c *Config) {
				c.Ledger.Backend = LedgerContract
				c.Ledger.ContractAddress = "0x00000000000000000000000000000000000000aa"
			},
			wantErr: "ledger.rpc_url",
		},
		"contract with bad address": {
			mutate: func(c *Config) {
				c.Ledger.Backend = LedgerContract
				c.Ledger.RPCURL = "http://localhost:8545"
				c.Ledger.ContractAddress = "registry"
			},
			wantErr: "ledger.contract_address",
		},
		"memory ledger without account": {
			mutate:  func(c *Config) { c.Ledger.Backend = LedgerMemory },
			wantErr: "ledger.account",
		},
		"unknown ledger": {
			mutate:  func(c *Config) { c.Ledger.Backend = "fabric" },
			wantErr: "ledger.backend",
		},
		"pinata without jwt": {
			mutate:  func(c *Config) { c.Content.Backend = ContentPinata },
			wantErr: "content.jwt",
		},
		"single gateway": {
			mutate: func(c *Config) {
				c.Content.Backend = ContentPinata
				c.Content.JWT = "token"
				c.Content.Gateways = []string{"https://a.example/ipfs/"}
			},
			wantErr: "content.gateways",
		},
		"only one pause key": {
			mutate:  func(c *Config) { c.Pause.Key = "k" },
			wantErr: "pause.key",
		},
		"zero ttl": {
			mutate:  func(c *Config) { c.Cache.TTL = 0 },
			wantErr: "cache.ttl",
		},
		"issuer without address": {
			mutate:  func(c *Config) { c.TrustedIssuers = []IssuerConfig{{Name: "Nameless"}} },
			wantErr: "trusted_issuers[0].address",
		},
		"bad log format": {
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
