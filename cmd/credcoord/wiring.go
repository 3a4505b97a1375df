package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/credential-coordinator/internal/config"
	"github.com/gateway-fm/credential-coordinator/internal/contentstore"
	"github.com/gateway-fm/credential-coordinator/internal/credential"
	"github.com/gateway-fm/credential-coordinator/internal/ledger"
	"github.com/gateway-fm/credential-coordinator/internal/logging"
	"github.com/gateway-fm/credential-coordinator/internal/metrics"
)

// loadConfig reads the config file and environment, then applies flag overrides.
func loadConfig(o Options) (*config.Config, error) {
	cfg, err := config.LoadWithEnv(o.ConfigFile)
	if err != nil {
		return nil, err
	}

	if o.HTTPAddr != "" {
		cfg.Server.HTTPAddr = o.HTTPAddr
	}
	if o.GRPCAddr != "" {
		cfg.Server.GRPCAddr = o.GRPCAddr
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}
	if o.Role != "" {
		cfg.Session.Role = o.Role
	}
	if o.Wallet != "" {
		cfg.Session.Wallet = o.Wallet
	}
	if o.Demo {
		cfg.Session.Demo = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after flag overrides: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) (io.Closer, error) {
	return logging.Setup(logging.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
}

func trustedIssuers(cfg []config.IssuerConfig) []credential.Issuer {
	issuers := make([]credential.Issuer, 0, len(cfg))
	for _, iss := range cfg {
		issuers = append(issuers, credential.Issuer{
			Address:     iss.Address,
			DisplayName: iss.Name,
		})
	}
	return issuers
}

// ledgerBackend is the configured ledger. client is nil for the "none" backend.
type ledgerBackend struct {
	client          *ledger.Client
	signerAvailable bool
	close           func()
}

func buildLedger(ctx context.Context, cfg *config.Config) (*ledgerBackend, error) {
	switch cfg.Ledger.Backend {
	case config.LedgerContract:
		registry, err := ledger.NewContractRegistry(ctx, ledger.ContractConfig{
			RPCURL:          cfg.Ledger.RPCURL,
			ContractAddress: cfg.Ledger.ContractAddress,
			PrivateKey:      cfg.Ledger.PrivateKey,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("ledger backend ready", "backend", config.LedgerContract, "contract", cfg.Ledger.ContractAddress, "signer", registry.Signer().Hex())
		return &ledgerBackend{
			client:          ledger.NewClient(registry),
			signerAvailable: cfg.Ledger.PrivateKey != "",
			close:           registry.Close,
		}, nil

	case config.LedgerMemory:
		account := common.HexToAddress(cfg.Ledger.Account)
		registry := ledger.NewMemoryLedger(account).Signer(account)
		// trusted issuers are accredited on the simulated ledger as well
		for _, iss := range cfg.TrustedIssuers {
			if !common.IsHexAddress(iss.Address) {
				continue
			}
			if _, err := registry.AuthorizeIssuer(ctx, common.HexToAddress(iss.Address), iss.Name); err != nil {
				return nil, fmt.Errorf("failed to authorize trusted issuer %s: %w", iss.Address, err)
			}
		}
		slog.Info("ledger backend ready", "backend", config.LedgerMemory, "admin", account.Hex())
		return &ledgerBackend{
			client:          ledger.NewClient(registry),
			signerAvailable: true,
			close:           func() {},
		}, nil

	default:
		slog.Info("no ledger configured, running local-only")
		return &ledgerBackend{close: func() {}}, nil
	}
}

func buildContentStore(cfg config.ContentConfig) (credential.ContentStore, error) {
	if cfg.Backend != config.ContentPinata {
		slog.Info("using in-memory content store")
		return contentstore.NewMemoryStore(), nil
	}

	gateways := cfg.Gateways
	if len(gateways) == 0 {
		gateways = contentstore.DefaultGateways
	}
	client, err := contentstore.NewClient(contentstore.Config{
		APIURL:         cfg.APIURL,
		JWT:            cfg.JWT,
		Gateways:       gateways,
		AttemptTimeout: cfg.AttemptTimeout,
		UploadTimeout:  cfg.UploadTimeout,
		CacheSize:      cfg.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("using pinning content store", "gateways", strings.Join(gateways, ","))
	return client, nil
}

const metricsRefresh = 30 * time.Second

// app is everything a command needs once the configuration is resolved.
type app struct {
	cfg         *config.Config
	db          *credential.SqliteStore
	ledger      *ledgerBackend
	coordinator *credential.Coordinator
	updater     *metrics.Updater
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := credential.NewSqliteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	lb, err := buildLedger(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	store, err := buildContentStore(cfg.Content)
	if err != nil {
		lb.close()
		db.Close()
		return nil, fmt.Errorf("failed to initialize content store: %w", err)
	}

	a := &app{cfg: cfg, db: db, ledger: lb}

	coordinatorCfg := credential.Config{
		Session: credential.SessionInput{
			Role:            credential.Role(cfg.Session.Role),
			SignerAvailable: lb.signerAvailable,
			WalletAddress:   cfg.Session.Wallet,
			Demo:            cfg.Session.Demo,
		},
		Store:          store,
		Db:             db,
		CacheTTL:       cfg.Cache.TTL,
		TrustedIssuers: trustedIssuers(cfg.TrustedIssuers),
		OnChange: func() {
			if a.updater != nil {
				a.updater.Trigger()
			}
		},
	}
	if lb.client != nil {
		coordinatorCfg.Ledger = lb.client
	}

	coordinator, err := credential.NewCoordinator(coordinatorCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.coordinator = coordinator
	a.updater = metrics.NewUpdater(coordinator, metricsRefresh, nil)

	if err := coordinator.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to restore local state: %w", err)
	}
	return a, nil
}

func (a *app) Close() {
	a.ledger.close()
	if err := a.db.Close(); err != nil {
		slog.Error("failed to close database", "err", err)
	}
}
