package pause_switch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Kind selects what a keyed request asks for.
type Kind string

const (
	KindPause  Kind = "pause"
	KindResume Kind = "resume"
)

var (
	ErrMissingKey  = errors.New("missing API key")
	ErrInvalidKey  = errors.New("invalid API key")
	ErrUnknownKind = errors.New("unknown pause switch kind")
)

// Store persists hashed keys and request attempts.
type Store interface {
	GetSecret(key string) (string, error)
	SetSecret(key, value string) error
	RecordPauseAttempt(kind string) error
	GetRecentPauseAttempts(kind string, within time.Duration) (int, error)
	CleanupOldPauseAttempts(olderThan time.Duration) error
}

// Pauser is what the switch flips.
type Pauser interface {
	SetPaused(ctx context.Context, paused bool) error
}

// Config holds the pause switch configuration.
type Config struct {
	Threshold int           // Number of keyed requests within Window to trigger
	Window    time.Duration // How far back requests are counted
	Retention time.Duration // How long attempts are kept
}

// Status is the outcome of one keyed request.
type Status struct {
	Kind      Kind `json:"kind"`
	Triggered bool `json:"triggered"`
	Attempts  int  `json:"attempts"`
	Remaining int  `json:"attempts_remaining"`
}

type PauseSwitch struct {
	cfg    Config
	store  Store
	pauser Pauser
}

// New creates a new PauseSwitch with the given config.
func New(cfg Config, store Store, pauser Pauser) *PauseSwitch {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 5 * time.Minute
	}
	return &PauseSwitch{cfg: cfg, store: store, pauser: pauser}
}

func secretKey(kind Kind) string {
	return string(kind) + "_api_key"
}

// StoreKey hashes key with bcrypt and stores it for kind.
func StoreKey(store Store, kind Kind, key string) error {
	if kind != KindPause && kind != KindResume {
		return ErrUnknownKind
	}
	if key == "" {
		return ErrMissingKey
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash %s key: %w", kind, err)
	}
	return store.SetSecret(secretKey(kind), string(hashed))
}

// Register records a keyed request. Once Threshold requests of the same kind arrived
// within Window the pauser is flipped.
func (p *PauseSwitch) Register(ctx context.Context, kind Kind, key string) (Status, error) {
	status := Status{Kind: kind}
	if kind != KindPause && kind != KindResume {
		return status, ErrUnknownKind
	}
	if key == "" {
		return status, ErrMissingKey
	}

	stored, err := p.store.GetSecret(secretKey(kind))
	if err != nil {
		return status, fmt.Errorf("failed to retrieve %s key: %w", kind, err)
	}
	if stored == "" || bcrypt.CompareHashAndPassword([]byte(stored), []byte(key)) != nil {
		return status, ErrInvalidKey
	}

	if err := p.store.RecordPauseAttempt(string(kind)); err != nil {
		slog.Error("error recording pause switch attempt", "kind", kind, "err", err)
	}
	if err := p.store.CleanupOldPauseAttempts(p.cfg.Retention); err != nil {
		slog.Error("error cleaning up old pause switch attempts", "err", err)
	}

	count, err := p.store.GetRecentPauseAttempts(string(kind), p.cfg.Window)
	if err != nil {
		return status, fmt.Errorf("failed to count recent %s attempts: %w", kind, err)
	}
	status.Attempts = count

	if count < p.cfg.Threshold {
		status.Remaining = p.cfg.Threshold - count
		return status, nil
	}

	if err := p.pauser.SetPaused(ctx, kind == KindPause); err != nil {
		return status, fmt.Errorf("failed to %s: %w", kind, err)
	}
	status.Triggered = true
	slog.Info("pause switch triggered", "kind", kind, "attempts", count)
	return status, nil
}
