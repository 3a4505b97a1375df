package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"

	"github.com/gateway-fm/credential-coordinator/internal/ledger"
	"github.com/gateway-fm/credential-coordinator/internal/metrics"
	"github.com/gateway-fm/credential-coordinator/internal/verifycache"
)

// Ledger is the subset of *ledger.Client the coordinator depends on.
type Ledger interface {
	Signer() common.Address
	IsAuthorizedIssuer(ctx context.Context, issuer common.Address) bool
	IssueCredential(ctx context.Context, req ledger.IssueRequest) (ledger.Receipt, error)
	RevokeCredential(ctx context.Context, fingerprint common.Hash) (ledger.Receipt, error)
	AuthorizeIssuer(ctx context.Context, issuer common.Address, name string) (ledger.Receipt, error)
	RevokeIssuer(ctx context.Context, issuer common.Address) (ledger.Receipt, error)
	VerifyCredential(ctx context.Context, fingerprint common.Hash) (ledger.Lookup, error)
	CredentialHashes(ctx context.Context) ([]common.Hash, error)
	NetworkInfo(ctx context.Context) (ledger.NetworkInfo, error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}

// ContentStore is the subset of *contentstore.Client the coordinator depends on.
type ContentStore interface {
	Put(ctx context.Context, object interface{}, nameHint string) (string, error)
	Get(ctx context.Context, contentID string) ([]byte, error)
	URLFor(contentID string) string
}

// Db defines the interface for persisting the local tiers.
type Db interface {
	Init() error
	Close() error
	SaveCredential(rec Record) error
	GetCredentials() ([]Record, error)
	SaveIssuer(iss Issuer) error
	GetIssuers() ([]Issuer, error)
	GetConfigValue(key string) (string, error)
	SetConfigValue(key, value string) error
	GetSecret(key string) (string, error)
	SetSecret(key, value string) error
	GetPauseStatus() (bool, error)
	SetPauseStatus(paused bool) error
	RecordPauseAttempt(kind string) error
	GetRecentPauseAttempts(kind string, within time.Duration) (int, error)
	CleanupOldPauseAttempts(olderThan time.Duration) error
}

const (
	defaultBatchVerifyLimit = 8
	sessionModeKey          = "session_mode"
)

// Config wires a Coordinator to its collaborators. Ledger and Db are optional.
type Config struct {
	Session          SessionInput
	Ledger           Ledger
	Store            ContentStore
	Db               Db
	Clock            clockwork.Clock
	CacheTTL         time.Duration
	TrustedIssuers   []Issuer
	BatchVerifyLimit int
	// OnChange is called after every state change, e.g. to refresh gauges.
	OnChange func()
}

// Coordinator is the only component that combines the ledger, the content store and
// the verification cache.
type Coordinator struct {
	session Session
	ledger  Ledger
	store   ContentStore
	db      Db
	clock   clockwork.Clock
	cache   *verifycache.Cache[VerificationResult]

	// copy-on-write; writers hold writeMu, readers only Load
	writeMu     sync.Mutex
	credentials atomic.Pointer[map[common.Hash]Record]
	issuers     atomic.Pointer[map[string]Issuer]

	paused        atomic.Bool
	notifications notificationQueue
	verifyLimit   int
	onChange      func()
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("content store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.BatchVerifyLimit <= 0 {
		cfg.BatchVerifyLimit = defaultBatchVerifyLimit
	}

	var signer *common.Address
	if cfg.Ledger != nil {
		s := cfg.Ledger.Signer()
		signer = &s
	}
	session, err := newSession(cfg.Session, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c := &Coordinator{
		session:     session,
		ledger:      cfg.Ledger,
		store:       cfg.Store,
		db:          cfg.Db,
		clock:       cfg.Clock,
		cache:       verifycache.New[VerificationResult](cfg.CacheTTL, cfg.Clock),
		verifyLimit: cfg.BatchVerifyLimit,
		onChange:    cfg.OnChange,
	}
	c.credentials.Store(&map[common.Hash]Record{})
	c.issuers.Store(&map[string]Issuer{})

	now := c.clock.Now()
	for _, iss := range cfg.TrustedIssuers {
		if iss.AuthorizedAt.IsZero() {
			iss.AuthorizedAt = now
		}
		iss.Address = issuerKey(iss.Address)
		iss.IsAuthorized = true
		c.putIssuer(iss)
	}

	slog.Info("coordinator session created", "role", session.Role, "mode", session.Mode, "wallet", session.WalletAddress)
	return c, nil
}

// Load restores the local tiers and the pause flag from the database.
func (c *Coordinator) Load(ctx context.Context) error {
	if c.db == nil {
		return nil
	}

	records, err := c.db.GetCredentials()
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fp, err := ledger.ParseFingerprint(rec.Fingerprint)
		if err != nil {
			slog.Warn("skipping stored credential with bad fingerprint", "fingerprint", rec.Fingerprint, "err", err)
			continue
		}
		c.putCredential(fp, rec)
	}

	issuers, err := c.db.GetIssuers()
	if err != nil {
		return fmt.Errorf("failed to load issuers: %w", err)
	}
	for _, iss := range issuers {
		// issuers from configuration stay authorized
		if existing, ok := c.issuer(iss.Address); ok && existing.IsAuthorized && !iss.IsAuthorized {
			continue
		}
		c.putIssuer(iss)
	}

	paused, err := c.db.GetPauseStatus()
	if err != nil {
		return fmt.Errorf("failed to load pause status: %w", err)
	}
	c.paused.Store(paused)

	previous, err := c.db.GetConfigValue(sessionModeKey)
	if err != nil {
		return fmt.Errorf("failed to load session mode: %w", err)
	}
	if previous != "" && previous != string(c.session.Mode) {
		slog.Warn("database was written by a session in another mode", "previous", previous, "current", c.session.Mode)
	}
	if err := c.db.SetConfigValue(sessionModeKey, string(c.session.Mode)); err != nil {
		return fmt.Errorf("failed to store session mode: %w", err)
	}

	slog.Info("local tiers loaded", "credentials", len(records), "issuers", len(issuers), "paused", paused)
	c.changed()
	return nil
}

func (c *Coordinator) credential(fp common.Hash) (Record, bool) {
	rec, ok := (*c.credentials.Load())[fp]
	return rec, ok
}

// putCredential merges rec into a fresh copy of the credential map and swaps it in.
func (c *Coordinator) putCredential(fp common.Hash, rec Record) Record {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	current := *c.credentials.Load()
	if existing, ok := current[fp]; ok {
		rec = merge(existing, rec)
	}
	next := make(map[common.Hash]Record, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[fp] = rec
	c.credentials.Store(&next)
	return rec
}

func (c *Coordinator) issuer(address string) (Issuer, bool) {
	iss, ok := (*c.issuers.Load())[issuerKey(address)]
	return iss, ok
}

func (c *Coordinator) putIssuer(iss Issuer) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	current := *c.issuers.Load()
	next := make(map[string]Issuer, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[issuerKey(iss.Address)] = iss
	c.issuers.Store(&next)
}

func (c *Coordinator) issuerAuthorized(address string) bool {
	iss, ok := c.issuer(address)
	return ok && iss.IsAuthorized
}

func (c *Coordinator) persistCredential(rec Record) {
	if c.db == nil {
		return
	}
	if err := c.db.SaveCredential(rec); err != nil {
		slog.Error("failed to persist credential", "fingerprint", rec.Fingerprint, "err", err)
	}
}

func (c *Coordinator) persistIssuer(iss Issuer) {
	if c.db == nil {
		return
	}
	if err := c.db.SaveIssuer(iss); err != nil {
		slog.Error("failed to persist issuer", "issuer", iss.Address, "err", err)
	}
}

func (c *Coordinator) notify(severity Severity, title, message string) {
	c.notifications.push(Notification{
		Title:     title,
		Message:   message,
		Severity:  severity,
		Timestamp: c.clock.Now(),
	})
}

func (c *Coordinator) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Coordinator) hasLedger() bool {
	return c.ledger != nil
}

// Session returns the session the coordinator was created with.
func (c *Coordinator) Session() Session {
	return c.session
}

func (c *Coordinator) Paused() bool {
	return c.paused.Load()
}

// Credentials returns the local credential tier, newest first.
func (c *Coordinator) Credentials() []Record {
	current := *c.credentials.Load()
	out := make([]Record, 0, len(current))
	for _, rec := range current {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt == out[j].IssuedAt {
			return out[i].Fingerprint < out[j].Fingerprint
		}
		return out[i].IssuedAt > out[j].IssuedAt
	})
	return out
}

// Credential returns one record of the local tier.
func (c *Coordinator) Credential(fingerprint string) (Record, error) {
	const op = "get credential"
	fp, err := parseFingerprint(op, fingerprint)
	if err != nil {
		return Record{}, err
	}
	rec, ok := c.credential(fp)
	if !ok {
		return Record{}, newError(KindData, op, ErrNotFound, "credential not found")
	}
	return rec, nil
}

// Issuers returns the local issuer tier ordered by address.
func (c *Coordinator) Issuers() []Issuer {
	current := *c.issuers.Load()
	out := make([]Issuer, 0, len(current))
	for _, iss := range current {
		out = append(out, iss)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Notifications returns at most the ten most recent notifications, newest first.
func (c *Coordinator) Notifications() []Notification {
	return c.notifications.list()
}

func (c *Coordinator) CacheStats() verifycache.Stats {
	return c.cache.Stats()
}

// ClearVerificationCache drops every cached verification and returns how many were held.
func (c *Coordinator) ClearVerificationCache() int {
	n := c.cache.Clear()
	slog.Info("verification cache cleared", "entries", n)
	c.changed()
	return n
}

// ResetVerificationCache is ClearVerificationCache for session users. Only the issuer
// and authority roles may drop cached verifications.
func (c *Coordinator) ResetVerificationCache() (int, error) {
	if err := c.requireRole("clear verification cache", RoleIssuer, RoleAuthority); err != nil {
		return 0, err
	}
	return c.ClearVerificationCache(), nil
}

// PurgeVerificationCache drops expired verifications.
func (c *Coordinator) PurgeVerificationCache() int {
	n := c.cache.Purge()
	if n > 0 {
		slog.Debug("verification cache purged", "entries", n)
		c.changed()
	}
	return n
}

// NetworkInfo describes the ledger the session is connected to.
func (c *Coordinator) NetworkInfo(ctx context.Context) (ledger.NetworkInfo, error) {
	const op = "network info"
	if !c.hasLedger() {
		return ledger.NetworkInfo{}, newError(KindAvailability, op, ErrNoLedger, "no ledger configured")
	}
	info, err := c.ledger.NetworkInfo(ctx)
	if err != nil {
		return ledger.NetworkInfo{}, newError(KindAvailability, op, err, "ledger unavailable")
	}
	return info, nil
}

// Balance returns the ledger balance of the session wallet.
func (c *Coordinator) Balance(ctx context.Context) (*big.Int, error) {
	const op = "balance"
	if c.session.Mode != ModeLedger {
		return nil, newError(KindAvailability, op, ErrNoLedger, "session has no ledger signer")
	}
	balance, err := c.ledger.Balance(ctx, common.HexToAddress(c.session.WalletAddress))
	if err != nil {
		return nil, newError(KindAvailability, op, err, "ledger unavailable")
	}
	return balance, nil
}

// MetricsSnapshot implements metrics.Source.
func (c *Coordinator) MetricsSnapshot() metrics.Snapshot {
	stats := c.cache.Stats()
	s := metrics.Snapshot{
		CacheValid:   stats.Valid,
		CacheExpired: stats.Expired,
		Paused:       c.Paused(),
	}
	for _, rec := range *c.credentials.Load() {
		if rec.IsRevoked {
			s.RevokedCredentials++
		} else {
			s.ValidCredentials++
		}
		if rec.IsLocalOnly {
			s.LocalOnly++
		}
	}
	for _, iss := range *c.issuers.Load() {
		if iss.IsAuthorized {
			s.AuthorizedIssuers++
		}
	}
	return s
}

func parseFingerprint(op, s string) (common.Hash, error) {
	fp, err := ledger.ParseFingerprint(s)
	if err != nil {
		return common.Hash{}, newError(KindData, op, fmt.Errorf("%w: %w", ErrInvalidFingerprint, err), "fingerprint must be 0x followed by 64 hex characters")
	}
	return fp, nil
}

// ledgerWriteError classifies a failed ledger write. Writes are always fatal to the call.
func ledgerWriteError(op string, err error) *Error {
	switch {
	case errors.Is(err, ledger.ErrIssuerNotAuthorized):
		return newError(KindAuthorization, op, fmt.Errorf("%w: %w", ErrIssuerNotAccredited, err), "issuer is not accredited on the ledger")
	case errors.Is(err, ledger.ErrNotAdmin), errors.Is(err, ledger.ErrNotCredentialIssuer):
		return newError(KindAuthorization, op, fmt.Errorf("%w: %w", ErrNotAuthorized, err), "ledger rejected the sender")
	case errors.Is(err, ledger.ErrCredentialExists):
		return newError(KindState, op, fmt.Errorf("%w: %w", ErrDuplicate, err), "credential already exists on the ledger")
	case errors.Is(err, ledger.ErrCredentialNotFound):
		return newError(KindData, op, fmt.Errorf("%w: %w", ErrNotFound, err), "credential does not exist on the ledger")
	default:
		return newError(KindAvailability, op, err, "ledger write failed")
	}
}

func (c *Coordinator) nowMillis() int64 {
	return c.clock.Now().UnixMilli()
}

func (c *Coordinator) requireRole(op string, roles ...Role) error {
	if c.session.hasRole(roles...) {
		return nil
	}
	return newError(KindAuthorization, op, ErrNotAuthorized, fmt.Sprintf("role %s may not %s", c.session.Role, op))
}

func (c *Coordinator) requireRunning(op string) error {
	if c.Paused() {
		return newError(KindState, op, ErrPaused, "system paused")
	}
	return nil
}
