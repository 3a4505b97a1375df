package credential

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/credential-coordinator/internal/ledger"
	"github.com/gateway-fm/credential-coordinator/internal/metrics"
)

// RevokeCredential marks a credential invalid. In ledger mode the ledger is written
// first and the local flag only flips once that write succeeded.
func (c *Coordinator) RevokeCredential(ctx context.Context, fingerprint string) (rec *Record, err error) {
	const op = "revoke"
	defer func() {
		metrics.RecordOperation(op, err)
		if err != nil {
			c.notify(SeverityError, "Revocation failed", ReasonOf(err))
		}
	}()

	if err := c.requireRole(op, RoleIssuer, RoleAuthority); err != nil {
		return nil, err
	}
	if err := c.requireRunning(op); err != nil {
		return nil, err
	}
	fp, err := parseFingerprint(op, fingerprint)
	if err != nil {
		return nil, err
	}

	local, known := c.credential(fp)
	if known && local.IsRevoked {
		return nil, newError(KindState, op, ErrAlreadyRevoked, "credential is already revoked")
	}
	if known && c.session.Role == RoleIssuer && c.session.WalletAddress != "" &&
		issuerKey(local.IssuerAddress) != issuerKey(c.session.WalletAddress) {
		return nil, newError(KindAuthorization, op, ErrNotAuthorized, "only the issuing institution may revoke this credential")
	}

	var txID string
	switch c.session.Mode {
	case ModeLedger:
		receipt, err := c.ledger.RevokeCredential(ctx, fp)
		if err != nil {
			return nil, ledgerWriteError(op, err)
		}
		txID = receipt.TxHash.Hex()
		if !known {
			local = c.recordFromLedger(ctx, fp)
		}
	default:
		if !known {
			return nil, newError(KindData, op, ErrNotFound, "credential not found")
		}
	}

	stored := c.markRevoked(fp, local, txID)
	c.notify(SeverityWarning, "Credential revoked", fmt.Sprintf("%s for %s (%s)", stored.CourseName, stored.StudentName, stored.Fingerprint))
	slog.Info("credential revoked", "fingerprint", stored.Fingerprint, "mode", c.session.Mode, "tx", txID)
	return &stored, nil
}

// markRevoked flips the local flag, persists it and drops any cached verification.
func (c *Coordinator) markRevoked(fp common.Hash, rec Record, txID string) Record {
	rec.Fingerprint = fp.Hex()
	rec.IsRevoked = true
	rec.IsValid = false
	rec.State = StateRevoked
	rec.RevokedAt = c.nowMillis()
	if txID != "" {
		rec.RevocationTxID = txID
	}

	stored := c.putCredential(fp, rec)
	c.persistCredential(stored)
	if c.cache.Invalidate(fp.Hex()) {
		slog.Debug("verification cache entry invalidated", "fingerprint", fp.Hex())
	}
	c.changed()
	return stored
}

// recordFromLedger builds a local record for a credential this session never issued.
// Only used after a successful ledger revocation, so lookup failures leave a bare record.
func (c *Coordinator) recordFromLedger(ctx context.Context, fp common.Hash) Record {
	rec := Record{Fingerprint: fp.Hex()}
	lookup, err := c.ledger.VerifyCredential(ctx, fp)
	if err != nil || lookup.Credential == nil {
		slog.Warn("revoked credential could not be read back from ledger", "fingerprint", fp.Hex(), "err", err)
		return rec
	}
	cred := lookup.Credential
	rec.IssuerAddress = cred.Issuer.Hex()
	rec.StudentIdentifier = cred.StudentIdentifier
	rec.StudentName = cred.StudentName
	rec.CourseName = cred.CourseName
	rec.ContentID = cred.IpfsHash
	if cred.IssuedAt != nil {
		rec.IssuedAt = cred.IssuedAt.Int64() * 1000
	}
	return rec
}

// AuthorizeIssuer accredits an issuer. The local issuer tier is updated in every mode so
// the new issuer is visible immediately.
func (c *Coordinator) AuthorizeIssuer(ctx context.Context, address, name string) (iss *Issuer, err error) {
	const op = "authorize issuer"
	defer func() { metrics.RecordOperation("authorize_issuer", err) }()

	if err := c.requireRole(op, RoleAuthority); err != nil {
		return nil, err
	}
	key, err := c.issuerAddress(op, address)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)

	if c.session.Mode == ModeLedger {
		if _, err := c.ledger.AuthorizeIssuer(ctx, common.HexToAddress(key), name); err != nil {
			return nil, ledgerWriteError(op, err)
		}
	}

	updated := Issuer{Address: key, DisplayName: name, IsAuthorized: true, AuthorizedAt: c.clock.Now()}
	if existing, ok := c.issuer(key); ok && existing.IsAuthorized {
		updated.AuthorizedAt = existing.AuthorizedAt
		if updated.DisplayName == "" {
			updated.DisplayName = existing.DisplayName
		}
	}
	c.putIssuer(updated)
	c.persistIssuer(updated)
	c.notify(SeveritySuccess, "Issuer authorized", fmt.Sprintf("%s (%s)", updated.DisplayName, updated.Address))
	c.changed()
	slog.Info("issuer authorized", "issuer", updated.Address, "name", updated.DisplayName, "mode", c.session.Mode)
	return &updated, nil
}

// RevokeIssuer withdraws accreditation. The issuer record is kept, marked unauthorized.
// Credentials it already issued are not touched.
func (c *Coordinator) RevokeIssuer(ctx context.Context, address string) (iss *Issuer, err error) {
	const op = "revoke issuer"
	defer func() { metrics.RecordOperation("revoke_issuer", err) }()

	if err := c.requireRole(op, RoleAuthority); err != nil {
		return nil, err
	}
	key, err := c.issuerAddress(op, address)
	if err != nil {
		return nil, err
	}

	existing, known := c.issuer(key)
	if c.session.Mode == ModeLedger {
		if _, err := c.ledger.RevokeIssuer(ctx, common.HexToAddress(key)); err != nil {
			return nil, ledgerWriteError(op, err)
		}
	} else if !known {
		return nil, newError(KindData, op, ErrIssuerNotFound, "issuer not found")
	}

	updated := existing
	updated.Address = key
	updated.IsAuthorized = false
	c.putIssuer(updated)
	c.persistIssuer(updated)
	c.notify(SeverityWarning, "Issuer revoked", updated.Address)
	c.changed()
	slog.Info("issuer revoked", "issuer", updated.Address, "mode", c.session.Mode)
	return &updated, nil
}

func (c *Coordinator) issuerAddress(op, address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", newError(KindData, op, fmt.Errorf("%w: address", ErrMissingField), "issuer address is required")
	}
	if c.session.Mode == ModeLedger && !common.IsHexAddress(address) {
		return "", newError(KindData, op, fmt.Errorf("%w: %q", ErrInvalidAddress, address), "issuer must be a hex address")
	}
	return issuerKey(address), nil
}

// TogglePause flips the global admission switch. Only the oversight authority may do so.
func (c *Coordinator) TogglePause(ctx context.Context) (bool, error) {
	const op = "toggle pause"
	if err := c.requireRole(op, RoleAuthority); err != nil {
		return c.Paused(), err
	}
	paused := !c.Paused()
	if err := c.SetPaused(ctx, paused); err != nil {
		return !paused, newError(KindAvailability, op, err, "failed to persist pause state")
	}
	return paused, nil
}

// SetPaused sets the admission switch without a role check. It is used by operator
// tooling that authenticates on its own.
func (c *Coordinator) SetPaused(_ context.Context, paused bool) error {
	if c.db != nil {
		if err := c.db.SetPauseStatus(paused); err != nil {
			return fmt.Errorf("failed to set pause status: %w", err)
		}
	}
	if c.paused.Swap(paused) == paused {
		return nil
	}

	if paused {
		c.notify(SeverityWarning, "System paused", "issuance and revocation are suspended")
	} else {
		c.notify(SeverityInfo, "System resumed", "issuance and revocation are available again")
	}
	c.changed()
	slog.Info("pause state changed", "paused", paused)
	return nil
}

// RequestReconcile runs Reconcile on behalf of a session user. Only the issuer and
// authority roles may trigger it; the scheduler calls Reconcile directly.
func (c *Coordinator) RequestReconcile(ctx context.Context) (ReconcileReport, error) {
	if err := c.requireRole("reconcile", RoleIssuer, RoleAuthority); err != nil {
		return ReconcileReport{}, err
	}
	return c.Reconcile(ctx)
}

// Reconcile walks every credential known to the ledger and revokes local records the
// ledger reports invalid. It never makes a revoked record valid.
func (c *Coordinator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	const op = "reconcile"
	var report ReconcileReport
	if !c.hasLedger() {
		return report, nil
	}

	hashes, err := c.ledger.CredentialHashes(ctx)
	if err != nil {
		return report, newError(KindAvailability, op, err, "ledger unavailable")
	}
	report.LedgerCredentials = len(hashes)

	onLedger := make(map[common.Hash]struct{}, len(hashes))
	for _, fp := range hashes {
		onLedger[fp] = struct{}{}
		local, ok := c.credential(fp)
		if !ok || local.IsRevoked {
			continue
		}
		lookup, err := c.ledger.VerifyCredential(ctx, fp)
		if err != nil {
			return report, newError(KindAvailability, op, err, "ledger unavailable")
		}
		report.Checked++
		if lookup.Status == ledger.LookupInvalid {
			c.markRevoked(fp, local, "")
			report.Revoked++
			slog.Info("credential revoked on ledger, local tier updated", "fingerprint", fp.Hex())
		}
	}

	for fp, rec := range *c.credentials.Load() {
		if rec.IsLocalOnly {
			continue
		}
		if _, ok := onLedger[fp]; !ok {
			report.Missing++
			slog.Warn("local credential is not on the ledger", "fingerprint", rec.Fingerprint)
		}
	}

	if report.Revoked > 0 {
		c.notify(SeverityInfo, "Reconciled with ledger", fmt.Sprintf("%d credential(s) revoked on the ledger", report.Revoked))
	}
	slog.Info("reconciliation finished", "ledger", report.LedgerCredentials, "checked", report.Checked, "revoked", report.Revoked, "missing", report.Missing)
	return report, nil
}
