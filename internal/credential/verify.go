package credential

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/credential-coordinator/internal/ledger"
	"github.com/gateway-fm/credential-coordinator/internal/metrics"
)

// VerifyCredential resolves a fingerprint through the verification cache, the ledger and
// the local tier, in that order. A malformed fingerprint is the only error; an unknown
// credential is a result with Found false.
func (c *Coordinator) VerifyCredential(ctx context.Context, fingerprint string) (VerificationResult, error) {
	const op = "verify"
	fp, err := parseFingerprint(op, fingerprint)
	if err != nil {
		return VerificationResult{}, err
	}
	key := fp.Hex()

	if entry, ok := c.cache.Lookup(key); ok {
		res := entry.Value.clone()
		res.FromCache = true
		metrics.RecordVerification("cache")
		return res, nil
	}

	if c.hasLedger() {
		if res, ok := c.verifyOnLedger(ctx, fp); ok {
			if !res.Degraded {
				c.cache.Store(key, res.clone())
				c.changed()
			}
			metrics.RecordVerification("ledger")
			return res, nil
		}
	}

	if rec, ok := c.credential(fp); ok {
		metrics.RecordVerification("local")
		res := VerificationResult{
			Fingerprint: key,
			Found:       true,
			Valid:       !rec.IsRevoked,
			OnChain:     false,
			Credential:  &rec,
			ContentURL:  c.store.URLFor(rec.ContentID),
			VerifiedAt:  c.clock.Now(),
		}
		if rec.IsRevoked {
			res.Reason = "credential has been revoked"
		}
		return res, nil
	}

	metrics.RecordVerification("not_found")
	return VerificationResult{
		Fingerprint: key,
		VerifiedAt:  c.clock.Now(),
		Reason:      "credential not found",
	}, nil
}

// verifyOnLedger returns false when the ledger is unreachable or does not know fp, so
// the caller falls through to the local tier.
func (c *Coordinator) verifyOnLedger(ctx context.Context, fp common.Hash) (VerificationResult, bool) {
	lookup, err := c.ledger.VerifyCredential(ctx, fp)
	if err != nil {
		slog.Warn("ledger verification unavailable, falling back to local tier", "fingerprint", fp.Hex(), "err", err)
		return VerificationResult{}, false
	}
	if lookup.Status == ledger.LookupNotFound {
		return VerificationResult{}, false
	}

	onchain := lookup.Credential
	rec := Record{
		Fingerprint:       fp.Hex(),
		IssuerAddress:     onchain.Issuer.Hex(),
		StudentIdentifier: onchain.StudentIdentifier,
		StudentName:       onchain.StudentName,
		CourseName:        onchain.CourseName,
		ContentID:         onchain.IpfsHash,
		IsValid:           lookup.Status == ledger.LookupValid,
		IsRevoked:         lookup.Status == ledger.LookupInvalid,
		State:             StateValid,
	}
	if onchain.IssuedAt != nil {
		rec.IssuedAt = onchain.IssuedAt.Int64() * 1000
	}
	if rec.IsRevoked {
		rec.State = StateRevoked
	}

	if local, ok := c.credential(fp); ok {
		rec.IssuedAt = local.IssuedAt
		rec.LedgerTxID = local.LedgerTxID
		rec.BlockHeight = local.BlockHeight
		if rec.IsRevoked && !local.IsRevoked {
			c.markRevoked(fp, local, "")
		}
		rec = merge(local, rec)
	}

	res := VerificationResult{
		Fingerprint: fp.Hex(),
		Found:       true,
		Valid:       rec.IsValid,
		OnChain:     true,
		ContentURL:  c.store.URLFor(rec.ContentID),
		VerifiedAt:  c.clock.Now(),
	}
	if !res.Valid {
		res.Reason = "credential has been revoked"
	}

	data, err := c.store.Get(ctx, rec.ContentID)
	if err != nil {
		slog.Warn("credential content unavailable", "fingerprint", fp.Hex(), "cid", rec.ContentID, "err", err)
		res.Degraded = true
		res.Reason = "credential content unavailable"
		res.Credential = &rec
		return res, true
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		slog.Warn("credential content is not valid metadata", "fingerprint", fp.Hex(), "cid", rec.ContentID, "err", err)
		res.Degraded = true
		res.Reason = "credential content is malformed"
		res.Credential = &rec
		return res, true
	}
	if meta.IssuedAt != 0 {
		rec.IssuedAt = meta.IssuedAt
	}
	res.Metadata = &meta
	res.Credential = &rec
	return res, true
}

// BatchVerifyCredentials verifies fingerprints concurrently. Outcomes keep input order.
func (c *Coordinator) BatchVerifyCredentials(ctx context.Context, fingerprints []string) []VerificationOutcome {
	out := make([]VerificationOutcome, len(fingerprints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.verifyLimit)
	for i, fingerprint := range fingerprints {
		i, fingerprint := i, fingerprint
		g.Go(func() error {
			res, err := c.VerifyCredential(gctx, fingerprint)
			out[i] = VerificationOutcome{Result: res, Err: err}
			if err != nil {
				out[i].Reason = ReasonOf(err)
			}
			// per-item failures must not cancel the others
			return nil
		})
	}
	_ = g.Wait()
	return out
}
