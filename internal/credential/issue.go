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

// IssueCredential uploads the credential metadata, then confirms the credential on the
// ledger (ledger mode) or records it as local-only (local mode). No record reaches the
// local tier unless every step succeeded.
func (c *Coordinator) IssueCredential(ctx context.Context, req IssueRequest) (rec *Record, err error) {
	const op = "issue"
	defer func() {
		metrics.RecordOperation(op, err)
		if err != nil {
			c.notify(SeverityError, "Issuance failed", ReasonOf(err))
		}
	}()

	if err := c.requireRole(op, RoleIssuer); err != nil {
		return nil, err
	}
	if err := c.requireRunning(op); err != nil {
		return nil, err
	}
	if missing := req.missing(); len(missing) > 0 {
		return nil, newError(KindData, op, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", ")),
			"missing required fields: "+strings.Join(missing, ", "))
	}

	var issuerAddr common.Address
	if c.session.Mode == ModeLedger {
		if !common.IsHexAddress(strings.TrimSpace(req.IssuerAddress)) {
			return nil, newError(KindData, op, fmt.Errorf("%w: %q", ErrInvalidAddress, req.IssuerAddress), "issuer must be a hex address")
		}
		issuerAddr = common.HexToAddress(strings.TrimSpace(req.IssuerAddress))
		if issuerAddr.Hex() != c.session.WalletAddress {
			return nil, newError(KindAuthorization, op, ErrNotAuthorized, "issuer does not match the connected wallet")
		}
	}

	record := Record{
		IssuerAddress:     issuerKey(req.IssuerAddress),
		StudentIdentifier: strings.TrimSpace(req.StudentIdentifier),
		StudentName:       strings.TrimSpace(req.StudentName),
		CourseName:        strings.TrimSpace(req.CourseName),
		IssuedAt:          c.nowMillis(),
		State:             StateDraft,
	}

	contentID, err := c.store.Put(ctx, newMetadata(&record), "credential-"+record.StudentIdentifier)
	if err != nil {
		return nil, newError(KindAvailability, op, err, "failed to upload credential metadata")
	}
	record.ContentID = contentID
	if err := record.advance(StateContentUploaded); err != nil {
		return nil, newError(KindState, op, err, "invalid credential state")
	}

	fp := ledger.ComputeFingerprint(record.fingerprintInput())
	record.Fingerprint = fp.Hex()
	if _, exists := c.credential(fp); exists {
		return nil, newError(KindState, op, ErrDuplicate, "credential already exists")
	}

	switch c.session.Mode {
	case ModeLedger:
		if !c.ledger.IsAuthorizedIssuer(ctx, issuerAddr) {
			return nil, newError(KindAuthorization, op, ErrIssuerNotAccredited, "issuer is not accredited on the ledger")
		}
		receipt, err := c.ledger.IssueCredential(ctx, ledger.IssueRequest{
			StudentIdentifier: record.StudentIdentifier,
			StudentName:       record.StudentName,
			CourseName:        record.CourseName,
			ContentID:         record.ContentID,
			Fingerprint:       fp,
		})
		if err != nil {
			return nil, ledgerWriteError(op, err)
		}
		record.LedgerTxID = receipt.TxHash.Hex()
		record.BlockHeight = receipt.BlockHeight
		if err := record.advance(StateLedgerConfirmed); err != nil {
			return nil, newError(KindState, op, err, "invalid credential state")
		}
		if !c.issuerAuthorized(record.IssuerAddress) {
			iss := Issuer{Address: record.IssuerAddress, IsAuthorized: true, AuthorizedAt: c.clock.Now()}
			c.putIssuer(iss)
			c.persistIssuer(iss)
		}
	default:
		if !c.issuerAuthorized(record.IssuerAddress) {
			return nil, newError(KindAuthorization, op, ErrIssuerNotAccredited, "issuer is not accredited")
		}
		record.IsLocalOnly = true
		if err := record.advance(StateLocalOnly); err != nil {
			return nil, newError(KindState, op, err, "invalid credential state")
		}
	}

	if err := record.advance(StateValid); err != nil {
		return nil, newError(KindState, op, err, "invalid credential state")
	}
	record.IsValid = true

	stored := c.putCredential(fp, record)
	c.persistCredential(stored)
	c.notify(SeveritySuccess, "Credential issued", fmt.Sprintf("%s for %s (%s)", stored.CourseName, stored.StudentName, stored.Fingerprint))
	c.changed()

	slog.Info("credential issued", "fingerprint", stored.Fingerprint, "issuer", stored.IssuerAddress, "mode", c.session.Mode, "cid", stored.ContentID, "tx", stored.LedgerTxID)
	return &stored, nil
}

// BatchIssueCredentials issues every request strictly in order, one at a time. A failed
// item does not stop or roll back the others.
func (c *Coordinator) BatchIssueCredentials(ctx context.Context, reqs []IssueRequest) []IssueResult {
	results := make([]IssueResult, len(reqs))
	failed := 0
	for i, req := range reqs {
		rec, err := c.IssueCredential(ctx, req)
		results[i] = IssueResult{Index: i, Record: rec, Err: err}
		if err != nil {
			results[i].Reason = ReasonOf(err)
			failed++
			slog.Warn("batch item failed", "index", i, "err", err)
		}
	}
	slog.Info("batch issuance finished", "total", len(reqs), "failed", failed)
	return results
}
