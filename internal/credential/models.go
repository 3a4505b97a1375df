package credential

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/credential-coordinator/internal/ledger"
)

// State is a step of the credential lifecycle.
type State string

const (
	StateDraft           State = "draft"
	StateContentUploaded State = "content_uploaded"
	StateLedgerConfirmed State = "ledger_confirmed"
	StateLocalOnly       State = "local_only"
	StateValid           State = "valid"
	StateRevoked         State = "revoked"
)

var transitions = map[State][]State{
	StateDraft:           {StateContentUploaded},
	StateContentUploaded: {StateLedgerConfirmed, StateLocalOnly},
	StateLedgerConfirmed: {StateValid},
	StateLocalOnly:       {StateValid},
	StateValid:           {StateRevoked},
}

// CanTransition reports whether a record may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Record is one issued credential.
type Record struct {
	Fingerprint       string `json:"fingerprint"`
	IssuerAddress     string `json:"issuerAddress"`
	StudentIdentifier string `json:"studentIdentifier"`
	StudentName       string `json:"studentName"`
	CourseName        string `json:"courseName"`
	ContentID         string `json:"contentId"`
	IssuedAt          int64  `json:"issuedAt"`
	IsValid           bool   `json:"isValid"`
	IsRevoked         bool   `json:"isRevoked"`
	LedgerTxID        string `json:"ledgerTxId,omitempty"`
	BlockHeight       uint64 `json:"blockHeight,omitempty"`
	RevocationTxID    string `json:"revocationTxId,omitempty"`
	RevokedAt         int64  `json:"revokedAt,omitempty"`
	IsLocalOnly       bool   `json:"isLocalOnly"`
	State             State  `json:"state"`
}

func (r *Record) advance(to State) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("invalid transition %s -> %s", r.State, to)
	}
	r.State = to
	return nil
}

func (r *Record) fingerprintInput() ledger.FingerprintInput {
	return ledger.FingerprintInput{
		IssuerAddress:     r.IssuerAddress,
		StudentIdentifier: r.StudentIdentifier,
		StudentName:       r.StudentName,
		CourseName:        r.CourseName,
		IssuedAt:          r.IssuedAt,
	}
}

// ComputeFingerprint normalises the identity fields the way issuance does and hashes
// them.
func (r Record) ComputeFingerprint() common.Hash {
	r.IssuerAddress = issuerKey(r.IssuerAddress)
	r.StudentIdentifier = strings.TrimSpace(r.StudentIdentifier)
	r.StudentName = strings.TrimSpace(r.StudentName)
	r.CourseName = strings.TrimSpace(r.CourseName)
	return ledger.ComputeFingerprint(r.fingerprintInput())
}

// IssuedTime returns IssuedAt as a time.
func (r Record) IssuedTime() time.Time {
	return time.UnixMilli(r.IssuedAt)
}

// merge returns incoming with revocation carried over from existing. A revoked record
// is never made valid again.
func merge(existing, incoming Record) Record {
	if existing.IsRevoked && !incoming.IsRevoked {
		incoming.IsRevoked = true
		incoming.IsValid = false
		incoming.State = StateRevoked
		incoming.RevokedAt = existing.RevokedAt
		incoming.RevocationTxID = existing.RevocationTxID
	}
	return incoming
}

// Issuer is an accredited issuing institution.
type Issuer struct {
	Address      string    `json:"address" yaml:"address"`
	DisplayName  string    `json:"displayName" yaml:"name"`
	IsAuthorized bool      `json:"isAuthorized" yaml:"-"`
	AuthorizedAt time.Time `json:"authorizedAt" yaml:"-"`
}

// issuerKey normalises an issuer reference. Hex addresses are checksummed, anything else
// is lower-cased so that local-only issuers compare case-insensitively.
func issuerKey(s string) string {
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return common.HexToAddress(s).Hex()
	}
	return strings.ToLower(s)
}

// IssueRequest carries the caller supplied fields of a new credential.
type IssueRequest struct {
	IssuerAddress     string `json:"issuerAddress"`
	StudentIdentifier string `json:"studentIdentifier"`
	StudentName       string `json:"studentName"`
	CourseName        string `json:"courseName"`
}

func (r IssueRequest) missing() []string {
	var out []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"issuerAddress", r.IssuerAddress},
		{"studentIdentifier", r.StudentIdentifier},
		{"studentName", r.StudentName},
		{"courseName", r.CourseName},
	} {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

// IssueResult is the per-item outcome of a batch issuance.
type IssueResult struct {
	Index  int     `json:"index"`
	Record *Record `json:"record,omitempty"`
	Err    error   `json:"-"`
	Reason string  `json:"error,omitempty"`
}

// Metadata is the document pinned to the content store for every credential.
type Metadata struct {
	Type              string `json:"type"`
	Version           string `json:"version"`
	Issuer            string `json:"issuer"`
	StudentIdentifier string `json:"studentIdentifier"`
	StudentName       string `json:"studentName"`
	CourseName        string `json:"courseName"`
	IssuedAt          int64  `json:"issuedAt"`
	IssuedAtISO       string `json:"issuedAtIso"`
}

const (
	metadataType    = "AcademicCredential"
	metadataVersion = "1.0"
)

func newMetadata(r *Record) Metadata {
	return Metadata{
		Type:              metadataType,
		Version:           metadataVersion,
		Issuer:            r.IssuerAddress,
		StudentIdentifier: r.StudentIdentifier,
		StudentName:       r.StudentName,
		CourseName:        r.CourseName,
		IssuedAt:          r.IssuedAt,
		IssuedAtISO:       r.IssuedTime().UTC().Format(time.RFC3339Nano),
	}
}

// VerificationResult is the reconciled answer of VerifyCredential.
type VerificationResult struct {
	Fingerprint string    `json:"fingerprint"`
	Found       bool      `json:"found"`
	Valid       bool      `json:"valid"`
	OnChain     bool      `json:"onChain"`
	FromCache   bool      `json:"fromCache"`
	Degraded    bool      `json:"degraded,omitempty"`
	Credential  *Record   `json:"credential,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
	ContentURL  string    `json:"contentUrl,omitempty"`
	VerifiedAt  time.Time `json:"verifiedAt"`
	Reason      string    `json:"reason,omitempty"`
}

// clone returns a copy that shares no pointers with r.
func (r VerificationResult) clone() VerificationResult {
	if r.Credential != nil {
		rec := *r.Credential
		r.Credential = &rec
	}
	if r.Metadata != nil {
		meta := *r.Metadata
		r.Metadata = &meta
	}
	return r
}

// VerificationOutcome is the per-item outcome of a batch verification.
type VerificationOutcome struct {
	Result VerificationResult `json:"result"`
	Err    error              `json:"-"`
	Reason string             `json:"error,omitempty"`
}

// ReconcileReport summarises one Reconcile pass.
type ReconcileReport struct {
	LedgerCredentials int `json:"ledgerCredentials"`
	Checked           int `json:"checked"`
	Revoked           int `json:"revoked"`
	Missing           int `json:"missing"`
}
