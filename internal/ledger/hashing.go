package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidFingerprint = errors.New("invalid fingerprint")

// FingerprintInput is the canonical subset of credential fields that identify a credential
// across the ledger, the content store and the local caches.
//
// Field order is the serialisation order, so it must not be changed.
type FingerprintInput struct {
	IssuerAddress     string `json:"issuer"`
	StudentIdentifier string `json:"studentIdentifier"`
	StudentName       string `json:"studentName"`
	CourseName        string `json:"courseName"`
	IssuedAt          int64  `json:"issuedAt"`
}

// canonicalJSON encodes the input with a fixed key order. encoding/json emits struct fields
// in declaration order and escapes identically on every platform.
func (in FingerprintInput) canonicalJSON() []byte {
	// marshalling a struct of strings and an int64 cannot fail
	data, _ := json.Marshal(in)
	return data
}

// ComputeFingerprint returns the keccak256 hash of the canonical JSON encoding of in.
func ComputeFingerprint(in FingerprintInput) common.Hash {
	return crypto.Keccak256Hash(in.canonicalJSON())
}

// ParseFingerprint parses a 0x-prefixed, 32 byte hex fingerprint.
func ParseFingerprint(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Hash{}, fmt.Errorf("%w: missing 0x prefix", ErrInvalidFingerprint)
	}
	raw, err := hexutil.Decode("0x" + s[2:])
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidFingerprint, common.HashLength, len(raw))
	}
	return common.BytesToHash(raw), nil
}
