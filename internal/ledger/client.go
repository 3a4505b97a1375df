package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnavailable is returned by reads when the registry cannot be reached.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrWriteFailed wraps every failed registry write.
	ErrWriteFailed = errors.New("ledger write failed")
)

// LookupStatus distinguishes the three outcomes of a ledger credential read.
type LookupStatus int

const (
	LookupNotFound LookupStatus = iota
	LookupInvalid
	LookupValid
)

func (s LookupStatus) String() string {
	switch s {
	case LookupValid:
		return "valid"
	case LookupInvalid:
		return "invalid"
	default:
		return "not_found"
	}
}

// Lookup is the result of VerifyCredential.
type Lookup struct {
	Status     LookupStatus
	Credential *OnchainCredential
}

// Client wraps a Registry with the read/write failure rules of the coordinator:
// reads degrade, writes never do.
type Client struct {
	registry Registry
}

// NewClient creates a new ledger client.
func NewClient(registry Registry) *Client {
	return &Client{registry: registry}
}

// Signer returns the account writes are sent from.
func (c *Client) Signer() common.Address {
	return c.registry.Signer()
}

// ComputeFingerprint is the content addressing primitive shared by every tier.
func (c *Client) ComputeFingerprint(in FingerprintInput) common.Hash {
	return ComputeFingerprint(in)
}

// IsAuthorizedIssuer reports whether issuer is accredited. Registry failures are
// logged and reported as false.
func (c *Client) IsAuthorizedIssuer(ctx context.Context, issuer common.Address) bool {
	ok, err := c.registry.IsAuthorizedIssuer(ctx, issuer)
	if err != nil {
		slog.Warn("issuer authorization lookup failed", "issuer", issuer.Hex(), "err", err)
		return false
	}
	return ok
}

// IssueCredential writes a credential. The caller must have confirmed the issuer first.
func (c *Client) IssueCredential(ctx context.Context, req IssueRequest) (Receipt, error) {
	receipt, err := c.registry.IssueCredential(ctx, req)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: issue %s: %w", ErrWriteFailed, req.Fingerprint.Hex(), err)
	}
	slog.Info("credential issued on ledger", "fingerprint", req.Fingerprint.Hex(), "tx", receipt.TxHash.Hex(), "block", receipt.BlockHeight)
	return receipt, nil
}

// RevokeCredential marks a credential invalid on the ledger.
func (c *Client) RevokeCredential(ctx context.Context, fingerprint common.Hash) (Receipt, error) {
	receipt, err := c.registry.RevokeCredential(ctx, fingerprint)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: revoke %s: %w", ErrWriteFailed, fingerprint.Hex(), err)
	}
	slog.Info("credential revoked on ledger", "fingerprint", fingerprint.Hex(), "tx", receipt.TxHash.Hex())
	return receipt, nil
}

func (c *Client) AuthorizeIssuer(ctx context.Context, issuer common.Address, name string) (Receipt, error) {
	receipt, err := c.registry.AuthorizeIssuer(ctx, issuer, name)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: authorize issuer %s: %w", ErrWriteFailed, issuer.Hex(), err)
	}
	return receipt, nil
}

func (c *Client) RevokeIssuer(ctx context.Context, issuer common.Address) (Receipt, error) {
	receipt, err := c.registry.RevokeIssuer(ctx, issuer)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: revoke issuer %s: %w", ErrWriteFailed, issuer.Hex(), err)
	}
	return receipt, nil
}

// VerifyCredential reads a credential from the ledger. The only error it returns
// wraps ErrUnavailable.
func (c *Client) VerifyCredential(ctx context.Context, fingerprint common.Hash) (Lookup, error) {
	cred, err := c.registry.GetCredential(ctx, fingerprint)
	if errors.Is(err, ErrCredentialNotFound) {
		return Lookup{Status: LookupNotFound}, nil
	}
	if err != nil {
		return Lookup{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !cred.IsValid {
		return Lookup{Status: LookupInvalid, Credential: cred}, nil
	}
	return Lookup{Status: LookupValid, Credential: cred}, nil
}

// CredentialHashes lists every fingerprint known to the ledger.
func (c *Client) CredentialHashes(ctx context.Context) ([]common.Hash, error) {
	hashes, err := c.registry.CredentialHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return hashes, nil
}

func (c *Client) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	info, err := c.registry.NetworkInfo(ctx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return info, nil
}

func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	height, err := c.registry.BlockHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return height, nil
}

func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.registry.Balance(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return balance, nil
}
