package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Revert reasons shared by every Registry implementation.
var (
	ErrCredentialNotFound  = errors.New("credential does not exist")
	ErrCredentialExists    = errors.New("credential already exists")
	ErrIssuerNotAuthorized = errors.New("issuer not authorized")
	ErrNotAdmin            = errors.New("caller is not the admin")
	ErrNotCredentialIssuer = errors.New("caller is not the credential issuer")
)

// Registry is the credential registry contract surface.
//
// Write methods are sent from the registry's own signer; they block until the
// transaction is mined and return an error when it reverts.
type Registry interface {
	AuthorizeIssuer(ctx context.Context, issuer common.Address, name string) (Receipt, error)
	RevokeIssuer(ctx context.Context, issuer common.Address) (Receipt, error)
	IssueCredential(ctx context.Context, req IssueRequest) (Receipt, error)
	RevokeCredential(ctx context.Context, fingerprint common.Hash) (Receipt, error)

	IsAuthorizedIssuer(ctx context.Context, issuer common.Address) (bool, error)
	// GetCredential returns ErrCredentialNotFound when nothing is stored under fingerprint.
	GetCredential(ctx context.Context, fingerprint common.Hash) (*OnchainCredential, error)
	IsValidCredential(ctx context.Context, fingerprint common.Hash) (bool, error)
	CredentialHashes(ctx context.Context) ([]common.Hash, error)

	NetworkInfo(ctx context.Context) (NetworkInfo, error)
	BlockHeight(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	Signer() common.Address
}

// IssueRequest carries the arguments of issueCredential.
type IssueRequest struct {
	StudentIdentifier string
	StudentName       string
	CourseName        string
	ContentID         string
	Fingerprint       common.Hash
}

// Receipt identifies a mined registry transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockHeight uint64
}

// OnchainCredential mirrors the getCredential tuple.
type OnchainCredential struct {
	Issuer            common.Address
	StudentIdentifier string
	StudentName       string
	CourseName        string
	IpfsHash          string
	IssuedAt          *big.Int
	IsValid           bool
}

type NetworkInfo struct {
	ChainID     *big.Int `json:"chain_id"`
	Name        string   `json:"name"`
	BlockHeight uint64   `json:"block_height"`
	Contract    string   `json:"contract"`
}
