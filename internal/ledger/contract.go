package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const registryABI = `[
{"type":"function","name":"authorizeIssuer","stateMutability":"nonpayable","inputs":[{"name":"issuer","type":"address"},{"name":"name","type":"string"}],"outputs":[]},
{"type":"function","name":"revokeIssuer","stateMutability":"nonpayable","inputs":[{"name":"issuer","type":"address"}],"outputs":[]},
{"type":"function","name":"issueCredential","stateMutability":"nonpayable","inputs":[{"name":"studentIdentifier","type":"string"},{"name":"studentName","type":"string"},{"name":"courseName","type":"string"},{"name":"ipfsHash","type":"string"},{"name":"credentialHash","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"revokeCredential","stateMutability":"nonpayable","inputs":[{"name":"credentialHash","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"getCredential","stateMutability":"view","inputs":[{"name":"credentialHash","type":"bytes32"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"issuer","type":"address"},{"name":"studentIdentifier","type":"string"},{"name":"studentName","type":"string"},{"name":"courseName","type":"string"},{"name":"ipfsHash","type":"string"},{"name":"issuedAt","type":"uint256"},{"name":"isValid","type":"bool"}]}]},
{"type":"function","name":"isValidCredential","stateMutability":"view","inputs":[{"name":"credentialHash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isAuthorizedIssuer","stateMutability":"view","inputs":[{"name":"issuer","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"getAllCredentialHashes","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32[]"}]},
{"type":"event","name":"IssuerAuthorized","anonymous":false,"inputs":[{"name":"issuer","type":"address","indexed":true},{"name":"name","type":"string","indexed":false}]},
{"type":"event","name":"IssuerRevoked","anonymous":false,"inputs":[{"name":"issuer","type":"address","indexed":true}]},
{"type":"event","name":"CredentialIssued","anonymous":false,"inputs":[{"name":"credentialHash","type":"bytes32","indexed":true},{"name":"issuer","type":"address","indexed":true},{"name":"studentIdentifier","type":"string","indexed":false}]},
{"type":"event","name":"CredentialRevoked","anonymous":false,"inputs":[{"name":"credentialHash","type":"bytes32","indexed":true},{"name":"issuer","type":"address","indexed":true}]}
]`

// ContractConfig configures a ContractRegistry.
type ContractConfig struct {
	RPCURL          string
	ContractAddress string
	// PrivateKey is the hex encoded signer key. Without it the registry is read-only.
	PrivateKey string
}

// ContractRegistry talks to the deployed registry contract over JSON-RPC.
type ContractRegistry struct {
	client   *ethclient.Client
	address  common.Address
	contract *bind.BoundContract
	abi      abi.ABI
	auth     *bind.TransactOpts
	chainID  *big.Int
}

// NewContractRegistry dials the RPC endpoint and binds the registry contract.
func NewContractRegistry(ctx context.Context, cfg ContractConfig) (*ContractRegistry, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger rpc %s: %w", cfg.RPCURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	r := &ContractRegistry{
		client:   client,
		address:  address,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		abi:      parsed,
		chainID:  chainID,
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to parse signer key: %w", err)
		}
		if r.auth, err = newTransactor(key, chainID); err != nil {
			client.Close()
			return nil, err
		}
	}

	return r, nil
}

func newTransactor(key *ecdsa.PrivateKey, chainID *big.Int) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	return auth, nil
}

func (r *ContractRegistry) Close() {
	r.client.Close()
}

// Signer returns the transacting account, or the zero address for a read-only registry.
func (r *ContractRegistry) Signer() common.Address {
	if r.auth == nil {
		return common.Address{}
	}
	return r.auth.From
}

func (r *ContractRegistry) transact(ctx context.Context, method string, params ...interface{}) (Receipt, error) {
	if r.auth == nil {
		return Receipt{}, fmt.Errorf("%s: registry has no signer", method)
	}

	opts := *r.auth
	opts.Context = ctx

	tx, err := r.contract.Transact(&opts, method, params...)
	if err != nil {
		return Receipt{}, fmt.Errorf("%s: failed to send transaction: %w", method, decodeRevert(err))
	}
	slog.Debug("registry transaction sent", "method", method, "tx", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, r.client, tx)
	if err != nil {
		return Receipt{}, fmt.Errorf("%s: failed waiting for transaction %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, fmt.Errorf("%s: transaction %s reverted in block %d", method, tx.Hash().Hex(), receipt.BlockNumber)
	}

	return Receipt{TxHash: tx.Hash(), BlockHeight: receipt.BlockNumber.Uint64()}, nil
}

func (r *ContractRegistry) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, decodeRevert(err))
	}
	return out, nil
}

func (r *ContractRegistry) AuthorizeIssuer(ctx context.Context, issuer common.Address, name string) (Receipt, error) {
	return r.transact(ctx, "authorizeIssuer", issuer, name)
}

func (r *ContractRegistry) RevokeIssuer(ctx context.Context, issuer common.Address) (Receipt, error) {
	return r.transact(ctx, "revokeIssuer", issuer)
}

func (r *ContractRegistry) IssueCredential(ctx context.Context, req IssueRequest) (Receipt, error) {
	return r.transact(ctx, "issueCredential",
		req.StudentIdentifier, req.StudentName, req.CourseName, req.ContentID, [32]byte(req.Fingerprint))
}

func (r *ContractRegistry) RevokeCredential(ctx context.Context, fingerprint common.Hash) (Receipt, error) {
	return r.transact(ctx, "revokeCredential", [32]byte(fingerprint))
}

func (r *ContractRegistry) IsAuthorizedIssuer(ctx context.Context, issuer common.Address) (bool, error) {
	out, err := r.call(ctx, "isAuthorizedIssuer", issuer)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (r *ContractRegistry) GetCredential(ctx context.Context, fingerprint common.Hash) (*OnchainCredential, error) {
	out, err := r.call(ctx, "getCredential", [32]byte(fingerprint))
	if err != nil {
		return nil, err
	}
	cred := abi.ConvertType(out[0], new(OnchainCredential)).(*OnchainCredential)
	// unknown hashes come back as the zero tuple on contracts that do not revert
	if cred.Issuer == (common.Address{}) {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

func (r *ContractRegistry) IsValidCredential(ctx context.Context, fingerprint common.Hash) (bool, error) {
	out, err := r.call(ctx, "isValidCredential", [32]byte(fingerprint))
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (r *ContractRegistry) CredentialHashes(ctx context.Context) ([]common.Hash, error) {
	out, err := r.call(ctx, "getAllCredentialHashes")
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([][32]byte)).(*[][32]byte)
	hashes := make([]common.Hash, len(raw))
	for i, h := range raw {
		hashes[i] = common.Hash(h)
	}
	return hashes, nil
}

func (r *ContractRegistry) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	height, err := r.client.BlockNumber(ctx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("failed to get block number: %w", err)
	}
	return NetworkInfo{
		ChainID:     r.chainID,
		Name:        chainName(r.chainID),
		BlockHeight: height,
		Contract:    r.address.Hex(),
	}, nil
}

func (r *ContractRegistry) BlockHeight(ctx context.Context) (uint64, error) {
	return r.client.BlockNumber(ctx)
}

func (r *ContractRegistry) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return r.client.BalanceAt(ctx, account, nil)
}

func chainName(chainID *big.Int) string {
	switch chainID.Uint64() {
	case 1:
		return "mainnet"
	case 137:
		return "polygon"
	case 80002:
		return "amoy"
	case 11155111:
		return "sepolia"
	case 1337, 31337:
		return "local"
	default:
		return fmt.Sprintf("chain-%s", chainID)
	}
}

// decodeRevert maps well known revert strings onto the shared registry errors.
func decodeRevert(err error) error {
	msg := strings.ToLower(err.Error())
	for _, known := range []error{
		ErrCredentialNotFound,
		ErrCredentialExists,
		ErrIssuerNotAuthorized,
		ErrNotAdmin,
		ErrNotCredentialIssuer,
	} {
		if strings.Contains(msg, known.Error()) {
			return errors.Join(known, err)
		}
	}
	return err
}
