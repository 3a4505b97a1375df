package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MemoryChainID is reported by MemoryLedger registries.
var MemoryChainID = big.NewInt(1337)

type memoryIssuer struct {
	name       string
	authorized bool
}

// MemoryLedger is an in-process registry that enforces the same rules as the deployed
// contract. Each Signer view transacts from its own account against shared state.
type MemoryLedger struct {
	mu          sync.RWMutex
	admin       common.Address
	issuers     map[common.Address]*memoryIssuer
	credentials map[common.Hash]*OnchainCredential
	order       []common.Hash
	height      uint64
	nonce       uint64
	now         func() time.Time
}

// NewMemoryLedger creates an empty ledger administered by admin.
func NewMemoryLedger(admin common.Address) *MemoryLedger {
	return &MemoryLedger{
		admin:       admin,
		issuers:     make(map[common.Address]*memoryIssuer),
		credentials: make(map[common.Hash]*OnchainCredential),
		now:         time.Now,
	}
}

// Signer returns a Registry that sends transactions from account.
func (l *MemoryLedger) Signer(account common.Address) *MemoryRegistry {
	return &MemoryRegistry{ledger: l, from: account}
}

// mine records a transaction and returns its receipt. Callers hold l.mu.
func (l *MemoryLedger) mine(from common.Address, method string, payload []byte) Receipt {
	l.nonce++
	l.height++
	nonce := make([]byte, 8)
	binary.BigEndian.PutUint64(nonce, l.nonce)
	return Receipt{
		TxHash:      crypto.Keccak256Hash(from.Bytes(), []byte(method), payload, nonce),
		BlockHeight: l.height,
	}
}

// MemoryRegistry is a MemoryLedger bound to one sending account.
type MemoryRegistry struct {
	ledger *MemoryLedger
	from   common.Address
}

func (r *MemoryRegistry) Signer() common.Address {
	return r.from
}

func (r *MemoryRegistry) AuthorizeIssuer(_ context.Context, issuer common.Address, name string) (Receipt, error) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.from != l.admin {
		return Receipt{}, fmt.Errorf("authorizeIssuer: %w", ErrNotAdmin)
	}
	l.issuers[issuer] = &memoryIssuer{name: name, authorized: true}
	return l.mine(r.from, "authorizeIssuer", issuer.Bytes()), nil
}

func (r *MemoryRegistry) RevokeIssuer(_ context.Context, issuer common.Address) (Receipt, error) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.from != l.admin {
		return Receipt{}, fmt.Errorf("revokeIssuer: %w", ErrNotAdmin)
	}
	if iss, ok := l.issuers[issuer]; ok {
		iss.authorized = false
	}
	return l.mine(r.from, "revokeIssuer", issuer.Bytes()), nil
}

func (r *MemoryRegistry) IssueCredential(_ context.Context, req IssueRequest) (Receipt, error) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if iss, ok := l.issuers[r.from]; !ok || !iss.authorized {
		return Receipt{}, fmt.Errorf("issueCredential: %w", ErrIssuerNotAuthorized)
	}
	if _, exists := l.credentials[req.Fingerprint]; exists {
		return Receipt{}, fmt.Errorf("issueCredential: %w", ErrCredentialExists)
	}

	l.credentials[req.Fingerprint] = &OnchainCredential{
		Issuer:            r.from,
		StudentIdentifier: req.StudentIdentifier,
		StudentName:       req.StudentName,
		CourseName:        req.CourseName,
		IpfsHash:          req.ContentID,
		IssuedAt:          big.NewInt(l.now().Unix()),
		IsValid:           true,
	}
	l.order = append(l.order, req.Fingerprint)
	return l.mine(r.from, "issueCredential", req.Fingerprint.Bytes()), nil
}

func (r *MemoryRegistry) RevokeCredential(_ context.Context, fingerprint common.Hash) (Receipt, error) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	cred, ok := l.credentials[fingerprint]
	if !ok {
		return Receipt{}, fmt.Errorf("revokeCredential: %w", ErrCredentialNotFound)
	}
	if r.from != cred.Issuer && r.from != l.admin {
		return Receipt{}, fmt.Errorf("revokeCredential: %w", ErrNotCredentialIssuer)
	}
	cred.IsValid = false
	return l.mine(r.from, "revokeCredential", fingerprint.Bytes()), nil
}

func (r *MemoryRegistry) IsAuthorizedIssuer(_ context.Context, issuer common.Address) (bool, error) {
	l := r.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()

	iss, ok := l.issuers[issuer]
	return ok && iss.authorized, nil
}

func (r *MemoryRegistry) GetCredential(_ context.Context, fingerprint common.Hash) (*OnchainCredential, error) {
	l := r.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()

	cred, ok := l.credentials[fingerprint]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	cp := *cred
	cp.IssuedAt = new(big.Int).Set(cred.IssuedAt)
	return &cp, nil
}

func (r *MemoryRegistry) IsValidCredential(_ context.Context, fingerprint common.Hash) (bool, error) {
	l := r.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()

	cred, ok := l.credentials[fingerprint]
	return ok && cred.IsValid, nil
}

func (r *MemoryRegistry) CredentialHashes(_ context.Context) ([]common.Hash, error) {
	l := r.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]common.Hash, len(l.order))
	copy(out, l.order)
	return out, nil
}

func (r *MemoryRegistry) NetworkInfo(_ context.Context) (NetworkInfo, error) {
	l := r.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()

	return NetworkInfo{
		ChainID:     MemoryChainID,
		Name:        "memory",
		BlockHeight: l.height,
	}, nil
}

func (r *MemoryRegistry) BlockHeight(_ context.Context) (uint64, error) {
	l := r.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height, nil
}

func (r *MemoryRegistry) Balance(_ context.Context, _ common.Address) (*big.Int, error) {
	return new(big.Int), nil
}
