package credential

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Role string

const (
	RoleIssuer    Role = "issuer"
	RoleAuthority Role = "authority"
	RoleHolder    Role = "holder"
	RoleVerifier  Role = "verifier"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleIssuer, RoleAuthority, RoleHolder, RoleVerifier:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

type Mode string

const (
	ModeLedger Mode = "ledger"
	ModeLocal  Mode = "local"
)

// SessionInput is what the identity layer knows about the caller.
type SessionInput struct {
	Role            Role
	SignerAvailable bool
	WalletAddress   string
	Demo            bool
}

// Session is fixed for the lifetime of a Coordinator.
type Session struct {
	Role          Role   `json:"role"`
	Mode          Mode   `json:"mode"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

// newSession selects the mode once. signer is the ledger sending account, nil when no
// ledger is configured.
func newSession(in SessionInput, signer *common.Address) (Session, error) {
	role, err := ParseRole(string(in.Role))
	if err != nil {
		return Session{}, err
	}

	s := Session{Role: role, Mode: ModeLocal, WalletAddress: strings.TrimSpace(in.WalletAddress)}
	if !in.SignerAvailable || signer == nil || in.Demo {
		if s.WalletAddress != "" {
			s.WalletAddress = issuerKey(s.WalletAddress)
		}
		return s, nil
	}

	s.Mode = ModeLedger
	if s.WalletAddress == "" {
		s.WalletAddress = signer.Hex()
		return s, nil
	}
	if !common.IsHexAddress(s.WalletAddress) {
		return Session{}, fmt.Errorf("%w: wallet %q", ErrInvalidAddress, s.WalletAddress)
	}
	wallet := common.HexToAddress(s.WalletAddress)
	if wallet != *signer {
		return Session{}, fmt.Errorf("wallet %s does not match ledger signer %s", wallet.Hex(), signer.Hex())
	}
	s.WalletAddress = wallet.Hex()
	return s, nil
}

func (s Session) hasRole(roles ...Role) bool {
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}
