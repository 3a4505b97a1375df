package ledger

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RegistryABI(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	require.NoError(t, err)

	for _, method := range []string{
		"authorizeIssuer",
		"revokeIssuer",
		"issueCredential",
		"revokeCredential",
		"getCredential",
		"isValidCredential",
		"isAuthorizedIssuer",
		"getAllCredentialHashes",
	} {
		_, ok := parsed.Methods[method]
		assert.True(t, ok, "missing method %s", method)
	}
	for _, event := range []string{"IssuerAuthorized", "IssuerRevoked", "CredentialIssued", "CredentialRevoked"} {
		_, ok := parsed.Events[event]
		assert.True(t, ok, "missing event %s", event)
	}

	assert.Equal(t, "issueCredential(string,string,string,string,bytes32)", parsed.Methods["issueCredential"].Sig)
	assert.Equal(t, "authorizeIssuer(address,string)", parsed.Methods["authorizeIssuer"].Sig)
}

func Test_decodeRevert(t *testing.T) {
	var tests = map[string]struct {
		input    error
		expected error
	}{
		"exists":    {input: errors.New("execution reverted: Credential already exists"), expected: ErrCredentialExists},
		"not found": {input: errors.New("execution reverted: Credential does not exist"), expected: ErrCredentialNotFound},
		"issuer":    {input: errors.New("execution reverted: Issuer not authorized"), expected: ErrIssuerNotAuthorized},
		"unrelated": {input: errors.New("nonce too low"), expected: nil},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := decodeRevert(test.input)
			assert.ErrorIs(t, err, test.input)
			if test.expected != nil {
				assert.ErrorIs(t, err, test.expected)
			}
		})
	}
}

func Test_chainName(t *testing.T) {
	assert.Equal(t, "sepolia", chainName(big.NewInt(11155111)))
	assert.Equal(t, "chain-99", chainName(big.NewInt(99)))
}
