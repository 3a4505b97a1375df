package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ComputeFingerprint_Deterministic(t *testing.T) {
	in := FingerprintInput{
		IssuerAddress:     "0xABC",
		StudentIdentifier: "did:x:1",
		StudentName:       "Jane Doe",
		CourseName:        "B.Sc. CS",
		IssuedAt:          1700000000000,
	}

	first := ComputeFingerprint(in)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, ComputeFingerprint(in))
	}

	copied := in
	require.Equal(t, first, ComputeFingerprint(copied))
}

func Test_ComputeFingerprint_CanonicalEncoding(t *testing.T) {
	in := FingerprintInput{
		IssuerAddress:     "0xABC",
		StudentIdentifier: "did:x:1",
		StudentName:       "Jane Doe",
		CourseName:        "B.Sc. CS",
		IssuedAt:          42,
	}

	expected := `{"issuer":"0xABC","studentIdentifier":"did:x:1","studentName":"Jane Doe","courseName":"B.Sc. CS","issuedAt":42}`
	assert.Equal(t, expected, string(in.canonicalJSON()))
	assert.Equal(t, crypto.Keccak256Hash([]byte(expected)), ComputeFingerprint(in))
}

func Test_ComputeFingerprint_FieldSensitivity(t *testing.T) {
	base := FingerprintInput{
		IssuerAddress:     "0x1111111111111111111111111111111111111111",
		StudentIdentifier: "0x2222222222222222222222222222222222222222",
		StudentName:       "Ada Lovelace",
		CourseName:        "Analytical Engines",
		IssuedAt:          1,
	}

	var tests = map[string]func(in *FingerprintInput){
		"issuer":     func(in *FingerprintInput) { in.IssuerAddress = "0x3333333333333333333333333333333333333333" },
		"student":    func(in *FingerprintInput) { in.StudentIdentifier = "custodial:42" },
		"name":       func(in *FingerprintInput) { in.StudentName = "Ada King" },
		"course":     func(in *FingerprintInput) { in.CourseName = "Difference Engines" },
		"issued at":  func(in *FingerprintInput) { in.IssuedAt = 2 },
		"field swap": func(in *FingerprintInput) { in.StudentName, in.CourseName = in.CourseName, in.StudentName },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			changed := base
			mutate(&changed)
			assert.NotEqual(t, ComputeFingerprint(base), ComputeFingerprint(changed))
		})
	}
}

func Test_ParseFingerprint(t *testing.T) {
	valid := ComputeFingerprint(FingerprintInput{StudentName: "x"})

	var tests = map[string]struct {
		input       string
		shouldError bool
	}{
		"valid":        {input: valid.Hex()},
		"upper prefix": {input: "0X" + valid.Hex()[2:]},
		"padded":       {input: "  " + valid.Hex() + " "},
		"no prefix":    {input: valid.Hex()[2:], shouldError: true},
		"short":        {input: "0x1234", shouldError: true},
		"odd length":   {input: valid.Hex() + "0", shouldError: true},
		"not hex":      {input: "0x" + "zz" + valid.Hex()[4:], shouldError: true},
		"empty":        {input: "", shouldError: true},
		"prefix only":  {input: "0x", shouldError: true},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			parsed, err := ParseFingerprint(test.input)
			if test.shouldError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidFingerprint))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, valid, parsed)
		})
	}
}
