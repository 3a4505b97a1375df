package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/credential-coordinator/internal/contentstore"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	store, err := NewSqliteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func Test_SqliteStore_Credentials(t *testing.T) {
	store := newTestStore(t)

	older := Record{
		Fingerprint:       "0x01",
		IssuerAddress:     issuerAccount.Hex(),
		StudentIdentifier: "s-1",
		StudentName:       "Jane Doe",
		CourseName:        "B.Sc. CS",
		ContentID:         "bafkreia",
		IssuedAt:          1000,
		IsValid:           true,
		LedgerTxID:        "0xtx1",
		BlockHeight:       42,
		State:             StateValid,
	}
	newer := Record{
		Fingerprint:       "0x02",
		IssuerAddress:     "0xabc",
		StudentIdentifier: "s-2",
		StudentName:       "John Roe",
		CourseName:        "M.Sc. CS",
		ContentID:         "bafkreib",
		IssuedAt:          2000,
		IsValid:           true,
		IsLocalOnly:       true,
		State:             StateValid,
	}
	require.NoError(t, store.SaveCredential(older))
	require.NoError(t, store.SaveCredential(newer))

	records, err := store.GetCredentials()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer, records[0])
	assert.Equal(t, older, records[1])

	revoked := older
	revoked.IsRevoked = true
	revoked.IsValid = false
	revoked.State = StateRevoked
	revoked.RevocationTxID = "0xtx2"
	revoked.RevokedAt = 3000
	require.NoError(t, store.SaveCredential(revoked))

	records, err = store.GetCredentials()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, revoked, records[1])
}

func Test_SqliteStore_Issuers(t *testing.T) {
	store := newTestStore(t)
	at := time.UnixMilli(1700000000000)

	require.NoError(t, store.SaveIssuer(Issuer{Address: "0xdef", DisplayName: "Other", IsAuthorized: true, AuthorizedAt: at}))
	require.NoError(t, store.SaveIssuer(Issuer{Address: "0xabc", DisplayName: "Demo", IsAuthorized: true, AuthorizedAt: at}))
	require.NoError(t, store.SaveIssuer(Issuer{Address: "0xdef", DisplayName: "Other", IsAuthorized: false, AuthorizedAt: at}))

	issuers, err := store.GetIssuers()
	require.NoError(t, err)
	require.Len(t, issuers, 2)
	assert.Equal(t, "0xabc", issuers[0].Address)
	assert.True(t, issuers[0].IsAuthorized)
	assert.True(t, at.Equal(issuers[0].AuthorizedAt))
	assert.Equal(t, "0xdef", issuers[1].Address)
	assert.False(t, issuers[1].IsAuthorized)
}

func Test_SqliteStore_ConfigSecretsAndPause(t *testing.T) {
	store := newTestStore(t)

	value, err := store.GetConfigValue("session_mode")
	require.NoError(t, err)
	assert.Empty(t, value)
	require.NoError(t, store.SetConfigValue("session_mode", "ledger"))
	value, err = store.GetConfigValue("session_mode")
	require.NoError(t, err)
	assert.Equal(t, "ledger", value)

	secret, err := store.GetSecret("pause_api_key")
	require.NoError(t, err)
	assert.Empty(t, secret)
	require.NoError(t, store.SetSecret("pause_api_key", "hash"))
	secret, err = store.GetSecret("pause_api_key")
	require.NoError(t, err)
	assert.Equal(t, "hash", secret)

	paused, err := store.GetPauseStatus()
	require.NoError(t, err)
	assert.False(t, paused)
	require.NoError(t, store.SetPauseStatus(true))
	paused, err = store.GetPauseStatus()
	require.NoError(t, err)
	assert.True(t, paused)
}

func Test_SqliteStore_PauseAttempts(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.RecordPauseAttempt("pause"))
	require.NoError(t, store.RecordPauseAttempt("pause"))
	require.NoError(t, store.RecordPauseAttempt("resume"))

	n, err := store.GetRecentPauseAttempts("pause", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.CleanupOldPauseAttempts(time.Hour))
	n, err = store.GetRecentPauseAttempts("resume", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.CleanupOldPauseAttempts(-time.Minute))
	n, err = store.GetRecentPauseAttempts("pause", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func Test_Coordinator_LoadRestoresState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	content := contentstore.NewMemoryStore()

	first, err := NewCoordinator(Config{
		Session:        SessionInput{Role: RoleIssuer},
		Store:          content,
		Db:             store,
		Clock:          testClock(),
		TrustedIssuers: []Issuer{{Address: "0xabc"}},
	})
	require.NoError(t, err)
	require.NoError(t, first.Load(ctx))

	kept, err := first.IssueCredential(ctx, issueRequest("0xabc", "s-1"))
	require.NoError(t, err)
	gone, err := first.IssueCredential(ctx, issueRequest("0xabc", "s-2"))
	require.NoError(t, err)
	_, err = first.RevokeCredential(ctx, gone.Fingerprint)
	require.NoError(t, err)
	require.NoError(t, first.SetPaused(ctx, true))

	require.NoError(t, store.SaveIssuer(Issuer{Address: "0xdef", DisplayName: "Other", IsAuthorized: false}))
	require.NoError(t, store.SaveIssuer(Issuer{Address: "0x123", DisplayName: "Third", IsAuthorized: true, AuthorizedAt: time.UnixMilli(1)}))

	second, err := NewCoordinator(Config{
		Session:        SessionInput{Role: RoleVerifier},
		Store:          content,
		Db:             store,
		Clock:          testClock(),
		TrustedIssuers: []Issuer{{Address: "0xdef", DisplayName: "Other"}},
	})
	require.NoError(t, err)
	require.NoError(t, second.Load(ctx))

	assert.True(t, second.Paused())
	require.Len(t, second.Credentials(), 2)

	rec, err := second.Credential(kept.Fingerprint)
	require.NoError(t, err)
	assert.True(t, rec.IsValid)
	assert.True(t, rec.IsLocalOnly)
	assert.Equal(t, kept.ContentID, rec.ContentID)

	rec, err = second.Credential(gone.Fingerprint)
	require.NoError(t, err)
	assert.True(t, rec.IsRevoked)
	assert.Equal(t, StateRevoked, rec.State)

	res, err := second.VerifyCredential(ctx, gone.Fingerprint)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	issuers := map[string]Issuer{}
	for _, iss := range second.Issuers() {
		issuers[iss.Address] = iss
	}
	assert.True(t, issuers["0xdef"].IsAuthorized, "configured issuers stay authorized")
	assert.True(t, issuers["0x123"].IsAuthorized)

	mode, err := store.GetConfigValue(sessionModeKey)
	require.NoError(t, err)
	assert.Equal(t, string(ModeLocal), mode)
}
