package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/credential-coordinator/internal/contentstore"
	"github.com/gateway-fm/credential-coordinator/internal/ledger"
)

var (
	adminAccount  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	issuerAccount = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	otherAccount  = common.HexToAddress("0x00000000000000000000000000000000000000c2")

	errLedgerDown = errors.New("dial tcp: connection refused")
)

func testClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
}

// spyRegistry counts writes and can be told to fail.
type spyRegistry struct {
	*ledger.MemoryRegistry

	mu         sync.Mutex
	issued     []string
	writes     atomic.Int32
	readsDown  atomic.Bool
	failIssue  func(req ledger.IssueRequest) error
	failRevoke error
}

func (s *spyRegistry) IssueCredential(ctx context.Context, req ledger.IssueRequest) (ledger.Receipt, error) {
	s.writes.Add(1)
	s.mu.Lock()
	s.issued = append(s.issued, req.StudentIdentifier)
	s.mu.Unlock()
	if s.failIssue != nil {
		if err := s.failIssue(req); err != nil {
			return ledger.Receipt{}, err
		}
	}
	return s.MemoryRegistry.IssueCredential(ctx, req)
}

func (s *spyRegistry) RevokeCredential(ctx context.Context, fp common.Hash) (ledger.Receipt, error) {
	s.writes.Add(1)
	if s.failRevoke != nil {
		return ledger.Receipt{}, s.failRevoke
	}
	return s.MemoryRegistry.RevokeCredential(ctx, fp)
}

func (s *spyRegistry) AuthorizeIssuer(ctx context.Context, issuer common.Address, name string) (ledger.Receipt, error) {
	s.writes.Add(1)
	return s.MemoryRegistry.AuthorizeIssuer(ctx, issuer, name)
}

func (s *spyRegistry) RevokeIssuer(ctx context.Context, issuer common.Address) (ledger.Receipt, error) {
	s.writes.Add(1)
	return s.MemoryRegistry.RevokeIssuer(ctx, issuer)
}

func (s *spyRegistry) GetCredential(ctx context.Context, fp common.Hash) (*ledger.OnchainCredential, error) {
	if s.readsDown.Load() {
		return nil, errLedgerDown
	}
	return s.MemoryRegistry.GetCredential(ctx, fp)
}

func (s *spyRegistry) issuedOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.issued))
	copy(out, s.issued)
	return out
}

// flakyStore fails every Get while down is set.
type flakyStore struct {
	*contentstore.MemoryStore
	down atomic.Bool
}

func (f *flakyStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	if f.down.Load() {
		return nil, &contentstore.FetchError{CID: contentID}
	}
	return f.MemoryStore.Get(ctx, contentID)
}

type fixture struct {
	coordinator *Coordinator
	clock       *clockwork.FakeClock
	memory      *ledger.MemoryLedger
	spy         *spyRegistry
	store       *flakyStore
}

// newLedgerFixture returns an issuer session in ledger mode whose account is accredited.
func newLedgerFixture(t *testing.T, role Role, account common.Address) *fixture {
	t.Helper()
	ctx := context.Background()

	memory := ledger.NewMemoryLedger(adminAccount)
	_, err := memory.Signer(adminAccount).AuthorizeIssuer(ctx, issuerAccount, "University of Testing")
	require.NoError(t, err)

	f := &fixture{
		clock:  testClock(),
		memory: memory,
		spy:    &spyRegistry{MemoryRegistry: memory.Signer(account)},
		store:  &flakyStore{MemoryStore: contentstore.NewMemoryStore()},
	}
	f.coordinator, err = NewCoordinator(Config{
		Session: SessionInput{Role: role, SignerAvailable: true},
		Ledger:  ledger.NewClient(f.spy),
		Store:   f.store,
		Clock:   f.clock,
	})
	require.NoError(t, err)
	require.Equal(t, ModeLedger, f.coordinator.Session().Mode)
	return f
}

// newLocalFixture returns a demo session. withLedger attaches a ledger that must never be
// written to.
func newLocalFixture(t *testing.T, role Role, wallet string, withLedger bool, trusted ...Issuer) *fixture {
	t.Helper()

	f := &fixture{
		clock: testClock(),
		store: &flakyStore{MemoryStore: contentstore.NewMemoryStore()},
	}
	cfg := Config{
		Session:        SessionInput{Role: role, WalletAddress: wallet, Demo: true, SignerAvailable: withLedger},
		Store:          f.store,
		Clock:          f.clock,
		TrustedIssuers: trusted,
	}
	if withLedger {
		f.memory = ledger.NewMemoryLedger(adminAccount)
		f.spy = &spyRegistry{MemoryRegistry: f.memory.Signer(issuerAccount)}
		cfg.Ledger = ledger.NewClient(f.spy)
	}

	var err error
	f.coordinator, err = NewCoordinator(cfg)
	require.NoError(t, err)
	require.Equal(t, ModeLocal, f.coordinator.Session().Mode)
	return f
}

func issueRequest(issuer, student string) IssueRequest {
	return IssueRequest{
		IssuerAddress:     issuer,
		StudentIdentifier: student,
		StudentName:       "Student " + student,
		CourseName:        "B.Sc. Computer Science",
	}
}

func requireKind(t *testing.T, err error, kind Kind, target error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "error: %v", err)
	if target != nil {
		require.ErrorIs(t, err, target)
	}
	require.NotEmpty(t, ReasonOf(err))
}
