// ABOUTME: Tests for the credential service.
// ABOUTME: Covers idempotent issue, reset invalidation, read-failure policy, and the full user scenario.

package credential

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/codevault/internal/cache"
	"github.com/relayforge/codevault/internal/code"
	"github.com/relayforge/codevault/internal/ledger"
)

// fakeStore is an in-memory CodeStore with switchable failure modes.
type fakeStore struct {
	codes map[int64]string

	fetchErr  error
	upsertErr error

	fetches int
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{codes: make(map[int64]string)}
}

func (f *fakeStore) FetchCode(_ context.Context, userID int64) (string, error) {
	f.fetches++
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	c, ok := f.codes[userID]
	if !ok {
		return "", ledger.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) UpsertCode(_ context.Context, userID int64, c string) error {
	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.codes[userID] = c
	return nil
}

func newTestService(store *fakeStore) (*Service, *cache.Cache) {
	c := cache.New()
	svc := New(store, c, code.Generate, slog.New(slog.DiscardHandler))
	return svc, c
}

var codePattern = regexp.MustCompile(`\*\*([A-Z0-9]{16})\*\*`)

// extractCode pulls the bolded 16-character code out of a reply.
func extractCode(t *testing.T, msg string) string {
	t.Helper()
	m := codePattern.FindStringSubmatch(msg)
	require.NotNil(t, m, "no code found in reply %q", msg)
	return m[1]
}

func TestIssue_CreatesAndPersists(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	msg, err := svc.Issue(context.Background(), 42)
	require.NoError(t, err)

	assert.Contains(t, msg, "New code generated")
	assert.Contains(t, msg, Warning)
	issued := extractCode(t, msg)
	assert.Equal(t, issued, store.codes[42])
}

func TestIssue_Idempotent(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	first, err := svc.Issue(ctx, 42)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, 42)
	require.NoError(t, err)

	assert.Contains(t, second, "You already have a code")
	assert.Equal(t, extractCode(t, first), extractCode(t, second))
	assert.Equal(t, 1, store.upserts, "repeated issue must not rewrite the ledger")
}

func TestIssue_ReturnsLedgerCodeOnColdCache(t *testing.T) {
	store := newFakeStore()
	store.codes[42] = "LEDGERLEDGERLED1"
	svc, c := newTestService(store)

	msg, err := svc.Issue(context.Background(), 42)
	require.NoError(t, err)

	assert.Contains(t, msg, "You already have a code")
	assert.Equal(t, "LEDGERLEDGERLED1", extractCode(t, msg))

	// The ledger hit populated the cache.
	cached, ok := c.Get(42)
	assert.True(t, ok)
	assert.Equal(t, "LEDGERLEDGERLED1", cached)
	assert.Equal(t, 1, store.fetches)

	// Second call is served from cache.
	_, err = svc.Issue(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, store.fetches)
}

func TestIssue_PersistFailure(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = ledger.ErrUnavailable
	svc, _ := newTestService(store)

	_, err := svc.Issue(context.Background(), 42)
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
}

func TestReveal_NoCode(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	msg, err := svc.Reveal(context.Background(), 42)
	require.NoError(t, err)

	assert.Contains(t, msg, "don't have a code yet")
	assert.Zero(t, store.upserts, "reveal must never create a code")
}

func TestReveal_FromLedger(t *testing.T) {
	store := newFakeStore()
	store.codes[42] = "LEDGERLEDGERLED1"
	svc, c := newTestService(store)

	msg, err := svc.Reveal(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, "LEDGERLEDGERLED1", extractCode(t, msg))
	cached, _ := c.Get(42)
	assert.Equal(t, "LEDGERLEDGERLED1", cached)
}

func TestReveal_ReadFailureCollapsesToNotFound(t *testing.T) {
	// Deliberate policy: an unreachable store reads as "no code yet".
	store := newFakeStore()
	store.fetchErr = ledger.ErrUnavailable
	svc, _ := newTestService(store)

	msg, err := svc.Reveal(context.Background(), 42)
	require.NoError(t, err)
	assert.Contains(t, msg, "don't have a code yet")
}

func TestReset_NoCode(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	msg, err := svc.Reset(context.Background(), 42)
	require.NoError(t, err)

	assert.Contains(t, msg, "don't have a code yet")
	assert.Zero(t, store.upserts)
}

func TestReset_InvalidatesOldCode(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, 42)
	require.NoError(t, err)
	old := extractCode(t, issued)

	resetMsg, err := svc.Reset(ctx, 42)
	require.NoError(t, err)
	fresh := extractCode(t, resetMsg)

	assert.Contains(t, resetMsg, "has been reset")
	assert.NotEqual(t, old, fresh)
	assert.Equal(t, fresh, store.codes[42])

	// Reveal and issue now only ever return the new code.
	reveal, err := svc.Reveal(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, fresh, extractCode(t, reveal))

	reissue, err := svc.Issue(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, fresh, extractCode(t, reissue))
}

func TestScenario_FullLifecycle(t *testing.T) {
	// User 42 with no record: issue, reveal, reset, reveal again.
	store := newFakeStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, 42)
	require.NoError(t, err)
	x := extractCode(t, issued)
	assert.Contains(t, issued, "New code generated")
	assert.Equal(t, x, store.codes[42])

	reveal, err := svc.Reveal(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, x, extractCode(t, reveal))

	resetMsg, err := svc.Reset(ctx, 42)
	require.NoError(t, err)
	y := extractCode(t, resetMsg)
	assert.NotEqual(t, x, y)
	assert.Equal(t, y, store.codes[42])

	reveal, err = svc.Reveal(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, y, extractCode(t, reveal))
	assert.NotContains(t, reveal, x)
}

func TestLookup_CacheAuthoritativeOverLedger(t *testing.T) {
	store := newFakeStore()
	store.codes[42] = "LEDGERLEDGERLED1"
	svc, c := newTestService(store)
	c.Set(42, "CACHEDCACHEDCAC2")

	msg, err := svc.Reveal(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, "CACHEDCACHEDCAC2", extractCode(t, msg))
	assert.Zero(t, store.fetches)
}

func TestService_GenericStoreError(t *testing.T) {
	store := newFakeStore()
	store.codes[42] = "LEDGERLEDGERLED1"
	store.upsertErr = errors.New("boom")
	svc, _ := newTestService(store)

	_, err := svc.Reset(context.Background(), 42)
	assert.Error(t, err)
}
