// ABOUTME: Tests for the panel lifecycle manager.
// ABOUTME: Validates singleton reposting, stale-signal handling, and time-boxed expiry.

package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePoster records posted and removed panels.
type fakePoster struct {
	mu        sync.Mutex
	posts     int
	removed   []Identity
	announced []string
	postErr   error
}

func (f *fakePoster) PostPanel(_ context.Context) (Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return Identity{}, f.postErr
	}
	f.posts++
	return Identity{
		MessageID: fmt.Sprintf("msg-%d", f.posts),
		ChannelID: "chan-1",
	}, nil
}

func (f *fakePoster) RemovePanel(_ context.Context, id Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakePoster) Announce(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, text)
}

func (f *fakePoster) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts
}

func (f *fakePoster) setPostErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postErr = err
}

func newTestManager(cfg Config) (*Manager, *fakePoster) {
	poster := &fakePoster{}
	return NewManager(poster, cfg, slog.New(slog.DiscardHandler)), poster
}

func TestManager_StartPostsPanel(t *testing.T) {
	m, poster := newTestManager(Config{})
	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, 1, poster.postCount())
	id, live := m.Current()
	assert.True(t, live)
	assert.Equal(t, "msg-1", id.MessageID)
}

func TestManager_DoubleStartRejected(t *testing.T) {
	m, _ := newTestManager(Config{})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx))
}

func TestManager_DeletionRepostsExactlyOnce(t *testing.T) {
	m, poster := newTestManager(Config{})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	require.NoError(t, m.HandleDeletion(ctx, "msg-1", "@mallory:example.org", "@bot:example.org"))

	assert.Equal(t, 2, poster.postCount(), "exactly one replacement")
	id, live := m.Current()
	assert.True(t, live)
	assert.Equal(t, "msg-2", id.MessageID, "replacement becomes the tracked identity")

	require.Len(t, poster.announced, 1)
	assert.Contains(t, poster.announced[0], "@mallory:example.org")
}

func TestManager_DeletionAttributionFallsBackToUnknown(t *testing.T) {
	m, poster := newTestManager(Config{})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	require.NoError(t, m.HandleDeletion(ctx, "msg-1", "", "@bot:example.org"))

	require.Len(t, poster.announced, 1)
	assert.Contains(t, poster.announced[0], "Unknown")
}

func TestManager_StaleDeletionIgnored(t *testing.T) {
	m, poster := newTestManager(Config{})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	// A signal about some unrelated (or already replaced) message must not
	// trigger another repost.
	require.NoError(t, m.HandleDeletion(ctx, "msg-0", "@mallory:example.org", "@bot:example.org"))

	assert.Equal(t, 1, poster.postCount())
	assert.True(t, m.IsCurrent("msg-1"))
}

func TestManager_OwnDeletionIgnored(t *testing.T) {
	m, poster := newTestManager(Config{})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	require.NoError(t, m.HandleDeletion(ctx, "msg-1", "@bot:example.org", "@bot:example.org"))

	assert.Equal(t, 1, poster.postCount())
	assert.Empty(t, poster.announced)
}

func TestManager_DuplicateDeletionSignals(t *testing.T) {
	m, poster := newTestManager(Config{})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	// The transport may deliver the same redaction twice; the second signal
	// refers to an identity that is no longer tracked.
	require.NoError(t, m.HandleDeletion(ctx, "msg-1", "@mallory:example.org", "@bot:example.org"))
	require.NoError(t, m.HandleDeletion(ctx, "msg-1", "@mallory:example.org", "@bot:example.org"))

	assert.Equal(t, 2, poster.postCount())
}

func TestManager_TimeBoxedExpiry(t *testing.T) {
	m, poster := newTestManager(Config{
		Mode:     ModeTimeBoxed,
		Lifetime: 20 * time.Millisecond,
	})
	defer m.Stop()

	require.NoError(t, m.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return poster.postCount() >= 2
	}, time.Second, 5*time.Millisecond, "expired panel should be reposted")

	poster.mu.Lock()
	removed := len(poster.removed)
	poster.mu.Unlock()
	assert.GreaterOrEqual(t, removed, 1, "expired panel should be removed")

	_, live := m.Current()
	assert.True(t, live)
}

func TestManager_RetriesFailedRepostAfterDeletion(t *testing.T) {
	m, poster := newTestManager(Config{RetryInterval: 10 * time.Millisecond})
	defer m.Stop()
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	// The replacement post fails; the channel must not stay panel-less.
	poster.setPostErr(errors.New("transport down"))
	err := m.HandleDeletion(ctx, "msg-1", "@mallory:example.org", "@bot:example.org")
	assert.Error(t, err)
	_, live := m.Current()
	assert.False(t, live)

	poster.setPostErr(nil)
	assert.Eventually(t, func() bool {
		_, live := m.Current()
		return live
	}, time.Second, 5*time.Millisecond, "panel should be restored by the retry")
	assert.Equal(t, 2, poster.postCount())
}

func TestManager_RetriesFailedRepostAfterExpiry(t *testing.T) {
	m, poster := newTestManager(Config{
		Mode:          ModeTimeBoxed,
		Lifetime:      15 * time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
	})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	poster.setPostErr(errors.New("transport down"))
	// Wait for the expiry to fire and the repost to fail.
	assert.Eventually(t, func() bool {
		_, live := m.Current()
		return !live
	}, time.Second, 5*time.Millisecond)

	poster.setPostErr(nil)
	assert.Eventually(t, func() bool {
		_, live := m.Current()
		return live
	}, time.Second, 5*time.Millisecond, "expired panel should be restored by the retry")
	assert.GreaterOrEqual(t, poster.postCount(), 2)
}

func TestManager_IndefiniteModeNeverExpires(t *testing.T) {
	m, poster := newTestManager(Config{Mode: ModeIndefinite})
	require.NoError(t, m.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, poster.postCount())
}
