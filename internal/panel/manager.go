// ABOUTME: Panel lifecycle manager: single live panel, repost on deletion or expiry.
// ABOUTME: Transport-agnostic; posting and removal go through the Poster interface.

package panel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Mode selects how long a posted panel is allowed to live.
type Mode string

const (
	// ModeIndefinite posts a panel once and relies on deletion signals only.
	ModeIndefinite Mode = "indefinite"
	// ModeTimeBoxed removes and reposts the panel after each Lifetime.
	ModeTimeBoxed Mode = "timeboxed"
)

// Identity names a posted panel message within its channel.
type Identity struct {
	MessageID string
	ChannelID string
}

// Poster is what the manager needs from the transport.
type Poster interface {
	// PostPanel publishes a fresh panel and returns its identity.
	PostPanel(ctx context.Context) (Identity, error)
	// RemovePanel deletes a previously posted panel. Removing an
	// already-deleted panel must not be an error.
	RemovePanel(ctx context.Context, id Identity) error
	// Announce posts a plain notice to the panel channel (best-effort).
	Announce(ctx context.Context, text string)
}

// Config holds the panel operating mode.
type Config struct {
	Mode Mode
	// Lifetime is how long a panel lives in ModeTimeBoxed. Ignored otherwise.
	Lifetime time.Duration
	// RetryInterval overrides the delay before retrying a failed repost.
	// Zero means default.
	RetryInterval time.Duration
}

// defaultRetryInterval is how long the manager waits before retrying a
// repost that failed, so a transport hiccup never leaves the channel
// panel-less until restart.
const defaultRetryInterval = 30 * time.Second

// Manager tracks the identity of the single live panel and reacts to
// lifecycle signals. Only the tracked identity is authoritative: signals
// about any other message are ignored, which is what prevents duplicate
// reposts when stale events arrive.
type Manager struct {
	poster Poster
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	current Identity
	live    bool

	timer *time.Timer
}

// NewManager creates a panel manager. The panel is not posted until Start.
func NewManager(poster Poster, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeIndefinite
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	return &Manager{
		poster: poster,
		cfg:    cfg,
		logger: logger.With("component", "panel"),
	}
}

// Start posts the initial panel. In time-boxed mode it also arms the expiry
// timer; the returned stop function releases it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live {
		return fmt.Errorf("panel already started")
	}
	return m.postLocked(ctx)
}

// Stop cancels any pending expiry timer. It does not remove the panel.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Current returns the tracked live panel identity, if any.
func (m *Manager) Current() (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current, m.live
}

// IsCurrent reports whether the given message is the tracked live panel.
// User actions are honored regardless of which panel instance delivered
// them; this exists for lifecycle signals only.
func (m *Manager) IsCurrent(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.live && m.current.MessageID == messageID
}

// HandleDeletion processes a transport signal that a message was deleted.
// If the deleted message is the tracked panel and the deleter is someone
// other than selfID, the deletion is announced with best-effort attribution
// and exactly one replacement panel is posted. Signals for stale or unknown
// messages are ignored.
func (m *Manager) HandleDeletion(ctx context.Context, messageID, deleter, selfID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.live || m.current.MessageID != messageID {
		return nil
	}
	if deleter != "" && deleter == selfID {
		// Our own removal (e.g. time-boxed rotation); the repost is
		// handled by whoever triggered it.
		return nil
	}

	m.live = false
	if deleter == "" {
		deleter = "Unknown"
	}
	m.logger.Warn("panel deleted", "message_id", messageID, "deleted_by", deleter)
	m.poster.Announce(ctx, fmt.Sprintf("Panel deleted by %s. Reposting.", deleter))

	if err := m.postLocked(ctx); err != nil {
		m.scheduleRetryLocked()
		return err
	}
	return nil
}

// expire removes the current panel and posts a replacement. Driven by the
// time-boxed timer only.
func (m *Manager) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.live {
		return
	}

	old := m.current
	m.live = false
	if err := m.poster.RemovePanel(ctx, old); err != nil {
		m.logger.Warn("removing expired panel", "message_id", old.MessageID, "error", err)
	}
	m.logger.Info("panel expired, reposting", "message_id", old.MessageID)

	if err := m.postLocked(ctx); err != nil {
		m.logger.Error("reposting expired panel", "error", err)
		m.scheduleRetryLocked()
	}
}

// scheduleRetryLocked arms a one-shot retry after a failed repost. Must be
// called with mu held. A successful retry re-arms the normal lifetime timer
// via postLocked.
func (m *Manager) scheduleRetryLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.cfg.RetryInterval, m.retryPost)
}

// retryPost attempts to restore a missing panel. Driven by the retry timer.
func (m *Manager) retryPost() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live {
		return
	}
	if err := m.postLocked(ctx); err != nil {
		m.logger.Error("retrying panel repost", "error", err)
		m.scheduleRetryLocked()
	}
}

// postLocked posts a new panel and records it as the tracked identity.
// Must be called with mu held.
func (m *Manager) postLocked(ctx context.Context) error {
	id, err := m.poster.PostPanel(ctx)
	if err != nil {
		return fmt.Errorf("posting panel: %w", err)
	}
	m.current = id
	m.live = true
	m.logger.Info("panel posted", "message_id", id.MessageID, "channel_id", id.ChannelID)

	if m.cfg.Mode == ModeTimeBoxed && m.cfg.Lifetime > 0 {
		if m.timer != nil {
			m.timer.Stop()
		}
		m.timer = time.AfterFunc(m.cfg.Lifetime, m.expire)
	}
	return nil
}
