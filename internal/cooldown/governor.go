// ABOUTME: Per-user, per-action cooldown gate with atomic check-and-arm.
// ABOUTME: A denied call never refreshes the window; only allowed calls do.

package cooldown

import (
	"fmt"
	"sync"
	"time"
)

// Action identifies which panel action a cooldown applies to. Each action
// has its own table and duration; exhausting one never affects the others.
type Action string

const (
	ActionIssue  Action = "issue"
	ActionReveal Action = "reveal"
	ActionReset  Action = "reset"
)

// Default durations, overridable via Config.
const (
	DefaultIssueCooldown  = 20 * time.Second
	DefaultRevealCooldown = 20 * time.Second
	DefaultResetCooldown  = 5 * time.Hour
)

// Config holds the per-action cooldown durations.
type Config struct {
	Issue  time.Duration
	Reveal time.Duration
	Reset  time.Duration
}

// DefaultConfig returns the stock cooldown durations.
func DefaultConfig() Config {
	return Config{
		Issue:  DefaultIssueCooldown,
		Reveal: DefaultRevealCooldown,
		Reset:  DefaultResetCooldown,
	}
}

// Decision is the outcome of a TryAcquire call. When Allowed is false,
// Remaining holds the time left before the action may be retried.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// Governor tracks the last allowed invocation time for every (user, action)
// pair. The check and the timestamp update happen under one lock so two
// racing requests for the same user cannot both pass the gate.
type Governor struct {
	mu sync.Mutex

	cfg  Config
	last map[Action]map[int64]time.Time
}

// New creates a governor with the given durations. Zero durations fall back
// to the defaults.
func New(cfg Config) *Governor {
	def := DefaultConfig()
	if cfg.Issue <= 0 {
		cfg.Issue = def.Issue
	}
	if cfg.Reveal <= 0 {
		cfg.Reveal = def.Reveal
	}
	if cfg.Reset <= 0 {
		cfg.Reset = def.Reset
	}
	return &Governor{
		cfg: cfg,
		last: map[Action]map[int64]time.Time{
			ActionIssue:  {},
			ActionReveal: {},
			ActionReset:  {},
		},
	}
}

// Duration returns the configured cooldown for an action.
func (g *Governor) Duration(action Action) time.Duration {
	switch action {
	case ActionIssue:
		return g.cfg.Issue
	case ActionReveal:
		return g.cfg.Reveal
	case ActionReset:
		return g.cfg.Reset
	}
	return 0
}

// TryAcquire checks whether the user may perform the action at time now.
// If allowed, now is recorded as the new last-invocation time in the same
// critical section. If denied, the stored timestamp is left untouched so a
// burst of rejected calls cannot keep resetting the window.
func (g *Governor) TryAcquire(userID int64, action Action, now time.Time) Decision {
	d := g.Duration(action)

	g.mu.Lock()
	defer g.mu.Unlock()

	table, ok := g.last[action]
	if !ok {
		// Unknown action kinds are never gated.
		return Decision{Allowed: true}
	}

	if prev, seen := table[userID]; seen {
		elapsed := now.Sub(prev)
		if elapsed < d {
			return Decision{Remaining: d - elapsed}
		}
	}

	table[userID] = now
	return Decision{Allowed: true}
}

// FormatRemaining renders a remaining wait as "M minutes and S seconds",
// the wording shown to users on a denied action.
func FormatRemaining(remaining time.Duration) string {
	total := int(remaining.Seconds())
	minutes, seconds := total/60, total%60
	return fmt.Sprintf("%d minutes and %d seconds", minutes, seconds)
}
