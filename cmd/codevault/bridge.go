// ABOUTME: Matrix transport binding for codevault
// ABOUTME: Posts the control panel, maps reactions to actions, and delivers private replies

package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/relayforge/codevault/internal/cache"
	"github.com/relayforge/codevault/internal/code"
	"github.com/relayforge/codevault/internal/config"
	"github.com/relayforge/codevault/internal/cooldown"
	"github.com/relayforge/codevault/internal/credential"
	"github.com/relayforge/codevault/internal/ledger"
	"github.com/relayforge/codevault/internal/panel"
)

// Reaction keys on the panel message that trigger each action.
const (
	reactionIssue  = "🎟️"
	reactionReveal = "👁️"
	reactionReset  = "♻️"
)

// panelBody is the markdown body of the control panel message.
const panelBody = "**Manage Premium Code**\n\n" +
	"➡️ 🎟️ **Get a Code**: Generate a new single-use code for the Loader.\n\n" +
	"➡️ 👁️ **View Code**: Retrieve your existing code.\n\n" +
	"➡️ ♻️ **Reset Code**: Reset your code (after resetting, your old code will no longer be valid)."

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

// Bridge wires the Matrix transport to the credential service and panel
// lifecycle manager.
type Bridge struct {
	cfg      *config.Config
	matrix   *mautrix.Client
	creds    *credential.Service
	governor *cooldown.Governor
	panels   *panel.Manager
	logger   *slog.Logger

	roomID id.RoomID
	selfID id.UserID

	// Cached per-user direct message rooms for private replies.
	dmRooms sync.Map

	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates the bridge and all core components behind it.
func NewBridge(cfg *config.Config, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	store := ledger.NewClient(ledger.Config{
		APIURL: cfg.Ledger.APIURL,
		Token:  cfg.Ledger.Token,
		Repo:   cfg.Ledger.Repo,
		Path:   cfg.Ledger.Path,
	}, logger)

	b := &Bridge{
		cfg:      cfg,
		matrix:   client,
		creds:    credential.New(store, cache.New(), code.Generate, logger),
		governor: cooldown.New(cfg.Cooldowns.Parsed),
		logger:   logger.With("component", "bridge"),
		roomID:   id.RoomID(cfg.Panel.RoomID),
		selfID:   id.UserID(cfg.Matrix.UserID),
	}
	b.panels = panel.NewManager(b, panel.Config{
		Mode:     panel.Mode(cfg.Panel.Mode),
		Lifetime: cfg.Panel.ParsedLifetime,
	}, logger)
	return b, nil
}

// Run posts the panel, starts syncing, and blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting bridge",
		"homeserver", b.cfg.Matrix.Homeserver,
		"user_id", b.cfg.Matrix.UserID,
		"panel_room", b.cfg.Panel.RoomID,
		"panel_mode", b.cfg.Panel.Mode,
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()
	b.startedAt = time.Now()

	if err := b.panels.Start(b.ctx); err != nil {
		return fmt.Errorf("posting initial panel: %w", err)
	}
	defer b.panels.Stop()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventReaction, b.handleReaction)
	syncer.OnEventType(event.EventRedaction, b.handleRedaction)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down bridge")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleReaction maps a reaction on a panel message to an action.
func (b *Bridge) handleReaction(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.selfID {
		return
	}
	// Skip reactions replayed from before this process started.
	if time.UnixMilli(evt.Timestamp).Before(b.startedAt.Add(-time.Minute)) {
		return
	}

	// Action emojis are honored on any message in the panel room, not just
	// the tracked panel: actions are per-user, so clicks on a stale panel
	// (including one posted before a restart) still work.
	if evt.RoomID != b.roomID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok {
		return
	}

	var action cooldown.Action
	switch content.RelatesTo.Key {
	case reactionIssue:
		action = cooldown.ActionIssue
	case reactionReveal:
		action = cooldown.ActionReveal
	case reactionReset:
		action = cooldown.ActionReset
	default:
		return
	}

	// Process in a goroutine so a slow ledger round-trip never blocks sync.
	go b.processAction(b.ctx, evt.Sender, action)
}

// handleRedaction feeds panel deletion signals to the lifecycle manager.
func (b *Bridge) handleRedaction(ctx context.Context, evt *event.Event) {
	if evt.RoomID != b.roomID || evt.Redacts == "" {
		return
	}
	if err := b.panels.HandleDeletion(b.ctx, evt.Redacts.String(), evt.Sender.String(), b.selfID.String()); err != nil {
		b.logger.Error("handling panel deletion", "error", err)
	}
}

// actionVerbs is the per-action wording used in cooldown and error replies.
var actionVerbs = map[cooldown.Action]string{
	cooldown.ActionIssue:  "generating a new code",
	cooldown.ActionReveal: "viewing your code again",
	cooldown.ActionReset:  "resetting your code again",
}

// processAction gates, dispatches, and replies to one user action. Any
// failure degrades to a generic error reply; nothing here may crash the
// process.
func (b *Bridge) processAction(ctx context.Context, sender id.UserID, action cooldown.Action) {
	requestID := uuid.NewString()
	logger := b.logger.With("request_id", requestID, "sender", sender.String(), "action", string(action))

	roomID, err := b.ensureDMRoom(sender)
	if err != nil {
		logger.Error("creating DM room", "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in action handler", "panic", r)
			b.sendToRoom(roomID, genericError(action))
		}
	}()

	userID := numericUserID(sender)
	logger.Info("action received", "user_id", userID)

	decision := b.governor.TryAcquire(userID, action, time.Now())
	if !decision.Allowed {
		verb := actionVerbs[action]
		b.sendToRoom(roomID, fmt.Sprintf("Please wait %s before %s.",
			cooldown.FormatRemaining(decision.Remaining), verb))
		return
	}

	// Show a typing indicator while the ledger round-trip is in flight.
	b.setTyping(roomID, true)
	defer b.setTyping(roomID, false)

	var msg string
	switch action {
	case cooldown.ActionIssue:
		msg, err = b.creds.Issue(ctx, userID)
	case cooldown.ActionReveal:
		msg, err = b.creds.Reveal(ctx, userID)
	case cooldown.ActionReset:
		msg, err = b.creds.Reset(ctx, userID)
	}
	if err != nil {
		// The cooldown consumed at the gate is deliberately not refunded.
		logger.Error("action failed", "error", err)
		b.sendToRoom(roomID, genericError(action))
		return
	}

	b.sendToRoom(roomID, msg)
	logger.Info("action completed")
}

// genericError is the degraded reply when anything downstream fails.
func genericError(action cooldown.Action) string {
	switch action {
	case cooldown.ActionIssue:
		return "An error occurred while generating your code."
	case cooldown.ActionReveal:
		return "An error occurred while retrieving your code."
	default:
		return "An error occurred while resetting your code."
	}
}

// sendToRoom delivers a markdown reply to the given room.
func (b *Bridge) sendToRoom(roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()

	content := format.RenderMarkdown(text, true, false)
	if _, err := b.matrix.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
		b.logger.Error("sending reply", "room", roomID.String(), "error", err)
	}
}

// typingTimeout is the duration the typing indicator shows (30 seconds).
const typingTimeout = 30 * time.Second

// setTyping sends a typing indicator to the room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	// Use a timeout context to avoid hanging during shutdown or network issues
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.matrix.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// ensureDMRoom returns the cached direct message room for the user,
// creating and inviting them to one if needed.
func (b *Bridge) ensureDMRoom(user id.UserID) (id.RoomID, error) {
	if cached, ok := b.dmRooms.Load(user); ok {
		return cached.(id.RoomID), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()

	resp, err := b.matrix.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Invite:   []id.UserID{user},
		IsDirect: true,
		Preset:   "trusted_private_chat",
	})
	if err != nil {
		return "", fmt.Errorf("creating DM room: %w", err)
	}

	b.dmRooms.Store(user, resp.RoomID)
	return resp.RoomID, nil
}

// PostPanel publishes the control panel message and seeds its reaction
// buttons. Implements panel.Poster.
func (b *Bridge) PostPanel(ctx context.Context) (panel.Identity, error) {
	sendCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	content := format.RenderMarkdown(panelBody, true, false)
	resp, err := b.matrix.SendMessageEvent(sendCtx, b.roomID, event.EventMessage, &content)
	if err != nil {
		return panel.Identity{}, fmt.Errorf("sending panel message: %w", err)
	}

	// Seed one reaction per action so users can tap instead of type.
	for _, key := range []string{reactionIssue, reactionReveal, reactionReset} {
		if _, err := b.matrix.SendReaction(sendCtx, b.roomID, resp.EventID, key); err != nil {
			b.logger.Warn("seeding panel reaction", "key", key, "error", err)
		}
	}

	return panel.Identity{
		MessageID: resp.EventID.String(),
		ChannelID: b.roomID.String(),
	}, nil
}

// RemovePanel redacts a panel message. Implements panel.Poster.
func (b *Bridge) RemovePanel(ctx context.Context, identity panel.Identity) error {
	redactCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	_, err := b.matrix.RedactEvent(redactCtx, id.RoomID(identity.ChannelID), id.EventID(identity.MessageID),
		mautrix.ReqRedact{Reason: "panel expired"})
	if err != nil {
		return fmt.Errorf("redacting panel message: %w", err)
	}
	return nil
}

// Announce posts a plain notice to the panel room. Implements panel.Poster.
func (b *Bridge) Announce(ctx context.Context, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	if _, err := b.matrix.SendText(sendCtx, b.roomID, text); err != nil {
		b.logger.Warn("sending announcement", "error", err)
	}
}

// numericUserID derives the stable decimal identifier the ledger format
// requires from a Matrix user ID. FNV-1a keeps it deterministic across
// restarts; the high bit is cleared so the rendering is never negative.
func numericUserID(user id.UserID) int64 {
	h := fnv.New64a()
	h.Write([]byte(user.String()))
	return int64(h.Sum64() & (1<<63 - 1))
}
