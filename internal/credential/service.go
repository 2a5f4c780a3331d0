// ABOUTME: Credential service orchestrating cache, ledger, and code generation.
// ABOUTME: Implements the issue / reveal / reset operations and their user-facing replies.

package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relayforge/codevault/internal/ledger"
)

// Warning is appended to every reply that carries a code.
const Warning = "\n\nWarning: Sharing this code with anyone will result in an Instant perma ban."

// CodeStore defines what the service needs from the remote ledger.
type CodeStore interface {
	FetchCode(ctx context.Context, userID int64) (string, error)
	UpsertCode(ctx context.Context, userID int64, code string) error
}

// CodeCache defines what the service needs from the local cache.
type CodeCache interface {
	Get(userID int64) (string, bool)
	Set(userID int64, code string)
}

// Service owns the per-user code state machine: NoCode -> HasCode via issue
// or reset; issue and reveal are read-only once a code exists; only reset
// replaces an existing code.
type Service struct {
	store    CodeStore
	cache    CodeCache
	generate func() string
	logger   *slog.Logger
}

// New creates a credential service. generate must be re-invocable; it is
// called once per created or reset code.
func New(store CodeStore, cache CodeCache, generate func() string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		cache:    cache,
		generate: generate,
		logger:   logger.With("component", "credential"),
	}
}

// lookup finds the user's current code: cache first, then the ledger,
// populating the cache on a ledger hit. A ledger read failure is collapsed
// into not-found on purpose — the user-facing contract treats an unreachable
// store the same as a missing record (logged, since it means a user with a
// code may be told they have none).
func (s *Service) lookup(ctx context.Context, userID int64) (string, bool) {
	if code, ok := s.cache.Get(userID); ok {
		return code, true
	}
	code, err := s.store.FetchCode(ctx, userID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			s.logger.Warn("ledger read failed, treating as no record",
				"user_id", userID, "error", err)
		}
		return "", false
	}
	s.cache.Set(userID, code)
	return code, true
}

// Issue returns the user's existing code, or creates one if none exists.
// Repeated calls never change an existing code; only Reset does.
func (s *Service) Issue(ctx context.Context, userID int64) (string, error) {
	if code, ok := s.lookup(ctx, userID); ok {
		return fmt.Sprintf("You already have a code: **%s**", code) + Warning, nil
	}

	code := s.generate()
	s.cache.Set(userID, code)
	if err := s.store.UpsertCode(ctx, userID, code); err != nil {
		return "", fmt.Errorf("persisting new code: %w", err)
	}

	s.logger.Info("issued new code", "user_id", userID)
	return fmt.Sprintf("New code generated: **%s**", code) + Warning, nil
}

// Reveal returns the user's current code without ever creating one.
func (s *Service) Reveal(ctx context.Context, userID int64) (string, error) {
	code, ok := s.lookup(ctx, userID)
	if !ok {
		return "You don't have a code yet. Use **Get a Code** to generate one.", nil
	}
	return fmt.Sprintf("Your code is **%s**", code) + Warning, nil
}

// Reset replaces the user's code with a fresh one. The old code is simply
// overwritten; there is no grace period and no retention. A user without a
// code is told to issue one instead.
func (s *Service) Reset(ctx context.Context, userID int64) (string, error) {
	if _, ok := s.lookup(ctx, userID); !ok {
		return "You don't have a code yet. Use **Get a Code** to generate one.", nil
	}

	code := s.generate()
	s.cache.Set(userID, code)
	if err := s.store.UpsertCode(ctx, userID, code); err != nil {
		return "", fmt.Errorf("persisting reset code: %w", err)
	}

	s.logger.Info("reset code", "user_id", userID)
	return fmt.Sprintf("Your code has been reset: **%s**", code) + Warning, nil
}
