// Package session holds the server-side half of the auth state: a
// per-client record addressed by an opaque handle, with its own expiry
// policy. Tokens are the other, independent half; clearing a session
// never touches tokens already issued from it.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"animevault/api/internal/models"
)

// ErrNoSession reports that a handle resolves to nothing: never
// established, expired, or cleared. Callers treat all three the same.
var ErrNoSession = errors.New("no active session")

// Record is the state stored per client context.
type Record struct {
	UserID        int64
	Username      string
	Authenticated bool
	Permanent     bool
	CreatedAt     time.Time
	LastSeenAt    time.Time
}

// Store persists session records keyed by opaque handle. Entries must
// disappear on their own once their ttl elapses.
type Store interface {
	Put(ctx context.Context, handle string, rec Record, ttl time.Duration) error
	Get(ctx context.Context, handle string) (Record, error)
	Touch(ctx context.Context, handle string, lastSeen time.Time, ttl time.Duration) error
	Delete(ctx context.Context, handle string) error
	ListByUser(ctx context.Context, userID int64) ([]string, error)
	PruneIndexes(ctx context.Context) (int, error)
}

// NewHandle returns a fresh opaque session handle. Handles are pure
// random so possession of one cannot be derived from anything else.
func NewHandle() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session handle: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Manager applies the lifetime policy on top of a Store: default vs
// remember expiry, and the refresh-on-access clock reset.
type Manager struct {
	store           Store
	defaultTTL      time.Duration
	rememberTTL     time.Duration
	refreshOnAccess bool
	now             func() time.Time
}

func NewManager(store Store, defaultTTL, rememberTTL time.Duration, refreshOnAccess bool) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = 12 * time.Hour
	}
	if rememberTTL <= 0 {
		rememberTTL = 744 * time.Hour
	}

	return &Manager{
		store:           store,
		defaultTTL:      defaultTTL,
		rememberTTL:     rememberTTL,
		refreshOnAccess: refreshOnAccess,
		now:             time.Now,
	}
}

// WithClock overrides the manager's clock. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Establish creates an authenticated session for user and returns its
// handle. Each call produces an independent session; a user may hold
// several at once from different clients.
func (m *Manager) Establish(ctx context.Context, user models.User, remember bool) (string, error) {
	handle, err := NewHandle()
	if err != nil {
		return "", err
	}

	now := m.now().UTC()
	rec := Record{
		UserID:        user.ID,
		Username:      user.Username,
		Authenticated: true,
		Permanent:     remember,
		CreatedAt:     now,
		LastSeenAt:    now,
	}

	if err := m.store.Put(ctx, handle, rec, m.ttlFor(rec)); err != nil {
		return "", fmt.Errorf("establish session: %w", err)
	}
	return handle, nil
}

// Get resolves a handle to its record. An expired or unknown handle is
// ErrNoSession; the anonymous transition is detected lazily here.
func (m *Manager) Get(ctx context.Context, handle string) (Record, error) {
	if handle == "" {
		return Record{}, ErrNoSession
	}
	return m.store.Get(ctx, handle)
}

// Touch resets the session's expiry clock when the refresh-on-access
// policy is enabled, keeping active users logged in.
func (m *Manager) Touch(ctx context.Context, handle string, rec Record) error {
	if !m.refreshOnAccess {
		return nil
	}
	return m.store.Touch(ctx, handle, m.now().UTC(), m.ttlFor(rec))
}

// Clear deletes the session. Idempotent: clearing an unknown handle is
// not an error. Already-issued tokens stay valid until their own expiry.
func (m *Manager) Clear(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if err := m.store.Delete(ctx, handle); err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return nil
}

func (m *Manager) ListByUser(ctx context.Context, userID int64) ([]string, error) {
	return m.store.ListByUser(ctx, userID)
}

func (m *Manager) PruneIndexes(ctx context.Context) (int, error) {
	return m.store.PruneIndexes(ctx)
}

func (m *Manager) ttlFor(rec Record) time.Duration {
	if rec.Permanent {
		return m.rememberTTL
	}
	return m.defaultTTL
}
