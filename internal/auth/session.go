package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// Store defines the persistence contract for client sessions. Tokens are
// hashed before they reach the store, so a leaked store never exposes a
// usable session token.
type Store interface {
	Save(record Record) error
	Get(token string) (Record, bool, error)
	Delete(token string) error
	PurgeExpired(now time.Time) error
}

// Record captures one client session: the set of folder names the session has
// successfully authenticated against, plus its expiry bounds.
type Record struct {
	Token             string
	Folders           []string
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
}

// HasFolder reports whether the record's authenticated set contains the folder.
func (r Record) HasFolder(folder string) bool {
	for _, existing := range r.Folders {
		if existing == folder {
			return true
		}
	}
	return false
}

// Option configures a SessionManager instance.
type Option func(*SessionManager)

// WithStore injects a custom Store implementation.
func WithStore(store Store) Option {
	return func(m *SessionManager) {
		m.store = store
	}
}

// WithTokenLength sets the token length used for newly created sessions.
func WithTokenLength(length int) Option {
	return func(m *SessionManager) {
		if length > 0 {
			m.tokenLength = length
		}
	}
}

// WithIdleTimeout enables idle expiration: successful lookups push the session
// expiry forward, bounded by the absolute TTL.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(m *SessionManager) {
		if timeout > 0 {
			m.idleTimeout = timeout
		}
	}
}

// SessionManager coordinates session creation, folder grants, and validation
// against a backing store. Mutations for one session are serialized through a
// striped lock so two concurrent requests cannot lose a grant.
type SessionManager struct {
	store        Store
	absoluteTTL  time.Duration
	idleTimeout  time.Duration
	tokenLength  int
	tokenFactory func(int) (string, error)
	locks        [64]sync.Mutex
}

// NewSessionManager constructs a SessionManager with the provided absolute TTL.
// The manager defaults to a 24-hour TTL and an in-memory store when no store is
// supplied.
func NewSessionManager(ttl time.Duration, opts ...Option) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	manager := &SessionManager{
		absoluteTTL:  ttl,
		tokenLength:  32,
		tokenFactory: generateToken,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemoryStore()
	}
	return manager
}

// Grant marks the session as authenticated for the folder. When the provided
// token is empty or no longer valid a fresh session is created, so the caller
// always receives a usable token and its expiry.
func (m *SessionManager) Grant(token, folder string) (string, time.Time, error) {
	if folder == "" {
		return "", time.Time{}, ErrFolderRequired
	}
	if token != "" {
		hashed, err := hashSessionToken(token)
		if err != nil {
			return "", time.Time{}, err
		}
		unlock := m.lockSession(hashed)
		record, ok, err := m.liveRecord(hashed)
		if err != nil {
			unlock()
			return "", time.Time{}, err
		}
		if ok {
			if !record.HasFolder(folder) {
				record.Folders = append(record.Folders, folder)
			}
			record = m.refreshExpiry(record)
			err = m.store.Save(record)
			unlock()
			if err != nil {
				return "", time.Time{}, err
			}
			return token, record.ExpiresAt, nil
		}
		unlock()
	}
	return m.createSession(folder)
}

// Authorized reports whether the session has previously authenticated for the
// folder. A hit refreshes the idle expiry when idle timeouts are enabled.
func (m *SessionManager) Authorized(token, folder string) (bool, error) {
	if token == "" || folder == "" {
		return false, nil
	}
	hashed, err := hashSessionToken(token)
	if err != nil {
		return false, err
	}
	unlock := m.lockSession(hashed)
	defer unlock()
	record, ok, err := m.liveRecord(hashed)
	if err != nil || !ok {
		return false, err
	}
	if !record.HasFolder(folder) {
		return false, nil
	}
	if m.idleTimeout > 0 {
		refreshed := m.refreshExpiry(record)
		if refreshed.ExpiresAt.After(record.ExpiresAt) {
			if err := m.store.Save(refreshed); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// Forget removes the folder from the session's authenticated set. Missing
// sessions and folders that were never granted are not errors.
func (m *SessionManager) Forget(token, folder string) error {
	if token == "" || folder == "" {
		return nil
	}
	hashed, err := hashSessionToken(token)
	if err != nil {
		return err
	}
	unlock := m.lockSession(hashed)
	defer unlock()
	record, ok, err := m.liveRecord(hashed)
	if err != nil || !ok {
		return err
	}
	kept := record.Folders[:0]
	for _, existing := range record.Folders {
		if existing != folder {
			kept = append(kept, existing)
		}
	}
	record.Folders = kept
	return m.store.Save(record)
}

// Revoke deletes the session outright.
func (m *SessionManager) Revoke(token string) error {
	if token == "" {
		return nil
	}
	hashed, err := hashSessionToken(token)
	if err != nil {
		return err
	}
	unlock := m.lockSession(hashed)
	defer unlock()
	return m.store.Delete(hashed)
}

// PurgeExpired removes any expired sessions from the backing store.
func (m *SessionManager) PurgeExpired() error {
	return m.store.PurgeExpired(time.Now())
}

// Ping verifies the underlying store is reachable when it exposes a ping method.
func (m *SessionManager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (m *SessionManager) createSession(folder string) (string, time.Time, error) {
	token, err := m.tokenFactory(m.tokenLength)
	if err != nil {
		return "", time.Time{}, err
	}
	hashed, err := hashSessionToken(token)
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now()
	absolute := now.Add(m.absoluteTTL)
	expires := absolute
	if m.idleTimeout > 0 {
		expires = now.Add(m.idleTimeout)
		if expires.After(absolute) {
			expires = absolute
		}
	}
	record := Record{
		Token:             hashed,
		Folders:           []string{folder},
		ExpiresAt:         expires.UTC(),
		AbsoluteExpiresAt: absolute.UTC(),
	}
	if err := m.store.Save(record); err != nil {
		return "", time.Time{}, err
	}
	return token, record.ExpiresAt, nil
}

// liveRecord fetches the record for a hashed token, deleting and discarding it
// when expired.
func (m *SessionManager) liveRecord(hashed string) (Record, bool, error) {
	record, ok, err := m.store.Get(hashed)
	if err != nil || !ok {
		return Record{}, false, err
	}
	now := time.Now()
	absolute := record.AbsoluteExpiresAt
	if absolute.IsZero() {
		absolute = record.ExpiresAt
	}
	if now.After(record.ExpiresAt) || now.After(absolute) {
		_ = m.store.Delete(hashed)
		return Record{}, false, nil
	}
	return record, true, nil
}

func (m *SessionManager) refreshExpiry(record Record) Record {
	if m.idleTimeout <= 0 {
		return record
	}
	refreshTo := time.Now().Add(m.idleTimeout)
	absolute := record.AbsoluteExpiresAt
	if absolute.IsZero() {
		absolute = record.ExpiresAt
	}
	if refreshTo.After(absolute) {
		refreshTo = absolute
	}
	if refreshTo.After(record.ExpiresAt) {
		record.ExpiresAt = refreshTo.UTC()
	}
	return record
}

func (m *SessionManager) lockSession(hashed string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(hashed))
	mu := &m.locks[h.Sum32()%uint32(len(m.locks))]
	mu.Lock()
	return mu.Unlock
}

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// ErrFolderRequired is returned when attempting to grant a session without a
// folder name.
var ErrFolderRequired = errors.New("folder name is required")
