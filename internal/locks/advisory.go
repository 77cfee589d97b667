package locks

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"

	"gorm.io/gorm"

	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// Key names one phase-level advisory lock. Keep the namespace small and
// fixed: one key per pipeline phase.
type Key string

const (
	KeyPhaseGenerate Key = "alerts:phase:generate"
	KeyPhaseFanout   Key = "alerts:phase:fanout"
	KeyPhaseDigest   Key = "alerts:phase:digest"
	KeyPhaseSend     Key = "alerts:phase:send"
)

// KeyID maps a lock key onto the 64-bit advisory-lock space. FNV-1a keeps
// the mapping deterministic across processes; with a handful of fixed keys a
// collision is not a practical concern.
func KeyID(key Key) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// Manager wraps Postgres session advisory locks. Each held lock pins one
// connection so the lock lives and dies with that session: a crashed worker
// releases its locks when the connection drops.
type Manager struct {
	db  *gorm.DB
	log *logger.Logger

	mu   sync.Mutex
	held map[Key]*sql.Conn
}

func NewManager(db *gorm.DB, baseLog *logger.Logger) *Manager {
	return &Manager{
		db:   db,
		log:  baseLog.With("component", "LockManager"),
		held: make(map[Key]*sql.Conn),
	}
}

// TryAcquire attempts the lock without blocking. false means another worker
// holds it and this phase run should be skipped, not treated as a failure.
func (m *Manager) TryAcquire(ctx context.Context, key Key) (bool, error) {
	m.mu.Lock()
	if _, ok := m.held[key]; ok {
		m.mu.Unlock()
		return false, fmt.Errorf("lock %q already held by this manager", key)
	}
	m.mu.Unlock()

	sqlDB, err := m.db.DB()
	if err != nil {
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", KeyID(key)).Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("advisory lock %q: %w", key, err)
	}
	if !acquired {
		_ = conn.Close()
		m.log.Debug("Advisory lock busy, skipping", "key", string(key))
		return false, nil
	}

	m.mu.Lock()
	m.held[key] = conn
	m.mu.Unlock()
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool. Releasing a
// key that is not held is a no-op.
func (m *Manager) Release(ctx context.Context, key Key) error {
	m.mu.Lock()
	conn, ok := m.held[key]
	delete(m.held, key)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	defer func() { _ = conn.Close() }()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", KeyID(key)).Scan(&released); err != nil {
		return fmt.Errorf("advisory unlock %q: %w", key, err)
	}
	if !released {
		m.log.Warn("Advisory unlock reported no lock held", "key", string(key))
	}
	return nil
}

// WithLock runs fn under the key's lock, reporting ran=false when the lock
// was busy. fn errors propagate after the lock is released.
func (m *Manager) WithLock(ctx context.Context, key Key, fn func(context.Context) error) (bool, error) {
	acquired, err := m.TryAcquire(ctx, key)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if rErr := m.Release(ctx, key); rErr != nil {
			m.log.Warn("Advisory lock release failed", "key", string(key), "error", rErr)
		}
	}()
	return true, fn(ctx)
}
