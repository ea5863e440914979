// Package lockmgr implements the Store's advisory lock manager: a lock
// is a directory under <data>/_locks/<lockId>, acquired by atomic
// directory rename and kept alive by a renewal goroutine that
// refreshes an expiry marker inside it.
package lockmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"clinistore/internal/atomicfs"
	"clinistore/internal/clock"
	"clinistore/internal/errs"
	"clinistore/internal/events"
	"clinistore/internal/logging"
)

// Default lease parameters.
const (
	DefaultLeaseTime            = 3 * time.Minute
	DefaultLeaseRenewalInterval = 1 * time.Minute
	DefaultAcquirePollInterval  = 1 * time.Second
	expireFilePrefix            = "expire-"
	metadataFileName            = "metadata"
)

// Manager creates and coordinates locks rooted at a single _locks
// directory.
type Manager struct {
	locksDir string
	tmpRoot  string

	clock clock.Clock
	ids   clock.IDGenerator
	bus   *events.Bus
	log   logging.Logger

	leaseTime     time.Duration
	renewInterval time.Duration
	pollInterval  time.Duration

	mu   sync.Mutex
	held map[string]*Lock
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLeaseTime overrides DefaultLeaseTime.
func WithLeaseTime(d time.Duration) Option { return func(m *Manager) { m.leaseTime = d } }

// WithRenewalInterval overrides DefaultLeaseRenewalInterval.
func WithRenewalInterval(d time.Duration) Option {
	return func(m *Manager) { m.renewInterval = d }
}

// WithPollInterval overrides DefaultAcquirePollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// New creates a Manager rooted at locksDir, staging through tmpRoot.
func New(locksDir, tmpRoot string, clk clock.Clock, ids clock.IDGenerator, bus *events.Bus, log logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		locksDir:      locksDir,
		tmpRoot:       tmpRoot,
		clock:         clk,
		ids:           ids,
		bus:           bus,
		log:           log,
		leaseTime:     DefaultLeaseTime,
		renewInterval: DefaultLeaseRenewalInterval,
		pollInterval:  DefaultAcquirePollInterval,
		held:          make(map[string]*Lock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock is a handle to a held lock. Only the goroutine that acquired it
// should call Release; renewal runs on the Manager's own goroutine.
type Lock struct {
	mgr      *Manager
	id       string
	dir      string
	userName string

	mu         sync.Mutex
	nextExpiry time.Time
	cancel     context.CancelFunc
	released   bool
}

// ID returns the lock's name.
func (l *Lock) ID() string { return l.id }

func (m *Manager) lockDir(lockID string) string {
	return filepath.Join(m.locksDir, lockID)
}

// Acquire obtains lockID for userName, blocking and polling every
// pollInterval until free if it is currently held by a non-stale
// holder. Set noWait to fail immediately with a LockInUseError instead
// of polling.
func (m *Manager) Acquire(ctx context.Context, lockID, userName string, noWait bool) (*Lock, error) {
	polled := false
	for {
		lock, conflict, err := m.tryAcquire(ctx, lockID, userName)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			if polled {
				m.bus.Publish(events.Event{Name: lockClass(lockID) + ":lockAcquired", Payload: userName})
			}
			return lock, nil
		}

		if noWait {
			return nil, errs.LockInUse(*conflict)
		}

		polled = true
		m.log.Info("lock held, polling", "lockId", lockID, "holder", conflict.UserName)
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindIO, "acquiring lock", ctx.Err())
		case <-time.After(m.pollInterval):
		}
	}
}

// tryAcquire makes one attempt. Returns (lock, nil, nil) on success,
// (nil, holderMetadata, nil) if currently held by a live holder, or a
// non-nil error for anything else.
func (m *Manager) tryAcquire(ctx context.Context, lockID, userName string) (*Lock, *errs.LockMetadata, error) {
	dir := m.lockDir(lockID)

	commit, err := atomicfs.WriteDirectory(dir, m.tmpRoot)
	if err != nil {
		return nil, nil, err
	}

	metaPath := filepath.Join(commit.TmpPath(), metadataFileName)
	meta := errs.LockMetadata{UserName: userName}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		commit.Abort()
		return nil, nil, errs.IO("marshaling lock metadata", err)
	}
	if err := os.WriteFile(metaPath, metaBytes, 0o600); err != nil {
		commit.Abort()
		return nil, nil, errs.IO("writing lock metadata", err)
	}

	firstExpiry := m.clock.Now().Add(m.leaseTime)
	expiryPath := filepath.Join(commit.TmpPath(), expireFileName(firstExpiry))
	if err := os.WriteFile(expiryPath, nil, 0o600); err != nil {
		commit.Abort()
		return nil, nil, errs.IO("writing expiry marker", err)
	}

	if err := commit.Commit(); err != nil {
		// Collision: the directory already exists. Someone holds it,
		// or held it and never cleaned up (stale).
		return m.handleCollision(ctx, lockID, userName)
	}

	lock := m.startHolding(lockID, dir, userName, firstExpiry)
	m.log.Info("lock acquired", "lockId", lockID, "userName", userName)
	return lock, nil, nil
}

// handleCollision inspects the existing lock directory. If stale, it
// reclaims it (under the secondary <lockId>.expiry lock) and retries
// the acquisition once; otherwise it reports the live holder.
func (m *Manager) handleCollision(ctx context.Context, lockID, userName string) (*Lock, *errs.LockMetadata, error) {
	dir := m.lockDir(lockID)

	stale, holder, err := m.isStale(dir)
	if err != nil {
		return nil, nil, err
	}
	if !stale {
		return nil, holder, nil
	}

	reclaimed, err := m.reclaimStale(lockID)
	if err != nil {
		return nil, nil, err
	}
	if !reclaimed {
		// Someone else's reclaim won the race, or the lock was freed
		// and re-acquired between our check and our reclaim attempt;
		// either way the caller's polling loop will retry.
		return nil, holder, nil
	}

	return m.tryAcquire(ctx, lockID, userName)
}

// isStale reads metadata and all expire-* markers from dir and reports
// whether the lock has expired. A lock directory with no expire-*
// marker at all is treated as stale: this preserves the behavior of
// the tool this store's lock manager was modeled on, which reclaims
// rather than leaves an un-renewable lock stuck forever. See DESIGN.md.
func (m *Manager) isStale(dir string) (bool, *errs.LockMetadata, error) {
	var holder errs.LockMetadata
	metaBytes, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			// Directory vanished since the commit failure; treat as
			// freed so the caller retries immediately.
			return true, &holder, nil
		}
		return false, nil, errs.IO("reading lock metadata", err)
	}
	if err := json.Unmarshal(metaBytes, &holder); err != nil {
		return false, nil, errs.IO("parsing lock metadata", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, nil, errs.IO("listing lock directory", err)
	}

	var maxExpiry time.Time
	found := false
	for _, e := range entries {
		ts, ok := parseExpireFileName(e.Name())
		if !ok {
			continue
		}
		found = true
		if ts.After(maxExpiry) {
			maxExpiry = ts
		}
	}

	if !found {
		m.log.Warn("lock directory has no expire marker, treating as stale", "dir", dir)
		return true, &holder, nil
	}

	now := m.clock.Now()
	if maxExpiry.Before(now) {
		return true, &holder, nil
	}
	return false, &holder, nil
}

// reclaimStale acquires the secondary <lockId>.expiry lock, re-verifies
// staleness under that lock, and deletes the primary lock directory.
// Returns false without error if another reclaimer won the race or the
// lock turned out not to be stale on re-check.
func (m *Manager) reclaimStale(lockID string) (bool, error) {
	expiryLockDir := m.lockDir(lockID + ".expiry")

	commit, err := atomicfs.WriteDirectory(expiryLockDir, m.tmpRoot)
	if err != nil {
		return false, err
	}
	if err := commit.Commit(); err != nil {
		// Another reclaimer already holds the secondary lock.
		return false, nil
	}
	defer atomicfs.DeleteDirectory(expiryLockDir, m.tmpRoot)

	dir := m.lockDir(lockID)
	stale, _, err := m.isStale(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !stale {
		return false, nil
	}

	if err := atomicfs.DeleteDirectory(dir, m.tmpRoot); err != nil {
		return false, err
	}
	m.log.Info("reclaimed stale lock", "lockId", lockID)
	return true, nil
}

func (m *Manager) startHolding(lockID, dir, userName string, firstExpiry time.Time) *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	lock := &Lock{
		mgr:        m,
		id:         lockID,
		dir:        dir,
		userName:   userName,
		nextExpiry: firstExpiry,
		cancel:     cancel,
	}

	m.mu.Lock()
	m.held[lockID] = lock
	m.mu.Unlock()

	go m.renewLoop(ctx, lock)

	return lock
}

func (m *Manager) renewLoop(ctx context.Context, lock *Lock) {
	ticker := time.NewTicker(m.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.renewOnce(lock)
		}
	}
}

func (m *Manager) renewOnce(lock *Lock) {
	lock.mu.Lock()
	if lock.released {
		lock.mu.Unlock()
		return
	}
	if lock.nextExpiry.Before(m.clock.Now()) {
		// Our own lease already lapsed: self-release so future
		// renew/release calls are no-ops.
		lock.released = true
		lock.mu.Unlock()
		m.log.Warn("lock lease lapsed before renewal, self-releasing", "lockId", lock.id)
		return
	}
	lock.mu.Unlock()

	newExpiry := m.clock.Now().Add(m.leaseTime)
	path := filepath.Join(lock.dir, expireFileName(newExpiry))
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		m.log.Error("renewing lock", "lockId", lock.id, "error", err)
		return
	}

	lock.mu.Lock()
	if newExpiry.After(lock.nextExpiry) {
		lock.nextExpiry = newExpiry
	}
	lock.mu.Unlock()
}

// Release stops the renewal goroutine and atomically deletes the lock
// directory. Idempotent: releasing an already-released or expired lock
// succeeds silently.
func (m *Manager) Release(lock *Lock) error {
	lock.mu.Lock()
	if lock.released {
		lock.mu.Unlock()
		return nil
	}
	lock.released = true
	lock.cancel()
	lock.mu.Unlock()

	m.mu.Lock()
	delete(m.held, lock.id)
	m.mu.Unlock()

	if err := atomicfs.DeleteDirectory(lock.dir, m.tmpRoot); err != nil {
		return err
	}
	m.log.Info("lock released", "lockId", lock.id)
	return nil
}

// List returns the ids of every lock directory on disk, for
// administrative inspection. Stale locks are included: no expiry is
// checked. The secondary "<lockId>.expiry" directories are skipped.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.locksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.IO("listing locks directory", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasSuffix(e.Name(), ".expiry") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// lockClass strips a lockId's trailing "-<id>" instance suffix, e.g.
// "clientFile-42" -> "clientFile", so the lockAcquired event is named
// after the lock's kind rather than one specific instance of it.
func lockClass(lockID string) string {
	if i := strings.LastIndex(lockID, "-"); i >= 0 {
		return lockID[:i]
	}
	return lockID
}

func expireFileName(t time.Time) string {
	return fmt.Sprintf("%s%d", expireFilePrefix, t.UnixNano())
}

func parseExpireFileName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, expireFilePrefix) {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(strings.TrimPrefix(name, expireFilePrefix), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
