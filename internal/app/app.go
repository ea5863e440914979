// Package app is the wiring layer between a CLI and the Store's
// internal packages: it builds a lock manager, an optional index
// cache, and a logger from Config, then hands out Sessions and
// Collections built on top of them.
package app

import (
	"context"
	"fmt"

	"clinistore/internal/account"
	"clinistore/internal/clock"
	"clinistore/internal/collection"
	"clinistore/internal/config"
	"clinistore/internal/events"
	"clinistore/internal/indexcache"
	"clinistore/internal/lockmgr"
	"clinistore/internal/logging"
)

// App is a fully wired instance of the Store, constructed from Config.
// The caller must call Close when done.
type App struct {
	cfg     *config.Config
	log     logging.Logger
	logFile interface{ Close() error }
	cache   *indexcache.Cache
	locks   *lockmgr.Manager
	bus     *events.Bus
	session *account.Session
}

// New builds an App from cfg: a logger writing to cfg.LogDir, a lock
// manager over cfg.DataDir/_locks, and — if cfg.IndexCache.Enabled — a
// list-accelerating index cache. It does not log in; call Login or
// SetupAccount next.
func New(cfg *config.Config) (*App, error) {
	log, logFile, err := logging.New(cfg.LogDir, "clinistore")
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	bus := events.New()
	locks := lockmgr.New(
		lockDir(cfg), cfg.TmpDir, clock.RealClock{}, clock.UUIDGenerator{}, bus, log,
		lockmgr.WithLeaseTime(cfg.Lock.LeaseDuration()),
		lockmgr.WithRenewalInterval(cfg.Lock.RenewalDuration()),
		lockmgr.WithPollInterval(cfg.Lock.PollDuration()),
	)

	var cache *indexcache.Cache
	if cfg.IndexCache.Enabled {
		cache, err = indexcache.Open(cfg.IndexCache.Path)
		if err != nil {
			// Non-authoritative: a cache that won't open is discarded
			// rather than failing App construction. Collections fall
			// back to a full directory walk on every List().
			log.Warn("index cache unavailable, proceeding without it", "error", err.Error())
			cache = nil
		}
	}

	return &App{cfg: cfg, log: log, logFile: logFile, cache: cache, locks: locks, bus: bus}, nil
}

func lockDir(cfg *config.Config) string {
	return cfg.DataDir + "/_locks"
}

// SetupAccount creates a new account under this App's data directory.
func (a *App) SetupAccount(userName, password string) error {
	return account.SetupAccount(a.cfg.DataDir, a.cfg.TmpDir, userName, password, clock.RealClock{})
}

// Login authenticates userName/password and stores the resulting
// Session on the App for subsequent OpenCollection/AcquireLock calls.
func (a *App) Login(userName, password string) error {
	session, err := account.Login(a.cfg.DataDir, a.cfg.TmpDir, userName, password, clock.RealClock{}, clock.UUIDGenerator{}, a.log)
	if err != nil {
		return err
	}
	session.Bus = a.bus
	a.session = session
	return nil
}

// Session returns the current logged-in Session, or nil if Login has
// not been called yet.
func (a *App) Session() *account.Session { return a.session }

// OpenCollection opens model at contextIDs against the current
// Session, wiring in the index cache if one is configured.
func (a *App) OpenCollection(model *collection.Model, contextIDs ...string) (*collection.Collection, error) {
	if a.session == nil {
		return nil, fmt.Errorf("no active session: call Login first")
	}
	c, err := collection.Open(a.session, model, contextIDs...)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		c = c.WithCache(a.cache)
	}
	return c, nil
}

// AcquireLock acquires the named advisory lock for the current
// Session's user.
func (a *App) AcquireLock(ctx context.Context, lockID string, noWait bool) (*lockmgr.Lock, error) {
	if a.session == nil {
		return nil, fmt.Errorf("no active session: call Login first")
	}
	return a.locks.Acquire(ctx, lockID, a.session.UserName, noWait)
}

// ReleaseLock releases a lock acquired with AcquireLock.
func (a *App) ReleaseLock(lock *lockmgr.Lock) error {
	return a.locks.Release(lock)
}

// ListLocks returns the IDs of all currently-held locks, live or
// stale, for operator inspection. It does not require a Session.
func (a *App) ListLocks() ([]string, error) {
	return a.locks.List()
}

// Close releases the index cache (if any) and the log file.
func (a *App) Close() error {
	var firstErr error
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			firstErr = fmt.Errorf("closing index cache: %w", err)
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
