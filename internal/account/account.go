// Package account implements account setup, login, and the Session a
// successful login produces. A Session carries the
// in-memory strong key for the process lifetime and an immutable
// snapshot of the ancestor-collection context it was opened in, rather
// than a global ActiveSession.
package account

import (
	"encoding/json"
	"os"
	"path/filepath"

	"clinistore/internal/atomicfs"
	"clinistore/internal/clock"
	"clinistore/internal/cryptox"
	"clinistore/internal/errs"
	"clinistore/internal/events"
	"clinistore/internal/logging"
)

const (
	accountsDirName = "_users"
	accountFileName = "account.json"
	keyFileName     = "account.key"
)

// record is the on-disk JSON shape of an account.
type record struct {
	UserName  string `json:"userName"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"createdAt"`
}

func accountDir(dataDir, userName string) string {
	return filepath.Join(dataDir, accountsDirName, userName)
}

// SetupAccount creates a new account: a fresh random strong key wrapped
// with password, and an account record marked active. Fails if an
// account with this userName already exists.
func SetupAccount(dataDir, tmpRoot, userName, password string, clk clock.Clock) error {
	dir := accountDir(dataDir, userName)
	if _, err := os.Stat(dir); err == nil {
		return errs.New(errs.KindValidation, "account already exists: "+userName)
	}

	key, err := cryptox.GenerateStrongKey()
	if err != nil {
		return err
	}

	commit, err := atomicfs.WriteDirectory(dir, tmpRoot)
	if err != nil {
		return err
	}

	if err := cryptox.WrapStrongKey(filepath.Join(commit.TmpPath(), keyFileName), password, key); err != nil {
		commit.Abort()
		return err
	}

	rec := record{UserName: userName, Active: true, CreatedAt: clock.FormatTimestamp(clk.Now())}
	data, err := json.Marshal(rec)
	if err != nil {
		commit.Abort()
		return errs.Wrap(errs.KindValidation, "marshaling account record", err)
	}
	if err := os.WriteFile(filepath.Join(commit.TmpPath(), accountFileName), data, 0o600); err != nil {
		commit.Abort()
		return errs.IO("writing account record", err)
	}

	return commit.Commit()
}

// Session is the in-memory state a successful Login produces.
type Session struct {
	UserName string
	DataDir  string
	TmpRoot  string

	strongKey cryptox.StrongKey

	Clock  clock.Clock
	IDs    clock.IDGenerator
	Bus    *events.Bus
	Log    logging.Logger

	// ancestorIDs is the (immutable) contextual-id path this Session
	// was opened at: empty at login, extended only by deriving a new
	// Session via WithContext when descending into a nested collection.
	ancestorIDs []string
}

// StrongKey returns the session's strong key, for use by the
// collection engine. Not exported to JSON or logs.
func (s *Session) StrongKey() cryptox.StrongKey { return s.strongKey }

// ContextIDs returns the ancestor id path this session carries.
func (s *Session) ContextIDs() []string {
	return append([]string(nil), s.ancestorIDs...)
}

// WithContext returns a new Session, sharing this one's key and
// dependencies, scoped to a longer ancestor-id path. The receiver is
// left unmodified.
func (s *Session) WithContext(ids ...string) *Session {
	next := *s
	next.ancestorIDs = append(append([]string{}, s.ancestorIDs...), ids...)
	return &next
}

// Login authenticates userName/password and returns a new Session. The
// three failure kinds requires are distinguished: an unknown
// user, a deactivated account, and an incorrect password each surface
// as a distinct errs.Kind so callers don't have to string-match.
func Login(dataDir, tmpRoot, userName, password string, clk clock.Clock, ids clock.IDGenerator, log logging.Logger) (*Session, error) {
	dir := accountDir(dataDir, userName)
	recData, err := os.ReadFile(filepath.Join(dir, accountFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.UnknownUserName(userName)
		}
		return nil, errs.IO("reading account record", err)
	}

	var rec record
	if err := json.Unmarshal(recData, &rec); err != nil {
		return nil, errs.IO("parsing account record", err)
	}
	if !rec.Active {
		return nil, errs.DeactivatedAccount(userName)
	}

	key, err := cryptox.UnwrapStrongKey(filepath.Join(dir, keyFileName), password)
	if err != nil {
		return nil, errs.IncorrectPassword()
	}

	return &Session{
		UserName:  userName,
		DataDir:   dataDir,
		TmpRoot:   tmpRoot,
		strongKey: key,
		Clock:     clk,
		IDs:       ids,
		Bus:       events.New(),
		Log:       log,
	}, nil
}

// Deactivate flips an account's active flag off. A deactivated account
// can no longer Login, even with the correct password.
func Deactivate(dataDir, tmpRoot, userName string) error {
	dir := accountDir(dataDir, userName)
	path := filepath.Join(dir, accountFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.UnknownUserName(userName)
		}
		return errs.IO("reading account record", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return errs.IO("parsing account record", err)
	}
	rec.Active = false

	out, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrap(errs.KindValidation, "marshaling account record", err)
	}
	return atomicfs.WriteBufferToFile(path, tmpRoot, out)
}
