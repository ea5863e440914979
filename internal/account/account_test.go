package account_test

import (
	"path/filepath"
	"testing"

	"clinistore/internal/account"
	"clinistore/internal/errs"
	"clinistore/internal/logging"
	"clinistore/internal/testutil"
)

func newDirs(t *testing.T) (dataDir, tmpRoot string) {
	t.Helper()
	root := t.TempDir()
	return filepath.Join(root, "data"), filepath.Join(root, "tmp")
}

func TestSetupAndLogin(t *testing.T) {
	t.Parallel()

	dataDir, tmpRoot := newDirs(t)
	clk := testutil.FixedClock()
	ids := testutil.NewStubIDGenerator()
	log := logging.NewNopLogger()

	if err := account.SetupAccount(dataDir, tmpRoot, "alice", "hunter2", clk); err != nil {
		t.Fatalf("SetupAccount() error = %v", err)
	}

	session, err := account.Login(dataDir, tmpRoot, "alice", "hunter2", clk, ids, log)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.UserName != "alice" {
		t.Fatalf("UserName = %q, want alice", session.UserName)
	}
	if len(session.ContextIDs()) != 0 {
		t.Fatalf("ContextIDs() = %v, want empty", session.ContextIDs())
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	t.Parallel()

	dataDir, tmpRoot := newDirs(t)
	clk := testutil.FixedClock()

	_, err := account.Login(dataDir, tmpRoot, "nobody", "whatever", clk, testutil.NewStubIDGenerator(), logging.NewNopLogger())
	if errs.KindOf(err) != errs.KindUnknownUserName {
		t.Fatalf("KindOf(err) = %v, want %v", errs.KindOf(err), errs.KindUnknownUserName)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	t.Parallel()

	dataDir, tmpRoot := newDirs(t)
	clk := testutil.FixedClock()

	if err := account.SetupAccount(dataDir, tmpRoot, "alice", "hunter2", clk); err != nil {
		t.Fatalf("SetupAccount() error = %v", err)
	}

	_, err := account.Login(dataDir, tmpRoot, "alice", "wrong", clk, testutil.NewStubIDGenerator(), logging.NewNopLogger())
	if errs.KindOf(err) != errs.KindIncorrectPassword {
		t.Fatalf("KindOf(err) = %v, want %v", errs.KindOf(err), errs.KindIncorrectPassword)
	}
}

func TestLogin_DeactivatedAccount(t *testing.T) {
	t.Parallel()

	dataDir, tmpRoot := newDirs(t)
	clk := testutil.FixedClock()

	if err := account.SetupAccount(dataDir, tmpRoot, "alice", "hunter2", clk); err != nil {
		t.Fatalf("SetupAccount() error = %v", err)
	}
	if err := account.Deactivate(dataDir, tmpRoot, "alice"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	_, err := account.Login(dataDir, tmpRoot, "alice", "hunter2", clk, testutil.NewStubIDGenerator(), logging.NewNopLogger())
	if errs.KindOf(err) != errs.KindDeactivatedAccount {
		t.Fatalf("KindOf(err) = %v, want %v", errs.KindOf(err), errs.KindDeactivatedAccount)
	}
}

func TestWithContext_DoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	dataDir, tmpRoot := newDirs(t)
	clk := testutil.FixedClock()

	if err := account.SetupAccount(dataDir, tmpRoot, "alice", "hunter2", clk); err != nil {
		t.Fatalf("SetupAccount() error = %v", err)
	}
	session, err := account.Login(dataDir, tmpRoot, "alice", "hunter2", clk, testutil.NewStubIDGenerator(), logging.NewNopLogger())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	child := session.WithContext("patient-1")
	if len(session.ContextIDs()) != 0 {
		t.Fatalf("parent ContextIDs() = %v, want empty", session.ContextIDs())
	}
	if got := child.ContextIDs(); len(got) != 1 || got[0] != "patient-1" {
		t.Fatalf("child ContextIDs() = %v, want [patient-1]", got)
	}
}

func TestSetupAccount_DuplicateFails(t *testing.T) {
	t.Parallel()

	dataDir, tmpRoot := newDirs(t)
	clk := testutil.FixedClock()

	if err := account.SetupAccount(dataDir, tmpRoot, "alice", "hunter2", clk); err != nil {
		t.Fatalf("first SetupAccount() error = %v", err)
	}
	if err := account.SetupAccount(dataDir, tmpRoot, "alice", "other", clk); err == nil {
		t.Fatal("expected error creating duplicate account")
	}
}
