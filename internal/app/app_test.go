package app_test

import (
	"context"
	"path/filepath"
	"testing"

	"clinistore/internal/app"
	"clinistore/internal/collection"
	"clinistore/internal/config"
	"clinistore/internal/schema"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	cfg := config.NewConfig(dataDir)
	cfg.IndexCache.Path = ":memory:"
	return cfg
}

func patientModel(t *testing.T) *collection.Model {
	t.Helper()
	compiler := schema.NewCompiler()
	m, err := collection.NewModel(compiler, "patient", "patients", false, []schema.Field{
		{Name: "name", Type: schema.TypeString, Indexed: true},
	}, nil)
	if err != nil {
		t.Fatalf("NewModel() error = %v", err)
	}
	return m
}

func TestNew_HasNoSessionBeforeLogin(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Session() != nil {
		t.Error("Session() should be nil before Login")
	}
}

func TestSetupAccountAndLogin(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if err := a.SetupAccount("alice", "hunter2"); err != nil {
		t.Fatalf("SetupAccount() error = %v", err)
	}
	if err := a.Login("alice", "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if a.Session() == nil {
		t.Fatal("Session() is nil after successful Login")
	}
	if a.Session().UserName != "alice" {
		t.Errorf("Session().UserName = %q, want %q", a.Session().UserName, "alice")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if err := a.SetupAccount("alice", "hunter2"); err != nil {
		t.Fatalf("SetupAccount() error = %v", err)
	}
	if err := a.Login("alice", "wrong"); err == nil {
		t.Fatal("Login() with wrong password expected error")
	}
}

func TestOpenCollection_RequiresLogin(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if _, err := a.OpenCollection(patientModel(t)); err == nil {
		t.Fatal("OpenCollection() before Login expected error")
	}
}

func TestOpenCollection_CreateAndRead(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if err := a.SetupAccount("alice", "hunter2"); err != nil {
		t.Fatalf("SetupAccount() error = %v", err)
	}
	if err := a.Login("alice", "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	patients, err := a.OpenCollection(patientModel(t))
	if err != nil {
		t.Fatalf("OpenCollection() error = %v", err)
	}

	created, err := patients.Create(map[string]any{"name": "Jane Doe"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := patients.Read(created["id"].(string))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got["name"] != "Jane Doe" {
		t.Errorf("name = %v, want %q", got["name"], "Jane Doe")
	}
}

func TestAcquireLock_RequiresLogin(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if _, err := a.AcquireLock(context.Background(), "note-42", true); err == nil {
		t.Fatal("AcquireLock() before Login expected error")
	}
}

func TestAcquireLock_AndRelease(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if err := a.SetupAccount("alice", "hunter2"); err != nil {
		t.Fatalf("SetupAccount() error = %v", err)
	}
	if err := a.Login("alice", "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	lock, err := a.AcquireLock(context.Background(), "note-42", true)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	if err := a.ReleaseLock(lock); err != nil {
		t.Fatalf("ReleaseLock() error = %v", err)
	}
}
