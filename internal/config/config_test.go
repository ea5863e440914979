package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		DataDir: "/home/user/.local/share/clinistore",
		TmpDir:  "/home/user/.local/share/clinistore/_tmp",
		LogDir:  "/home/user/.local/share/clinistore/_log",
		Lock: LockConfig{
			LeaseSeconds:   180,
			RenewalSeconds: 60,
			PollSeconds:    1,
		},
		IndexCache: IndexCacheConfig{
			Enabled: true,
			Path:    "/home/user/.local/share/clinistore/_index-cache.db",
		},
		WeakKeySecurityLevel: 5,
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.DataDir != original.DataDir {
		t.Errorf("DataDir = %q, want %q", got.DataDir, original.DataDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Lock.LeaseSeconds != 180 {
		t.Errorf("Lock.LeaseSeconds = %d, want 180", got.Lock.LeaseSeconds)
	}
	if got.IndexCache.Path != original.IndexCache.Path {
		t.Errorf("IndexCache.Path = %q, want %q", got.IndexCache.Path, original.IndexCache.Path)
	}
	if got.WeakKeySecurityLevel != 5 {
		t.Errorf("WeakKeySecurityLevel = %d, want 5", got.WeakKeySecurityLevel)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/clinistore")

	if cfg.DataDir != "/data/clinistore" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/data/clinistore")
	}
	if cfg.LogDir != "/data/clinistore/_log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/clinistore/_log")
	}
	if cfg.TmpDir != "/data/clinistore/_tmp" {
		t.Errorf("TmpDir = %q, want %q", cfg.TmpDir, "/data/clinistore/_tmp")
	}
	if !cfg.IndexCache.Enabled {
		t.Error("IndexCache.Enabled = false, want true")
	}
	if cfg.Lock.LeaseDuration() <= 0 {
		t.Error("Lock.LeaseDuration() <= 0")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "clinistore.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "clinistore.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "clinistore.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.DataDir != dir {
			t.Errorf("DataDir = %q, want %q", got.DataDir, dir)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/clinistore.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
