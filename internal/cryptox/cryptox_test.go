package cryptox_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"clinistore/internal/cryptox"
)

func TestStrongEncryptDecrypt_Roundtrip(t *testing.T) {
	t.Parallel()

	key, err := cryptox.GenerateStrongKey()
	if err != nil {
		t.Fatalf("GenerateStrongKey() error = %v", err)
	}

	plaintext := []byte(`{"note":"patient presented with..."}`)
	ct, err := cryptox.StrongEncrypt(key, plaintext)
	if err != nil {
		t.Fatalf("StrongEncrypt() error = %v", err)
	}
	if bytes.Equal(ct, plaintext) {
		t.Fatal("ciphertext must differ from plaintext")
	}

	got, err := cryptox.StrongDecrypt(key, ct)
	if err != nil {
		t.Fatalf("StrongDecrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestStrongEncrypt_NonDeterministic(t *testing.T) {
	t.Parallel()

	key, _ := cryptox.GenerateStrongKey()
	plaintext := []byte("same input twice")

	a, err := cryptox.StrongEncrypt(key, plaintext)
	if err != nil {
		t.Fatalf("StrongEncrypt() error = %v", err)
	}
	b, err := cryptox.StrongEncrypt(key, plaintext)
	if err != nil {
		t.Fatalf("StrongEncrypt() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of the same plaintext must differ")
	}
}

func TestStrongDecrypt_WrongKeyFails(t *testing.T) {
	t.Parallel()

	key, _ := cryptox.GenerateStrongKey()
	other, _ := cryptox.GenerateStrongKey()

	ct, err := cryptox.StrongEncrypt(key, []byte("secret"))
	if err != nil {
		t.Fatalf("StrongEncrypt() error = %v", err)
	}
	if _, err := cryptox.StrongDecrypt(other, ct); err == nil {
		t.Fatal("expected error decrypting with wrong key")
	}
}

func TestStrongDecrypt_TamperedCiphertextFails(t *testing.T) {
	t.Parallel()

	key, _ := cryptox.GenerateStrongKey()
	ct, err := cryptox.StrongEncrypt(key, []byte("hello"))
	if err != nil {
		t.Fatalf("StrongEncrypt() error = %v", err)
	}
	ct[len(ct)-1] ^= 0xFF

	if _, err := cryptox.StrongDecrypt(key, ct); err == nil {
		t.Fatal("expected error decrypting tampered ciphertext")
	}
}

func TestWeakEncrypt_DeterministicPerSecurityLevel(t *testing.T) {
	t.Parallel()

	key, _ := cryptox.GenerateStrongKey()
	plaintext := []byte("2024-01-02T03:04:05.000Z")

	a, err := cryptox.WeakEncrypt(key, 5, plaintext)
	if err != nil {
		t.Fatalf("WeakEncrypt() error = %v", err)
	}
	b, err := cryptox.WeakEncrypt(key, 5, plaintext)
	if err != nil {
		t.Fatalf("WeakEncrypt() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("WeakEncrypt must be deterministic for a fixed security level")
	}

	c, err := cryptox.WeakEncrypt(key, 6, plaintext)
	if err != nil {
		t.Fatalf("WeakEncrypt() error = %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatal("WeakEncrypt must vary with security level")
	}
}

func TestWeakEncryptDecrypt_Roundtrip(t *testing.T) {
	t.Parallel()

	key, _ := cryptox.GenerateStrongKey()
	plaintext := []byte("index-value")

	ct, err := cryptox.WeakEncrypt(key, 5, plaintext)
	if err != nil {
		t.Fatalf("WeakEncrypt() error = %v", err)
	}
	got, err := cryptox.WeakDecrypt(key, 5, ct)
	if err != nil {
		t.Fatalf("WeakDecrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestWeakDecrypt_WrongSecurityLevelFails(t *testing.T) {
	t.Parallel()

	key, _ := cryptox.GenerateStrongKey()
	ct, err := cryptox.WeakEncrypt(key, 5, []byte("value"))
	if err != nil {
		t.Fatalf("WeakEncrypt() error = %v", err)
	}
	if _, err := cryptox.WeakDecrypt(key, 6, ct); err == nil {
		t.Fatal("expected error decrypting with wrong security level")
	}
}

func TestWrapUnwrapStrongKey_Roundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "account.key")

	key, err := cryptox.GenerateStrongKey()
	if err != nil {
		t.Fatalf("GenerateStrongKey() error = %v", err)
	}

	if err := cryptox.WrapStrongKey(path, "correct horse battery staple", key); err != nil {
		t.Fatalf("WrapStrongKey() error = %v", err)
	}

	got, err := cryptox.UnwrapStrongKey(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("UnwrapStrongKey() error = %v", err)
	}
	if got != key {
		t.Fatal("unwrapped key does not match original")
	}
}

func TestUnwrapStrongKey_WrongPassphraseFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "account.key")

	key, _ := cryptox.GenerateStrongKey()
	if err := cryptox.WrapStrongKey(path, "right-passphrase", key); err != nil {
		t.Fatalf("WrapStrongKey() error = %v", err)
	}

	if _, err := cryptox.UnwrapStrongKey(path, "wrong-passphrase"); err == nil {
		t.Fatal("expected error unwrapping with wrong passphrase")
	}
}
