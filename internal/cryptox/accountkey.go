package cryptox

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"clinistore/internal/errs"
)

// WrapStrongKey encrypts key's raw bytes with age's scrypt passphrase
// recipient and writes the result to path. This is the only place a
// user's password touches the strong key: age performs its own
// work-factored scrypt derivation over the passphrase and a random
// salt it embeds in the header, then uses the derived key to encrypt
// the payload — the Store never derives or stores that value itself.
func WrapStrongKey(path, passphrase string, key StrongKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errs.IO("creating account key directory", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return errs.IO("constructing scrypt recipient", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errs.IO("creating account key file", err)
	}
	defer f.Close()

	w, err := age.Encrypt(f, recipient)
	if err != nil {
		return errs.IO("opening age writer", err)
	}
	if _, err := w.Write(key[:]); err != nil {
		return errs.IO("writing wrapped key", err)
	}
	if err := w.Close(); err != nil {
		return errs.IO("finalizing wrapped key", err)
	}
	return nil
}

// UnwrapStrongKey decrypts the account key file with passphrase. A
// wrong passphrase surfaces as an error here, which the account
// package turns into an IncorrectPassword error — age gives no way to
// distinguish "wrong passphrase" from "corrupted file", and neither
// can the Store.
func UnwrapStrongKey(path, passphrase string) (StrongKey, error) {
	var key StrongKey

	data, err := os.ReadFile(path)
	if err != nil {
		return key, errs.IO("reading account key file", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return key, errs.IO("constructing scrypt identity", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return key, err
	}

	plain, err := io.ReadAll(r)
	if err != nil {
		return key, err
	}
	if len(plain) != StrongKeySize {
		return key, errs.Integrity("unwrapped key has unexpected length")
	}
	copy(key[:], plain)
	return key, nil
}
