// Package cryptox implements the Store's two crypto primitives: strong
// symmetric encryption (authenticated, non-deterministic, for object
// payloads and the account key file) and weak symmetric encryption
// (deterministic, short-overhead, for filenames only).
//
// Both are keyed off a single random StrongKey that lives only in
// memory, on the Session, for the process lifetime; the Store never
// writes the user's password to disk.
package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"clinistore/internal/errs"
)

// StrongKeySize is the size in bytes of a strong symmetric key.
const StrongKeySize = chacha20poly1305.KeySize

// StrongKey is the single key a Session holds for its lifetime. All
// payload encryption and all weak (filename) keys are derived from it.
type StrongKey [StrongKeySize]byte

// GenerateStrongKey produces a fresh random strong key, used once per
// account at setup time.
func GenerateStrongKey() (StrongKey, error) {
	var k StrongKey
	if _, err := rand.Read(k[:]); err != nil {
		return k, errs.IO("generating strong key", err)
	}
	return k, nil
}

// StrongEncrypt seals plaintext with XChaCha20-Poly1305 under a fresh
// random nonce, so identical plaintexts never produce identical
// ciphertexts. The nonce is prepended to the returned ciphertext.
func StrongEncrypt(key StrongKey, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errs.IO("constructing strong cipher", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.IO("generating nonce", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// StrongDecrypt reverses StrongEncrypt. A failure here (bad key, wrong
// nonce, corrupted ciphertext, or tampering) is always reported as an
// IntegrityError — the caller cannot distinguish "corrupted" from
// "tampered with" from the ciphertext alone, which is the point.
func StrongDecrypt(key StrongKey, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errs.IO("constructing strong cipher", err)
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, errs.Integrity("ciphertext shorter than nonce")
	}

	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	ct := ciphertext[chacha20poly1305.NonceSizeX:]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errs.Integrity("payload authentication failed")
	}
	return pt, nil
}

// deriveWeakKey derives the filename key from the strong key and a
// security level via HKDF-SHA256. The security level is folded into
// the HKDF "info" parameter so that a call site can bump it, in effect
// re-keying weak encryption without touching the strong key, although
// every call site in this store uses the fixed level 5.
func deriveWeakKey(key StrongKey, securityLevel int) ([]byte, error) {
	info := fmt.Appendf(nil, "clinistore-weak-key-v%d", securityLevel)
	r := hkdf.New(sha256.New, key[:], nil, info)
	weak := make([]byte, chacha20poly1305.KeySize)
	if _, err := r.Read(weak); err != nil {
		return nil, errs.IO("deriving weak key", err)
	}
	return weak, nil
}

// WeakEncrypt deterministically encrypts plaintext so that identical
// plaintexts always produce identical ciphertexts — required so list()
// can correlate directory names across process invocations. The
// overhead is a fixed 28 bytes per name (12-byte IV plus 16-byte tag).
//
// The nonce is not random: it is the first NonceSize bytes of an
// HMAC-SHA256 over the plaintext under the weak key (a synthetic IV).
// Two different plaintexts collide in their IV only if they also
// collide in their HMAC, which is infeasible; two encryptions of the
// same plaintext always use the same IV, which is the entire point.
// The ciphertext carries a standard Poly1305 tag (no AAD), which
// WeakDecrypt verifies; moving a validly named file to another
// location is caught instead by the context check embedded in the
// decrypted payload.
func WeakEncrypt(key StrongKey, securityLevel int, plaintext []byte) ([]byte, error) {
	weak, err := deriveWeakKey(key, securityLevel)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(weak)
	if err != nil {
		return nil, errs.IO("constructing weak cipher", err)
	}

	mac := hmac.New(sha256.New, weak)
	mac.Write(plaintext)
	nonce := mac.Sum(nil)[:chacha20poly1305.NonceSize]

	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// WeakDecrypt reverses WeakEncrypt.
func WeakDecrypt(key StrongKey, securityLevel int, ciphertext []byte) ([]byte, error) {
	weak, err := deriveWeakKey(key, securityLevel)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(weak)
	if err != nil {
		return nil, errs.IO("constructing weak cipher", err)
	}
	if len(ciphertext) < chacha20poly1305.NonceSize {
		return nil, errs.Integrity("ciphertext shorter than nonce")
	}

	nonce := ciphertext[:chacha20poly1305.NonceSize]
	ct := ciphertext[chacha20poly1305.NonceSize:]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errs.Integrity("filename authentication failed")
	}
	return pt, nil
}
