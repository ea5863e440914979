// Package errs defines the Store's typed error surface.
// Every fault the collection engine, lock manager, or session layer can
// produce is tagged with one of these kinds so callers can distinguish
// "retry is pointless" (ValidationError, IntegrityError) from "the
// filesystem misbehaved" (IOError) without string-matching messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a Store error.
type Kind string

const (
	KindIO                 Kind = "io"
	KindValidation         Kind = "validation"
	KindIntegrity          Kind = "integrity"
	KindObjectNotFound     Kind = "object_not_found"
	KindLockInUse          Kind = "lock_in_use"
	KindUnknownUserName    Kind = "unknown_user_name"
	KindIncorrectPassword  Kind = "incorrect_password"
	KindDeactivatedAccount Kind = "deactivated_account"
)

// Error is the concrete error type returned by every Store operation.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// LockMetadata carries the current holder's metadata for
	// KindLockInUse errors.
	LockMetadata *LockMetadata
}

// LockMetadata is the JSON shape written into a lock directory's
// metadata file and surfaced back to a caller who lost the race.
type LockMetadata struct {
	UserName string `json:"userName"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports equality by Kind so callers can do errors.Is(err, errs.New(KindIntegrity, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// IO wraps a filesystem error.
func IO(message string, cause error) *Error { return Wrap(KindIO, message, cause) }

// Validation wraps a schema rejection.
func Validation(message string, cause error) *Error {
	return Wrap(KindValidation, message, cause)
}

// Integrity reports a tamper-detection mismatch.
func Integrity(message string) *Error { return New(KindIntegrity, message) }

// ObjectNotFound reports that _lookupObjDirById found zero matches.
func ObjectNotFound(message string) *Error { return New(KindObjectNotFound, message) }

// LockInUse reports that a lock is held by a non-stale holder.
func LockInUse(metadata LockMetadata) *Error {
	return &Error{Kind: KindLockInUse, Message: "lock held by " + metadata.UserName, LockMetadata: &metadata}
}

// UnknownUserName, IncorrectPassword, DeactivatedAccount are the three
// login failure kinds.
func UnknownUserName(userName string) *Error {
	return New(KindUnknownUserName, "unknown user: "+userName)
}

func IncorrectPassword() *Error {
	return New(KindIncorrectPassword, "incorrect password")
}

func DeactivatedAccount(userName string) *Error {
	return New(KindDeactivatedAccount, "account deactivated: "+userName)
}

// KindOf extracts the Kind from any error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
