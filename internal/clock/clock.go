// Package clock abstracts time and id generation so the collection
// engine and lock manager are deterministic in tests.
package clock

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces the 128-bit-equivalent, base64url-encoded random
// identifiers used for object ids and revision ids.
type IDGenerator interface {
	New() string
}

// UUIDGenerator generates a random v4 UUID and base64url-encodes its
// raw 16 bytes directly, rather than the usual hyphenated string form,
// to keep filename budgets small (the collection engine decodes ids
// back to raw bytes before packing them into object-directory names).
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// TimestampFormat is the single sortable timestamp layout used throughout
// the store, on revision filenames and in object metadata.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the canonical sortable layout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ParseTimestamp parses the canonical sortable layout.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampFormat, s)
}
