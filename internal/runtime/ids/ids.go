// Package ids mints identifiers: ULIDs for messages and correlation ids,
// UUIDs for events, registration rows, audit records and provisioned users.
package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// CreateULID returns a time-sortable ULID. Ids minted within the same
// millisecond keep increasing, also across goroutines.
func CreateULID() string {
	return ulid.Make().String()
}

// NewUUID returns a random RFC 4122 identifier.
func NewUUID() string {
	return uuid.NewString()
}
