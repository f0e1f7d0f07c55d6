package services

import "github.com/oklog/ulid/v2"

// newULID is the default IDGenerator. ulid.Make is safe for concurrent use and monotonic within
// a millisecond.
func newULID() string {
	return ulid.Make().String()
}
