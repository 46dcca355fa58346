package core

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 string, falling back to v4 if the
// clock-based generator fails.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
