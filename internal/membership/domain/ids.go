package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ApplicationID uniquely identifies a membership application.
type ApplicationID uuid.UUID

// NewApplicationID generates a new ApplicationID.
func NewApplicationID() ApplicationID {
	return ApplicationID(uuid.New())
}

// ParseApplicationID parses a string into an ApplicationID.
func ParseApplicationID(s string) (ApplicationID, error) {
	if s == "" {
		return ApplicationID{}, ErrEmptyApplicationID
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return ApplicationID{}, fmt.Errorf("%w: %q", ErrInvalidApplicationID, s)
	}
	return ApplicationID(id), nil
}

// String returns the string representation.
func (id ApplicationID) String() string {
	return uuid.UUID(id).String()
}

// IsZero returns true if the ID is the zero value.
func (id ApplicationID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// NewPassToken issues an opaque credential for non-card membership proof.
// Tokens are unguessable; possession of the token is the access proof.
func NewPassToken() string {
	return "pass-" + uuid.NewString()
}
