package domain

import "fmt"

// Status is the closed set of application states.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusApproved    Status = "Approved"
	StatusDeclined    Status = "Declined"
	StatusPaid        Status = "Paid"
	StatusIssued      Status = "Issued"
	StatusDelivered   Status = "Delivered"
	StatusBlacklisted Status = "Blacklisted"
)

// ParseStatus validates a status name received from the outside.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusDeclined, StatusPaid,
		StatusIssued, StatusDelivered, StatusBlacklisted:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// IsTerminal reports whether no further transition may leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDeclined, StatusDelivered, StatusBlacklisted:
		return true
	}
	return false
}

// settled reports whether the status is Paid or a later stage.
func (s Status) settled() bool {
	switch s {
	case StatusPaid, StatusIssued, StatusDelivered:
		return true
	}
	return false
}

// String returns the status name.
func (s Status) String() string {
	return string(s)
}
