package domain

import "errors"

// Domain errors for the Membership context.
var (
	// ErrApplicationNotFound is returned when an application cannot be found.
	ErrApplicationNotFound = errors.New("application not found")

	// ErrCardNotFound is returned when a card pool entry cannot be found.
	ErrCardNotFound = errors.New("card number not found")

	// ErrInvalidTransition is returned when a status transition is not allowed
	// for the application's configuration.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownStatus is returned when parsing an unrecognized status name.
	ErrUnknownStatus = errors.New("unknown status")

	// ErrPoolExhausted is returned when no free card numbers remain.
	ErrPoolExhausted = errors.New("card pool exhausted")

	// ErrDuplicateCardNumber is returned when a card number already exists in the pool.
	ErrDuplicateCardNumber = errors.New("duplicate card number")

	// ErrInvalidCardNumber is returned when a card number does not match the
	// printed format.
	ErrInvalidCardNumber = errors.New("invalid card number format")

	// ErrCardAssigned is returned when an admin operation targets an assigned entry.
	ErrCardAssigned = errors.New("card number is assigned")

	// ErrLockConflict is returned when the idempotency guard lock is already held.
	ErrLockConflict = errors.New("lock already held")

	// ErrAlreadyScanned is returned when a pass is validated twice within the
	// rolling scan window.
	ErrAlreadyScanned = errors.New("pass already scanned within window")

	// ErrPassNotEnabled is returned when validating a pass that is not active.
	ErrPassNotEnabled = errors.New("pass is not enabled")

	// ErrOptimisticLock is returned when a concurrent modification is detected.
	ErrOptimisticLock = errors.New("optimistic lock conflict")

	// ErrEmptyApplicationID is returned when parsing an empty application ID.
	ErrEmptyApplicationID = errors.New("application id cannot be empty")

	// ErrInvalidApplicationID is returned when parsing a malformed application ID.
	ErrInvalidApplicationID = errors.New("invalid application id")

	// ErrNothingRequested is returned when an application requests neither a
	// card nor a pass.
	ErrNothingRequested = errors.New("application must request a card or a pass")

	// ErrCorruptData is returned when data loaded from persistence is invalid.
	ErrCorruptData = errors.New("corrupt data in database")
)
