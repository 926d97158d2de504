package reconcile

import "errors"

var (
	// ErrPrecondition wraps failures to read either store. Nothing has been
	// written when it is returned.
	ErrPrecondition = errors.New("precondition failed")

	// ErrInvalidOptions indicates unusable run options.
	ErrInvalidOptions = errors.New("invalid reconcile options")

	// ErrInvariant indicates a computed plan that would leave the stores
	// inconsistent. The run is aborted before writing.
	ErrInvariant = errors.New("reconcile plan violates invariants")
)
