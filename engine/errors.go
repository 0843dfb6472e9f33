package engine

import (
	"errors"
	"fmt"

	"go.hackfix.me/natmgr/allocator"
	aerrors "go.hackfix.me/natmgr/app/errors"
	"go.hackfix.me/natmgr/db/types"
)

// Errors returned by engine operations. Each one matches one of the kinds
// defined in app/errors.
var (
	ErrInvalidOwner       = aerrors.NewKind("invalid owner address", aerrors.ErrInvalidArgument)
	ErrCountMismatch      = aerrors.NewKind("port count mismatch", aerrors.ErrInvalidArgument)
	ErrOwnerAlreadyBound  = aerrors.NewKind("owner already has port mappings", aerrors.ErrConflict)
	ErrPortReserved       = aerrors.NewKind("port is reserved", aerrors.ErrConflict)
	ErrPortAssigned       = aerrors.NewKind("port is already assigned", aerrors.ErrConflict)
	ErrNoMappings         = aerrors.NewKind("no port mappings found", aerrors.ErrNotFound)
	ErrBackupNotFound     = aerrors.NewKind("backup doesn't exist", aerrors.ErrNotFound)
	ErrExhaustedPortSpace = allocator.ErrExhaustedPortSpace
)

// storeErr wraps a database error with the matching error kind.
func storeErr(msg string, err error) error {
	var (
		dupErr   *types.DuplicateError
		noResErr types.NoResultError
		inputErr types.InvalidInputError
		kind     = aerrors.ErrIO
	)
	switch {
	case errors.As(err, &dupErr):
		kind = aerrors.ErrConflict
	case errors.As(err, &noResErr):
		kind = aerrors.ErrNotFound
	case errors.As(err, &inputErr):
		kind = aerrors.ErrInvalidArgument
	}

	return aerrors.WithCause(fmt.Errorf("%s: %w", msg, kind), err)
}

func invalidArg(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), aerrors.ErrInvalidArgument)
}
