package auditchain

import (
	"errors"
	"fmt"
)

var (
	// ErrImmutable is returned when anything tries to change or remove a persisted entry.
	ErrImmutable = errors.New("audit log entries are immutable")

	// ErrForkDetected means the store's tail did not match the hash the appender linked
	// to. It indicates a linearization bug or a second writer and must never be ignored.
	ErrForkDetected = errors.New("append invariant violated: entry does not link to the chain tail")

	// ErrNotInitialized is returned by appends issued before the genesis entry exists.
	ErrNotInitialized = errors.New("audit chain has no genesis entry")

	// ErrGenesisExists is returned by a store asked to persist a second genesis entry.
	ErrGenesisExists = errors.New("audit chain already has a genesis entry")

	ErrUnknownAction   = errors.New("unknown audit action")
	ErrReservedAction  = errors.New("action is reserved for the chain itself")
	ErrInvalidMetadata = errors.New("audit metadata is not serializable")
	ErrAppenderClosed  = errors.New("audit appender is closed")
	ErrNotFound        = errors.New("audit entry not found")
	ErrInvalidQuery    = errors.New("invalid audit query")
)

// StorageError wraps a persistence failure during an append or read.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err unless it is one of the chain's own sentinel errors.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) ||
		errors.Is(err, ErrImmutable) ||
		errors.Is(err, ErrForkDetected) ||
		errors.Is(err, ErrGenesisExists) ||
		errors.Is(err, ErrNotInitialized) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
