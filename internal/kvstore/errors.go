package kvstore

import (
	"errors"
	"fmt"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
)

// StorageError is returned by Store operations. Kind is one of
// errors.ErrQuotaExceeded, errors.ErrSerialization or errors.ErrDeserialization
// and is matched by errors.Is.
type StorageError struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err != nil && errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("kvstore %s %q: %v", e.Op, e.Key, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("kvstore %s %q: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("kvstore %s %q: %v", e.Op, e.Key, e.Kind)
}

func (e *StorageError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func quotaError(key string, err error) error {
	return &StorageError{Op: "save", Key: key, Kind: perrors.ErrQuotaExceeded, Err: err}
}

func serializationError(key string, err error) error {
	return &StorageError{Op: "save", Key: key, Kind: perrors.ErrSerialization, Err: err}
}

func deserializationError(key string, err error) error {
	return &StorageError{Op: "load", Key: key, Kind: perrors.ErrDeserialization, Err: err}
}
