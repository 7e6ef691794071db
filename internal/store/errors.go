// Package store persists the roster, the enrollment snapshot, tracked chats
// and cycle audit rows. Every store is bound to a *gorm.DB handed in by the
// caller; WithTx variants bind the same store to an open transaction.
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreWrite marks any failed write. The enclosing transaction has been rolled back.
	ErrStoreWrite = errors.New("store write failed")

	ErrMemberNotFound     = errors.New("member not found")
	ErrEnrollmentNotFound = errors.New("enrollment record not found")
	ErrChatNotFound       = errors.New("chat not found")
)

// WriteError wraps a failed write with the operation that failed.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrStoreWrite }

func writeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &WriteError{Op: op, Err: err}
}
