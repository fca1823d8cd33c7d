package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted возвращается ForceSync до Start
	ErrNotStarted = errors.New("sync engine is not started")
	// ErrAlreadyStarted возвращается повторным Start без Teardown
	ErrAlreadyStarted = errors.New("sync engine is already started")
	// ErrFeedLost лента изменений закрылась без Teardown
	ErrFeedLost = errors.New("change feed lost")
)

// TransientIOError is a single-record push or pull failure.
// It is logged and skipped; the next pass retries the record.
type TransientIOError struct {
	Op     string
	SongID string
	Err    error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s song %s: %v", e.Op, e.SongID, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// SystemicSyncError означает, что проход синхронизации не смог получить
// полный набор записей и был прерван
type SystemicSyncError struct {
	Op  string
	Err error
}

func (e *SystemicSyncError) Error() string {
	return fmt.Sprintf("sync aborted: %s: %v", e.Op, e.Err)
}

func (e *SystemicSyncError) Unwrap() error {
	return e.Err
}
