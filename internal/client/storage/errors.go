package storage

import "errors"

// Common client storage errors
var (
	// ErrProfileNotFound indicates that no owner profile has been saved (not logged in)
	ErrProfileNotFound = errors.New("profile not found")

	// ErrSongNotFound indicates that song was not found
	ErrSongNotFound = errors.New("song not found")

	// ErrArrangementNotFound indicates that arrangement body was not found
	ErrArrangementNotFound = errors.New("arrangement not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
