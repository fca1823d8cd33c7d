package storage

import "errors"

// Common storage errors
var (
	// ErrSongNotFound indicates that song was not found in storage
	ErrSongNotFound = errors.New("song not found")

	// ErrArrangementNotFound indicates that song has no stored arrangement
	ErrArrangementNotFound = errors.New("arrangement not found")
)
