// Package kgerrors defines the error kinds shared by every ipfskg package.
//
// Packages declare their own specific sentinels and wrap one of these kinds,
// so callers can test either the precise failure or the broad category:
//
//	if errors.Is(err, kgerrors.ErrNotFound) {
//		// any missing CID, entity, relationship or vector
//	}
//	if errors.Is(err, graph.ErrMissingEndpoint) {
//		// the relationship named an entity that does not exist
//	}
package kgerrors

import "errors"

var (
	// ErrNotFound reports an absent CID, entity, relationship or vector id.
	ErrNotFound = errors.New("not found")

	// ErrValidation reports input that violates an invariant. The mutation
	// that produced it had no effect.
	ErrValidation = errors.New("validation error")

	// ErrStorageUnavailable reports a failed daemon call. The block store
	// handles it internally by dropping to local-only mode.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrCorruptBlock reports a payload that does not decode to the expected
	// structure or does not match its CID.
	ErrCorruptBlock = errors.New("corrupt block")

	// ErrCapacityExceeded reports data that cannot fit the block size limit
	// even after chunking.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)

// Kind returns the shared kind err belongs to, or nil if it wraps none.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrValidation, ErrStorageUnavailable, ErrCorruptBlock, ErrCapacityExceeded} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
