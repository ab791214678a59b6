package blockstore

import (
	"fmt"

	"github.com/endomorphosis/ipfskg/pkg/kgerrors"
)

// Errors returned by the block store.
var (
	ErrNotFound         = fmt.Errorf("block %w", kgerrors.ErrNotFound)
	ErrCorruptBlock     = kgerrors.ErrCorruptBlock
	ErrBlockTooLarge    = fmt.Errorf("%w: block exceeds max block size", kgerrors.ErrCapacityExceeded)
	ErrDaemonFailed     = fmt.Errorf("daemon call failed: %w", kgerrors.ErrStorageUnavailable)
	ErrClosed           = fmt.Errorf("%w: block store is closed", kgerrors.ErrStorageUnavailable)
	ErrInvalidCID       = fmt.Errorf("%w: invalid CID", kgerrors.ErrValidation)
	ErrUnsupportedHash  = fmt.Errorf("%w: unsupported hash function", kgerrors.ErrValidation)
	ErrBadFetchResponse = fmt.Errorf("%w: fetch returned non-success status", kgerrors.ErrValidation)
)
