// Package zerrors collects the sentinel errors surfaced at the API boundary
// of the TRIM, ZVOL and block crypto/MAC engines. Every entry point returns
// one of these (optionally wrapped with github.com/pkg/errors for context)
// rather than an ad hoc string, so callers can branch with errors.Is.
package zerrors

import "errors"

var (
	// ErrInterrupted means a blocking operation was cancelled cooperatively
	// (trim_exit_wanted, pool removing, context cancellation).
	ErrInterrupted = errors.New("zfs: interrupted")

	// ErrInvalid means the caller supplied an argument combination the
	// engine will never accept (bad alignment, zero size, unknown suite).
	ErrInvalid = errors.New("zfs: invalid argument")

	// ErrNotFound means a name, leaf, or key lookup had no match.
	ErrNotFound = errors.New("zfs: no such object")

	// ErrNoSuchDevice means a name-table lookup found the entry but it is
	// gone or mid-teardown (ZVOL_REMOVING observed by the caller).
	ErrNoSuchDevice = errors.New("zfs: no such device")

	// ErrNotSupported means the requested operation or record type has no
	// implementation (unsupported crypto suite, non-ZVOL ZIL record type).
	ErrNotSupported = errors.New("zfs: operation not supported")

	// ErrIO means a driver-level I/O failure (AEAD session error, device
	// write failure) that does not indicate corrupted data.
	ErrIO = errors.New("zfs: I/O error")

	// ErrChecksum means authenticated decryption failed: either the MAC did
	// not verify or an object-set MAC comparison mismatched. No plaintext is
	// ever returned alongside this error.
	ErrChecksum = errors.New("zfs: checksum/authentication error")

	// ErrOpNotSupported mirrors ErrNotSupported at a different call site
	// (kept distinct since EOPNOTSUPP and ENOTSUP are separate codes at
	// the API boundary).
	ErrOpNotSupported = errors.New("zfs: operation not supported (legacy)")

	// ErrReadOnly means a mutating call landed on a read-only leaf, pool, or
	// dataset.
	ErrReadOnly = errors.New("zfs: read-only file system")

	// ErrExists means a create or rename collided with an existing minor,
	// task, or key version.
	ErrExists = errors.New("zfs: already exists")

	// ErrAgain means the caller should retry (queue full, taskq
	// over-subscribed).
	ErrAgain = errors.New("zfs: resource temporarily unavailable")

	// ErrOverflow means a field used to encode on-disk state (the salt-use
	// counter, a block-pointer offset) would overflow its storage.
	ErrOverflow = errors.New("zfs: value too large")

	// ErrNoSpace means the pool substrate refused a reservation.
	ErrNoSpace = errors.New("zfs: no space left on device")

	// ErrBusy means the target is mid-operation and cannot be reused yet
	// (a metaslab still disabled, a suspend in progress).
	ErrBusy = errors.New("zfs: device or resource busy")

	// ErrCrossDevice means a clone_range source/destination pair are not
	// clonable together (different pool, different encryption state).
	ErrCrossDevice = errors.New("zfs: cross-device link")

	// ErrNoMemory means an allocation needed to make progress failed; TRIM
	// treats this as transient and skips the current iteration.
	ErrNoMemory = errors.New("zfs: cannot allocate memory")
)
