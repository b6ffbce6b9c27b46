package zvol

import (
	"context"

	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// Read serves a read under the state's range lock, failing ENXIO if the
// volume is mid-removal.
func (s *State) Read(ctx context.Context, p []byte, off int64) (int, error) {
	if s.Removing() {
		return 0, zerrors.ErrNoSuchDevice
	}
	h := s.ranges.Lock(off, off+int64(len(p)), false)
	defer s.ranges.Unlock(h)
	return s.store.ReadAt(ctx, p, off)
}

// Write serves a write under the state's range lock, lazily creating the
// ZIL handle on first use (spec §3.3), and logs a TX_WRITE record.
func (s *State) Write(ctx context.Context, p []byte, off int64) (int, error) {
	if s.Removing() {
		return 0, zerrors.ErrNoSuchDevice
	}
	if s.Readonly() {
		return 0, zerrors.ErrReadOnly
	}

	h := s.ranges.Lock(off, off+int64(len(p)), true)
	defer s.ranges.Unlock(h)

	s.mu.Lock()
	if s.zil == nil {
		s.zil = newZIL(s)
	}
	s.mu.Unlock()

	n, err := s.store.WriteAt(ctx, p, off)
	if err != nil {
		return n, err
	}
	s.zil.LogWrite(off, p)
	return n, nil
}

// Truncate frees everything beyond off within [off, off+length) and logs
// a TX_TRUNCATE record. SetVolsize's shrink path does not go through
// Truncate: it frees the range on the store directly and logs nothing.
func (s *State) Truncate(ctx context.Context, off, length int64) error {
	if s.Removing() {
		return zerrors.ErrNoSuchDevice
	}
	if s.Readonly() {
		return zerrors.ErrReadOnly
	}
	h := s.ranges.Lock(off, off+length, true)
	defer s.ranges.Unlock(h)

	if err := s.store.FreeRange(ctx, off, length); err != nil {
		return err
	}

	s.mu.Lock()
	if s.zil == nil {
		s.zil = newZIL(s)
	}
	s.mu.Unlock()

	s.zil.LogTruncate(off, length)
	return nil
}
