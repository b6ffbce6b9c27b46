package zvol

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/djherbis/buffer"
	"github.com/djherbis/nio"

	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// maxBlocksPerRecord bounds how many source blocks one TX_CLONE_RANGE
// chunk covers, mirroring brt_clone_range's per-record cap.
const maxBlocksPerRecord = 64

// WaitDirty selects zfs_bclone_wait_dirty's behavior when a clone_range
// chunk's source blocks were dirtied in the still-open transaction group
// (spec §4.2.6 step a): wait for the next sync, or return early with
// whatever prefix was already cloned.
type WaitDirty bool

const (
	ShortenOnDirty WaitDirty = false
	WaitForSync    WaitDirty = true
)

// CloneRange implements zvol_clone_range (spec §4.2.6). Both offsets must
// be block-aligned and length a multiple of the (equal) block size; a
// source and destination range on the same State that overlap is
// rejected (spec §8 boundary behavior).
func CloneRange(ctx context.Context, src *State, srcOff int64, dst *State, dstOff, length int64, waitDirty WaitDirty, sync func(ctx context.Context, syncAlways bool) error) (cloned int64, err error) {
	if src.BlockSize != dst.BlockSize {
		return 0, zerrors.ErrCrossDevice
	}
	blockSize := src.BlockSize
	if blockSize == 0 || srcOff%blockSize != 0 || dstOff%blockSize != 0 || length%blockSize != 0 {
		return 0, zerrors.ErrInvalid
	}
	if src == dst && srcOff == dstOff {
		return 0, zerrors.ErrInvalid
	}
	if src == dst && rangesOverlap(srcOff, dstOff, length) {
		return 0, zerrors.ErrInvalid
	}
	if dst.Readonly() {
		return 0, zerrors.ErrReadOnly
	}

	dst.mu.Lock()
	if dst.zil == nil {
		dst.zil = newZIL(dst)
	}
	dst.mu.Unlock()

	chunkBytes := blockSize * maxBlocksPerRecord
	descs := chunkDescriptors(srcOff, dstOff, length, chunkBytes)

	// Pipeline chunk descriptors through a buffered pipe so the next
	// chunk's boundaries are ready the instant the current chunk's
	// transaction commits.
	r, w := nio.Pipe(buffer.New(64 * 1024))
	go func() {
		defer w.Close()
		for _, d := range descs {
			var b [24]byte
			binary.LittleEndian.PutUint64(b[0:8], uint64(d.srcOff))
			binary.LittleEndian.PutUint64(b[8:16], uint64(d.dstOff))
			binary.LittleEndian.PutUint64(b[16:24], uint64(d.length))
			if _, err := w.Write(b[:]); err != nil {
				return
			}
		}
	}()

	for {
		var b [24]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			break
		}
		d := chunkDesc{
			srcOff: int64(binary.LittleEndian.Uint64(b[0:8])),
			dstOff: int64(binary.LittleEndian.Uint64(b[8:16])),
			length: int64(binary.LittleEndian.Uint64(b[16:24])),
		}

		if ctx.Err() != nil {
			return cloned, ctx.Err()
		}

		if src.store.DirtyInCurrentTxg(d.srcOff, d.length) {
			if waitDirty == ShortenOnDirty || sync == nil {
				return cloned, nil
			}
			if err := sync(ctx, true); err != nil {
				return cloned, err
			}
			if src.store.DirtyInCurrentTxg(d.srcOff, d.length) {
				return cloned, nil
			}
		}

		n, err := cloneChunk(ctx, src, d.srcOff, dst, d.dstOff, d.length)
		cloned += n
		if err != nil {
			return cloned, err
		}
	}

	if sync != nil {
		if err := sync(ctx, false); err != nil {
			return cloned, err
		}
	}
	return cloned, nil
}

type chunkDesc struct {
	srcOff, dstOff, length int64
}

func chunkDescriptors(srcOff, dstOff, length, chunkBytes int64) []chunkDesc {
	var out []chunkDesc
	for off := int64(0); off < length; off += chunkBytes {
		n := chunkBytes
		if off+n > length {
			n = length - off
		}
		out = append(out, chunkDesc{srcOff: srcOff + off, dstOff: dstOff + off, length: n})
	}
	return out
}

func rangesOverlap(a, b, length int64) bool {
	return a < b+length && b < a+length
}

// cloneChunk acquires the ordered range locks, reads the source block
// references, attaches them at the destination, and logs a
// TX_CLONE_RANGE record (spec §4.2.6 steps 2-3).
func cloneChunk(ctx context.Context, src *State, srcOff int64, dst *State, dstOff, length int64) (int64, error) {
	srcHold, dstHold := LockOrdered(src, srcOff, dst, dstOff, length)
	defer src.ranges.Unlock(srcHold)
	defer dst.ranges.Unlock(dstHold)

	refs, err := src.store.BlockRefsAt(ctx, srcOff, length)
	if err != nil {
		return 0, err
	}
	if err := dst.store.CloneFrom(ctx, dstOff, refs); err != nil {
		return 0, err
	}

	blockSizes := make([]int64, len(refs))
	for i, r := range refs {
		blockSizes[i] = r.Length
	}
	dst.zil.LogCloneRange(dstOff, length, refs, blockSizes)
	return length, nil
}
