package zvol

import (
	"context"

	"github.com/openzfs-go/storageengine/pkg/pool"
	"github.com/openzfs-go/storageengine/pkg/trim"
	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// SetVolsize implements zvol_set_volsize (spec §4.2.1): grows or shrinks
// a ZVOL, freeing everything beyond a new, smaller size. Per spec §8
// boundary behaviors, a zero size or a size that is not a multiple of
// the ZVOL's block size is rejected with EINVAL.
func SetVolsize(ctx context.Context, s *State, newSize int64) error {
	if newSize == 0 || newSize%s.BlockSize != 0 {
		return zerrors.ErrInvalid
	}

	s.mu.Lock()
	if s.readonly {
		s.mu.Unlock()
		return zerrors.ErrReadOnly
	}
	old := s.volSize
	s.mu.Unlock()

	if err := s.store.SetSize(ctx, newSize); err != nil {
		return err
	}
	if newSize < old {
		if err := s.store.FreeRange(ctx, newSize, old-newSize); err != nil {
			return err
		}
		for _, leaf := range s.TrimLeaves {
			_ = trim.Simple(ctx, leaf, newSize, old-newSize)
		}
	}

	s.mu.Lock()
	s.volSize = newSize
	s.mu.Unlock()

	return nil
}

// SetTrimLeaves wires the pool.Leaf set backing this ZVOL's top-level
// vdev so a shrink can trigger a synchronous trim_simple over the
// freed range (spec §4.1.1's trim_simple caller list includes cache
// and freed-extent whole-range TRIM); a ZVOL with no TRIM-capable vdev
// behind it simply never calls this.
func (s *State) SetTrimLeaves(leaves []pool.Leaf) {
	s.mu.Lock()
	s.TrimLeaves = leaves
	s.mu.Unlock()
}

// SetCommon implements zvol_set_common (spec §4.2.1): a sync-task that
// updates snapdev or volmode at every descendant of dataset and kicks
// per-descendant minor reconfiguration. reconfig is called once per
// updated state so a caller (e.g. the minor-lifecycle task dispatcher)
// can react.
func SetCommon(t *Table, datasetPrefix string, property string, value int, reconfig func(*State)) (updated int, err error) {
	for _, s := range t.All() {
		if !isDescendantOrSelf(s.Name, datasetPrefix) {
			continue
		}
		s.mu.Lock()
		switch property {
		case "snapdev":
			s.snapdev = Snapdev(value)
		case "volmode":
			s.volmode = Volmode(value)
		default:
			s.mu.Unlock()
			return updated, zerrors.ErrInvalid
		}
		s.mu.Unlock()
		updated++
		if reconfig != nil {
			reconfig(s)
		}
	}
	return updated, nil
}

func isDescendantOrSelf(name, prefix string) bool {
	if name == prefix {
		return true
	}
	if len(name) <= len(prefix) {
		return false
	}
	return name[:len(prefix)] == prefix && name[len(prefix)] == '/'
}
