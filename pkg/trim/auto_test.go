package trim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openzfs-go/storageengine/pkg/pool"
	"github.com/openzfs-go/storageengine/pkg/rangetree"
)

// TestAutotrimCoexistenceIssuesFreedRanges checks that four 1 MiB frees
// within one metaslab are issued as TRIM I/O summing to 4 MiB once a
// kick lands.
func TestAutotrimCoexistenceIssuesFreedRanges(t *testing.T) {
	db, err := pool.OpenMemLevelDB()
	require.NoError(t, err)
	zap := pool.NewMemZAP(db, "leaf")
	leaf := pool.NewMemLeaf(10, 9, zap)

	const mib = 1024 * 1024
	free := newRangeSet(0, 128*mib)
	ms := pool.NewMemMetaslab(0, free, false)
	tlv := pool.NewMemTopLevelVdev(5, []*pool.MemLeaf{leaf}, []pool.Metaslab{ms})

	freed := rangetree.New()
	freed.Add(0*mib, mib)
	freed.Add(32*mib, mib)
	freed.Add(64*mib, mib)
	freed.Add(96*mib, mib)
	ms.SwapTrim(rangeSetAdapter{freed}) // seed ms_trim so the first group picks it up

	e := New(testSubstrate{}, nil, nil, Tunables{TxgBatch: 1, ExtentBytesMax: 4 * mib, ExtentBytesMin: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.AutotrimStart(ctx, tlv)
	e.AutotrimKick(tlv)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := e.Iostats(leaf)
		if st.Auto.BytesIssued >= 4*mib {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	st := e.Iostats(leaf)
	require.Equal(t, uint64(4*mib), st.Auto.BytesIssued)

	e.AutotrimStopWait(tlv)
}

func TestAutotrimVacatesOnStop(t *testing.T) {
	db, err := pool.OpenMemLevelDB()
	require.NoError(t, err)
	zap := pool.NewMemZAP(db, "leaf")
	leaf := pool.NewMemLeaf(11, 9, zap)

	free := newRangeSet(0, 16*1024*1024)
	ms := pool.NewMemMetaslab(0, free, false)
	tlv := pool.NewMemTopLevelVdev(6, []*pool.MemLeaf{leaf}, []pool.Metaslab{ms})
	ms.SwapTrim(newRangeSet(0, 1024*1024))

	e := New(testSubstrate{}, nil, nil, Tunables{TxgBatch: 1})
	ctx := context.Background()
	e.AutotrimStart(ctx, tlv)
	e.AutotrimStopWait(tlv)

	ms.Lock()
	snapshot := ms.SwapTrim(newRangeSet(0, 0))
	ms.Unlock()
	require.True(t, snapshot.IsEmpty(), "ms_trim must be vacated once autotrim stops")
}
