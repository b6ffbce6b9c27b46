package trim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openzfs-go/storageengine/pkg/pool"
	"github.com/openzfs-go/storageengine/pkg/rangetree"
)

func newRangeSet(start, size int64) pool.RangeSet {
	tr := rangetree.New()
	tr.Add(start, size)
	return rangeSetAdapter{tr}
}

func newTestLeaf(t *testing.T, guid uint64) (*pool.MemLeaf, *pool.MemTopLevelVdev, *pool.MemMetaslab) {
	t.Helper()
	db, err := pool.OpenMemLevelDB()
	require.NoError(t, err)

	zap := pool.NewMemZAP(db, "leaf")
	leaf := pool.NewMemLeaf(guid, 9, zap)

	free := newRangeSet(0, 256*1024*1024)
	ms := pool.NewMemMetaslab(0, free, false)

	pool.NewMemTopLevelVdev(1, []*pool.MemLeaf{leaf}, []pool.Metaslab{ms})
	return leaf, leaf.TopLevel().(*pool.MemTopLevelVdev), ms
}

func TestManualTrimCompletesAndIssuesFreeRanges(t *testing.T) {
	leaf, _, _ := newTestLeaf(t, 1)
	e := New(testSubstrate{}, nil, nil, Tunables{ExtentBytesMax: 64 * 1024 * 1024, ExtentBytesMin: 1})

	ctx := context.Background()
	require.NoError(t, e.Start(ctx, leaf, 0, false, false))

	waitForState(t, e, leaf, StateComplete)

	stats := e.Iostats(leaf)
	require.Equal(t, uint64(256*1024*1024), stats.Manual.BytesIssued)
}

func TestManualTrimSkipsNeverWrittenWhenPartial(t *testing.T) {
	db, err := pool.OpenMemLevelDB()
	require.NoError(t, err)
	zap := pool.NewMemZAP(db, "leaf")
	leaf := pool.NewMemLeaf(2, 9, zap)

	free := newRangeSet(0, 128*1024*1024)
	ms := pool.NewMemMetaslab(0, free, true) // never written
	pool.NewMemTopLevelVdev(2, []*pool.MemLeaf{leaf}, []pool.Metaslab{ms})

	e := New(testSubstrate{}, nil, nil, Tunables{ExtentBytesMax: 64 * 1024 * 1024, ExtentBytesMin: 1})
	require.NoError(t, e.Start(context.Background(), leaf, 0, true, false))

	waitForState(t, e, leaf, StateComplete)

	stats := e.Iostats(leaf)
	require.Zero(t, stats.Manual.BytesIssued, "a never-written metaslab must be skipped under partial")
}

func TestStartTwiceReturnsBusy(t *testing.T) {
	leaf, _, _ := newTestLeaf(t, 3)
	leaf.SetIOLatency(200 * time.Millisecond)
	e := New(testSubstrate{}, nil, nil, Tunables{})

	require.NoError(t, e.Start(context.Background(), leaf, 0, false, false))
	err := e.Start(context.Background(), leaf, 0, false, false)
	require.Error(t, err)

	var list []<-chan struct{}
	require.NoError(t, e.Stop(leaf, StateCanceled, &list))
	e.StopWait(list)
}

func TestPersistedStateRoundTrips(t *testing.T) {
	db, err := pool.OpenMemLevelDB()
	require.NoError(t, err)
	zap := pool.NewMemZAP(db, "leaf")
	leaf := pool.NewMemLeaf(4, 9, zap)

	ls := &leafState{leaf: leaf, lastOffset: 4096, rate: 10, partial: true, secure: false, actionTime: 100, state: StateSuspended}
	e := New(testSubstrate{}, nil, nil, Tunables{})
	require.NoError(t, e.persist(ls))

	reloaded := &leafState{leaf: leaf}
	found, err := restore(zap, reloaded)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ls.lastOffset, reloaded.lastOffset)
	require.Equal(t, ls.rate, reloaded.rate)
	require.Equal(t, ls.partial, reloaded.partial)
	require.Equal(t, ls.secure, reloaded.secure)
	require.Equal(t, ls.state, reloaded.state)
}

func waitForState(t *testing.T, e *Engine, leaf pool.Leaf, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.State(leaf) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("leaf never reached state %s, stuck at %s", want, e.State(leaf))
}

type testSubstrate struct{}

func (testSubstrate) CurrentTxg() uint64             { return 1 }
func (testSubstrate) SyncTxg(ctx context.Context) error { return nil }
