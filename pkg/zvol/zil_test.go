package zvol

import (
	"bytes"
	"context"
	"testing"

	"github.com/openzfs-go/storageengine/pkg/pool"
	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

func TestZILLogWriteInlinesSmallData(t *testing.T) {
	s := newTestState("tank/vol1")
	z := newZIL(s)
	z.LogWrite(0, []byte("hello"))

	recs := z.Commit()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].NeedCopy {
		t.Fatalf("small write should be inlined, not need-copy")
	}
	if !bytes.Equal(recs[0].InlineData, []byte("hello")) {
		t.Fatalf("inline data mismatch: %q", recs[0].InlineData)
	}
}

func TestZILLogWriteMarksLargeDataNeedCopy(t *testing.T) {
	s := newTestState("tank/vol1")
	z := newZIL(s)
	big := bytes.Repeat([]byte{0xAB}, inlineThreshold+1)
	z.LogWrite(0, big)

	recs := z.Commit()
	if len(recs) != 1 || !recs[0].NeedCopy {
		t.Fatalf("large write should be marked NeedCopy")
	}
	if recs[0].InlineData != nil {
		t.Fatalf("NeedCopy record should carry no inline data")
	}
}

func TestZILCommitDrainsRecords(t *testing.T) {
	s := newTestState("tank/vol1")
	z := newZIL(s)
	z.LogTruncate(0, 10)
	z.LogTruncate(10, 10)

	first := z.Commit()
	if len(first) != 2 {
		t.Fatalf("expected 2 records on first commit, got %d", len(first))
	}
	second := z.Commit()
	if len(second) != 0 {
		t.Fatalf("commit should drain records, got %d leftover", len(second))
	}
}

func TestZILNilReceiverIsSafe(t *testing.T) {
	var z *ZIL
	z.LogWrite(0, []byte("x"))
	z.LogTruncate(0, 1)
	z.LogCloneRange(0, 1, nil, nil)
	if recs := z.Commit(); recs != nil {
		t.Fatalf("nil ZIL commit should return nil, got %v", recs)
	}
}

func TestReplayWriteAppliesInlineRecord(t *testing.T) {
	s := newTestState("tank/vol1")
	rec := Record{Type: TxWrite, Offset: 0, InlineData: []byte("abcd")}
	if err := Replay(s, rec); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := s.store.ReadAt(context.Background(), buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buf, []byte("abcd")) {
		t.Fatalf("replayed write mismatch: %q", buf)
	}
}

func TestReplayWriteNeedCopyIsUnrecoverable(t *testing.T) {
	s := newTestState("tank/vol1")
	rec := Record{Type: TxWrite, Offset: 0, NeedCopy: true}
	err := Replay(s, rec)
	if err != zerrors.ErrIO {
		t.Fatalf("expected ErrIO for a need-copy record with no surviving data, got %v", err)
	}
}

func TestReplayTruncateFreesRange(t *testing.T) {
	s := newTestState("tank/vol1")
	if _, err := s.store.WriteAt(context.Background(), []byte("data"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	rec := Record{Type: TxTruncate, Offset: 0, Length: 4}
	if err := Replay(s, rec); err != nil {
		t.Fatalf("Replay truncate: %v", err)
	}
}

func TestReplayCloneRangeDispatchesToStore(t *testing.T) {
	s := newTestState("tank/vol1")
	rec := Record{Type: TxCloneRange, Offset: 0, BlockRefs: []pool.BlockRef{}}
	if err := Replay(s, rec); err != nil {
		t.Fatalf("Replay clone range: %v", err)
	}
}

func TestReplayUnsupportedRecordTypeReturnsNotSupported(t *testing.T) {
	s := newTestState("tank/vol1")
	rec := Record{Type: txMaxType}
	err := Replay(s, rec)
	if err != zerrors.ErrNotSupported {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}
