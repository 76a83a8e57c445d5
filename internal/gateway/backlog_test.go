package gateway

import (
	"fmt"
	"testing"
)

func TestBacklog_PushAndRange(t *testing.T) {
	b := NewBacklog(10)

	for i := int64(1); i <= 5; i++ {
		b.Push(i, []byte(fmt.Sprintf("msg-%d", i)))
	}

	if b.Len() != 5 {
		t.Fatalf("len = %d, want 5", b.Len())
	}

	entries := b.Range(2, 4)
	if len(entries) != 3 {
		t.Fatalf("range [2,4] returned %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		wantSeq := int64(i + 2)
		if e.Seq != wantSeq {
			t.Errorf("entry %d seq = %d, want %d", i, e.Seq, wantSeq)
		}
		if string(e.Data) != fmt.Sprintf("msg-%d", wantSeq) {
			t.Errorf("entry %d data = %q", i, e.Data)
		}
	}
}

func TestBacklog_OverwritesOldest(t *testing.T) {
	b := NewBacklog(3)

	for i := int64(1); i <= 5; i++ {
		b.Push(i, []byte(fmt.Sprintf("msg-%d", i)))
	}

	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}

	// seqs 1 and 2 were evicted
	if got := b.Range(1, 2); len(got) != 0 {
		t.Errorf("evicted range returned %d entries", len(got))
	}

	entries := b.Range(1, 10)
	if len(entries) != 3 {
		t.Fatalf("full range returned %d entries, want 3", len(entries))
	}
	if entries[0].Seq != 3 || entries[2].Seq != 5 {
		t.Errorf("surviving seqs = [%d..%d], want [3..5]", entries[0].Seq, entries[2].Seq)
	}
}

func TestBacklog_CopiesData(t *testing.T) {
	b := NewBacklog(4)
	payload := []byte("original")
	b.Push(1, payload)
	payload[0] = 'X'

	entries := b.Range(1, 1)
	if len(entries) != 1 || string(entries[0].Data) != "original" {
		t.Errorf("backlog shares caller's slice: %q", entries[0].Data)
	}
}

func TestBacklog_EmptyRange(t *testing.T) {
	b := NewBacklog(4)
	if got := b.Range(1, 100); got != nil {
		t.Errorf("empty backlog returned %v", got)
	}
}
