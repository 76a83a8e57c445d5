package ringbuf

import (
	"sync"
	"testing"
	"time"

	"chart-replay/internal/model"
)

func frameAt(idx int) model.Frame {
	return model.Frame{Symbol: "NIFTY", Timeframe: model.TF1m, Index: idx, Price: float64(idx)}
}

func TestRing_BasicPushPop(t *testing.T) {
	r := New(4) // rounds to 4

	f1 := model.Frame{Symbol: "A", Price: 100}
	f2 := model.Frame{Symbol: "B", Price: 200}

	if !r.Push(f1) {
		t.Fatal("push f1 should succeed")
	}
	if !r.Push(f2) {
		t.Fatal("push f2 should succeed")
	}

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.Symbol != "A" {
		t.Fatalf("expected A, got %v ok=%v", got.Symbol, ok)
	}

	got, ok = r.Pop()
	if !ok || got.Symbol != "B" {
		t.Fatalf("expected B, got %v ok=%v", got.Symbol, ok)
	}

	_, ok = r.Pop()
	if ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_Overflow(t *testing.T) {
	r := New(2) // capacity = 2

	r.Push(frameAt(1))
	r.Push(frameAt(2))

	// Buffer is full
	ok := r.Push(frameAt(3))
	if ok {
		t.Fatal("push to full buffer should return false")
	}
	if r.Overflow() != 1 {
		t.Fatalf("expected overflow=1, got %d", r.Overflow())
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New(4)

	// Fill and drain multiple times to test wraparound
	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(frameAt(round*10 + i)) {
				t.Fatalf("round %d push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			f, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d failed", round, i)
			}
			if f.Index != round*10+i {
				t.Fatalf("round %d pop %d: expected index=%d, got %d", round, i, round*10+i, f.Index)
			}
		}
	}
}

func TestRing_SPSC_Concurrent(t *testing.T) {
	const count = 100_000
	r := New(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	// Producer
	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			for !r.Push(frameAt(i)) {
				// spin-wait (busy loop for test only)
			}
		}
	}()

	// Consumer
	received := make([]int, 0, count)
	go func() {
		defer wg.Done()
		for len(received) < count {
			f, ok := r.Pop()
			if ok {
				received = append(received, f.Index)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("SPSC test timed out")
	}

	// Verify ordering
	for i, v := range received {
		if v != i {
			t.Fatalf("at index %d: expected %d, got %d", i, i, v)
		}
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
