package collection

import (
	"sync"
	"testing"
	"time"
)

func TestAppendRejectedAfterComplete(t *testing.T) {
	c := New[int](false)
	c.Complete()

	if err := c.Append(1); err != ErrClosedCollection {
		t.Fatalf("Append after Complete = %v, want ErrClosedCollection", err)
	}
}

func TestProtocolAppendSilentlyDroppedAfterComplete(t *testing.T) {
	c := New[int](false)
	_ = c.Append(1)
	c.Complete()

	before := c.Len()
	c.ProtocolAppend(2)
	if c.Len() != before {
		t.Fatalf("ProtocolAppend after Complete changed length: %d -> %d", before, c.Len())
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	c := New[int](false)

	var fired int
	c.OnCompleted(func() { fired++ })

	c.Complete()
	c.Complete()

	if fired != 1 {
		t.Fatalf("on_completed fired %d times, want 1", fired)
	}
}

func TestIterationOrderMatchesAppendOrder(t *testing.T) {
	c := New[int](false)
	for i := 0; i < 5; i++ {
		c.ProtocolAppend(i)
	}
	c.Complete()

	it := c.Iter()
	var got []int
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, v)
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestNonBlockingIteratorEndsAtCurrentLength(t *testing.T) {
	c := New[int](false)
	_ = c.Append(1)

	it := c.Iter()
	if v, ok := it.Next(); !ok || v != 1 {
		t.Fatalf("first Next() = (%v, %v), want (1, true)", v, ok)
	}
	if _, ok := it.Next(); ok {
		t.Fatalf("non-blocking iterator should end at current length")
	}
}

func TestBlockingIteratorWaitsForMoreData(t *testing.T) {
	c := New[int](true)
	_ = c.Append(1)

	it := c.Iter()
	if v, ok := it.Next(); !ok || v != 1 {
		t.Fatalf("first Next() = (%v, %v), want (1, true)", v, ok)
	}

	done := make(chan struct{})
	var got int
	var ok bool
	go func() {
		got, ok = it.Next()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("blocking iterator returned before data was available")
	case <-time.After(20 * time.Millisecond):
	}

	c.ProtocolAppend(2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("blocking iterator never woke up after ProtocolAppend")
	}
	if !ok || got != 2 {
		t.Fatalf("Next() = (%v, %v), want (2, true)", got, ok)
	}
}

func TestBlockingIteratorWakesOnComplete(t *testing.T) {
	c := New[int](true)
	it := c.Iter()

	done := make(chan struct{})
	var ok bool
	go func() {
		_, ok = it.Next()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Complete()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("blocking iterator never woke up after Complete")
	}
	if ok {
		t.Fatalf("Next() after Complete with no data should report end-of-stream")
	}
}

func TestIndependentIteratorCursors(t *testing.T) {
	c := New[int](false)
	it1 := c.Iter()
	_ = c.Append(1)
	it2 := c.Iter()
	_ = c.Append(2)

	v, _ := it1.Next()
	if v != 1 {
		t.Fatalf("it1 first = %d, want 1", v)
	}
	v, _ = it2.Next()
	if v != 1 {
		t.Fatalf("it2 first = %d, want 1", v)
	}
}

func TestConcurrentProtocolAppendIsSafe(t *testing.T) {
	c := New[int](false)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.ProtocolAppend(i)
		}(i)
	}
	wg.Wait()

	if c.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", c.Len())
	}
}
