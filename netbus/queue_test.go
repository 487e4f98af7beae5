package netbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int](10)
	for i := 1; i <= 3; i++ {
		q.Push(i)
	}
	for want := 1; want <= 3; want++ {
		v, ok := q.TryPop()
		if !ok || v != want {
			t.Fatalf("got %d/%v, want %d", v, ok, want)
		}
	}
}

func TestQueue_BoundEvictsOldest(t *testing.T) {
	q := NewQueue[int](2)

	for i := 1; i <= 5; i++ {
		q.Push(i)
		if q.Len() > 2 {
			t.Fatalf("len %d exceeds capacity 2", q.Len())
		}
	}

	// Retained entries are the two most recent.
	a, _ := q.TryPop()
	b, _ := q.TryPop()
	if a != 4 || b != 5 {
		t.Fatalf("got %d,%d, want 4,5", a, b)
	}
	if q.Evicted() != 3 {
		t.Fatalf("evicted: got %d, want 3", q.Evicted())
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string](4)

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push("hello")
	}()

	v, err := q.Pop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != "hello" {
		t.Fatalf("got %q", v)
	}
}

func TestQueue_PopTimeout(t *testing.T) {
	q := NewQueue[int](4)

	start := time.Now()
	_, ok, err := q.PopTimeout(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must not be an error, got %v", err)
	}
	if ok {
		t.Fatal("expected nothing")
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatal("returned before the deadline")
	}

	q.Push(7)
	v, ok, err := q.PopTimeout(context.Background(), time.Second)
	if err != nil || !ok || v != 7 {
		t.Fatalf("got %d/%v/%v, want 7/true/nil", v, ok, err)
	}
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := NewQueue[int](4)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := q.Pop(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestQueue_CloseDrainsThenFails(t *testing.T) {
	q := NewQueue[int](4)
	q.Push(1)
	q.Push(2)
	q.Close()

	// Buffered entries survive Close.
	for want := 1; want <= 2; want++ {
		v, err := q.Pop(context.Background())
		if err != nil || v != want {
			t.Fatalf("got %d/%v, want %d", v, err, want)
		}
	}

	_, err := q.Pop(context.Background())
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("got %v, want ErrQueueClosed", err)
	}

	// Push after close is a no-op.
	q.Push(9)
	if q.Len() != 0 {
		t.Fatal("push after close must not buffer")
	}
}

func TestQueue_CloseWakesBlockedPop(t *testing.T) {
	q := NewQueue[int](4)

	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("got %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Close")
	}
}
