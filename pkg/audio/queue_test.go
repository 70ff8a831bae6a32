package audio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mnemo/pkg/audio"
)

func TestFrameQueue_TryPushDropsWhenFull(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue(2)
	for i := range 2 {
		if !q.TryPush(audio.AudioFrame{Sequence: uint64(i)}) {
			t.Fatalf("TryPush %d failed on non-full queue", i)
		}
	}
	if q.TryPush(audio.AudioFrame{Sequence: 2}) {
		t.Error("TryPush succeeded on full queue")
	}
	if q.TryPush(audio.AudioFrame{Sequence: 3}) {
		t.Error("TryPush succeeded on full queue")
	}
	if got := q.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestFrameQueue_CloseUnblocksPop(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue(4)
	done := make(chan bool)
	go func() {
		_, ok := q.Pop(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop returned ok=true after close on empty queue")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestFrameQueue_DrainsAfterClose(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue(4)
	q.TryPush(audio.AudioFrame{Sequence: 1})
	q.TryPush(audio.AudioFrame{Sequence: 2})
	q.Close()
	q.Close() // idempotent

	if !q.Closed() {
		t.Error("Closed() = false after Close")
	}
	ctx := context.Background()
	for _, want := range []uint64{1, 2} {
		f, ok := q.Pop(ctx)
		if !ok || f.Sequence != want {
			t.Fatalf("Pop = (%d, %v), want (%d, true)", f.Sequence, ok, want)
		}
	}
	if _, ok := q.Pop(ctx); ok {
		t.Error("Pop returned ok=true on drained closed queue")
	}
	if q.TryPush(audio.AudioFrame{}) {
		t.Error("TryPush succeeded after close")
	}
	if err := q.Push(ctx, audio.AudioFrame{}); !errors.Is(err, audio.ErrQueueClosed) {
		t.Errorf("Push after close = %v, want ErrQueueClosed", err)
	}
}

func TestFrameQueue_PushRespectsContext(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := q.Push(ctx, audio.AudioFrame{}); err != nil {
		t.Fatalf("first Push: %v", err)
	}
	if err := q.Push(ctx, audio.AudioFrame{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Push on full queue = %v, want DeadlineExceeded", err)
	}
}

func TestFrameQueue_PopRespectsContext(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Pop(ctx); ok {
		t.Error("Pop on cancelled context returned ok=true")
	}
}

func TestFrameQueue_ConcurrentProducersPreservePerSourceOrder(t *testing.T) {
	t.Parallel()

	const (
		producers = 4
		perSource = 200
	)
	q := audio.NewFrameQueue(16)
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := string(rune('a' + p))
			for i := range perSource {
				if err := q.Push(ctx, audio.AudioFrame{Source: src, Sequence: uint64(i)}); err != nil {
					t.Errorf("Push: %v", err)
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	next := make(map[string]uint64)
	count := 0
	for {
		f, ok := q.Pop(ctx)
		if !ok {
			break
		}
		if f.Sequence != next[f.Source] {
			t.Fatalf("source %s: got sequence %d, want %d", f.Source, f.Sequence, next[f.Source])
		}
		next[f.Source]++
		count++
	}
	if count != producers*perSource {
		t.Errorf("received %d frames, want %d", count, producers*perSource)
	}
}
