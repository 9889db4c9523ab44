package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEmitDelivers(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	e := NewEmitter(16, func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	e.Emit("job.enqueued", "j1", "d1", map[string]any{"source": "s1"})
	e.Emit("job.finished", "j1", "d1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].Type != "job.enqueued" || got[0].JobID != "j1" {
		t.Errorf("first = %+v", got[0])
	}
}

func TestEmitNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	e := NewEmitter(1, func(Event) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			e.Emit("spam", "", "", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	if e.Dropped() == 0 {
		t.Error("expected drops with a stalled sink")
	}
	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = e.Close(ctx)
}

func TestEmitAfterClose(t *testing.T) {
	e := NewEmitter(4, func(Event) {})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = e.Close(ctx)

	// Must not panic; the event is counted as dropped.
	e.Emit("late", "", "", nil)
	if e.Dropped() == 0 {
		t.Error("late emit should be dropped")
	}
}

func TestEmitRacingCloseDoesNotPanic(t *testing.T) {
	for i := 0; i < 200; i++ {
		e := NewEmitter(4, func(Event) {})

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < 20; n++ {
					e.Emit("burst", "", "", nil)
				}
			}()
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = e.Close(ctx)
		cancel()
		wg.Wait()
	}
}
