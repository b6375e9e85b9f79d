package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubmitReturnsTaskError(t *testing.T) {
	g := New(4)
	defer g.Close()

	want := errors.New("boom")
	err := g.Submit(context.Background(), func() error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected task error, got %v", err)
	}
	if err := g.Submit(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTasksRunInSubmissionOrder(t *testing.T) {
	g := New(16)

	var mu sync.Mutex
	var order []int

	// Park the worker so later submissions pile up in the queue.
	release := make(chan struct{})
	go g.Submit(context.Background(), func() error {
		<-release
		return nil
	})
	time.Sleep(20 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Submit(context.Background(), func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Stagger submissions so the queue order is deterministic.
		time.Sleep(10 * time.Millisecond)
	}

	close(release)
	wg.Wait()
	g.Close()
	g.Wait()

	if len(order) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(order))
	}
	for i, got := range order {
		if got != i+1 {
			t.Fatalf("task order %v, want 1..5", order)
		}
	}
}

func TestTasksNeverOverlap(t *testing.T) {
	g := New(16)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Submit(context.Background(), func() error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	g.Close()
	g.Wait()

	if maxInFlight != 1 {
		t.Fatalf("observed %d overlapping tasks", maxInFlight)
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	g := New(4)
	g.Close()
	g.Wait()

	err := g.Submit(context.Background(), func() error {
		t.Error("task ran after close")
		return nil
	})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSubmitFinalRunsAndClosesIntake(t *testing.T) {
	g := New(4)

	ran := false
	if err := g.SubmitFinal(context.Background(), func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("final task did not run")
	}

	if err := g.Submit(context.Background(), func() error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after final task, got %v", err)
	}
	g.Wait()
}

func TestQueuedTasksStillRunAfterFinalSubmit(t *testing.T) {
	g := New(16)

	release := make(chan struct{})
	go g.Submit(context.Background(), func() error {
		<-release
		return nil
	})
	time.Sleep(20 * time.Millisecond)

	var mu sync.Mutex
	var ran []string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		g.Submit(context.Background(), func() error {
			mu.Lock()
			ran = append(ran, "queued")
			mu.Unlock()
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		g.SubmitFinal(context.Background(), func() error {
			mu.Lock()
			ran = append(ran, "final")
			mu.Unlock()
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	close(release)
	wg.Wait()
	g.Wait()

	if len(ran) != 2 || ran[0] != "queued" || ran[1] != "final" {
		t.Fatalf("expected queued task before final, got %v", ran)
	}
}

func TestContextExpiryAbandonsWaitNotTask(t *testing.T) {
	g := New(4)

	started := make(chan struct{})
	finished := make(chan struct{})
	go g.Submit(context.Background(), func() error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := g.Submit(ctx, func() error {
		close(finished)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// The abandoned task still runs once the worker reaches it.
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("abandoned task never ran")
	}
	g.Close()
	g.Wait()
}
