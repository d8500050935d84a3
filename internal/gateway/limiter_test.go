package gateway

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if d > 0 {
		c.t = c.t.Add(d)
	}
	c.mu.Unlock()
	return nil
}

func TestLimiterReservoirAndSpacing(t *testing.T) {
	clock := newFakeClock()
	limits := Limits{Reservoir: 40, RefreshInterval: time.Minute, MinTime: time.Second}
	lim := NewLimiter(limits, WithClock(clock.Now, clock.Sleep))
	defer lim.Close()

	var (
		mu     sync.Mutex
		starts []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 45; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lim.Do(context.Background(), func() error {
				mu.Lock()
				starts = append(starts, clock.Now())
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Do returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(starts) != 45 {
		t.Fatalf("expected 45 calls, got %d", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < limits.MinTime {
			t.Fatalf("calls %d and %d only %s apart", i-1, i, gap)
		}
	}
	for i := range starts {
		windowEnd := starts[i].Add(limits.RefreshInterval)
		count := 0
		for _, s := range starts[i:] {
			if s.Before(windowEnd) {
				count++
			}
		}
		if count > limits.Reservoir {
			t.Fatalf("%d calls inside window starting at call %d", count, i)
		}
	}
	origin := starts[0]
	if got := starts[40].Sub(origin); got < limits.RefreshInterval {
		t.Fatalf("41st call started after %s, expected to wait for the refresh interval", got)
	}
}

func TestLimiterRunsInArrivalOrder(t *testing.T) {
	lim := NewLimiter(Limits{Reservoir: 100, RefreshInterval: time.Minute, MinTime: 0})
	defer lim.Close()

	release := make(chan struct{})
	blocked := make(chan struct{})
	go func() {
		_ = lim.Do(context.Background(), func() error {
			close(blocked)
			<-release
			return nil
		})
	}()
	<-blocked

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = lim.Do(context.Background(), func() error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
		time.Sleep(20 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestLimiterSingleConcurrency(t *testing.T) {
	lim := NewLimiter(Limits{Reservoir: 100, RefreshInterval: time.Minute, MinTime: 0})
	defer lim.Close()

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
		wg       sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lim.Do(context.Background(), func() error {
				mu.Lock()
				inFlight++
				if inFlight > peak {
					peak = inFlight
				}
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected at most one call in flight, saw %d", peak)
	}
}

func TestLimiterCanceledWhileQueued(t *testing.T) {
	lim := NewLimiter(Limits{Reservoir: 1, RefreshInterval: time.Hour, MinTime: 0})
	defer lim.Close()

	if err := lim.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ran := false
	err := lim.Do(ctx, func() error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatalf("expected context error while waiting for reservoir")
	}
	if ran {
		t.Fatalf("call should not run after its context expired")
	}
}

func TestLimiterClosed(t *testing.T) {
	lim := NewLimiter(DefaultLimits())
	lim.Close()
	lim.Close()
	time.Sleep(10 * time.Millisecond)
	if err := lim.Do(context.Background(), func() error { return nil }); err != ErrLimiterClosed {
		t.Fatalf("expected ErrLimiterClosed, got %v", err)
	}
}
