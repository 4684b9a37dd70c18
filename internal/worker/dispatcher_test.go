package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherSerializesSameKey(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 4, MaxWorkers: 8, QueueSize: 64})

	const totalJobs = 20
	var (
		inFlight int32
		maxSeen  int32
		order    []int
		orderMu  sync.Mutex
		done     sync.WaitGroup
	)
	done.Add(totalJobs)

	for i := 0; i < totalJobs; i++ {
		i := i
		d.Submit(Job{
			Key: "user:1",
			Run: func() {
				defer done.Done()
				n := atomic.AddInt32(&inFlight, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				orderMu.Lock()
				order = append(order, i)
				orderMu.Unlock()
				atomic.AddInt32(&inFlight, -1)
			},
		})
	}
	done.Wait()

	if got := atomic.LoadInt32(&maxSeen); got != 1 {
		t.Fatalf("jobs of one key overlapped, max in flight %d", got)
	}
	orderMu.Lock()
	defer orderMu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestDispatcherRunsDistinctKeysConcurrently(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 2, MaxWorkers: 4, QueueSize: 16})

	release := make(chan struct{})
	started := make(chan string, 2)
	var done sync.WaitGroup
	done.Add(2)

	for _, key := range []string{"user:1", "user:2"} {
		key := key
		d.Submit(Job{
			Key: key,
			Run: func() {
				defer done.Done()
				started <- key
				<-release
			},
		})
	}

	// Both jobs must start while neither has finished.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("job %d never started, keys are serializing across each other", i)
		}
	}
	close(release)
	done.Wait()
}

func TestDispatcherRecoversFromPanics(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 8})

	var ran int32
	var done sync.WaitGroup
	done.Add(1)

	d.Submit(Job{Key: "user:1", Run: func() { panic("boom") }})
	d.Submit(Job{Key: "user:1", Run: func() {
		atomic.StoreInt32(&ran, 1)
		done.Done()
	}})

	done.Wait()
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("job after panic never ran")
	}
}
