package parallel

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestPool_CoversRangeExactlyOnce(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		n       int
	}{
		{"inline small range", 4, 10},
		{"single worker", 1, 1000},
		{"even split", 4, 400},
		{"uneven split", 3, 1001},
		{"more workers than items", 16, 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(tt.workers)
			defer p.Close()

			hits := make([]int32, tt.n)
			p.Run(tt.n, func(worker, start, end int) {
				if worker < 0 || worker >= p.Workers() {
					t.Errorf("worker id %d out of range [0, %d)", worker, p.Workers())
				}
				for i := start; i < end; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
			})

			for i, h := range hits {
				if h != 1 {
					t.Fatalf("index %d visited %d times, want 1", i, h)
				}
			}
		})
	}
}

func TestPool_WorkerScratchIsExclusive(t *testing.T) {
	p := NewPool(4)
	p.SetThreshold(1)
	defer p.Close()

	busy := make([]int32, p.Workers())
	var failed atomic.Bool

	for round := 0; round < 20; round++ {
		p.Run(1000, func(worker, start, end int) {
			if !atomic.CompareAndSwapInt32(&busy[worker], 0, 1) {
				failed.Store(true)
				return
			}
			for i := start; i < end; i++ {
				_ = i * i
			}
			atomic.StoreInt32(&busy[worker], 0)
		})
	}

	if failed.Load() {
		t.Error("two chunks ran concurrently with the same worker id")
	}
}

func TestPool_RunIsBarrier(t *testing.T) {
	p := NewPool(4)
	p.SetThreshold(1)
	defer p.Close()

	var mu sync.Mutex
	sum := 0
	p.Run(100, func(_, start, end int) {
		local := 0
		for i := start; i < end; i++ {
			local += i
		}
		mu.Lock()
		sum += local
		mu.Unlock()
	})

	// Every chunk must be folded in by the time Run returns.
	if sum != 4950 {
		t.Errorf("sum = %d after Run, want 4950", sum)
	}
}

func TestPool_NilAndEmpty(t *testing.T) {
	var p *Pool
	calls := 0
	p.Run(5, func(worker, start, end int) {
		calls++
		if worker != 0 || start != 0 || end != 5 {
			t.Errorf("nil pool chunk = (%d, %d, %d), want (0, 0, 5)", worker, start, end)
		}
	})
	if calls != 1 {
		t.Errorf("nil pool made %d calls, want 1", calls)
	}

	q := NewPool(2)
	q.Run(0, func(_, _, _ int) { t.Error("fn called for empty range") })
	q.Close()
	q.Close()
}

func TestPool_RestartAfterClose(t *testing.T) {
	p := NewPool(2)
	p.SetThreshold(1)

	var count atomic.Int64
	p.Run(10, func(_, start, end int) { count.Add(int64(end - start)) })
	p.Close()
	p.Run(10, func(_, start, end int) { count.Add(int64(end - start)) })
	p.Close()

	if count.Load() != 20 {
		t.Errorf("count = %d, want 20", count.Load())
	}
}
