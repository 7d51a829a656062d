// Package parallel provides a persistent worker pool for splitting index
// ranges across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// DefaultThreshold is the minimum range length dispatched to workers.
// Below this, running inline is faster than the channel round trips.
const DefaultThreshold = 64

// Func processes the half-open range [start, end). worker identifies the
// goroutine running the chunk and is always in [0, Workers()), so callers
// can index per-worker scratch buffers with it.
type Func func(worker, start, end int)

// workChunk represents a range for a worker to process.
type workChunk struct {
	start, end int
	fn         Func
}

// Pool runs chunked loops on a fixed set of persistent goroutines.
// Run is a barrier: it returns only after every chunk has completed.
// A Pool is not reentrant; fn must not call Run on the same pool.
type Pool struct {
	numWorkers int
	threshold  int

	mu sync.Mutex // serializes Run and Close

	// Worker pool channels
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

// NewPool creates a pool with the given number of workers.
// workers <= 0 uses GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		numWorkers: workers,
		threshold:  DefaultThreshold,
	}
}

// SetThreshold sets the minimum range length that is split across workers.
func (p *Pool) SetThreshold(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.threshold = n
	p.mu.Unlock()
}

// Workers returns the number of workers, which bounds the worker ids passed
// to a Func.
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.numWorkers
}

// startWorkers launches persistent worker goroutines.
func (p *Pool) startWorkers() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *Pool) worker(workerID int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			chunk.fn(workerID, chunk.start, chunk.end)
			p.doneChan <- struct{}{}
		}
	}
}

// Run calls fn over [0, n), split into at most Workers() contiguous chunks.
// Small ranges, single-worker pools and nil pools run inline as worker 0.
func (p *Pool) Run(n int, fn Func) {
	if n <= 0 {
		return
	}
	if p == nil {
		fn(0, 0, n)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if n < p.threshold || p.numWorkers == 1 {
		fn(0, 0, n)
		return
	}

	// Ensure workers are running
	if !p.running {
		p.startWorkers()
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	// Dispatch chunks to workers
	chunksDispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}

		p.workChan <- workChunk{start: start, end: end, fn: fn}
		chunksDispatched++
	}

	// Wait for all chunks to complete
	for i := 0; i < chunksDispatched; i++ {
		<-p.doneChan
	}
}

// Close signals all workers to exit and waits for them.
// The pool may be reused afterwards; workers restart on the next Run.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}
