package detect

import (
	"sync"
)

// Pool is a simple engine pool allowing multiple jobs to run inference
// in parallel against the same model
type Pool struct {
	// pool of engines
	engines chan Engine
	// size of pool
	size int

	mu     sync.Mutex
	closed bool
	close  sync.Once
}

// NewPool creates a new engine pool of the given size, loading the
// model once per slot
func NewPool(size int, files ModelFiles, inputSize int, confThresh float32) (*Pool, error) {
	p := &Pool{
		engines: make(chan Engine, size),
		size:    size,
	}

	for i := 0; i < size; i++ {
		eng, err := NewYOLONet(files, inputSize, confThresh)

		if err != nil {
			// close any engines that may have been created before
			// receiving the error
			p.Close()
			return nil, err
		}

		// attach to pool
		p.Return(eng)
	}

	return p, nil
}

// NewPoolOf creates a pool holding the given engines
func NewPoolOf(engines ...Engine) *Pool {
	p := &Pool{
		engines: make(chan Engine, len(engines)),
		size:    len(engines),
	}

	for _, eng := range engines {
		p.Return(eng)
	}

	return p
}

// Get an engine from the pool
func (p *Pool) Get() Engine {
	return <-p.engines
}

// Return an engine to the pool.  An engine returned after Close is
// closed directly instead of re-entering the pool
func (p *Pool) Return(engine Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = engine.Close()
		return
	}

	select {
	case p.engines <- engine:
	default:
		// pool is full
	}
}

// Close the pool and all engines in it
func (p *Pool) Close() {
	p.close.Do(func() {
		// stop Return from sending on the closed channel
		p.mu.Lock()
		p.closed = true
		close(p.engines)
		p.mu.Unlock()

		// close all engines
		for next := range p.engines {
			_ = next.Close()
		}
	})
}
