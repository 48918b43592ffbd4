package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"
)

func TestWorkerPool_Create(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int
	}{
		{"explicit", 4, 4},
		{"zero uses GOMAXPROCS", 0, runtime.GOMAXPROCS(0)},
		{"negative uses GOMAXPROCS", -5, runtime.GOMAXPROCS(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.workers)
			defer pool.Close()
			if pool.Workers() != tt.want {
				t.Errorf("Workers() = %d, want %d", pool.Workers(), tt.want)
			}
			if !pool.IsRunning() {
				t.Error("pool not running after creation")
			}
		})
	}
}

func TestWorkerPool_ExecuteAll(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.ExecuteAll(work)

	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestWorkerPool_ExecuteAllAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()

	ran := 0
	pool.ExecuteAll([]func(){func() { ran++ }, func() { ran++ }})
	if ran != 2 {
		t.Errorf("ran = %d on closed pool, want 2", ran)
	}
	if pool.IsRunning() {
		t.Error("IsRunning() after Close")
	}
}

func TestWorkerPool_For(t *testing.T) {
	tests := []struct {
		name     string
		n, grain int
	}{
		{"empty", 0, 4},
		{"single chunk", 3, 10},
		{"exact chunks", 64, 16},
		{"ragged tail", 100, 7},
		{"auto grain", 1000, 0},
	}
	pool := NewWorkerPool(4)
	defer pool.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]atomic.Int32, tt.n)
			pool.For(tt.n, tt.grain, func(lo, hi int) {
				if tt.grain > 0 && hi-lo > tt.grain {
					t.Errorf("chunk [%d, %d) exceeds grain %d", lo, hi, tt.grain)
				}
				for i := lo; i < hi; i++ {
					hits[i].Add(1)
				}
			})
			for i := range hits {
				if h := hits[i].Load(); h != 1 {
					t.Fatalf("index %d visited %d times", i, h)
				}
			}
		})
	}
}

func TestShared(t *testing.T) {
	if Shared() != Shared() {
		t.Error("Shared() returned different pools")
	}
	if !Shared().IsRunning() {
		t.Error("shared pool not running")
	}
}
