package pipehttp

import (
	"errors"
	"testing"
	"time"

	"github.com/gookit/goutil/testutil/assert"
	"github.com/rs/zerolog"
)

func newTestWorkerPool(maxWorkers int, f func(rc *RequestCtx) error) *workerPool {
	l := zerolog.Nop()
	wp := &workerPool{
		WorkerFunc:            f,
		MaxWorkersCount:       maxWorkers,
		MaxIdleWorkerDuration: 50 * time.Millisecond,
		Logger:                &l,
	}
	wp.Start()
	return wp
}

func TestWorkerPoolLimit(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	served := make(chan *RequestCtx, 4)
	wp := newTestWorkerPool(1, func(rc *RequestCtx) error {
		<-gate
		served <- rc
		return nil
	})
	defer wp.Stop()

	first := &RequestCtx{}
	assert.True(t, wp.Serve(first))
	// the only worker is busy.
	assert.False(t, wp.Serve(&RequestCtx{}))
	for wp.busyWorkers() != 1 {
		time.Sleep(time.Millisecond)
	}
	close(gate)
	assert.True(t, <-served == first)

	second := &RequestCtx{}
	deadline := time.Now().Add(5 * time.Second)
	for !wp.Serve(second) {
		if time.Now().After(deadline) {
			t.Fatal("worker never returned to the pool")
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, <-served == second)
}

func TestWorkerPoolStop(t *testing.T) {
	t.Parallel()
	wp := newTestWorkerPool(4, func(*RequestCtx) error { return nil })
	wp.Stop()
	assert.False(t, wp.Serve(&RequestCtx{}))
	// stopping twice is harmless.
	wp.Stop()
}

func TestWorkerPoolCleansIdleWorkers(t *testing.T) {
	t.Parallel()
	done := make(chan struct{}, 1)
	wp := newTestWorkerPool(2, func(*RequestCtx) error {
		done <- struct{}{}
		return nil
	})
	defer wp.Stop()
	assert.True(t, wp.Serve(&RequestCtx{}))
	<-done
	deadline := time.Now().Add(5 * time.Second)
	for {
		wp.lock.Lock()
		n := wp.workersCount
		wp.lock.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal(errors.New("idle worker was not cleaned"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
