package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/microshop/user-service/internal/core/ports"
	"github.com/microshop/user-service/internal/pkg/metrics"
)

const (
	defaultWorkers     = 4
	defaultBuffer      = 256
	defaultTaskTimeout = 10 * time.Second
)

// Dispatcher runs fire-and-forget side effects on a fixed set of workers.
// Tasks are sharded by key with consistent hashing, so side effects for one
// user run in the order they were enqueued. Task failures are logged and
// counted here and never reach the code that enqueued them.
type Dispatcher struct {
	workers     []chan ports.Task
	taskTimeout time.Duration
	log         zerolog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with numWorkers shards of buffer capacity each.
// Non-positive values fall back to the defaults.
func NewDispatcher(numWorkers, buffer int, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher{
		workers:     make([]chan ports.Task, numWorkers),
		taskTimeout: defaultTaskTimeout,
		log:         log.With().Str("component", "dispatcher").Logger(),
	}
	for i := range d.workers {
		d.workers[i] = make(chan ports.Task, buffer)
	}
	return d
}

// WithTaskTimeout overrides the per-task deadline.
func (d *Dispatcher) WithTaskTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.taskTimeout = timeout
	}
	return d
}

// Start launches all worker goroutines. Task contexts derive from ctx, so
// cancelling it aborts in-flight tasks and stops the workers.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Enqueue hands task to the worker responsible for its key. It never blocks:
// when that worker's queue is full, or the dispatcher is stopped, the task is
// dropped and false is returned.
func (d *Dispatcher) Enqueue(task ports.Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(task, "dispatcher stopped")
		return false
	}

	select {
	case d.workers[d.shardIndex(task.Key)] <- task:
		return true
	default:
		d.drop(task, "queue full")
		return false
	}
}

// Stop rejects new tasks and waits for queued ones to finish, or for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		for _, ch := range d.workers {
			close(ch)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan ports.Task) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-ch:
			if !ok {
				return
			}
			d.run(ctx, id, task)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, workerID int, task ports.Task) {
	taskCtx, cancel := context.WithTimeout(ctx, d.taskTimeout)
	defer cancel()

	start := time.Now()
	err := safeRun(taskCtx, task)
	metrics.SideEffectDuration.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SideEffectsFailedTotal.WithLabelValues(task.Name).Inc()
		d.log.Error().Err(err).
			Str("task", task.Name).
			Str("key", task.Key).
			Int("worker_id", workerID).
			Msg("side effect failed")
	}
}

func (d *Dispatcher) drop(task ports.Task, reason string) {
	metrics.SideEffectsDroppedTotal.WithLabelValues(task.Name).Inc()
	d.log.Warn().
		Str("task", task.Name).
		Str("key", task.Key).
		Str("reason", reason).
		Msg("side effect dropped")
}

// safeRun converts a panicking task into an error so one bad task cannot kill a worker.
func safeRun(ctx context.Context, task ports.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx)
}
