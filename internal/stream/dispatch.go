package stream

import (
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Dispatcher runs tasks on a fixed set of shard workers. Tasks with the
// same key always land on the same shard and run in submission order.
type Dispatcher struct {
	logger zerolog.Logger
	shards []chan func()
	wg     sync.WaitGroup
	done   chan struct{}
	// mu is held shared by Dispatch so Stop can wait out in-flight sends.
	mu      sync.RWMutex
	running atomic.Bool
	stopped atomic.Bool

	tasksTotal  atomic.Uint64
	tasksDone   atomic.Uint64
	tasksPanics atomic.Uint64
}

// NewDispatcher creates a dispatcher. If workers is 0 it defaults to
// runtime.NumCPU().
func NewDispatcher(workers, buffer int, logger zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if buffer <= 0 {
		buffer = 1
	}
	d := &Dispatcher{
		logger: logger.With().Str("component", "dispatcher").Logger(),
		shards: make([]chan func(), workers),
		done:   make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = make(chan func(), buffer)
	}
	return d
}

// Start starts one goroutine per shard.
func (d *Dispatcher) Start() {
	if d.stopped.Load() || d.running.Swap(true) {
		return
	}
	for i := range d.shards {
		d.wg.Add(1)
		go d.worker(d.shards[i])
	}
}

func (d *Dispatcher) worker(queue chan func()) {
	defer d.wg.Done()
	for {
		select {
		case task := <-queue:
			d.run(task)
		case <-d.done:
			// finish what was queued before Stop
			for {
				select {
				case task := <-queue:
					d.run(task)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			d.tasksPanics.Add(1)
			d.logger.Error().Interface("panic", r).Msg("Dispatched task panicked")
		}
		d.tasksDone.Add(1)
	}()
	task()
}

// Shard returns the shard index for key.
func (d *Dispatcher) Shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// Dispatch queues task on the shard for key, waiting for queue space.
// It returns false once the dispatcher is stopped or was never started.
func (d *Dispatcher) Dispatch(key string, task func()) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running.Load() {
		return false
	}
	select {
	case d.shards[d.Shard(key)] <- task:
		d.tasksTotal.Add(1)
		return true
	case <-d.done:
		return false
	}
}

// Stop stops accepting tasks, runs everything already queued and waits
// for the workers to exit.
func (d *Dispatcher) Stop() {
	if d.stopped.Swap(true) {
		return
	}
	close(d.done)
	d.mu.Lock()
	d.running.Store(false)
	d.mu.Unlock()
	d.wg.Wait()

	// a send that raced with close(done) can land after its worker exited
	for _, q := range d.shards {
		for len(q) > 0 {
			d.run(<-q)
		}
	}
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	queued := 0
	for _, q := range d.shards {
		queued += len(q)
	}
	return DispatchStats{
		Workers:    len(d.shards),
		Running:    d.running.Load(),
		TasksTotal: d.tasksTotal.Load(),
		TasksDone:  d.tasksDone.Load(),
		Panics:     d.tasksPanics.Load(),
		QueueLen:   queued,
	}
}

// DispatchStats contains dispatcher counters.
type DispatchStats struct {
	Workers    int
	Running    bool
	TasksTotal uint64
	TasksDone  uint64
	Panics     uint64
	QueueLen   int
}
