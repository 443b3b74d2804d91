package worker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"codedrop/internal/telegram"
)

var (
	// ErrDispatcherBusy is returned by Submit when the backlog is full.
	ErrDispatcherBusy = errors.New("dispatcher queue full")
	// ErrDispatcherClosed is returned by Submit after Shutdown.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

var jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "codedrop_dispatcher_jobs_total",
	Help: "Updates handled by the background dispatcher, by result.",
}, []string{"result"})

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	JobTimeout  time.Duration
}

type chatQueue struct {
	jobs    []Job
	running bool // a job of this chat is on a worker
}

// Dispatcher runs updates on a bounded worker pool. Jobs of one chat run one
// at a time and in arrival order; chats are served round robin.
type Dispatcher struct {
	pool       *jobChannelPool
	jobQueue   chan Job
	handle     HandlerFunc
	jobTimeout time.Duration
	queueSize  int

	mu        sync.Mutex
	closed    bool
	pending   int
	queues    map[int64]*chatQueue
	ready     *list.List // chat IDs with a runnable job
	positions map[int64]*list.Element

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	drained sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, handle HandlerFunc) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	d := &Dispatcher{
		jobQueue:   make(chan Job, cfg.QueueSize),
		handle:     handle,
		jobTimeout: cfg.JobTimeout,
		queueSize:  cfg.QueueSize,
		queues:     make(map[int64]*chatQueue),
		ready:      list.New(),
		positions:  make(map[int64]*list.Element),
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, d.execute)

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues an update without blocking.
func (d *Dispatcher) Submit(update *telegram.Update) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	if d.pending >= d.queueSize {
		d.mu.Unlock()
		jobsTotal.WithLabelValues("rejected").Inc()
		return ErrDispatcherBusy
	}
	d.pending++
	d.drained.Add(1)
	d.mu.Unlock()

	// pending never exceeds the channel capacity, so this does not block
	d.jobQueue <- newJob(update)
	return nil
}

// Shutdown stops accepting updates and waits for queued ones to finish.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.drained.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
	close(d.quit)
	d.pool.close()
	<-d.stopped
	return err
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		// dispatch one job of the chat at the front of the ready list
		if d.dispatchOne() {
			select {
			case job := <-d.jobQueue: // non-blocking intake
				d.enqueueJob(job)
			case <-d.quit:
				return
			default:
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.ChatID]
	if q == nil {
		q = &chatQueue{}
		d.queues[job.ChatID] = q
	}
	q.jobs = append(q.jobs, job)
	d.markReadyLocked(job.ChatID, q)
}

func (d *Dispatcher) markReadyLocked(chatID int64, q *chatQueue) {
	if q.running || len(q.jobs) == 0 {
		return
	}
	if _, ok := d.positions[chatID]; ok {
		return
	}
	d.positions[chatID] = d.ready.PushBack(chatID)
}

// dispatchOne hands the next job of the front chat to a worker
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	chatID := elem.Value.(int64)
	d.ready.Remove(elem)
	delete(d.positions, chatID)
	q := d.queues[chatID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.running = true
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		d.finish(job, "dropped")
		return true
	}
	debugLog("[dispatcher] assign update %d for chat %d to worker-%d", updateID(job), chatID, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

// execute runs on a worker goroutine.
func (d *Dispatcher) execute(job Job) {
	result := "ok"
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = "panic"
				log.Printf("dispatcher: update %d for chat %d panicked: %v\n%s", updateID(job), job.ChatID, r, debug.Stack())
			}
		}()
		ctx := context.Background()
		if d.jobTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.jobTimeout)
			defer cancel()
		}
		if err := d.handle(ctx, job.Update); err != nil {
			result = "error"
			log.Printf("dispatcher: update %d for chat %d failed: %v", updateID(job), job.ChatID, err)
		}
	}()
	d.finish(job, result)
}

func (d *Dispatcher) finish(job Job, result string) {
	jobsTotal.WithLabelValues(result).Inc()

	d.mu.Lock()
	d.pending--
	if q := d.queues[job.ChatID]; q != nil {
		q.running = false
		if len(q.jobs) == 0 {
			delete(d.queues, job.ChatID)
		} else {
			d.markReadyLocked(job.ChatID, q)
		}
	}
	d.mu.Unlock()
	d.drained.Done()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func updateID(job Job) int64 {
	if job.Update == nil {
		return 0
	}
	return job.Update.UpdateID
}
