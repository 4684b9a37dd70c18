package worker

import (
	"container/list"
	"sync"
	"time"
)

// DispatcherConfig sizes the background worker pool.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool // key is in the ready list
	active   bool // a job of this key is currently running
}

// Dispatcher fans jobs out to a worker pool while keeping every key's
// jobs strictly serial: the next job of a key starts only after the
// previous one finished. Memory-profile updates use a per-user key and
// title generation a per-session key, so their check-then-act sections
// never interleave.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job

	mu        sync.Mutex
	queues    map[string]*keyQueue
	ready     *list.List // round-robin queue of keys ready to dispatch
	positions map[string]*list.Element

	kick chan struct{} // woken when a finished key becomes ready again
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout),
		JobQueue:  make(chan Job, cfg.QueueSize),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		kick:      make(chan struct{}, 1),
	}

	// Warm up workers.
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a job. Blocks when the intake queue is full.
func (d *Dispatcher) Submit(job Job) {
	d.JobQueue <- job
}

func (d *Dispatcher) run() {
	for {
		if d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			default:
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.kick:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.active {
		// key already queued or mid-flight, its jobs drain in order
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(job.Key)
	d.positions[job.Key] = elem
}

// dispatchOne takes the first ready key and hands its next job to a
// worker. The key leaves the ready list until the job finishes.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.active = true
	q.enqueued = false
	d.ready.Remove(elem)
	delete(d.positions, key)
	d.mu.Unlock()

	run := job.Run
	job.Run = func() {
		defer d.finish(key)
		if run != nil {
			run()
		}
	}

	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign job for key %s", key)
	workerChan <- job
	return true
}

func (d *Dispatcher) finish(key string) {
	d.mu.Lock()
	q := d.queues[key]
	if q == nil {
		d.mu.Unlock()
		return
	}
	q.active = false
	if len(q.jobs) == 0 {
		delete(d.queues, key)
		d.mu.Unlock()
		return
	}
	if !q.enqueued {
		q.enqueued = true
		elem := d.ready.PushBack(key)
		d.positions[key] = elem
	}
	d.mu.Unlock()

	select {
	case d.kick <- struct{}{}:
	default:
	}
}
