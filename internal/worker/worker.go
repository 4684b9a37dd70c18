package worker

// Job is a unit of background work. Jobs sharing a Key execute strictly
// one at a time in submission order; jobs with different keys may run in
// parallel.
type Job struct {
	Key string
	Run func()

	stop bool
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.safeRun(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}

func (w *Worker) safeRun(job Job) {
	defer func() {
		if r := recover(); r != nil {
			debugLog("[worker] job for key %s panicked: %v", job.Key, r)
		}
	}()
	if job.Run != nil {
		job.Run()
	}
}
