package worker

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

// Start runs the worker loop: announce idle, wait for a job, run it.
func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for {
			if !w.pool.Release(w.jobChannel) {
				return
			}
			job := <-w.jobChannel
			if job.Type == Stop {
				return
			}
			w.pool.exec(job)
		}
	}()
}
