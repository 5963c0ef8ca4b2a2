package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	TASK_CHAN_SIZE = 100
)

type WorkerFunction = func(t *tomb.Tomb, task any) error
type WorkerPool struct {
	n     int      // number of workers
	tasks chan any // task pool
}

// NewWorkerPool creates a pool of size workers. queueSize bounds the number of
// tasks that can be waiting at once; AddTask blocks once it is reached.
func NewWorkerPool(size, queueSize int) *WorkerPool {
	if queueSize <= 0 {
		queueSize = TASK_CHAN_SIZE
	}
	return &WorkerPool{
		n:     size,
		tasks: make(chan any, queueSize),
	}
}

// Setup starts the workers on t. A worker whose work function returns an
// error exits and takes the tomb down with it.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	for id := 0; id < pool.n; id++ {
		id := id
		t.Go(func() error {
			return pool.worker(t, id, work)
		})
	}
}

// AddTask queues a task for the next free worker. It gives up and reports
// false if t starts dying first.
func (pool *WorkerPool) AddTask(t *tomb.Tomb, task any) bool {
	select {
	case pool.tasks <- task:
		return true
	case <-t.Dying():
		return false
	}
}

// Workers wait on tasks in the task pool and action them.
func (pool *WorkerPool) worker(t *tomb.Tomb, id int, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Int("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}
