package synth

import (
	"context"
	"sync"

	"github.com/Hdd5ps/sheet-to-sound/logger"
)

// CompletionFunc receives the outcome of a finished job. Exactly one of
// result and jobErr is set.
type CompletionFunc func(ctx context.Context, conversionID string, result *Result, jobErr error)

// Dispatcher runs jobs on a bounded worker pool and reports outcomes
// through the completion callback. Dispatch is fire-and-forget: the caller
// returns as soon as the job is queued, and the terminal state is written
// by the callback on a worker goroutine.
type Dispatcher struct {
	processor  Processor
	onComplete CompletionFunc
	jobs       chan Job
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewDispatcher creates a dispatcher with the given pool size and starts
// its workers.
func NewDispatcher(processor Processor, onComplete CompletionFunc, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}

	d := &Dispatcher{
		processor:  processor,
		onComplete: onComplete,
		jobs:       make(chan Job, workers*4),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.jobs {
		ctx := context.Background()
		result, err := d.processor.Process(ctx, job)
		if err != nil {
			logger.Warn("conversion job failed",
				logger.String("conversionId", job.ConversionID),
				logger.ErrorField(err))
			d.onComplete(ctx, job.ConversionID, nil, err)
			continue
		}
		d.onComplete(ctx, job.ConversionID, result, nil)
	}
}

// Dispatch queues a job. Blocks only when the queue is full.
func (d *Dispatcher) Dispatch(job Job) {
	logger.Info("dispatching conversion job",
		logger.String("conversionId", job.ConversionID),
		logger.String("scoreId", job.ScoreID),
		logger.Int64("userId", job.UserID))
	d.jobs <- job
}

// Stop drains the queue and waits for in-flight jobs to finish. In-flight
// jobs are not cancellable once dispatched.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}
