package jobs

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/search-spider/internal/queue"
)

// StartWorkers runs n workers that take jobs from the queue until ctx is
// cancelled or the queue is closed. A failing job is logged and does not
// stop its worker.
func (m *Manager) StartWorkers(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	m.logger.Info("job workers started", "workers", n)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		worker := i
		g.Go(func() error {
			return m.work(ctx, worker)
		})
	}

	err := g.Wait()
	m.logger.Info("job workers stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
		return nil
	}
	return err
}

func (m *Manager) work(ctx context.Context, worker int) error {
	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			return err
		}

		m.logger.Info("processing job", "worker", worker, "job_id", task.JobID, "source", task.Source, "keyword", task.Keyword)
		if err := m.process(ctx, task); err != nil {
			m.logger.Error("failed to process job", "worker", worker, "job_id", task.JobID, "error", err)
		}
	}
}
