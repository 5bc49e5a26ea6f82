package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Manager starts and supervises the pipeline workers: the scrape scheduler
// and one notification poller per sink.
type Manager struct {
	workers []Worker
}

func NewManager(ws ...Worker) *Manager {
	return &Manager{workers: ws}
}

// Start runs all workers until ctx is cancelled, then waits for them to
// drain. Worker errors are collected rather than interrupting the others: a
// broken poller must not stop the scheduler.
func (m *Manager) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(m.workers))
	for _, w := range m.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			if err := w.Start(ctx); err != nil {
				slog.Error("worker exited with error", "error", err)
				errs <- err
			}
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	close(errs)
	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}
