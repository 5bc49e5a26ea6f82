package worker

import "context"

// Worker is a long-running task driven by the manager. Start blocks until ctx
// is cancelled and returns a non-nil error only on unrecoverable failure.
type Worker interface {
	Start(ctx context.Context) error
}
