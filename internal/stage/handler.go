package stage

import "context"

// Handler describes the contract the workflow manager needs from each
// pipeline stage. RunOnce claims and processes one unit of work, reporting
// how many rows it handled; zero means the stage's queue was empty.
type Handler interface {
	Name() string
	RunOnce(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) Health
}
