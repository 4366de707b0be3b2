package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/odvcencio/gotrack/internal/models"
)

// JobProcessor runs one claimed job.
type JobProcessor func(ctx context.Context, job *models.Job) error

// ErrPermanent marks a job failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent job failure")

// Permanent wraps err so the worker pool fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Router dispatches claimed jobs to the processor registered for their task name.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]JobProcessor
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]JobProcessor)}
}

// Handle registers fn for taskName, replacing any earlier registration.
func (r *Router) Handle(taskName string, fn JobProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskName] = fn
}

func (r *Router) Tasks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Process satisfies JobProcessor.
func (r *Router) Process(ctx context.Context, job *models.Job) error {
	if job == nil {
		return Permanent(errors.New("job is nil"))
	}
	r.mu.RLock()
	fn := r.handlers[job.TaskName]
	r.mu.RUnlock()
	if fn == nil {
		return Permanent(fmt.Errorf("no processor for task %q", job.TaskName))
	}
	return fn(ctx, job)
}
