package downloader

import (
	"sync"

	"github.com/mirrorware/canvas-mirror/internal/domain"
)

// Registry is the process-wide mapping from job identifier to active
// job. Request handlers register and look up jobs; each job removes
// itself exactly once when it reaches a terminal status. Safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	onRemove func(jobID string)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Register adds a job. At most one live job per identifier.
func (r *Registry) Register(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID()]; exists {
		return domain.ErrJobAlreadyExists
	}
	r.jobs[job.ID()] = job
	return nil
}

// Lookup returns the job for id.
func (r *Registry) Lookup(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// OnRemove registers a callback invoked after a job leaves the
// registry, once per job. Used to tear down per-job event state.
func (r *Registry) OnRemove(fn func(jobID string)) {
	r.mu.Lock()
	r.onRemove = fn
	r.mu.Unlock()
}

// Remove deletes a job from the registry. Removing an absent id is a
// no-op so removal stays idempotent; the remove callback fires only
// when a job was actually deleted.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, existed := r.jobs[id]
	delete(r.jobs, id)
	fn := r.onRemove
	r.mu.Unlock()

	if existed && fn != nil {
		fn(id)
	}
}

// Jobs returns a snapshot of the registered jobs.
func (r *Registry) Jobs() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	return out
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
