package handlers

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-greeter/internal/constants"
	"github.com/kozaktomas/face-greeter/internal/training"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// TrainJob is one background training run.
type TrainJob struct {
	EventBroadcaster

	id          string
	source      string
	status      JobStatus
	total       int
	done        int
	err         string
	startedAt   time.Time
	completedAt *time.Time
	report      *training.Report
}

// JobView is the JSON representation of a TrainJob.
type JobView struct {
	ID          string           `json:"id"`
	Source      string           `json:"source"`
	Status      JobStatus        `json:"status"`
	Total       int              `json:"total"`
	Done        int              `json:"done"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Report      *training.Report `json:"report,omitempty"`
}

// ID returns the job ID.
func (j *TrainJob) ID() string { return j.id }

// GetStatus returns the current job status (implements SSEJob).
func (j *TrainJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// View returns a copy safe to encode while the job is running.
func (j *TrainJob) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobView{
		ID:          j.id,
		Source:      j.source,
		Status:      j.status,
		Total:       j.total,
		Done:        j.done,
		Error:       j.err,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
		Report:      j.report,
	}
}

// Cancel marks the job cancelled and stops the build.
func (j *TrainJob) Cancel() {
	j.mu.Lock()
	if !isJobTerminal(j.status) {
		j.status = JobStatusCancelled
	}
	j.mu.Unlock()
	j.EventBroadcaster.Cancel()
}

// update applies fn under the job lock.
func (j *TrainJob) update(fn func(j *TrainJob)) {
	j.mu.Lock()
	fn(j)
	j.mu.Unlock()
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

func (b *EventBroadcaster) setCancel(cancel context.CancelFunc) {
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages training jobs. At most one job runs at a time; finished jobs are kept
// for status queries up to constants.MaxRetainedJobs.
type JobManager struct {
	jobs  map[string]*TrainJob
	order []string
	mu    sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*TrainJob),
	}
}

// CreateJob registers a new pending job. It returns nil when another job is still active.
func (m *JobManager) CreateJob(id, source string) *TrainJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if !isJobTerminal(job.GetStatus()) {
			return nil
		}
	}

	job := &TrainJob{
		id:        id,
		source:    source,
		status:    JobStatusPending,
		startedAt: time.Now(),
	}
	m.jobs[id] = job
	m.order = append(m.order, id)
	m.pruneLocked()
	return job
}

func (m *JobManager) pruneLocked() {
	for len(m.order) > constants.MaxRetainedJobs {
		i := slices.IndexFunc(m.order, func(id string) bool { return isJobTerminal(m.jobs[id].GetStatus()) })
		if i < 0 {
			return
		}
		delete(m.jobs, m.order[i])
		m.order = slices.Delete(m.order, i, i+1)
	}
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *TrainJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all retained jobs, oldest first.
func (m *JobManager) ListJobs() []*TrainJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*TrainJob, 0, len(m.order))
	for _, id := range m.order {
		jobs = append(jobs, m.jobs[id])
	}
	return jobs
}
