package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/facematch"
	"github.com/kozaktomas/face-greeter/internal/logging"
	"github.com/kozaktomas/face-greeter/internal/training"
)

// Trainer rebuilds and publishes the reference set.
type Trainer interface {
	Build(ctx context.Context) (*facematch.Snapshot, training.Report, error)
}

// TrainerFactory creates a Trainer reporting per-sample progress to progress.
type TrainerFactory func(progress func(training.Progress)) Trainer

// TrainHandler starts and tracks training jobs.
type TrainHandler struct {
	newTrainer TrainerFactory
	source     string
	jobs       *JobManager
	logger     *zap.Logger
}

// NewTrainHandler creates a new train handler. A nil factory disables training over HTTP.
func NewTrainHandler(source string, factory TrainerFactory, jobs *JobManager, logger *zap.Logger) *TrainHandler {
	return &TrainHandler{
		newTrainer: factory,
		source:     source,
		jobs:       jobs,
		logger:     logging.OrNop(logger),
	}
}

type progressEvent struct {
	Done   int    `json:"done"`
	Total  int    `json:"total"`
	Source string `json:"source"`
	Faces  int    `json:"faces"`
	Error  string `json:"error,omitempty"`
}

// Start starts a training job in the background.
func (h *TrainHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.newTrainer == nil {
		respondError(w, http.StatusServiceUnavailable, "training is not configured")
		return
	}

	job := h.jobs.CreateJob(uuid.NewString(), h.source)
	if job == nil {
		respondError(w, http.StatusConflict, "training already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job.setCancel(cancel)
	go h.run(ctx, cancel, job)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID(),
		"status": string(JobStatusPending),
	})
}

func (h *TrainHandler) run(ctx context.Context, cancel context.CancelFunc, job *TrainJob) {
	defer cancel()

	job.update(func(j *TrainJob) {
		if j.status == JobStatusPending {
			j.status = JobStatusRunning
		}
	})
	job.SendEvent(JobEvent{Type: "started", Message: "Training started"})
	h.logger.Info("training job started", zap.String("job_id", job.ID()), zap.String("source", h.source))

	trainer := h.newTrainer(func(p training.Progress) {
		job.update(func(j *TrainJob) {
			j.done = p.Done
			j.total = p.Total
		})
		ev := progressEvent{Done: p.Done, Total: p.Total, Source: p.Source, Faces: p.Faces}
		if p.Err != nil {
			ev.Error = p.Err.Error()
		}
		job.SendEvent(JobEvent{Type: "progress", Data: ev})
	})

	snap, report, err := trainer.Build(ctx)
	now := time.Now()

	var status JobStatus
	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)):
		status = JobStatusCancelled
	case err != nil && snap == nil:
		status = JobStatusFailed
	default:
		// A snapshot that was published but could not be saved still completes the job.
		status = JobStatusCompleted
	}

	job.update(func(j *TrainJob) {
		if j.status != JobStatusCancelled {
			j.status = status
		}
		status = j.status
		j.completedAt = &now
		if err != nil {
			j.err = err.Error()
		}
		if status == JobStatusCompleted {
			j.report = &report
		}
	})

	switch status {
	case JobStatusCompleted:
		h.logger.Info("training job completed",
			zap.String("job_id", job.ID()),
			zap.Int("entries", report.Entries),
			zap.Uint64("version", report.Version),
		)
		if err != nil {
			h.logger.Warn("training job could not persist the snapshot", zap.String("job_id", job.ID()), zap.Error(err))
		}
		job.SendEvent(JobEvent{Type: "completed", Data: report})
	case JobStatusCancelled:
		h.logger.Info("training job cancelled", zap.String("job_id", job.ID()))
		job.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled"})
	default:
		h.logger.Error("training job failed", zap.String("job_id", job.ID()), zap.Error(err))
		job.SendEvent(JobEvent{Type: "job_error", Message: err.Error()})
	}
}

// List returns all retained jobs.
func (h *TrainHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.ListJobs()
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}
	respondJSON(w, http.StatusOK, views)
}

// Status returns the status of a training job.
func (h *TrainHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.View())
}

// Events streams job progress via Server-Sent Events.
func (h *TrainHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r, h.lookup, func(job SSEJob) any {
		return job.(*TrainJob).View()
	})
}

func (h *TrainHandler) lookup(id string) SSEJob {
	if job := h.jobs.GetJob(id); job != nil {
		return job
	}
	return nil
}

// Cancel cancels a running training job.
func (h *TrainHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if isJobTerminal(job.GetStatus()) {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]string{"status": string(job.GetStatus())})
}
