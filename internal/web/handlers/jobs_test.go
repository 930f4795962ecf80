package handlers

import (
	"fmt"
	"testing"

	"github.com/kozaktomas/face-greeter/internal/constants"
)

func TestJobManager_RejectsSecondActiveJob(t *testing.T) {
	m := NewJobManager()

	first := m.CreateJob("a", "dataset")
	if first == nil {
		t.Fatal("expected first job to be created")
	}
	if second := m.CreateJob("b", "dataset"); second != nil {
		t.Error("expected nil while a job is active")
	}

	first.update(func(j *TrainJob) { j.status = JobStatusCompleted })
	if third := m.CreateJob("c", "dataset"); third == nil {
		t.Error("expected a new job after the first finished")
	}
}

func TestJobManager_PrunesFinishedJobs(t *testing.T) {
	m := NewJobManager()

	for i := range constants.MaxRetainedJobs + 5 {
		job := m.CreateJob(fmt.Sprintf("job-%d", i), "dataset")
		if job == nil {
			t.Fatalf("job %d rejected", i)
		}
		job.update(func(j *TrainJob) { j.status = JobStatusFailed })
	}

	jobs := m.ListJobs()
	if len(jobs) > constants.MaxRetainedJobs+1 {
		t.Errorf("expected at most %d retained jobs, got %d", constants.MaxRetainedJobs+1, len(jobs))
	}
	if m.GetJob("job-0") != nil {
		t.Error("expected the oldest job to be pruned")
	}
	last := fmt.Sprintf("job-%d", constants.MaxRetainedJobs+4)
	if m.GetJob(last) == nil {
		t.Errorf("expected %s to be retained", last)
	}
}

func TestEventBroadcaster_SendAndRemove(t *testing.T) {
	var b EventBroadcaster
	ch := b.AddListener()

	b.SendEvent(JobEvent{Type: "progress"})
	if ev := <-ch; ev.Type != "progress" {
		t.Errorf("expected progress event, got %q", ev.Type)
	}

	b.RemoveListener(ch)
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after removal")
	}
	// Sending with no listeners must not panic.
	b.SendEvent(JobEvent{Type: "progress"})
}

func TestTrainJob_CancelSetsStatus(t *testing.T) {
	job := NewJobManager().CreateJob("a", "dataset")
	cancelled := false
	job.setCancel(func() { cancelled = true })

	job.Cancel()

	if !cancelled {
		t.Error("expected the context cancel func to be called")
	}
	if job.GetStatus() != JobStatusCancelled {
		t.Errorf("expected cancelled status, got %s", job.GetStatus())
	}
}
