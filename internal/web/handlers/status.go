package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/face-greeter/internal/facematch"
	"github.com/kozaktomas/face-greeter/internal/recognition"
)

// StatsProvider exposes the live loop counters.
type StatsProvider interface {
	Stats() recognition.Stats
}

// Announcer is the subset of the notification debouncer the API reads and drives.
type Announcer interface {
	Notify(identity *facematch.Identity) bool
	Pending() int
	LastAnnounced() string
	Speaking() string
	Spoken() uint64
	Failed() uint64
	Enqueued() uint64
	Suppressed() uint64
}

// StatusHandler reports the state of the recognition pipeline.
type StatusHandler struct {
	processor StatsProvider
	announcer Announcer
	store     *facematch.Store
	started   time.Time
}

// NewStatusHandler creates a new status handler. processor and announcer may be nil.
func NewStatusHandler(processor StatsProvider, announcer Announcer, store *facematch.Store) *StatusHandler {
	return &StatusHandler{
		processor: processor,
		announcer: announcer,
		store:     store,
		started:   time.Now(),
	}
}

type announcerStatus struct {
	Pending       int    `json:"pending"`
	Speaking      string `json:"speaking,omitempty"`
	LastAnnounced string `json:"last_announced,omitempty"`
	Enqueued      uint64 `json:"enqueued"`
	Suppressed    uint64 `json:"suppressed"`
	Spoken        uint64 `json:"spoken"`
	Failed        uint64 `json:"failed"`
}

type snapshotStatus struct {
	Version uint64     `json:"version"`
	Size    int        `json:"size"`
	Dim     int        `json:"dim"`
	BuiltAt *time.Time `json:"built_at,omitempty"`
}

type statusResponse struct {
	Uptime    string             `json:"uptime"`
	Snapshot  snapshotStatus     `json:"snapshot"`
	Pipeline  *recognition.Stats `json:"pipeline,omitempty"`
	Announcer *announcerStatus   `json:"announcer,omitempty"`
}

// Get returns the pipeline status.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Load()
	resp := statusResponse{
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Snapshot: snapshotStatus{
			Version: snap.Version(),
			Size:    snap.Len(),
			Dim:     snap.Dim(),
		},
	}
	if builtAt := snap.BuiltAt(); !builtAt.IsZero() {
		resp.Snapshot.BuiltAt = &builtAt
	}
	if h.processor != nil {
		stats := h.processor.Stats()
		resp.Pipeline = &stats
	}
	if a := h.announcer; a != nil {
		resp.Announcer = &announcerStatus{
			Pending:       a.Pending(),
			Speaking:      a.Speaking(),
			LastAnnounced: a.LastAnnounced(),
			Enqueued:      a.Enqueued(),
			Suppressed:    a.Suppressed(),
			Spoken:        a.Spoken(),
			Failed:        a.Failed(),
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

type referenceResponse struct {
	PersonID   int64  `json:"person_id,omitempty"`
	Name       string `json:"name"`
	Occupation string `json:"occupation,omitempty"`
	Age        int    `json:"age,omitempty"`
	Embeddings int    `json:"embeddings"`
}

// References lists the identities in the current reference set with their embedding counts.
func (h *StatusHandler) References(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Load()
	counts := make(map[string]int)
	for _, e := range snap.Entries() {
		counts[e.Identity.Key()]++
	}

	identities := snap.Identities()
	out := make([]referenceResponse, 0, len(identities))
	for _, id := range identities {
		out = append(out, referenceResponse{
			PersonID:   id.PersonID,
			Name:       id.Name,
			Occupation: id.Occupation,
			Age:        id.Age,
			Embeddings: counts[id.Key()],
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type announceRequest struct {
	Name       string `json:"name"`
	Occupation string `json:"occupation"`
	Age        int    `json:"age"`
}

// Announce queues a greeting as if the person had been recognized. Repeats of the last
// announced person are suppressed like any other notification.
func (h *StatusHandler) Announce(w http.ResponseWriter, r *http.Request) {
	if h.announcer == nil {
		respondError(w, http.StatusServiceUnavailable, "announcements are disabled")
		return
	}

	var req announceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	queued := h.announcer.Notify(&facematch.Identity{Name: req.Name, Occupation: req.Occupation, Age: req.Age})
	respondJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}
