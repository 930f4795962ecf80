package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/logging"
)

// PersonsHandler serves the persons stored in the database.
type PersonsHandler struct {
	persons database.PersonReader
	images  database.ImageReader
	logger  *zap.Logger
}

// NewPersonsHandler creates a new persons handler. Nil readers mean no database is configured.
func NewPersonsHandler(persons database.PersonReader, images database.ImageReader, logger *zap.Logger) *PersonsHandler {
	return &PersonsHandler{
		persons: persons,
		images:  images,
		logger:  logging.OrNop(logger),
	}
}

type personResponse struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Occupation string    `json:"occupation,omitempty"`
	Age        int       `json:"age,omitempty"`
	ImageCount int       `json:"image_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func toPersonResponse(p database.Person) personResponse {
	return personResponse{
		ID:         p.ID,
		Name:       p.Name,
		Occupation: p.Occupation,
		Age:        p.Age,
		ImageCount: p.ImageCount,
		CreatedAt:  p.CreatedAt.UTC(),
	}
}

// List returns all persons.
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.persons == nil {
		respondError(w, http.StatusServiceUnavailable, "database is not configured")
		return
	}

	persons, err := h.persons.ListPersons(r.Context())
	if err != nil {
		h.logger.Error("listing persons failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list persons")
		return
	}

	out := make([]personResponse, 0, len(persons))
	for _, p := range persons {
		out = append(out, toPersonResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns a single person by id.
func (h *PersonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.persons == nil {
		respondError(w, http.StatusServiceUnavailable, "database is not configured")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	person, err := h.persons.GetPerson(r.Context(), id)
	if errors.Is(err, database.ErrPersonNotFound) {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		h.logger.Error("loading person failed", zap.Int64("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load person")
		return
	}
	respondJSON(w, http.StatusOK, toPersonResponse(*person))
}

// Count returns the number of stored training images.
func (h *PersonsHandler) Count(w http.ResponseWriter, r *http.Request) {
	if h.images == nil {
		respondError(w, http.StatusServiceUnavailable, "database is not configured")
		return
	}

	n, err := h.images.CountImages(r.Context())
	if err != nil {
		h.logger.Error("counting images failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to count images")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"images": n})
}
