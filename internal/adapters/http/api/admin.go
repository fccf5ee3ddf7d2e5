package api

import (
	"errors"
	"net/http"

	"github.com/okian/lostfits/internal/aggregate"
	"github.com/okian/lostfits/internal/jobs"
)

// jobAck is the response to a job start.
type jobAck struct {
	Status  jobs.Status `json:"status"`
	JobID   string      `json:"job_id"`
	Message string      `json:"message"`
}

// ack answers 202 for a new job and 200 with the running job otherwise.
func (s *Server) ack(w http.ResponseWriter, r *http.Request, op string, job jobs.Job, started bool, err error) {
	switch {
	case errors.Is(err, aggregate.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, jobs.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", Wrap(op, err))
	case err != nil:
		s.fail(w, r, op, err)
	case started:
		writeJSON(w, http.StatusAccepted, jobAck{Status: jobs.StatusQueued, JobID: job.ID, Message: job.Message})
	default:
		writeJSON(w, http.StatusOK, jobAck{Status: job.Status, JobID: job.ID, Message: "already running: " + job.Message})
	}
}

func (s *Server) handleReseedTypes(w http.ResponseWriter, r *http.Request) {
	job, started, err := s.admin.ReseedTypes(r.Context())
	s.ack(w, r, "api.reseed_types", job, started, err)
}

func (s *Server) handleSeedUniverse(w http.ResponseWriter, r *http.Request) {
	job, started, err := s.admin.SeedUniverse(r.Context())
	s.ack(w, r, "api.seed_universe", job, started, err)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	job, started, err := s.admin.RebuildAggregates(r.Context(), v.Get("from"), v.Get("to"))
	s.ack(w, r, "api.rebuild_aggregates", job, started, err)
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	list := s.admin.Jobs()
	if list == nil {
		list = []jobs.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(list), "jobs": list})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.admin.Job(r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", WrapKind("api.job", ErrNotFound, err))
		return
	}
	if err != nil {
		s.fail(w, r, "api.job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out, err := s.admin.Status(r.Context())
	if err != nil {
		s.fail(w, r, "api.status", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
