package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chainwatch/internal/models"
	"chainwatch/internal/repository"
)

// handleSubmit is the job submission endpoint: validate, create the Job
// record, enrol it in the Delay Queue, return the created Job.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var spec models.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	job, err := s.sched.Submit(r.Context(), &spec)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeAPIResponse(w, job, nil)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.repo.ListJobs(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, jobs, map[string]interface{}{"count": len(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.repo.GetJob(r.Context(), id)
	if err == repository.ErrNotFound {
		writeAPIError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, job, nil)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f := parseLogFilter(r)

	// source=analyzer reads the service-log stream through this endpoint;
	// anything else (or nothing) reads the worker stream.
	read := s.repo.Logs
	if r.URL.Query().Get("source") == "analyzer" {
		read = s.repo.ServiceLogs
	}
	entries, err := read(r.Context(), id, f)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, entries, map[string]interface{}{"count": len(entries)})
}

func (s *Server) handleJobServiceLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f := parseLogFilter(r)
	entries, err := s.repo.ServiceLogs(r.Context(), id, f)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, entries, map[string]interface{}{"count": len(entries)})
}

func parseLogFilter(r *http.Request) repository.LogFilter {
	f := repository.LogFilter{Limit: parseLimit(r, 100)}
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		level := models.LogLevel(lvl)
		f.Level = &level
	}
	return f
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)
	jobs, err := s.repo.ListFailed(r.Context(), limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, jobs, map[string]interface{}{"limit": limit, "count": len(jobs)})
}

// handleDeleteJob implements DELETE /jobs/{id}: remove matching queue
// entries, then delete the Job record. Active handlers for this id are
// left to finish.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.queue.RemoveBy(r.Context(), id); err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = s.queue.RemoveRepeatingByKey(r.Context(), id)

	if err := s.repo.DeleteJob(r.Context(), id); err != nil {
		if err == repository.ErrNotFound {
			writeAPIError(w, http.StatusNotFound, "job not found")
			return
		}
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, map[string]string{"id": id, "status": "deleted"}, nil)
}

// handleClearAll implements DELETE /jobs/clear-all: obliterate the
// queue and mark every non-terminal retry job failed.
func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Obliterate(r.Context()); err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	n, err := s.repo.MarkAllNonTerminalRetryFailed(r.Context(), "Job stopped by emergency clear")
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, map[string]int{"jobsMarkedFailed": n}, nil)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.queue.QueueStatus(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, status, nil)
}
