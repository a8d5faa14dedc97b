package api

import "github.com/gorilla/mux"

func registerSubmissionRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/jobs", s.handleSubmit).Methods("POST", "OPTIONS")
}

func registerAdminRoutes(r *mux.Router, s *Server, adminToken string) {
	admin := r.PathPrefix("").Subrouter()
	admin.Use(adminAuthMiddleware(adminToken))

	admin.HandleFunc("/jobs", s.handleListJobs).Methods("GET", "OPTIONS")
	admin.HandleFunc("/jobs/failed", s.handleListFailed).Methods("GET", "OPTIONS")
	admin.HandleFunc("/jobs/clear-all", s.handleClearAll).Methods("DELETE", "OPTIONS")
	admin.HandleFunc("/jobs/queue-status", s.handleQueueStatus).Methods("GET", "OPTIONS")
	admin.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET", "OPTIONS")
	admin.HandleFunc("/jobs/{id}", s.handleDeleteJob).Methods("DELETE", "OPTIONS")
	admin.HandleFunc("/jobs/{id}/logs", s.handleJobLogs).Methods("GET", "OPTIONS")
	admin.HandleFunc("/jobs/{id}/service-logs", s.handleJobServiceLogs).Methods("GET", "OPTIONS")
}
