package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ihmeuw-scicomp/jobmon/internal/auth"
)

// router builds the top-level mux: one sibling sub-router per
// configured API version, each carrying the identical handler set
// (spec §6: "a deployment may expose multiple versions simultaneously").
func (s *Server) router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/healthz", healthHandler)

	versions := s.cfg.Versions
	if len(versions) == 0 {
		versions = []string{"v1"}
	}
	for _, v := range versions {
		r.Mount("/api/"+v, s.versionRouter())
	}
	return r
}

// versionRouter builds the handler set shared by every mounted
// version. Versions diverge only in which features they implement; a
// future v2 that drops or changes a route would fork this method, not
// the handlers themselves.
func (s *Server) versionRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.Middleware(s.cfg.AuthEnabled, s.cfg.AdminUsers))

	r.Route("/array/{array_id}", func(r chi.Router) {
		r.Post("/queue_task_batch", s.handleQueueTaskBatch)
		r.Post("/transition_to_launched", s.handleTransitionToLaunched)
		r.Post("/transition_to_killed", s.handleTransitionToKilled)
	})

	r.Route("/task_instance", func(r chi.Router) {
		r.Post("/instantiate_task_instances", s.handleInstantiateTaskInstances)
		r.Post("/{id}/log_running", s.handleLogRunning)
		r.Post("/{id}/log_heartbeat", s.handleLogHeartbeat)
		r.Post("/{id}/log_done", s.handleLogDone)
		r.Post("/{id}/log_known_error", s.handleLogKnownError)
		r.Post("/{id}/log_unknown_error", s.handleLogUnknownError)
		r.Post("/{id}/log_error_worker_node", s.handleLogErrorWorkerNode)
		r.Post("/{id}/log_no_distributor_id", s.handleLogNoDistributorID)
		r.Post("/{id}/log_distributor_id", s.handleLogDistributorID)
		r.Get("/{id}/error_logs", s.handleGetTaskInstanceErrorLogs)
	})

	r.Route("/task/{workflow_id}", func(r chi.Router) {
		r.Post("/set_resume_state", s.handleSetResumeState)
	})

	r.Route("/workflow_run/{workflow_run_id}", func(r chi.Router) {
		r.Get("/kill_requests", s.handleListKillRequests)
	})

	r.Route("/workflow", func(r chi.Router) {
		r.Post("/bind", s.handleBindWorkflow)
		r.Post("/{workflow_id}/workflow_run", s.handleCreateWorkflowRun)
		r.Post("/{workflow_id}/stop", s.handleStopWorkflow)
		r.Put("/{workflow_id}/update_max_concurrently_running", s.handleUpdateWorkflowMaxConcurrentlyRunning)
		r.Put("/{workflow_id}/update_array_max_concurrently_running", s.handleUpdateArrayMaxConcurrentlyRunning)
		r.Get("/{workflow_id}/task_template_dag", s.handleGetTaskTemplateDAG)
		r.Get("/{workflow_id}/overview", s.handleGetWorkflowOverview)
		r.Get("/{workflow_id}/tasks", s.handleGetTaskTable)
		r.Get("/{workflow_id}/clustered_errors", s.handleGetClusteredErrors)
	})

	r.Get("/get_max_concurrently_running", s.handleGetMaxConcurrentlyRunning)
	r.Get("/task_template/{task_template_version_id}/resource_usage", s.handleGetResourceUsage)

	r.Post("/admin/bulk_update_task_status", s.handleAdminBulkUpdateTaskStatus)

	return r
}
