package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sapliy/notification-hub/internal/event"
	"github.com/sapliy/notification-hub/internal/job"
	"github.com/sapliy/notification-hub/pkg/jsonutil"
)

const defaultPageSize = 50

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var e event.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	jobIDs, err := s.router.Route(r.Context(), &e)
	if err != nil {
		status := http.StatusInternalServerError
		var validation *event.ValidationError
		var resolution *event.TenantResolutionError
		if errors.As(err, &validation) || errors.As(err, &resolution) {
			status = http.StatusBadRequest
		}
		jsonutil.WriteErrorJSON(w, status, err.Error())
		return
	}

	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "event accepted",
		"jobIds":  jobIDs,
	})
}

type batchResult struct {
	Success bool     `json:"success"`
	Event   string   `json:"event"`
	JobIDs  []string `json:"jobIds,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// handleEventBatch routes each event independently; one bad event never
// aborts the rest.
func (s *Server) handleEventBatch(w http.ResponseWriter, r *http.Request) {
	var events []event.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "invalid JSON body, expected an array of events")
		return
	}

	results := make([]batchResult, 0, len(events))
	for i := range events {
		e := &events[i]
		res := batchResult{Event: e.Metadata.EventType}
		jobIDs, err := s.router.Route(r.Context(), e)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Success = true
			res.JobIDs = jobIDs
		}
		results = append(results, res)
	}

	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": results,
	})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenantId")
	userID := q.Get("userId")
	if tenantID == "" || userID == "" {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "tenantId and userId are required")
		return
	}

	limit := intQuery(q.Get("limit"), defaultPageSize)
	offset := intQuery(q.Get("offset"), 0)

	channel := q.Get("channel")
	if channel == "" {
		channel = string(job.ChannelInApp)
	}

	items, err := s.ledger.ListForUser(r.Context(), tenantID, userID, channel, limit, offset)
	if err != nil {
		s.logger.Error("notification list failed", "tenant_id", tenantID, "error", err)
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"notifications": items,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		TenantID string `json:"tenantId"`
		UserID   string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "userId is required")
		return
	}

	updated, err := s.ledger.MarkRead(r.Context(), body.TenantID, body.UserID, id)
	if err != nil {
		s.logger.Error("mark read failed", "notification_id", id, "error", err)
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}
	if !updated {
		jsonutil.WriteErrorJSON(w, http.StatusNotFound, "notification not found")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID string `json:"tenantId"`
		UserID   string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TenantID == "" || body.UserID == "" {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "tenantId and userId are required")
		return
	}

	updated, err := s.ledger.MarkAllRead(r.Context(), body.TenantID, body.UserID)
	if err != nil {
		s.logger.Error("mark all read failed", "tenant_id", body.TenantID, "error", err)
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "failed to mark notifications read")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"updated": updated,
	})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenantId")
	userID := q.Get("userId")
	if tenantID == "" || userID == "" {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "tenantId and userId are required")
		return
	}

	count, err := s.ledger.UnreadCount(r.Context(), tenantID, userID)
	if err != nil {
		s.logger.Error("unread count failed", "tenant_id", tenantID, "error", err)
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{"unread": count})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	status, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("job status lookup failed", "job_id", jobID, "error", err)
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "failed to fetch job status")
		return
	}
	if status == nil {
		jsonutil.WriteErrorJSON(w, http.StatusNotFound, "job not found")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenantId")
	if tenantID == "" {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "tenantId is required")
		return
	}
	limit := intQuery(q.Get("limit"), 20)

	failed, err := s.jobs.RecentFailed(r.Context(), tenantID, limit)
	if err != nil {
		s.logger.Error("failed job listing failed", "tenant_id", tenantID, "error", err)
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "failed to list failed jobs")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"jobs":    failed,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.queue == nil || s.queue.IsHealthy()
	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	jsonutil.WriteJSON(w, status, map[string]any{"status": state})
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
