package api

import (
	"net/http"
	"time"
)

type auditEntryView struct {
	CorrelationID  string `json:"correlation_id"`
	State          string `json:"state"`
	Detail         string `json:"detail,omitempty"`
	InputSignature string `json:"input_signature"`
	RecordedAt     string `json:"recorded_at"`
}

func handleAuditTrail(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "audit trail is not configured", false, nil)
		return
	}
	taskID := r.PathValue("task")
	if taskID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TASK_REQUIRED", "task id is required", false, nil)
		return
	}

	entries, err := deps.Audit.ListByTask(r.Context(), taskID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to load audit trail", true, map[string]any{"details": err.Error()})
		return
	}
	if len(entries) == 0 {
		writeError(r.Context(), w, http.StatusNotFound, "AUDIT_NOT_FOUND", "no audit entries for task", false, map[string]any{"task_id": taskID})
		return
	}

	views := make([]auditEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, auditEntryView{
			CorrelationID:  entry.CorrelationID,
			State:          entry.State,
			Detail:         entry.Detail,
			InputSignature: entry.InputSignature,
			RecordedAt:     entry.At.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"entries": views,
	})
}
