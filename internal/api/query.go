package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/queryforge/queryforge/internal/nlq"
	"github.com/queryforge/queryforge/internal/pipeline"
)

func decodeTask(r *http.Request) (pipeline.Task, error) {
	var task pipeline.Task
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&task); err != nil {
		return pipeline.Task{}, fmt.Errorf("invalid task body: %w", err)
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	return task, nil
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	task, err := decodeTask(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}

	response := deps.Pipeline.Run(r.Context(), task, nil)
	writeJSON(w, statusForResponse(response), response)
}

// handleQueryStream runs the same pipeline but emits one SSE event per stage
// reached. The stream terminates after result_ready or error.
func handleQueryStream(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	task, err := decodeTask(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "response writer does not support streaming", false, nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The pipeline is synchronous and the listener runs on this goroutine,
	// so writes to the response are never concurrent.
	deps.Pipeline.Run(r.Context(), task, func(event pipeline.Event) {
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Stage, payload)
		flusher.Flush()
	})
}

// handleNLQ accepts free text, classifies it through the configured intent
// parser, and feeds the resulting spec into the pipeline.
func handleNLQ(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	if deps.Parser == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "NLQ_NOT_CONFIGURED", "natural-language parsing is not configured", false, nil)
		return
	}

	var request struct {
		TaskID    string `json:"task_id"`
		Text      string `json:"text"`
		RowLimit  int    `json:"row_limit"`
		TimeoutMS int    `json:"timeout_ms"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid nlq request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Text) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TEXT_REQUIRED", "text is required", false, nil)
		return
	}

	snapshot := deps.Registry.Active()
	spec, err := deps.Parser.Parse(r.Context(), request.Text, snapshot.Intents())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "NLQ_PARSE_FAILED", "intent classification failed", true, map[string]any{"details": err.Error()})
		return
	}

	taskID := request.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	response := deps.Pipeline.Run(r.Context(), pipeline.Task{
		TaskID:   taskID,
		TaskType: pipeline.TaskTypeStructuredQuery,
		TaskData: pipeline.TaskData{
			NLQ:        spec.NLQ,
			Intent:     spec.Intent,
			Params:     spec.Params,
			Confidence: spec.Confidence,
			RowLimit:   request.RowLimit,
			TimeoutMS:  request.TimeoutMS,
		},
	}, nil)
	writeJSON(w, statusForResponse(response), response)
}

// statusForResponse keeps the HTTP layer thin: the structured response is the
// contract, the status code only mirrors its terminal class.
func statusForResponse(response nlq.StructuredResponse) int {
	switch response.Status {
	case nlq.StatusSuccess, nlq.StatusPartial:
		return http.StatusOK
	default:
		switch response.ErrorCode {
		case nlq.CodeExecTimeout, nlq.CodeConnTimeout:
			return http.StatusGatewayTimeout
		case nlq.CodeConnPoolExhausted:
			return http.StatusServiceUnavailable
		case nlq.CodeInternalError, nlq.CodeConnDuckDBFailed, nlq.CodeExecS3Failed, nlq.CodeBuildFailed:
			return http.StatusInternalServerError
		default:
			return http.StatusBadRequest
		}
	}
}
