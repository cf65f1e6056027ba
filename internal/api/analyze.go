package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/datapulse/datapulse/internal/analysis"
)

type analyzeRequest struct {
	Question string `json:"question"`
}

type analyzeResponse struct {
	SQL        string   `json:"sql"`
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	RowCount   int      `json:"row_count"`
	Truncated  bool     `json:"truncated"`
	FromCache  bool     `json:"from_cache"`
	Provider   string   `json:"provider"`
	Model      string   `json:"model,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

func handleAnalyze(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "body must be JSON with a question field", false, nil)
		return
	}

	result, err := deps.Analysis.Analyze(r.Context(), id, req.Question)
	if err != nil {
		writeAnalysisError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		SQL:        result.SQL,
		Columns:    result.Columns,
		Rows:       result.Rows,
		RowCount:   result.RowCount,
		Truncated:  result.Truncated,
		FromCache:  result.FromCache,
		Provider:   result.Provider,
		Model:      result.Model,
		DurationMS: result.Duration.Milliseconds(),
	})
}

func writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	var failure *analysis.Error
	if !errors.As(err, &failure) {
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", err.Error(), false, nil)
		return
	}

	switch failure.Code {
	case analysis.CodeInvalidSessionID:
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", failure.Message, false, nil)
	case analysis.CodeSessionNotFound:
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", failure.Message, false, nil)
	case analysis.CodeEmptyQuestion:
		writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_QUESTION", failure.Message, false, nil)
	case analysis.CodeThrottleExceeded:
		seconds := int(failure.RetryAfter.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeError(r.Context(), w, http.StatusTooManyRequests, "THROTTLE_EXCEEDED", failure.Message, true, map[string]any{
			"retry_after_seconds": seconds,
		})
	case analysis.CodeGenerationUnavailable:
		writeError(r.Context(), w, http.StatusServiceUnavailable, "GENERATION_UNAVAILABLE", failure.Message, true, nil)
	case analysis.CodeValidationRejected:
		writeError(r.Context(), w, http.StatusBadRequest, "VALIDATION_REJECTED", failure.Message, false, map[string]any{
			"reason": failure.Reason,
		})
	case analysis.CodeExecutionFailed:
		writeError(r.Context(), w, http.StatusBadRequest, "EXECUTION_FAILED", failure.Message, false, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", failure.Message, false, nil)
	}
}
