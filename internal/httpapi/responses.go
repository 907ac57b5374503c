package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/fallback"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func sendError(w http.ResponseWriter, status int, code, detail string) {
	sendJSON(w, status, errorResponse{Error: code, Detail: detail})
}

// statusForKind maps a classified failure onto an HTTP status. Transient
// upstream trouble is 503 so clients know to retry; everything unclassified
// is a plain 500.
func statusForKind(kind fallback.Kind) int {
	switch kind {
	case fallback.KindValidation:
		return http.StatusBadRequest
	case fallback.KindNotFound:
		return http.StatusNotFound
	case fallback.KindTimeout, fallback.KindRateLimited:
		return http.StatusServiceUnavailable
	case fallback.KindToolNotFound, fallback.KindDatabase, fallback.KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func logRequestError(logger *zap.Logger, route string, err error) {
	if err != nil {
		logger.Warn("request failed", zap.String("route", route), zap.Error(err))
	}
}
