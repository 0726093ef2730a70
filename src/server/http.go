package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"KSIDashboard/src/storage"
)

type ErrorMessage struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// HttpError writes a JSON error body with the given status.
func HttpError(w http.ResponseWriter, message string, statusCode int, logger *storage.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(ErrorMessage{Message: message, RequestID: w.Header().Get(requestIDHeader)})
	if err != nil {
		logger.Error("编码错误信息失败", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, v interface{}, logger *storage.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encountered when encoding response", zap.Error(err))
	}
}
