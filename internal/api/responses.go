package api

import (
	"encoding/json"
	"net/http"

	"docgate/internal/domain/extraction"
)

// APIResponse 统一 JSON 响应
type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: message,
	})
}

// statusForKind 错误分类到 HTTP 状态码的固定映射
func statusForKind(kind extraction.Kind) int {
	switch kind {
	case extraction.KindNotFound:
		return http.StatusNotFound
	case extraction.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case extraction.KindCorruptDocument:
		return http.StatusUnprocessableEntity
	case extraction.KindInProgress:
		return http.StatusConflict
	case extraction.KindEmbeddingProvider, extraction.KindVectorIndex:
		return http.StatusBadGateway
	case extraction.KindInvalidChunkConfig, extraction.KindDimensionMismatch:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writePipelineError 按错误分类写响应，未分类错误按 500 处理
func writePipelineError(w http.ResponseWriter, err error) {
	writeError(w, statusForKind(extraction.KindOf(err)), err.Error())
}
