package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// Envelope 是所有 JSON 响应的统一结构，错误时 Data 为 null。
type Envelope struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Data    any    `json:"data"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondOK 以 200 返回包装后的数据
func RespondOK(w http.ResponseWriter, data any) {
	RespondJSON(w, http.StatusOK, Envelope{Code: http.StatusOK, Data: data})
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, Envelope{Message: message, Code: status})
}
