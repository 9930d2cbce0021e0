package handler

import (
	"encoding/json"
	"net/http"
)

var statusMessages = map[int]string{
	http.StatusOK:                  "Success",
	http.StatusConflict:            "Record already exists",
	http.StatusInternalServerError: "Internal server error",
}

// FormatSuccess wraps payload in the success envelope. A nil payload is
// replaced by the default success message.
func FormatSuccess(payload any) map[string]any {
	if payload == nil {
		payload = statusMessage(http.StatusOK)
	}
	return map[string]any{"data": payload}
}

// FormatError builds the error envelope. A nil message is replaced by the
// default text for status; a zero code is omitted.
func FormatError(status, code int, message any) map[string]any {
	if message == nil {
		message = statusMessage(status)
	}

	body := map[string]any{"errors": message}
	if code != 0 {
		body["code"] = code
	}
	return body
}

func statusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return http.StatusText(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
