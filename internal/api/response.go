package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Status values of an API response.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the JSON envelope of every API reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success wraps result in an ok envelope.
func Success(result any) Response {
	return Response{Status: StatusOK, Result: result}
}

// SuccessWithMessage wraps result in an ok envelope with a message.
func SuccessWithMessage(message string, result any) Response {
	return Response{Status: StatusOK, Message: message, Result: result}
}

// Error builds an error envelope.
func Error(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	// Marshal first so encoding errors are caught before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
