// internal/app/features/errors/errors.go
package errors

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Body is the JSON error response written by this package.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorLogger logs a failure with request context and writes the matching
// JSON error response. The log gets the detailed error; the client only
// gets the user-facing message.
type ErrorLogger struct {
	Log *zap.Logger
}

// NewErrorLogger constructs an ErrorLogger.
func NewErrorLogger(logger *zap.Logger) *ErrorLogger {
	return &ErrorLogger{Log: logger}
}

// LogServerError logs at Error and writes 500.
func (e *ErrorLogger) LogServerError(w http.ResponseWriter, r *http.Request, logMsg string, err error, userMsg string) {
	e.Log.Error(logMsg, fields(r, err)...)
	Write(w, http.StatusInternalServerError, "server_error", userMsg)
}

// LogBadRequest logs at Warn and writes 400.
func (e *ErrorLogger) LogBadRequest(w http.ResponseWriter, r *http.Request, logMsg string, err error, userMsg string) {
	e.Log.Warn(logMsg, fields(r, err)...)
	Write(w, http.StatusBadRequest, "bad_request", userMsg)
}

// LogForbidden logs at Warn and writes 403.
func (e *ErrorLogger) LogForbidden(w http.ResponseWriter, r *http.Request, logMsg string, err error, userMsg string) {
	e.Log.Warn(logMsg, fields(r, err)...)
	Write(w, http.StatusForbidden, "forbidden", userMsg)
}

// LogNotFound logs at Info and writes 404.
func (e *ErrorLogger) LogNotFound(w http.ResponseWriter, r *http.Request, logMsg string, err error, userMsg string) {
	e.Log.Info(logMsg, fields(r, err)...)
	Write(w, http.StatusNotFound, "not_found", userMsg)
}

// LogConflict logs at Info and writes 409.
func (e *ErrorLogger) LogConflict(w http.ResponseWriter, r *http.Request, logMsg string, err error, userMsg string) {
	e.Log.Info(logMsg, fields(r, err)...)
	Write(w, http.StatusConflict, "conflict", userMsg)
}

func fields(r *http.Request, err error) []zap.Field {
	fs := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	}
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	return fs
}

// Write writes a JSON error body with the given status.
func Write(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Body{Error: code, Message: msg})
}

// Handler serves the router's fallback responses.
// No DB needed.
type Handler struct{}

// NewHandler constructs an errors Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// NotFound is the router's NotFound handler.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	Write(w, http.StatusNotFound, "not_found", "Page not found.")
}

// MethodNotAllowed is the router's MethodNotAllowed handler.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	Write(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.")
}
