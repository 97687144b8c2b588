// Package apierr defines the JSON error body shared by the REST API and the
// websocket gateway.
//
// Handlers log and respond; library packages only wrap and return errors.
package apierr

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ayusman/handsign/internal/logger"
)

// Error codes.
const (
	CodeBadRequest         = "bad_request"
	CodeValidation         = "validation_error"
	CodeUnauthorized       = "unauthorized"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeServerError        = "server_error"
	CodeServiceUnavailable = "service_unavailable"
	CodeDecodeError        = "decode_error"
	CodeTooManyRequests    = "too_many_requests"
)

// Response is the error body.
type Response struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// New builds a Response, sanitising err into Details.
func New(code, message string, err error) Response {
	return Response{Error: code, Message: message, Details: Sanitize(err)}
}

// BadRequest writes a 400.
func BadRequest(c *gin.Context, message string, err error) {
	if message == "" {
		message = "invalid request"
	}
	c.JSON(http.StatusBadRequest, New(CodeBadRequest, message, err))
}

// Validation writes a 400 for field validation failures.
func Validation(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Error: CodeValidation, Message: message})
}

// Unauthorized writes a 401.
func Unauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "authentication required"
	}
	c.JSON(http.StatusUnauthorized, Response{Error: CodeUnauthorized, Message: message})
}

// NotFound writes a 404 for the named resource.
func NotFound(c *gin.Context, resource string) {
	message := "resource not found"
	if resource != "" {
		message = resource + " not found"
	}
	c.JSON(http.StatusNotFound, Response{Error: CodeNotFound, Message: message})
}

// Conflict writes a 409.
func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{Error: CodeConflict, Message: message})
}

// ServiceUnavailable writes a 503 and logs err.
func ServiceUnavailable(c *gin.Context, message string, err error) {
	logger.ErrorErr(err, message, "path", c.Request.URL.Path, "method", c.Request.Method)
	c.JSON(http.StatusServiceUnavailable, New(CodeServiceUnavailable, message, err))
}

// Internal writes a 500 and logs err.
func Internal(c *gin.Context, message string, err error) {
	if message == "" {
		message = "an error occurred"
	}
	logger.ErrorErr(err, message, "path", c.Request.URL.Path, "method", c.Request.Method)
	c.JSON(http.StatusInternalServerError, New(CodeServerError, message, err))
}

// Sanitize hides error internals in production.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if os.Getenv("ENVIRONMENT") != "production" {
		return msg
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "sql"), strings.Contains(lower, "database"), strings.Contains(lower, "redis"):
		return "database operation failed"
	case strings.Contains(lower, "connection"), strings.Contains(lower, "dial"):
		return "connection error occurred"
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline"):
		return "request timed out"
	case strings.Contains(lower, "not found"):
		return "resource not found"
	default:
		return "an error occurred"
	}
}
