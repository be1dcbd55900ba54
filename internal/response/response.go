package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key the request id middleware writes.
const RequestIDKey = "request_id"

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// Success returns a success response
func Success(data interface{}) Response {
	return Response{
		Success: true,
		Message: "success",
		Data:    data,
	}
}

// Error returns an error response
func Error(message string) Response {
	return Response{
		Success: false,
		Message: message,
	}
}

// JSON sends a JSON response stamped with the request id
func JSON(c *gin.Context, statusCode int, response Response) {
	if response.RequestID == "" {
		response.RequestID = c.GetString(RequestIDKey)
	}
	c.JSON(statusCode, response)
}

// SuccessJSON sends a success JSON response
func SuccessJSON(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, Success(data))
}

// MessageJSON sends a success response with a custom message
func MessageJSON(c *gin.Context, statusCode int, message string, data interface{}) {
	JSON(c, statusCode, Response{Success: true, Message: message, Data: data})
}

// ErrorJSON sends an error JSON response
func ErrorJSON(c *gin.Context, statusCode int, message string) {
	JSON(c, statusCode, Error(message))
}

// AbortJSON sends an error response and stops the handler chain
func AbortJSON(c *gin.Context, statusCode int, message string) {
	ErrorJSON(c, statusCode, message)
	c.Abort()
}
