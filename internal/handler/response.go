package handler

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain"
)

// Response is the uniform JSON envelope of the API.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SuccessResponse returns a successful response
func SuccessResponse(c *app.RequestContext, data interface{}) {
	c.JSON(consts.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// CreatedResponse returns a created response
func CreatedResponse(c *app.RequestContext, data interface{}) {
	c.JSON(consts.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// ErrorResponse returns an error response mapped from the error type
func ErrorResponse(c *app.RequestContext, err error) {
	// User-facing message, internal details stay in the logs
	getUserMessage := func(err error) string {
		if domainErr, ok := err.(*domain.DomainError); ok {
			return domainErr.UserMessage()
		}
		return "an error occurred"
	}

	switch {
	case domain.IsNotFound(err):
		c.JSON(consts.StatusNotFound, Response{Error: getUserMessage(err)})
	case domain.IsAlreadyExists(err):
		c.JSON(consts.StatusConflict, Response{Error: getUserMessage(err)})
	case domain.IsInvalidInput(err):
		c.JSON(consts.StatusBadRequest, Response{Error: getUserMessage(err)})
	case domain.IsConflict(err):
		c.JSON(consts.StatusConflict, Response{Error: getUserMessage(err)})
	case domain.IsForbidden(err):
		c.JSON(consts.StatusForbidden, Response{Error: getUserMessage(err)})
	case domain.IsUnauthorized(err):
		c.JSON(consts.StatusUnauthorized, Response{Error: "unauthorized"})
	default:
		// Internal error: expose nothing
		c.JSON(consts.StatusInternalServerError, Response{Error: "internal server error"})
	}
}

// BadRequestResponse returns a bad request response
func BadRequestResponse(c *app.RequestContext, message string) {
	c.JSON(consts.StatusBadRequest, Response{Error: message})
}
