package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/denniswebb/natgate/internal/gateway"
)

var (
	ErrInvalid  = &Error{statusCode: http.StatusBadRequest, Code: ErrCodeInvalid, Msg: "object invalid"}
	ErrNotFound = &Error{statusCode: http.StatusBadRequest, Code: ErrCodeNotFound, Msg: "object not found"}
	ErrFailed   = &Error{statusCode: http.StatusInternalServerError, Code: ErrCodeFailed, Msg: "operation failed"}
)

const (
	ErrCodeInvalid  = 40001
	ErrCodeFailed   = 40003
	ErrCodeNotFound = 40004
)

// Error is an api error.
type Error struct {
	statusCode int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func NewError(status, code int, msg string) error {
	return &Error{
		statusCode: status,
		Code:       code,
		Msg:        msg,
	}
}

func (e *Error) Error() string {
	b, _ := json.Marshal(e)
	return string(b)
}

func writeError(c *gin.Context, err error) {
	c.JSON(getStatusCode(err), err)
}

func getStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if e, ok := err.(*Error); ok {
		if e.statusCode >= http.StatusOK && e.statusCode < 600 {
			return e.statusCode
		}
	}
	return http.StatusInternalServerError
}

// fromGatewayError maps a gateway failure onto the api error carrying its detail.
func fromGatewayError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrRouteNotFound):
		return NewError(ErrNotFound.statusCode, ErrCodeNotFound, err.Error())
	case errors.Is(err, gateway.ErrInvalidRequest), errors.Is(err, gateway.ErrAuditUnavailable):
		return NewError(ErrInvalid.statusCode, ErrCodeInvalid, err.Error())
	default:
		return NewError(ErrFailed.statusCode, ErrCodeFailed, err.Error())
	}
}
