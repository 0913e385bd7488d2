package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prismon/photo-library/pkg/liberr"
)

// errBadRequest marks request decoding failures
var errBadRequest = errors.New("bad request")

// statusFor maps engine error kinds to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, liberr.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, liberr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, liberr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, liberr.ErrPolicyRejected):
		return http.StatusForbidden
	case errors.Is(err, liberr.ErrExternal):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// bindJSON decodes the body and reports failures as bad requests
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, errors.Join(errBadRequest, err))
		return false
	}
	return true
}
