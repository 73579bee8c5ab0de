package httpapi

import (
	"errors"
	"net/http"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorResponse тело ответа с ошибкой
type errorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Field   string   `json:"field,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

// statusFor HTTP-статус и код для ошибки ядра
func statusFor(err error) (int, errorResponse) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorResponse{Error: ve.Error(), Code: "validation", Field: ve.Field}
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "not found", Code: "not_found"}
	case errors.Is(err, model.ErrUnavailableSlot):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "unavailable_slot"}
	case errors.Is(err, model.ErrConcurrentUpdate):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "concurrent_update"}
	case errors.Is(err, model.ErrUnconfiguredCalendar):
		return http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: "unconfigured_calendar"}
	}

	if te, ok := model.AsInvalidTransition(err); ok {
		allowed := make([]string, 0, len(te.Allowed))
		for _, s := range te.Allowed {
			allowed = append(allowed, string(s))
		}
		return http.StatusConflict, errorResponse{Error: te.Error(), Code: "invalid_transition", Allowed: allowed}
	}

	return http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, field, reason string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
		Error: "validation: " + field + ": " + reason,
		Code:  "validation",
		Field: field,
	})
}
