package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/EternisAI/provider-ca/internal/api/http/middleware"
	"github.com/EternisAI/provider-ca/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// writeError is the single place where errors become HTTP responses.
func writeError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	if appErr.Status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"error", err,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"tenant", middleware.Tenant(c))
	} else {
		slog.Debug("Request rejected", "code", appErr.Code, "message", appErr.Message, "path", c.Request.URL.Path)
	}

	resp := dto.ErrorResponse{Code: appErr.Code, Message: appErr.Message}
	for _, d := range appErr.Details {
		resp.Details = append(resp.Details, dto.ErrorDetail{Field: d.Field, Message: d.Message})
	}
	c.AbortWithStatusJSON(appErr.Status, resp)
}

// Recovery turns panics into the generic internal error body.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		writeError(c, fmt.Errorf("panic: %v", recovered))
	})
}

// NoRoute answers unknown paths with the NotFoundError body.
func NoRoute(c *gin.Context) {
	writeError(c, apperr.NotFound("Resource not found."))
}

// bindJSON decodes the body into obj and converts binding failures into a
// ValidationError with one detail per invalid field.
func bindJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("Request body is not valid JSON.").Wrap(err)
	}
	details := make([]apperr.Detail, 0, len(verrs))
	for _, fe := range verrs {
		field := fieldName(fe)
		details = append(details, apperr.Detail{Field: field, Message: fieldMessage(field, fe)})
	}
	return apperr.Validation("Request validation failed.", details...)
}

// fieldName drops the struct name from the namespace: SigningRequest.Documents[1].Data
// becomes Documents[1].Data.
func fieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", field)
	case "min":
		return fmt.Sprintf("The %s field must contain at least %s item(s).", field, fe.Param())
	case "len":
		return fmt.Sprintf("The %s field must be exactly %s characters long.", field, fe.Param())
	case "email":
		return fmt.Sprintf("The %s field is not a valid email address.", field)
	case "alpha":
		return fmt.Sprintf("The %s field must contain letters only.", field)
	default:
		return fmt.Sprintf("The %s field is invalid.", field)
	}
}
