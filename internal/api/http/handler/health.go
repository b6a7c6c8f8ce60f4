package handler

import (
	"net/http"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/EternisAI/provider-ca/internal/health"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker *health.Checker
}

func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	if h.checker == nil {
		ctx.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
		return
	}
	if err := h.checker.Check(ctx.Request.Context()); err != nil {
		ctx.JSON(http.StatusServiceUnavailable, dto.HealthResponse{Status: "unavailable", Error: "store unreachable"})
		return
	}
	ctx.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}
