package handler

import (
	"net/http"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/EternisAI/provider-ca/internal/api/http/middleware"
	"github.com/gin-gonic/gin"
)

type SystemHandler struct {
	version string
}

func NewSystemHandler(version string) *SystemHandler {
	return &SystemHandler{version: version}
}

func (h *SystemHandler) Version(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, dto.VersionResponse{Version: h.version})
}

// CheckTrust lets a caller verify that its token issuer is trusted.
func (h *SystemHandler) CheckTrust(ctx *gin.Context) {
	resp := dto.TrustResponse{Tenant: middleware.Tenant(ctx)}
	if p := middleware.Principal(ctx); p != nil {
		resp.Subject = p.Subject
	}
	ctx.JSON(http.StatusOK, resp)
}
