package handler

import (
	"net/http"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/EternisAI/provider-ca/internal/api/http/middleware"
	"github.com/EternisAI/provider-ca/internal/credential"
	"github.com/EternisAI/provider-ca/internal/issuance"
	"github.com/gin-gonic/gin"
)

type CertificateHandler struct {
	service *issuance.Service
}

func NewCertificateHandler(service *issuance.Service) *CertificateHandler {
	return &CertificateHandler{service: service}
}

func certificateInfo(c *credential.Certificate) dto.CertificateInfo {
	return dto.CertificateInfo{
		ID:               c.ID,
		Login:            c.Login,
		Serial:           c.Serial,
		Thumbprint:       c.Thumbprint,
		Subject:          c.Subject,
		Status:           string(c.Status),
		NotBefore:        c.NotBefore,
		NotAfter:         c.NotAfter,
		RevokedAt:        c.RevokedAt,
		RevocationReason: c.RevocationReason,
		Certificate:      c.PEM,
	}
}

func (h *CertificateHandler) Get(ctx *gin.Context) {
	c, err := h.service.Certificate(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, certificateInfo(c))
}

func (h *CertificateHandler) Revoke(ctx *gin.Context) {
	var req dto.RevocationRequest
	if err := bindJSON(ctx, &req); err != nil {
		writeError(ctx, err)
		return
	}
	c, err := h.service.Revoke(ctx.Request.Context(), middleware.Tenant(ctx), req.CertificateID, req.Reason)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, certificateInfo(c))
}
