package handler

import (
	"net/http"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/EternisAI/provider-ca/internal/api/http/middleware"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/EternisAI/provider-ca/internal/signing"
	"github.com/gin-gonic/gin"
)

type SignHandler struct {
	service *signing.Service
}

func NewSignHandler(service *signing.Service) *SignHandler {
	return &SignHandler{service: service}
}

func signingStatus(op *operation.Operation) dto.SigningStatusInfo {
	return dto.SigningStatusInfo{OperationID: op.ID, Status: string(op.State.Public())}
}

func (h *SignHandler) Start(ctx *gin.Context) {
	var req dto.SigningRequest
	if err := bindJSON(ctx, &req); err != nil {
		writeError(ctx, err)
		return
	}

	docs := make([]signing.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = signing.Document{Name: d.Name, Data: d.Data}
	}
	op, err := h.service.Start(ctx.Request.Context(), middleware.Tenant(ctx), signing.Request{
		Login:                 req.Login,
		CertificateThumbprint: req.CertificateThumbprint,
		DataType:              req.DataType,
		Documents:             docs,
	})
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, signingStatus(op))
}

func (h *SignHandler) Status(ctx *gin.Context) {
	op, err := h.service.GetStatus(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, signingStatus(op))
}

func (h *SignHandler) ConfirmationRequest(ctx *gin.Context) {
	op, err := h.service.RequestConfirmation(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toConfirmationInfo(op))
}

func (h *SignHandler) Confirm(ctx *gin.Context) {
	op, err := h.service.Confirm(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"), confirmationCode(ctx))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, signingStatus(op))
}

func (h *SignHandler) Signs(ctx *gin.Context) {
	signs, err := h.service.GetSigns(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	resp := make([]dto.SigningResult, len(signs))
	for i, s := range signs {
		resp[i] = dto.SigningResult{DocumentName: s.DocumentName, Signature: s.Signature}
	}
	ctx.JSON(http.StatusOK, resp)
}

func (h *SignHandler) Cancel(ctx *gin.Context) {
	op, err := h.service.Cancel(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, signingStatus(op))
}
