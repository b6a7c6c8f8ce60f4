package handler

import (
	"net/http"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/EternisAI/provider-ca/internal/api/http/middleware"
	"github.com/EternisAI/provider-ca/internal/issuance"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/gin-gonic/gin"
)

type IssuanceHandler struct {
	service *issuance.Service
}

func NewIssuanceHandler(service *issuance.Service) *IssuanceHandler {
	return &IssuanceHandler{service: service}
}

func issueResponse(op *operation.Operation) dto.CertificateIssueResponse {
	resp := dto.CertificateIssueResponse{RequestID: op.ID, Status: string(op.State.Public())}
	if op.Result != nil {
		resp.CertificateID = op.Result.CertificateID
		resp.Serial = op.Result.Serial
		resp.Thumbprint = op.Result.Thumbprint
	}
	return resp
}

func (h *IssuanceHandler) Create(ctx *gin.Context) {
	var req dto.CertificateIssueRequest
	if err := bindJSON(ctx, &req); err != nil {
		writeError(ctx, err)
		return
	}

	op, err := h.service.Create(ctx.Request.Context(), middleware.Tenant(ctx), operation.Applicant{
		Login:              req.Login,
		CommonName:         req.CommonName,
		Email:              req.Email,
		Phone:              req.Phone,
		Organization:       req.Organization,
		OrganizationalUnit: req.OrganizationalUnit,
		Locality:           req.Locality,
		Country:            req.Country,
	})
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, issueResponse(op))
}

func (h *IssuanceHandler) Status(ctx *gin.Context) {
	op, err := h.service.GetStatus(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, issueResponse(op))
}

func (h *IssuanceHandler) Statement(ctx *gin.Context) {
	statement, err := h.service.Statement(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", `attachment; filename="statement-`+ctx.Param("id")+`.txt"`)
	ctx.Data(http.StatusOK, "text/plain; charset=utf-8", statement)
}

func (h *IssuanceHandler) ConfirmationRequest(ctx *gin.Context) {
	op, err := h.service.RequestConfirmation(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toConfirmationInfo(op))
}

func (h *IssuanceHandler) Confirm(ctx *gin.Context) {
	op, err := h.service.Confirm(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"), confirmationCode(ctx))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, issueResponse(op))
}

func (h *IssuanceHandler) Cancel(ctx *gin.Context) {
	op, err := h.service.Cancel(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, issueResponse(op))
}
