package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/EternisAI/provider-ca/internal/apperr"
	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/gin-gonic/gin"
)

// Approver records on the operation that the end user approved it out of band.
type Approver interface {
	Approve(ctx context.Context, tenant, operationID string) (*operation.Operation, error)
}

func toConfirmationInfo(op *operation.Operation) dto.ConfirmationInfo {
	info := dto.ConfirmationInfo{
		OperationID:      op.ID,
		ConfirmationType: dto.ConfirmationTypeExternalApp,
		ConfirmationData: []dto.ConfirmationData{},
	}
	if op.Challenge == nil {
		return info
	}
	if op.Challenge.HasCode() {
		info.ConfirmationType = dto.ConfirmationTypeCode
	}
	for _, p := range op.Challenge.Presentations {
		info.ConfirmationData = append(info.ConfirmationData, dto.ConfirmationData{Type: string(p.Type), Data: p.Data})
	}
	info.ExpiresAt = op.Challenge.ExpiresAt.UTC().Format(time.RFC3339)
	return info
}

// confirmationCode reads the code from either supported query parameter.
func confirmationCode(c *gin.Context) string {
	if code := c.Query("confirmationCode"); code != "" {
		return code
	}
	return c.Query("code")
}

// ConfirmationHandler serves the link embedded in Link and QrCode challenges.
type ConfirmationHandler struct {
	challenges *confirmation.Manager
	approver   Approver
}

func NewConfirmationHandler(challenges *confirmation.Manager, approver Approver) *ConfirmationHandler {
	return &ConfirmationHandler{challenges: challenges, approver: approver}
}

func (h *ConfirmationHandler) Approve(ctx *gin.Context) {
	id := ctx.Param("id")
	tenant := ctx.Query("tenant")
	if tenant == "" || !h.challenges.VerifyLinkToken(tenant, id, ctx.Query("token")) {
		writeError(ctx, apperr.NotFound("Confirmation not found."))
		return
	}
	op, err := h.approver.Approve(ctx.Request.Context(), tenant, id)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.ApprovalResponse{OperationID: op.ID, Approved: true})
}
