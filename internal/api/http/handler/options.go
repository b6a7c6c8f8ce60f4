package handler

import (
	"errors"
	"net/http"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/EternisAI/provider-ca/internal/api/http/middleware"
	"github.com/EternisAI/provider-ca/internal/apperr"
	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/gin-gonic/gin"
)

// OptionsHandler manages which confirmation presentations a tenant or user gets.
type OptionsHandler struct {
	resolver *confirmation.Resolver
}

func NewOptionsHandler(resolver *confirmation.Resolver) *OptionsHandler {
	return &OptionsHandler{resolver: resolver}
}

func toOption(p operation.ConfirmationPolicy) dto.ConfirmationOption {
	opt := dto.ConfirmationOption{Presentations: []string{}, RequireCode: p.RequireCode}
	for _, t := range p.Presentations {
		opt.Presentations = append(opt.Presentations, string(t))
	}
	return opt
}

func (h *OptionsHandler) fromOption(opt dto.ConfirmationOption) (operation.ConfirmationPolicy, error) {
	p := operation.ConfirmationPolicy{RequireCode: opt.RequireCode}
	for _, t := range opt.Presentations {
		p.Presentations = append(p.Presentations, operation.PresentationType(t))
	}
	if err := h.resolver.Validate(p); err != nil {
		field := "Presentations"
		if errors.Is(err, confirmation.ErrCodeDeliveryUnavailable) {
			field = "RequireCode"
		}
		return p, apperr.Validation("Request validation failed.", apperr.Detail{Field: field, Message: err.Error()})
	}
	return p, nil
}

func (h *OptionsHandler) Supported(ctx *gin.Context) {
	resp := dto.SupportedOptionsResponse{}
	for _, t := range confirmation.SupportedPresentations {
		resp.Presentations = append(resp.Presentations, string(t))
	}
	ctx.JSON(http.StatusOK, resp)
}

func (h *OptionsHandler) TenantDefault(ctx *gin.Context) {
	p, err := h.resolver.TenantDefault(ctx.Request.Context(), middleware.Tenant(ctx))
	if err != nil {
		writeError(ctx, apperr.Internal(err))
		return
	}
	ctx.JSON(http.StatusOK, toOption(p))
}

func (h *OptionsHandler) UserDefault(ctx *gin.Context) {
	p, err := h.resolver.Resolve(ctx.Request.Context(), middleware.Tenant(ctx), ctx.Param("login"))
	if err != nil {
		writeError(ctx, apperr.Internal(err))
		return
	}
	ctx.JSON(http.StatusOK, toOption(p))
}

func (h *OptionsHandler) SetForTenant(ctx *gin.Context) {
	h.set(ctx, "")
}

func (h *OptionsHandler) SetForUser(ctx *gin.Context) {
	h.set(ctx, ctx.Param("login"))
}

func (h *OptionsHandler) set(ctx *gin.Context, login string) {
	var req dto.ConfirmationOption
	if err := bindJSON(ctx, &req); err != nil {
		writeError(ctx, err)
		return
	}
	p, err := h.fromOption(req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if err := h.resolver.Set(ctx.Request.Context(), middleware.Tenant(ctx), login, p); err != nil {
		writeError(ctx, apperr.Internal(err))
		return
	}
	ctx.JSON(http.StatusOK, toOption(p))
}
