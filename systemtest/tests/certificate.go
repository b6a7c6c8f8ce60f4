package tests

import (
	"net/http"
	"testing"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevoke(t *testing.T, router *gin.Engine) {
	issued := issue(t, router, "RevokedUser")

	rr := doJSON(t, router, http.MethodPost, "/certificate/revoke", Tenant, dto.RevocationRequest{
		CertificateID: issued.CertificateID,
		Reason:        "keyCompromise",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, router, http.MethodGet, "/certificate/"+issued.CertificateID, Tenant, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "revoked", decode[dto.CertificateInfo](t, rr).Status)

	rr = doJSON(t, router, http.MethodPost, "/sign/start", Tenant, dto.SigningRequest{
		Login:                 "RevokedUser",
		CertificateThumbprint: issued.Thumbprint,
		Documents:             []dto.SigningDocument{{Name: "Doc", Data: "Hash"}},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decode[dto.ErrorResponse](t, rr)
	assert.Equal(t, "ValidationError", resp.Code)
	assert.Equal(t, "CertificateThumbprint", resp.Details[0].Field)
}
