package tests

import (
	"net/http"
	"testing"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIssueThenSign issues a certificate for a user and signs two documents with it.
func TestIssueThenSign(t *testing.T, router *gin.Engine) {
	issued := issue(t, router, "UserLogin")
	require.Equal(t, "Success", issued.Status)

	rr := doJSON(t, router, http.MethodPost, "/sign/start", Tenant, dto.SigningRequest{
		Login:                 "UserLogin",
		CertificateThumbprint: issued.Thumbprint,
		DataType:              "Hash",
		Documents: []dto.SigningDocument{
			{Name: "DocumentName1", Data: "Hash1"},
			{Name: "DocumentName2", Data: "Hash2"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	id := decode[dto.SigningStatusInfo](t, rr).OperationID

	t.Run("other tenant cannot see the operation", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodGet, "/sign/"+id+"/status", "tenant-other", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	rr = doJSON(t, router, http.MethodPost, "/sign/"+id+"/confirmation-request", Tenant, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	challenge := decode[dto.ConfirmationInfo](t, rr)

	rr = doJSON(t, router, http.MethodPost, "/sign/"+id+"/confirm", Tenant, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "UnconfirmedSigningStatusError", decode[dto.ErrorResponse](t, rr).Code)

	approveViaLink(t, router, challenge)
	rr = doJSON(t, router, http.MethodPost, "/sign/"+id+"/confirm", Tenant, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, router, http.MethodGet, "/sign/"+id+"/signs", Tenant, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	signs := decode[[]dto.SigningResult](t, rr)
	require.Len(t, signs, 2)
	assert.Equal(t, "DocumentName1", signs[0].DocumentName)
	assert.Equal(t, "DocumentName2", signs[1].DocumentName)
}
