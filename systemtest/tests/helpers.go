package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/EternisAI/provider-ca/internal/api/http/dto"
	"github.com/EternisAI/provider-ca/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	Issuer   = "https://directum.systemtest"
	Audience = "provider-ca"
	Key      = "system-test-shared-secret-0123456789"
	Tenant   = "tenant-system"
)

func bearer(t *testing.T, tenant string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "systemtest",
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Tenant: tenant,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(Key))
	require.NoError(t, err)
	return "Bearer " + s
}

func doJSON(t *testing.T, router *gin.Engine, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("Authorization", bearer(t, tenant))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// approveViaLink opens the confirmation link the way the remote app does.
func approveViaLink(t *testing.T, router *gin.Engine, info dto.ConfirmationInfo) {
	t.Helper()
	for _, d := range info.ConfirmationData {
		if d.Type != "Link" {
			continue
		}
		u, err := url.Parse(d.Data)
		require.NoError(t, err)
		rr := doJSON(t, router, http.MethodGet, u.RequestURI(), "", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		return
	}
	t.Fatal("no link presentation in challenge")
}

// issue runs an issuance to completion and returns the issued certificate.
func issue(t *testing.T, router *gin.Engine, login string) dto.CertificateIssueResponse {
	t.Helper()
	rr := doJSON(t, router, http.MethodPost, "/certificate-issues/create", Tenant, dto.CertificateIssueRequest{
		Login:      login,
		CommonName: login,
		Country:    "RU",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	id := decode[dto.CertificateIssueResponse](t, rr).RequestID

	rr = doJSON(t, router, http.MethodPost, "/certificate-issues/"+id+"/confirmation-request", Tenant, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	approveViaLink(t, router, decode[dto.ConfirmationInfo](t, rr))

	rr = doJSON(t, router, http.MethodPost, "/certificate-issues/"+id+"/confirm", Tenant, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[dto.CertificateIssueResponse](t, rr)
}
