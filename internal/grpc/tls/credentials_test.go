package tls

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/EternisAI/provider-ca/internal/cert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientAuthType(t *testing.T) {
	tests := map[string]tls.ClientAuthType{
		"":        tls.NoClientCert,
		"none":    tls.NoClientCert,
		"request": tls.RequestClientCert,
		"verify":  tls.VerifyClientCertIfGiven,
		"require": tls.RequireAndVerifyClientCert,
	}
	for in, want := range tests {
		got, err := ParseClientAuthType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseClientAuthType("always")
	assert.Error(t, err)
}

func TestLoadCredentials(t *testing.T) {
	ca, err := cert.New(cert.Config{Dir: t.TempDir(), KeyBits: 2048})
	require.NoError(t, err)

	_, err = LoadServerCredentials(ca.ServerCertPath, ca.ServerKeyPath, "", tls.NoClientCert)
	assert.NoError(t, err)

	_, err = LoadServerCredentials(ca.ServerCertPath, ca.ServerKeyPath, "", tls.RequireAndVerifyClientCert)
	assert.Error(t, err)

	_, err = LoadServerCredentials(ca.ServerCertPath, ca.ServerKeyPath, ca.ServerKeyPath, tls.RequireAndVerifyClientCert)
	assert.Error(t, err)

	_, err = LoadClientCredentials("", "", ca.CACertPath, "localhost")
	assert.NoError(t, err)

	_, err = LoadClientCredentials(filepath.Join(t.TempDir(), "missing.crt"), "", ca.CACertPath, "localhost")
	assert.Error(t, err)
}
