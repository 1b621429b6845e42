package uaclient

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPair_CreatedThenLoaded(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "pki", "own", "cert.pem")
	keyFile := filepath.Join(dir, "pki", "own", "key.pem")

	kp, created, err := loadOrCreateKeyPair(certFile, keyFile, "UA Core Sample Client", "urn:opcuac:client")
	require.NoError(t, err)
	assert.True(t, created)

	leaf, err := x509.ParseCertificate(kp.certDER)
	require.NoError(t, err)
	require.Len(t, leaf.URIs, 1)
	assert.Equal(t, "urn:opcuac:client", leaf.URIs[0].String())
	assert.Equal(t, "UA Core Sample Client", leaf.Subject.CommonName)

	again, created, err := loadOrCreateKeyPair(certFile, keyFile, "ignored", "ignored")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, kp.certDER, again.certDER)
}

func TestKeyPair_HalfPresentFails(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(certFile, []byte("x"), 0o644))

	_, _, err := loadOrCreateKeyPair(certFile, filepath.Join(dir, "key.pem"), "a", "")
	assert.Error(t, err)
}
