package uaclient

import (
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverCert(t *testing.T) []byte {
	t.Helper()
	der, _, err := selfSigned("Test Server", "urn:test:server", time.Now())
	require.NoError(t, err)
	return der
}

func TestTrust_RejectsUnknownWithoutAutoAccept(t *testing.T) {
	p := trustPolicy{log: zerolog.Nop()}
	assert.ErrorIs(t, p.check(serverCert(t)), ErrUntrusted)
}

func TestTrust_AutoAccept(t *testing.T) {
	p := trustPolicy{autoAccept: true, log: zerolog.Nop()}
	assert.NoError(t, p.check(serverCert(t)))
}

func TestTrust_TrustedDirPEM(t *testing.T) {
	der := serverCert(t)
	dir := t.TempDir()
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.pem"), pemBytes, 0o644))

	p := trustPolicy{trustedDir: dir, log: zerolog.Nop()}
	assert.NoError(t, p.check(der))
	assert.ErrorIs(t, p.check(serverCert(t)), ErrUntrusted)
}

func TestTrust_MissingDirIsNotAnError(t *testing.T) {
	p := trustPolicy{trustedDir: filepath.Join(t.TempDir(), "nope"), log: zerolog.Nop()}
	assert.ErrorIs(t, p.check(serverCert(t)), ErrUntrusted)
}
