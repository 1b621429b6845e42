package uaclient

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ErrUntrusted is returned when a server certificate is rejected.
var ErrUntrusted = errors.New("uaclient: server certificate not trusted")

// trustPolicy decides whether a server certificate is accepted.
type trustPolicy struct {
	autoAccept bool
	trustedDir string
	log        zerolog.Logger
}

// check accepts der when auto-accept is on or when an identical certificate
// is present in the trusted directory.
func (p trustPolicy) check(der []byte) error {
	subject := "<unparsable>"
	if c, err := x509.ParseCertificate(der); err == nil {
		subject = c.Subject.String()
	}

	trusted, err := p.inTrustedDir(der)
	if err != nil {
		p.log.Warn().Err(err).Msg("reading trusted certificates")
	}

	if trusted || p.autoAccept {
		p.log.Info().Str("subject", subject).Bool("auto", !trusted).Msg("Accepted Certificate")
		return nil
	}

	p.log.Warn().Str("subject", subject).Msg("Rejected Certificate")
	return fmt.Errorf("%w: %s", ErrUntrusted, subject)
}

func (p trustPolicy) inTrustedDir(der []byte) (bool, error) {
	if p.trustedDir == "" {
		return false, nil
	}
	entries, err := os.ReadDir(p.trustedDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(p.trustedDir, e.Name()))
		if err != nil {
			continue
		}
		if b, _ := pem.Decode(raw); b != nil {
			raw = b.Bytes
		}
		if bytes.Equal(raw, der) {
			return true, nil
		}
	}
	return false, nil
}
