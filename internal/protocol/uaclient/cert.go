package uaclient

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// keyPair is the client application instance certificate.
type keyPair struct {
	certDER []byte
	key     *rsa.PrivateKey
	subject string
}

// loadOrCreateKeyPair loads the PEM pair, creating a self-signed one when
// neither file exists yet.
func loadOrCreateKeyPair(certFile, keyFile, appName, appURI string) (*keyPair, bool, error) {
	_, certErr := os.Stat(certFile)
	_, keyErr := os.Stat(keyFile)

	switch {
	case certErr == nil && keyErr == nil:
		kp, err := loadKeyPair(certFile, keyFile)
		return kp, false, err
	case errors.Is(certErr, os.ErrNotExist) && errors.Is(keyErr, os.ErrNotExist):
		kp, err := createKeyPair(certFile, keyFile, appName, appURI)
		return kp, true, err
	default:
		return nil, false, fmt.Errorf("uaclient: certificate %s and key %s must both exist or both be absent", certFile, keyFile)
	}
}

func loadKeyPair(certFile, keyFile string) (*keyPair, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("uaclient: load key pair: %w", err)
	}
	key, ok := pair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("uaclient: private key must be RSA")
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("uaclient: parse certificate: %w", err)
	}
	return &keyPair{certDER: pair.Certificate[0], key: key, subject: leaf.Subject.String()}, nil
}

func createKeyPair(certFile, keyFile, appName, appURI string) (*keyPair, error) {
	der, key, err := selfSigned(appName, appURI, time.Now())
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{filepath.Dir(certFile), filepath.Dir(keyFile)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("uaclient: create pki dir: %w", err)
		}
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("uaclient: write certificate: %w", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("uaclient: write key: %w", err)
	}

	leaf, _ := x509.ParseCertificate(der)
	return &keyPair{certDER: der, key: key, subject: leaf.Subject.String()}, nil
}

// selfSigned builds an application instance certificate carrying the
// application URI as a SAN, as OPC UA servers require.
func selfSigned(appName, appURI string, now time.Time) ([]byte, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("uaclient: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("uaclient: serial: %w", err)
	}

	host, _ := os.Hostname()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   appName,
			Organization: []string{"opcuac"},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(5, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if host != "" {
		tmpl.DNSNames = []string{host}
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	}
	if u, err := url.Parse(appURI); err == nil && appURI != "" {
		tmpl.URIs = []*url.URL{u}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("uaclient: create certificate: %w", err)
	}
	return der, key, nil
}
