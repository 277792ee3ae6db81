// Package security generates the self-signed certificate used by
// `threatscope serve --tls`.
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultValidity is how long a generated certificate stays valid.
	DefaultValidity = 365 * 24 * time.Hour
	keyBits         = 2048
	organization    = "ThreatScope Dev"
)

// Bundle holds a generated certificate, its key, a pool that trusts it and
// the pair ready for a tls.Config.
type Bundle struct {
	Cert       *x509.Certificate
	PrivateKey *rsa.PrivateKey
	CertPool   *x509.CertPool
	Pair       tls.Certificate
}

// NewSelfSigned creates a self-signed server certificate for hosts. Entries
// that parse as IP addresses go in the IP SANs, the rest in the DNS SANs.
func NewSelfSigned(hosts []string, validFor time.Duration) (*Bundle, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("at least one host is required")
	}
	if validFor <= 0 {
		validFor = DefaultValidity
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   hosts[0],
		},
		NotBefore: now.Add(-time.Minute),
		NotAfter:  now.Add(validFor),

		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	// Template and parent are the same: the certificate signs itself.
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(cert)

	return &Bundle{
		Cert:       cert,
		PrivateKey: privateKey,
		CertPool:   certPool,
		Pair: tls.Certificate{
			Certificate: [][]byte{derBytes},
			PrivateKey:  privateKey,
			Leaf:        cert,
		},
	}, nil
}

// ServerTLSConfig returns a TLS 1.2+ server configuration presenting the bundle.
func (b *Bundle) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{b.Pair},
	}
}

// WritePEM writes the certificate and key. The key file is created 0600.
func (b *Bundle) WritePEM(certPath, keyPath string) error {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b.Cert.Raw})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(b.PrivateKey)})

	for _, f := range []struct {
		path string
		data []byte
		mode os.FileMode
	}{
		{certPath, certPEM, 0o644},
		{keyPath, keyPEM, 0o600},
	} {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", f.path, err)
		}
		if err := os.WriteFile(f.path, f.data, f.mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.path, err)
		}
	}
	return nil
}

// HostsForAddr lists the names a certificate for listen address addr should
// cover: the bound host, if any, plus the loopback names.
func HostsForAddr(addr string) []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		return hosts
	}
	for _, h := range hosts {
		if h == host {
			return hosts
		}
	}
	return append([]string{host}, hosts...)
}
