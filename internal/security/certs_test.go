package security

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelfSigned(t *testing.T) {
	b, err := NewSelfSigned([]string{"scan.local", "127.0.0.1"}, time.Hour)
	require.NoError(t, err, "NewSelfSigned should not return an error")

	// -- Basic sanity checks --
	require.NotNil(t, b.Cert)
	assert.NotNil(t, b.PrivateKey)
	assert.NotNil(t, b.CertPool)
	assert.Contains(t, b.Cert.Subject.Organization, organization)
	assert.Equal(t, "scan.local", b.Cert.Subject.CommonName)
	assert.Equal(t, []string{"scan.local"}, b.Cert.DNSNames)
	require.Len(t, b.Cert.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", b.Cert.IPAddresses[0].String())
	assert.WithinDuration(t, time.Now().Add(time.Hour), b.Cert.NotAfter, time.Minute)

	// -- The certificate signs itself --
	err = b.Cert.CheckSignature(b.Cert.SignatureAlgorithm, b.Cert.RawTBSCertificate, b.Cert.Signature)
	assert.NoError(t, err)

	// -- The pool trusts it for each SAN --
	for _, name := range []string{"scan.local", "127.0.0.1"} {
		chains, err := b.Cert.Verify(x509.VerifyOptions{
			Roots:     b.CertPool,
			DNSName:   name,
			KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		})
		assert.NoError(t, err, name)
		assert.Len(t, chains, 1)
	}

	_, err = b.Cert.Verify(x509.VerifyOptions{Roots: b.CertPool, DNSName: "other.local"})
	assert.Error(t, err, "names outside the SANs must not verify")

	cfg := b.ServerTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.Len(t, cfg.Certificates, 1)
}

func TestNewSelfSigned_RequiresHost(t *testing.T) {
	_, err := NewSelfSigned(nil, time.Hour)
	assert.Error(t, err)
}

func TestWritePEM(t *testing.T) {
	b, err := NewSelfSigned([]string{"localhost"}, 0)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "tls")
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, b.WritePEM(certPath, keyPath))

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err, "written files must load as a key pair")
	assert.Len(t, pair.Certificate, 1)

	raw, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE", block.Type)
}

func TestHostsForAddr(t *testing.T) {
	loopback := []string{"localhost", "127.0.0.1", "::1"}
	tests := []struct {
		addr string
		want []string
	}{
		{"127.0.0.1:8000", loopback},
		{":8443", loopback},
		{"0.0.0.0:8443", loopback},
		{"bogus", loopback},
		{"10.1.2.3:8443", append([]string{"10.1.2.3"}, loopback...)},
		{"scan.internal:443", append([]string{"scan.internal"}, loopback...)},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, HostsForAddr(tc.addr), tc.addr)
	}
}
