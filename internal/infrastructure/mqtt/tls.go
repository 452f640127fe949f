package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// tlsMinVersion is the minimum TLS version for secure connections.
const tlsMinVersion = tls.VersionTLS12

// TransportConfig selects the trust anchors for broker connections.
type TransportConfig struct {
	// PinCA restricts trust to the certificates in CAFile. When false the
	// system trust store is used and CAFile is ignored.
	PinCA  bool
	CAFile string

	// ServerName overrides the name verified against the broker certificate.
	// Empty means the broker host from the address.
	ServerName string
}

// Transport holds an immutable TLS setup shared by every session.
//
// Thread Safety:
//   - Safe for concurrent use. TLSConfig hands out a fresh clone per call.
type Transport struct {
	base   *tls.Config
	pinned bool
}

// NewTransport builds the secure transport used for ssl:// brokers.
//
// With pinning off no file is read and the platform trust store applies.
// With pinning on every PEM block in cfg.CAFile must be a parseable
// certificate usable as a trust anchor; the resulting pool contains only
// those anchors.
//
// Returns:
//   - *Transport: Ready-to-use transport, nil on error
//   - error: ErrCertificateLoad or ErrTrustStore (wrapped)
func NewTransport(cfg TransportConfig) (*Transport, error) {
	base := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: cfg.ServerName,
	}

	if !cfg.PinCA {
		return &Transport{base: base}, nil
	}

	pool, err := loadTrustAnchors(cfg.CAFile)
	if err != nil {
		return nil, err
	}
	base.RootCAs = pool

	return &Transport{base: base, pinned: true}, nil
}

// loadTrustAnchors parses a PEM bundle into a fresh pool. The pool is only
// returned once every block has been accepted.
func loadTrustAnchors(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no CA file configured", ErrCertificateLoad)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrCertificateLoad, path, err)
	}

	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%w: %s: unexpected PEM block %q", ErrCertificateLoad, path, block.Type)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCertificateLoad, path, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: %s: no PEM certificates found", ErrCertificateLoad, path)
	}

	pool := x509.NewCertPool()
	for _, cert := range certs {
		// Explicit end-entity certificates cannot anchor a chain.
		if cert.BasicConstraintsValid && !cert.IsCA {
			return nil, fmt.Errorf("%w: %s: certificate %q is not a CA", ErrTrustStore, path, cert.Subject.CommonName)
		}
		pool.AddCert(cert)
	}

	return pool, nil
}

// TLSConfig returns a copy of the transport's TLS settings. Callers may
// modify the copy freely.
func (t *Transport) TLSConfig() *tls.Config {
	return t.base.Clone()
}

// Pinned reports whether trust is restricted to a configured CA bundle.
func (t *Transport) Pinned() bool {
	return t.pinned
}

// tlsConfigFor returns the per-connection config, defaulting ServerName to host.
func (t *Transport) tlsConfigFor(host string) *tls.Config {
	cfg := t.TLSConfig()
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}
