// Package tlsutil builds client TLS configurations from PEM files.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/batchsync/errors"
)

// ClientConfig describes the certificates a client presents and trusts
type ClientConfig struct {
	// CAFiles are trusted in addition to the system pool
	CAFiles []string
	// CertFile and KeyFile enable mutual TLS when both are set
	CertFile string
	KeyFile  string
	// MinVersion is "1.2" (default) or "1.3"
	MinVersion         string
	InsecureSkipVerify bool
}

// LoadClientTLSConfig creates a tls.Config for a client connection.
// It always starts from the system CA pool.
func LoadClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("cert file and key file must be set together"),
			"tlsutil", "LoadClientTLSConfig", "check client certificate")
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}

	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil",
				"LoadClientTLSConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile),
			)
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	// Operators opt into this explicitly for test clusters
	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

// ValidVersion reports whether version is accepted by LoadClientTLSConfig
func ValidVersion(version string) bool {
	switch version {
	case "", "1.2", "1.3":
		return true
	default:
		return false
	}
}

// parseTLSVersion converts version string to crypto/tls constant
// Returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
