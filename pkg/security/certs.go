package security

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/dynadns/pkg/log"
)

const (
	// Certificate rotation threshold: rotate when less than 30 days remaining
	certRotationThreshold = 30 * 24 * time.Hour

	// CACertFile is the file clients pin to trust the API.
	CACertFile = "ca.crt"

	caKeyFile      = "ca.key"
	serverCertFile = "server.crt"
	serverKeyFile  = "server.key"
)

// LoadOrCreateCA reads the authority from dir, creating and saving a new one
// if dir holds none.
func LoadOrCreateCA(dir string) (*CertAuthority, error) {
	cert, err := LoadCACertFromFile(dir)
	if err == nil {
		key, kerr := loadKey(filepath.Join(dir, caKeyFile))
		if kerr != nil {
			return nil, kerr
		}
		return &CertAuthority{rootCert: cert, rootKey: key}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	ca := NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		return nil, err
	}
	if err := SaveCACertToFile(ca.rootCert.Raw, dir); err != nil {
		return nil, err
	}
	if err := saveKey(ca.rootKey, filepath.Join(dir, caKeyFile)); err != nil {
		return nil, err
	}
	logger := log.WithComponent("security")
	logger.Info().Str("dir", dir).Msg("Created API certificate authority")
	return ca, nil
}

// ServerTLSConfig returns a TLS config for the API listeners. The server
// certificate in dir is reused until it nears expiry or no longer covers
// hosts, then reissued from the authority in the same directory.
func ServerTLSConfig(dir string, hosts []string) (*tls.Config, error) {
	ca, err := LoadOrCreateCA(dir)
	if err != nil {
		return nil, err
	}

	cert, err := LoadCertFromFile(dir)
	if err != nil || CertNeedsRotation(cert.Leaf) || !covers(cert.Leaf, hosts) || ca.VerifyCertificate(cert.Leaf) != nil {
		cert, err = ca.IssueServerCertificate(hosts)
		if err != nil {
			return nil, err
		}
		if err := SaveCertToFile(cert, dir); err != nil {
			return nil, err
		}
		logger := log.WithComponent("security")
		logger.Info().
			Strs("hosts", hosts).
			Time("expires", cert.Leaf.NotAfter).
			Msg("Issued API server certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLSConfig trusts only the CA certificate at caFile.
func ClientTLSConfig(caFile string) (*tls.Config, error) {
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificate found in %s", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// SaveCertToFile saves a TLS certificate to files (cert and key)
func SaveCertToFile(cert *tls.Certificate, certDir string) error {
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	if err := os.WriteFile(filepath.Join(certDir, serverCertFile), certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	key, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("private key is not ECDSA")
	}
	return saveKey(key, filepath.Join(certDir, serverKeyFile))
}

// LoadCertFromFile loads the server certificate with its Leaf populated.
func LoadCertFromFile(certDir string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(certDir, serverCertFile), filepath.Join(certDir, serverKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}

// SaveCACertToFile saves the CA certificate to a file
func SaveCACertToFile(caCert []byte, certDir string) error {
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caCert})
	if err := os.WriteFile(filepath.Join(certDir, CACertFile), caPEM, 0644); err != nil {
		return fmt.Errorf("failed to write CA certificate: %w", err)
	}
	return nil
}

// LoadCACertFromFile loads the CA certificate from a file. A missing file
// wraps os.ErrNotExist.
func LoadCACertFromFile(certDir string) (*x509.Certificate, error) {
	caPEM, err := os.ReadFile(filepath.Join(certDir, CACertFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	block, _ := pem.Decode(caPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode CA certificate PEM")
	}
	caCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	return caCert, nil
}

// CertNeedsRotation returns true if the certificate should be rotated
// This happens when less than 30 days remain until expiry
func CertNeedsRotation(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}
	return time.Until(cert.NotAfter) < certRotationThreshold
}

// ValidateCertChain validates that a certificate is signed by the CA
func ValidateCertChain(cert, ca *x509.Certificate) error {
	if cert == nil {
		return fmt.Errorf("certificate is nil")
	}
	if ca == nil {
		return fmt.Errorf("CA certificate is nil")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca)
	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

func covers(cert *x509.Certificate, hosts []string) bool {
	if cert == nil {
		return false
	}
	for _, h := range hosts {
		if h != "" && cert.VerifyHostname(h) != nil {
			return false
		}
	}
	return true
}

func saveKey(key *ecdsa.PrivateKey, path string) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

func loadKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := k.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not ECDSA")
	}
	return key, nil
}
