// Package credentials loads the TLS material of the gRPC service.
//
// With no files configured the service runs without transport
// security. Otherwise the server certificate and key are both required;
// the CA bundle, when given, is used to verify client certificates. The
// server key may be stored encrypted with age, in which case
// KeyIdentityFile names the age identity that decrypts it.
package credentials

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"filippo.io/age"
	"google.golang.org/grpc"
	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Options names the credential files.
type Options struct {
	CACertFile      string
	ServerCertFile  string
	ServerKeyFile   string
	KeyIdentityFile string
}

func (o Options) empty() bool {
	return o == Options{}
}

// ErrIncomplete is returned when only part of the TLS material is set.
var ErrIncomplete = errors.New("incomplete TLS configuration")

// Manager holds the server's transport credentials.
type Manager struct {
	tls *tls.Config
}

// New loads the material named by opts.
func New(opts Options, logger *slog.Logger) (*Manager, error) {
	logger = logger.With("component", "credentials")

	if opts.empty() {
		logger.Warn("no TLS material configured, serving without transport security")
		return &Manager{}, nil
	}
	if opts.ServerCertFile == "" || opts.ServerKeyFile == "" {
		return nil, fmt.Errorf("%w: server certificate and key are both required", ErrIncomplete)
	}

	certPEM, err := os.ReadFile(opts.ServerCertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read server certificate: %w", err)
	}
	keyPEM, err := readKey(opts.ServerKeyFile, opts.KeyIdentityFile)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load server key pair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if opts.CACertFile != "" {
		caPEM, err := os.ReadFile(opts.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CACertFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}

	logger.Info("TLS credentials loaded",
		"cert", opts.ServerCertFile,
		"client_ca", opts.CACertFile,
		"encrypted_key", opts.KeyIdentityFile != "")
	return &Manager{tls: cfg}, nil
}

// readKey returns the PEM server key, decrypting it with the age
// identity in identityFile when one is given.
func readKey(keyFile, identityFile string) ([]byte, error) {
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read server key: %w", err)
	}
	if identityFile == "" {
		return raw, nil
	}

	idf, err := os.Open(identityFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open key identity: %w", err)
	}
	defer idf.Close()
	ids, err := age.ParseIdentities(idf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt server key: %w", err)
	}
	key, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt server key: %w", err)
	}
	return key, nil
}

// Secure reports whether TLS is in use.
func (m *Manager) Secure() bool { return m.tls != nil }

// TLSConfig returns a copy of the server TLS config, or nil when
// insecure.
func (m *Manager) TLSConfig() *tls.Config {
	if m.tls == nil {
		return nil
	}
	return m.tls.Clone()
}

// ServerOption returns the gRPC server option installing the transport
// credentials.
func (m *Manager) ServerOption() grpc.ServerOption {
	if m.tls == nil {
		return grpc.Creds(insecure.NewCredentials())
	}
	return grpc.Creds(grpccreds.NewTLS(m.tls.Clone()))
}
