package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const selfSignedValidity = 365 * 24 * time.Hour

// Identity is the credential the server presents during the handshake.
type Identity struct {
	Certificate tls.Certificate
	Leaf        *x509.Certificate
	certPEM     []byte
}

// ServerIdentity loads the configured key pair, or generates a self-signed
// certificate for cfg.Hosts when no files are configured. Failures wrap
// ErrHandshake since the server cannot negotiate without a credential.
func ServerIdentity(cfg TLSConfig) (Identity, error) {
	if strings.TrimSpace(cfg.CertFile) != "" || strings.TrimSpace(cfg.KeyFile) != "" {
		return LoadIdentity(cfg.CertFile, cfg.KeyFile)
	}
	return NewSelfSignedIdentity(cfg.Hosts)
}

// NewSelfSignedIdentity creates an ECDSA P-256 certificate whose SANs cover
// hosts. IP literals become IP SANs, everything else a DNS SAN.
func NewSelfSignedIdentity(hosts []string) (Identity, error) {
	hosts = nonEmpty(hosts)
	if len(hosts) == 0 {
		return Identity{}, fmt.Errorf("%w: %w", ErrHandshake, ErrHostsRequired)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: generate key: %w", ErrHandshake, err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: serial: %w", ErrHandshake, err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hosts[0]},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(selfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: create certificate: %w", ErrHandshake, err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: parse certificate: %w", ErrHandshake, err)
	}
	return Identity{
		Certificate: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		},
		Leaf:    leaf,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}, nil
}

// LoadIdentity reads a PEM certificate chain and private key from disk.
func LoadIdentity(certFile, keyFile string) (Identity, error) {
	if strings.TrimSpace(certFile) == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrHandshake, ErrTLSCertFileRequired)
	}
	if strings.TrimSpace(keyFile) == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrHandshake, ErrTLSKeyFileRequired)
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: load key pair: %w", ErrHandshake, err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: parse certificate: %w", ErrHandshake, err)
	}
	cert.Leaf = leaf
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: read certificate: %w", ErrHandshake, err)
	}
	return Identity{Certificate: cert, Leaf: leaf, certPEM: certPEM}, nil
}

// CertPEM returns the PEM encoded certificate chain, suitable as a client CA file.
func (id Identity) CertPEM() []byte {
	out := make([]byte, len(id.certPEM))
	copy(out, id.certPEM)
	return out
}

func (id Identity) WriteCertPEM(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, id.certPEM, 0o644)
}

// ServerTLSConfig presents id, requires no client certificate and offers
// exactly one application protocol.
func ServerTLSConfig(id Identity, alpn string) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{id.Certificate},
		ClientAuth:   tls.NoClientCert,
		NextProtos:   []string{alpn},
	}
}

// ClientTLSConfig builds trust settings for dialing addr.
func ClientTLSConfig(cfg Config, addr string) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{cfg.ALPN},
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(cfg.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	tlsCfg.ServerName = serverName

	if caFile := strings.TrimSpace(cfg.TLS.CAFile); caFile != "" {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("transport: parse tls ca bundle: %s", caFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}
