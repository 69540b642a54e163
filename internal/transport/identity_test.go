package transport

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/framegate/internal/testutil/testlog"
)

func TestNewSelfSignedIdentityCoversHosts(t *testing.T) {
	testlog.Start(t)
	id, err := NewSelfSignedIdentity(DefaultHosts())
	if err != nil {
		t.Fatalf("self-signed identity: %v", err)
	}
	if err := id.Leaf.VerifyHostname("localhost"); err != nil {
		t.Fatalf("localhost not covered: %v", err)
	}
	if err := id.Leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Fatalf("127.0.0.1 not covered: %v", err)
	}
	if err := id.Leaf.VerifyHostname("example.com"); err == nil {
		t.Fatalf("unexpected coverage of example.com")
	}
}

func TestNewSelfSignedIdentityRequiresHosts(t *testing.T) {
	testlog.Start(t)
	_, err := NewSelfSignedIdentity([]string{" "})
	if !errors.Is(err, ErrHandshake) || !errors.Is(err, ErrHostsRequired) {
		t.Fatalf("expected ErrHandshake+ErrHostsRequired, got %v", err)
	}
}

func TestIdentityPEMExportAndVerify(t *testing.T) {
	testlog.Start(t)
	id, err := NewSelfSignedIdentity([]string{"localhost"})
	if err != nil {
		t.Fatalf("self-signed identity: %v", err)
	}
	path := filepath.Join(t.TempDir(), "certs", "server.pem")
	if err := id.WriteCertPEM(path); err != nil {
		t.Fatalf("write pem: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pem: %v", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("unexpected pem block: %+v", block)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(raw)
	if _, err := id.Leaf.Verify(x509.VerifyOptions{Roots: pool, DNSName: "localhost"}); err != nil {
		t.Fatalf("verify against exported pem: %v", err)
	}
}

func TestLoadIdentityMissingFiles(t *testing.T) {
	testlog.Start(t)
	if _, err := LoadIdentity("", "key.pem"); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	dir := t.TempDir()
	_, err := LoadIdentity(filepath.Join(dir, "missing.crt"), filepath.Join(dir, "missing.key"))
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
}

func TestServerIdentityFallsBackToSelfSigned(t *testing.T) {
	testlog.Start(t)
	id, err := ServerIdentity(TLSConfig{Hosts: []string{"framegate.test"}})
	if err != nil {
		t.Fatalf("server identity: %v", err)
	}
	if len(id.Leaf.DNSNames) != 1 || id.Leaf.DNSNames[0] != "framegate.test" {
		t.Fatalf("unexpected dns names: %v", id.Leaf.DNSNames)
	}
	if len(id.CertPEM()) == 0 {
		t.Fatalf("expected pem bytes")
	}
}
