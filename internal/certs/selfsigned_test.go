package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	id, err := Generate(time.Hour, "10.0.0.7", "stream.local")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(id.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}
	cert, err := x509.ParseCertificate(id.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	if validity := cert.NotAfter.Sub(cert.NotBefore); validity != time.Hour {
		t.Errorf("validity: got %v, want 1h", validity)
	}
	if cert.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}
	if id.Fingerprint != sha256.Sum256(cert.Raw) {
		t.Error("fingerprint mismatch")
	}
	if got := id.FingerprintHex(); len(got) != 64 {
		t.Errorf("FingerprintHex length: got %d, want 64", len(got))
	}

	names := strings.Join(cert.DNSNames, ",")
	if !strings.Contains(names, "localhost") || !strings.Contains(names, "stream.local") {
		t.Errorf("DNS names: got %q", names)
	}
	found := false
	for _, ip := range cert.IPAddresses {
		if ip.Equal(net.ParseIP("10.0.0.7")) {
			found = true
		}
	}
	if !found {
		t.Error("extra IP address missing from certificate")
	}
}

func TestGenerateDefaultValidity(t *testing.T) {
	t.Parallel()
	id, err := Generate(0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	cert, err := x509.ParseCertificate(id.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}
	if validity := cert.NotAfter.Sub(cert.NotBefore); validity != DefaultValidity {
		t.Errorf("validity: got %v, want %v", validity, DefaultValidity)
	}
}

func TestParseFingerprint(t *testing.T) {
	t.Parallel()
	id, err := Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	hexFP := id.FingerprintHex()
	var colons []string
	for i := 0; i < len(hexFP); i += 2 {
		colons = append(colons, hexFP[i:i+2])
	}
	for _, in := range []string{hexFP, strings.Join(colons, ":"), strings.ToUpper(hexFP)} {
		fp, err := ParseFingerprint(in)
		if err != nil {
			t.Errorf("ParseFingerprint(%q): %v", in, err)
			continue
		}
		if fp != id.Fingerprint {
			t.Errorf("ParseFingerprint(%q) does not round-trip", in)
		}
	}
	for _, bad := range []string{"", "zz", hexFP[:10]} {
		if _, err := ParseFingerprint(bad); err == nil {
			t.Errorf("ParseFingerprint(%q): expected error", bad)
		}
	}
}

func TestPinnedClientTLS(t *testing.T) {
	t.Parallel()
	id, err := Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	other, err := Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	verify := PinnedClientTLS(id.Fingerprint).VerifyPeerCertificate
	if err := verify(id.TLSCert.Certificate, nil); err != nil {
		t.Errorf("pinned certificate rejected: %v", err)
	}
	if err := verify(other.TLSCert.Certificate, nil); !errors.Is(err, ErrFingerprint) {
		t.Errorf("foreign certificate: got %v, want ErrFingerprint", err)
	}
	if err := verify(nil, nil); !errors.Is(err, ErrFingerprint) {
		t.Errorf("no certificate: got %v, want ErrFingerprint", err)
	}

	srv := id.ServerTLS("hoststream")
	if srv.MinVersion != tls.VersionTLS13 || len(srv.Certificates) != 1 || srv.NextProtos[0] != "hoststream" {
		t.Errorf("server config: %+v", srv)
	}
}
