// Package certs generates the short-lived self-signed identity the
// delivery side's QUIC sink and its peer use. Peers trust each other by
// pinning the certificate's SHA-256 fingerprint instead of a CA chain.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// DefaultValidity is used when Generate is given a non-positive validity.
const DefaultValidity = 14 * 24 * time.Hour

// ErrFingerprint reports a peer certificate that does not match the pin.
var ErrFingerprint = errors.New("certs: peer fingerprint mismatch")

// Identity is a TLS certificate and its SHA-256 fingerprint.
type Identity struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintHex returns the fingerprint as lowercase hex, the form peers
// exchange in configuration.
func (id *Identity) FingerprintHex() string {
	return hex.EncodeToString(id.Fingerprint[:])
}

// Generate creates an ECDSA P-256 certificate for localhost plus hosts,
// each of which may be a DNS name or an IP address.
func Generate(validity time.Duration, hosts ...string) (*Identity, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "hoststream"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	return &Identity{
		TLSCert:     tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		Fingerprint: sha256.Sum256(der),
		NotAfter:    template.NotAfter,
	}, nil
}

// ServerTLS returns a server configuration presenting id.
func (id *Identity) ServerTLS(protos ...string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.TLSCert},
		NextProtos:   protos,
		MinVersion:   tls.VersionTLS13,
	}
}

// ParseFingerprint decodes a hex fingerprint, tolerating colon separators.
func ParseFingerprint(s string) ([32]byte, error) {
	var fp [32]byte
	clean := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ':' {
			clean = append(clean, s[i])
		}
	}
	b, err := hex.DecodeString(string(clean))
	if err != nil {
		return fp, fmt.Errorf("parse fingerprint: %w", err)
	}
	if len(b) != len(fp) {
		return fp, fmt.Errorf("parse fingerprint: %d bytes, want %d", len(b), len(fp))
	}
	copy(fp[:], b)
	return fp, nil
}

// PinnedClientTLS returns a client configuration that accepts exactly the
// server certificate whose SHA-256 fingerprint is fp.
func PinnedClientTLS(fp [32]byte, protos ...string) *tls.Config {
	return &tls.Config{
		// Chain verification is replaced by the pin below.
		InsecureSkipVerify: true,
		NextProtos:         protos,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(raw [][]byte, _ [][]*x509.Certificate) error {
			if len(raw) == 0 {
				return ErrFingerprint
			}
			got := sha256.Sum256(raw[0])
			if subtle.ConstantTimeCompare(got[:], fp[:]) != 1 {
				return fmt.Errorf("%w: got %x", ErrFingerprint, got)
			}
			return nil
		},
	}
}
