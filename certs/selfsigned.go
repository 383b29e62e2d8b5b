// Package certs generates the self-signed ECDSA P-256 certificate a QUIC
// listener presents, and the TLS configurations both ends of a camlink QUIC
// link use. The dialer authenticates the listener by SHA-256 fingerprint
// pinning instead of a CA chain.
package certs

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// ALPN is the application protocol negotiated on camlink QUIC connections.
const ALPN = "camlink/1"

const defaultValidity = 30 * 24 * time.Hour

// ErrFingerprintMismatch is returned by the client handshake when the
// listener's certificate does not match the pinned fingerprint.
var ErrFingerprintMismatch = errors.New("certs: certificate fingerprint mismatch")

// CertInfo holds a TLS certificate and its SHA-256 fingerprint.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the SHA-256 fingerprint as base64, the form
// accepted by ClientTLSConfig.
func (c *CertInfo) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// Generate creates a self-signed certificate valid for the given duration
// (30 days when zero) for localhost plus any extra IP addresses.
func Generate(validity time.Duration, ips ...net.IP) (*CertInfo, error) {
	if validity <= 0 {
		validity = defaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute) // clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "camlink"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  append([]net.IP{net.IPv4(127, 0, 0, 1)}, ips...),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	return &CertInfo{
		TLSCert:     tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		Fingerprint: sha256.Sum256(der),
		NotAfter:    template.NotAfter,
	}, nil
}

// ServerTLSConfig returns the listener-side configuration.
func (c *CertInfo) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLSCert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig returns the dialer-side configuration. With a pin (base64
// SHA-256 of the leaf certificate) the handshake fails unless the listener
// presents exactly that certificate; an empty pin accepts any certificate.
func ClientTLSConfig(pin string) (*tls.Config, error) {
	var want []byte
	if pin != "" {
		b, err := base64.StdEncoding.DecodeString(pin)
		if err != nil || len(b) != sha256.Size {
			return nil, fmt.Errorf("certs: invalid fingerprint %q", pin)
		}
		want = b
	}
	return &tls.Config{
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true, // identity comes from the pin
		VerifyPeerCertificate: func(raw [][]byte, _ [][]*x509.Certificate) error {
			if want == nil {
				return nil
			}
			if len(raw) == 0 {
				return ErrFingerprintMismatch
			}
			got := sha256.Sum256(raw[0])
			if !bytes.Equal(got[:], want) {
				return ErrFingerprintMismatch
			}
			return nil
		},
	}, nil
}
