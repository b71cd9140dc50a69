package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"time"

	"homevault/internal/identity"
)

// certificateFor builds the self-signed certificate a node presents on
// both sides of a connection. The certificate exists only to carry the
// ed25519 identity key through the TLS handshake; chain validation is
// replaced by verifyPeer.
func certificateFor(priv ed25519.PrivateKey) (tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"homevault"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

// verifyPeer accepts any self-signed ed25519 certificate; when expect is
// non-nil the carried key must also match that identity.
func verifyPeer(expect *identity.PeerID) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("no peer certificate")
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("bad peer certificate: %w", err)
		}
		id, err := peerIDFromCert(leaf)
		if err != nil {
			return err
		}
		if expect != nil && id != *expect {
			return fmt.Errorf("peer identity mismatch: want %s, got %s", expect.Short(), id.Short())
		}
		return nil
	}
}

// peerIDFromCert recovers the identity a leaf certificate proves
// possession of.
func peerIDFromCert(leaf *x509.Certificate) (identity.PeerID, error) {
	pub, ok := leaf.PublicKey.(ed25519.PublicKey)
	if !ok {
		return identity.PeerID{}, errors.New("peer certificate key is not ed25519")
	}
	if err := leaf.CheckSignature(leaf.SignatureAlgorithm, leaf.RawTBSCertificate, leaf.Signature); err != nil {
		return identity.PeerID{}, fmt.Errorf("peer certificate not self-signed: %w", err)
	}
	return identity.FromPublicKey(pub)
}
