package certificates

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"net"
	"time"
)

// LeafGenerator mints per-host leaf certificates signed by the CA
type LeafGenerator struct {
	ca *CAManager
}

// NewLeafGenerator creates a new leaf generator backed by the given CA
func NewLeafGenerator(ca *CAManager) *LeafGenerator {
	return &LeafGenerator{ca: ca}
}

// Generate creates a new certificate for the given host, which may be a DNS
// name or an IP literal
func (lg *LeafGenerator) Generate(host string) (*Leaf, error) {
	if !lg.ca.IsLoaded() {
		return nil, fmt.Errorf("CA certificate not loaded")
	}
	if host == "" {
		return nil, fmt.Errorf("host must not be empty")
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"mitm"},
			CommonName:   host,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().AddDate(validYears, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:        false,
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = append(template.IPAddresses, ip)
	} else {
		template.DNSNames = append(template.DNSNames, host)
	}

	// CreateCertificate copies the parent's SubjectKeyId into the leaf's
	// AuthorityKeyId and signs with SHA-256 for RSA keys.
	certDER, err := x509.CreateCertificate(
		rand.Reader,
		&template,
		lg.ca.caCert,
		&privateKey.PublicKey,
		lg.ca.caKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	return &Leaf{
		Certificate: cert,
		PrivateKey:  privateKey,
		Host:        host,
		GeneratedAt: time.Now(),
	}, nil
}

// Leaf holds a minted certificate and its private key
type Leaf struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
	Host        string
	GeneratedAt time.Time
}

// ToPEM converts the certificate and key to PEM format
func (l *Leaf) ToPEM() (certPEM, keyPEM []byte) {
	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: l.Certificate.Raw,
	})

	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(l.PrivateKey),
	})

	return certPEM, keyPEM
}

// IsValidForHost checks if the leaf covers the given host
func (l *Leaf) IsValidForHost(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		for _, certIP := range l.Certificate.IPAddresses {
			if ip.Equal(certIP) {
				return true
			}
		}
		return false
	}

	for _, dnsName := range l.Certificate.DNSNames {
		if dnsName == host {
			return true
		}
	}
	return false
}

// IsExpired checks if the certificate has expired
func (l *Leaf) IsExpired() bool {
	return time.Now().After(l.Certificate.NotAfter)
}
