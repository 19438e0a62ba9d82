package certificates

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

const (
	// CACertFile is the file name of the persisted CA certificate.
	CACertFile = "mitm.pem"
	// CAKeyFile is the file name of the persisted CA private key.
	CAKeyFile = "mitm.key"

	keySize    = 2048
	validYears = 10
)

// CAManager owns the root CA key pair and signs leaf certificates with it.
// The private key never leaves the package.
type CAManager struct {
	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
	dir    string
}

// NewCAManager creates a CA manager persisting under the given directory
func NewCAManager(dir string) *CAManager {
	return &CAManager{dir: dir}
}

// Init loads the CA key pair from disk. When either file is missing it
// generates a fresh pair and writes both files. When both files exist but do
// not parse, it returns the error and leaves the files untouched.
func (ca *CAManager) Init() error {
	if err := ca.load(); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	return ca.generate()
}

// load reads and parses mitm.pem and mitm.key
func (ca *CAManager) load() error {
	certData, err := os.ReadFile(ca.CertPath())
	if err != nil {
		return err
	}

	keyData, err := os.ReadFile(ca.KeyPath())
	if err != nil {
		return err
	}

	cert, key, err := ParseCertificateAndKey(certData, keyData)
	if err != nil {
		return fmt.Errorf("failed to parse CA key pair: %w", err)
	}

	ca.caCert = cert
	ca.caKey = key
	return nil
}

// generate creates a self-signed signing CA and persists it
func (ca *CAManager) generate() error {
	privateKey, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return fmt.Errorf("failed to generate CA private key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return err
	}

	// The subject key identifier ties issued leaves back to this CA.
	ski := sha1.Sum(x509.MarshalPKCS1PublicKey(&privateKey.PublicKey))

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"mitm"},
			CommonName:   "mitm",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(validYears, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		SubjectKeyId:          ski[:],
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return fmt.Errorf("failed to create CA certificate: %w", err)
	}

	ca.caCert, err = x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("failed to parse generated CA certificate: %w", err)
	}
	ca.caKey = privateKey

	if err := ca.save(); err != nil {
		return fmt.Errorf("failed to save CA files: %w", err)
	}

	return nil
}

// save persists the key pair, key readable only by the owner
func (ca *CAManager) save() error {
	if err := os.MkdirAll(ca.dir, 0755); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: ca.caCert.Raw,
	})
	if err := os.WriteFile(ca.CertPath(), certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write CA certificate: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(ca.caKey),
	})
	if err := os.WriteFile(ca.KeyPath(), keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write CA private key: %w", err)
	}

	return nil
}

// CertPath returns the path of the persisted CA certificate
func (ca *CAManager) CertPath() string {
	return filepath.Join(ca.dir, CACertFile)
}

// KeyPath returns the path of the persisted CA private key
func (ca *CAManager) KeyPath() string {
	return filepath.Join(ca.dir, CAKeyFile)
}

// CACertificate returns the public CA certificate
func (ca *CAManager) CACertificate() *x509.Certificate {
	return ca.caCert
}

// CertificatePEM returns the PEM encoding of the public CA certificate
func (ca *CAManager) CertificatePEM() []byte {
	if ca.caCert == nil {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: ca.caCert.Raw,
	})
}

// IsLoaded returns true if the CA key pair is loaded
func (ca *CAManager) IsLoaded() bool {
	return ca.caCert != nil && ca.caKey != nil
}

// Validate checks that the loaded CA can sign leaves
func (ca *CAManager) Validate() error {
	if !ca.IsLoaded() {
		return fmt.Errorf("no CA certificate loaded")
	}

	now := time.Now()
	if now.Before(ca.caCert.NotBefore) {
		return fmt.Errorf("CA certificate is not yet valid (valid from: %v)", ca.caCert.NotBefore)
	}
	if now.After(ca.caCert.NotAfter) {
		return fmt.Errorf("CA certificate has expired (expired: %v)", ca.caCert.NotAfter)
	}

	if !ca.caCert.IsCA {
		return fmt.Errorf("certificate is not a CA certificate")
	}

	if ca.caCert.KeyUsage&x509.KeyUsageCertSign == 0 {
		return fmt.Errorf("CA certificate does not have certificate signing capability")
	}

	return nil
}

// randomSerial returns a random 128-bit certificate serial number
func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}
