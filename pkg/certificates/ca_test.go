package certificates

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
)

func TestCAManager_Init_Generates(t *testing.T) {
	dir := t.TempDir()

	ca := NewCAManager(dir)
	if err := ca.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, CACertFile)); err != nil {
		t.Errorf("CA certificate file was not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, CAKeyFile)); err != nil {
		t.Errorf("CA key file was not created: %v", err)
	}

	if !ca.IsLoaded() {
		t.Fatal("CA should be loaded after Init")
	}

	cert := ca.CACertificate()
	if !cert.IsCA {
		t.Error("Generated certificate is not marked as CA")
	}
	if cert.KeyUsage&x509.KeyUsageCertSign == 0 {
		t.Error("CA certificate cannot sign certificates")
	}
	if cert.KeyUsage&x509.KeyUsageCRLSign == 0 {
		t.Error("CA certificate cannot sign CRLs")
	}
	if cert.Subject.CommonName != "mitm" {
		t.Errorf("Unexpected CA common name: %s", cert.Subject.CommonName)
	}
	if len(cert.Subject.Organization) != 1 || cert.Subject.Organization[0] != "mitm" {
		t.Errorf("Unexpected CA organization: %v", cert.Subject.Organization)
	}
	if len(cert.SubjectKeyId) == 0 {
		t.Error("CA certificate has no subject key identifier")
	}
	if cert.SerialNumber.Sign() == 0 {
		t.Error("CA serial number should be random, got zero")
	}
}

func TestCAManager_Init_ReusesExisting(t *testing.T) {
	dir := t.TempDir()

	ca1 := NewCAManager(dir)
	if err := ca1.Init(); err != nil {
		t.Fatalf("first Init() error = %v", err)
	}

	certBefore, err := os.ReadFile(ca1.CertPath())
	if err != nil {
		t.Fatalf("Failed to read CA certificate: %v", err)
	}

	ca2 := NewCAManager(dir)
	if err := ca2.Init(); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}

	if !ca1.CACertificate().Equal(ca2.CACertificate()) {
		t.Error("Second Init did not reuse the persisted CA")
	}

	certAfter, err := os.ReadFile(ca2.CertPath())
	if err != nil {
		t.Fatalf("Failed to read CA certificate: %v", err)
	}
	if string(certBefore) != string(certAfter) {
		t.Error("CA certificate file was overwritten")
	}
}

func TestCAManager_KeyFilePermissions(t *testing.T) {
	dir := t.TempDir()

	ca := NewCAManager(dir)
	if err := ca.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	info, err := os.Stat(ca.KeyPath())
	if err != nil {
		t.Fatalf("Failed to stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Key file permissions = %o, want 0600", perm)
	}
}

func TestCAManager_Validate(t *testing.T) {
	ca := NewCAManager(t.TempDir())

	if err := ca.Validate(); err == nil {
		t.Error("Validate should fail before Init")
	}

	if err := ca.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := ca.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestCAManager_Init_CorruptFiles(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{CACertFile, CAKeyFile} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("not a pem"), 0644); err != nil {
			t.Fatalf("Failed to write corrupt file: %v", err)
		}
	}

	ca := NewCAManager(dir)
	if err := ca.Init(); err == nil {
		t.Error("Init should fail on corrupt CA files")
	}
}

func TestCAManager_CertificatePEM(t *testing.T) {
	ca := NewCAManager(t.TempDir())

	if pem := ca.CertificatePEM(); pem != nil {
		t.Error("CertificatePEM should be nil before Init")
	}

	if err := ca.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	pemData := ca.CertificatePEM()
	if len(pemData) == 0 {
		t.Fatal("CertificatePEM returned empty data")
	}

	cert, err := LoadCertificateFromFile(ca.CertPath())
	if err != nil {
		t.Fatalf("Failed to load persisted certificate: %v", err)
	}
	if !cert.Equal(ca.CACertificate()) {
		t.Error("Persisted certificate differs from in-memory certificate")
	}
}
