package proxy

import (
	"crypto/tls"

	"github.com/ashbyte/mitm/pkg/certificates"
)

// serverTLSConfig builds the server-side TLS configuration presented to an
// intercepted client, bound to the given minted leaf
func serverTLSConfig(leaf *certificates.Leaf) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{leaf.TLSCertificate()},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
	}
}

// clientTLSConfig builds the upstream-side TLS configuration used when the
// proxy emulates a real client toward the destination. Verification uses the
// system trust store unless skipVerify is set.
func clientTLSConfig(host string, skipVerify bool) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: skipVerify,
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS13,
	}
}
