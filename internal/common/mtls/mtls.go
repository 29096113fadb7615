// Package mtls configures service-to-service TLS between the three
// flowmesh binaries (gateway, eventbus-worker, workflow-worker): each
// presents a certificate identifying it as ServiceName and, on its admin
// surface, only accepts peer certificates whose identity is in AllowedPeers
// — so the outbox admin API can be reached by the gateway and platformctl
// without opening it to every holder of a CA-signed certificate.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Config holds mTLS configuration
type Config struct {
	Enabled    bool
	CACert     string // Path to CA certificate
	ServerCert string // Path to server certificate
	ServerKey  string // Path to server private key
	ClientCert string // Path to client certificate (for outgoing requests)
	ClientKey  string // Path to client private key (for outgoing requests)

	// ServiceName identifies this process in peer-validation logs and, if
	// it were to present its own identity for inspection, as the expected
	// certificate CN.
	ServiceName string

	// AllowedPeers restricts which service identities (certificate CN or
	// organization) may complete a handshake against ServerTLSConfig. Empty
	// means any certificate signed by CACert is accepted, which is the
	// right default for the gateway's data-plane listener but should be
	// narrowed on worker admin surfaces.
	AllowedPeers []string
}

// LoadFromEnv loads mTLS configuration from environment variables
func LoadFromEnv() *Config {
	enabled := os.Getenv("MTLS_ENABLED") == "true"

	var allowedPeers []string
	if raw := os.Getenv("MTLS_ALLOWED_PEERS"); raw != "" {
		for _, peer := range strings.Split(raw, ",") {
			if peer = strings.TrimSpace(peer); peer != "" {
				allowedPeers = append(allowedPeers, peer)
			}
		}
	}

	return &Config{
		Enabled:      enabled,
		CACert:       os.Getenv("MTLS_CA_CERT"),
		ServerCert:   os.Getenv("MTLS_SERVER_CERT"),
		ServerKey:    os.Getenv("MTLS_SERVER_KEY"),
		ClientCert:   os.Getenv("MTLS_CLIENT_CERT"),
		ClientKey:    os.Getenv("MTLS_CLIENT_KEY"),
		ServiceName:  os.Getenv("MTLS_SERVICE_NAME"),
		AllowedPeers: allowedPeers,
	}
}

// peerAllowed reports whether cert's CN or organization matches one of
// AllowedPeers. An empty AllowedPeers list allows every CA-signed peer.
func (c *Config) peerAllowed(cert *x509.Certificate) bool {
	if len(c.AllowedPeers) == 0 {
		return true
	}
	for _, peer := range c.AllowedPeers {
		if cert.Subject.CommonName == peer {
			return true
		}
		for _, org := range cert.Subject.Organization {
			if org == peer {
				return true
			}
		}
	}
	return false
}

// verifyPeer is installed as tls.Config.VerifyPeerCertificate on server
// configs so AllowedPeers is enforced on top of the standard chain
// verification tls.Config.ClientAuth already performs.
func (c *Config) verifyPeer(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	if len(verifiedChains) == 0 {
		return fmt.Errorf("mtls: no verified certificate chains")
	}
	peer := verifiedChains[0][0]
	if !c.peerAllowed(peer) {
		return fmt.Errorf("mtls: peer %q is not in the allowed peers list for %s", peer.Subject.CommonName, c.ServiceName)
	}
	return nil
}

// ServerTLSConfig creates TLS config for HTTP server
// This validates client certificates
func (c *Config) ServerTLSConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	// Load CA certificate
	caCert, err := os.ReadFile(c.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}

	// Create CA cert pool
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA cert")
	}

	// Load server certificate and key
	serverCert, err := tls.LoadX509KeyPair(c.ServerCert, c.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load server cert: %w", err)
	}

	// Configure TLS
	tlsConfig := &tls.Config{
		// Server certificate
		Certificates: []tls.Certificate{serverCert},

		// Client certificate validation, narrowed to AllowedPeers
		ClientAuth:            tls.RequireAndVerifyClientCert,
		ClientCAs:             caCertPool,
		VerifyPeerCertificate: c.verifyPeer,

		// Security settings
		MinVersion: tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.CurveP521,
			tls.CurveP384,
			tls.CurveP256,
		},
		PreferServerCipherSuites: true,
		CipherSuites: []uint16{
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
	}

	return tlsConfig, nil
}

// ClientTLSConfig creates TLS config for HTTP client
// This presents client certificate to servers
func (c *Config) ClientTLSConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	// Load CA certificate
	caCert, err := os.ReadFile(c.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}

	// Create CA cert pool
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA cert")
	}

	// Load client certificate and key
	clientCert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	// Configure TLS
	tlsConfig := &tls.Config{
		// Client certificate
		Certificates: []tls.Certificate{clientCert},
		
		// Server certificate validation
		RootCAs: caCertPool,
		
		// Security settings
		MinVersion: tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.CurveP521,
			tls.CurveP384,
			tls.CurveP256,
		},
	}

	return tlsConfig, nil
}

// ClientTransport builds an *http.Transport presenting this service's
// client certificate, for outbound calls to a peer that requires mTLS (the
// gateway forwarding to an upstream pool member, a worker calling another
// service's admin API). Returns nil when mTLS is disabled, so callers can
// assign it to http.Client.Transport unconditionally and fall back to the
// zero-value transport.
func (c *Config) ClientTransport() (*http.Transport, error) {
	tlsConfig, err := c.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig == nil {
		return nil, nil
	}
	return &http.Transport{TLSClientConfig: tlsConfig}, nil
}